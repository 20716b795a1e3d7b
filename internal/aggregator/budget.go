package aggregator

import (
	"github.com/lvonguyen/finops-decomposer/internal/config"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
)

// BudgetStatus is the spend measured against one budget
type BudgetStatus struct {
	Name        string  `json:"name"`
	Dimension   string  `json:"dimension"`
	Scope       string  `json:"scope,omitempty"`
	Limit       float64 `json:"limit"`
	Spend       float64 `json:"spend"`
	PercentUsed float64 `json:"percent_used"`
	// Threshold is the highest alert_at percentage reached, 0 when none
	Threshold int    `json:"threshold,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// Alerted reports whether spend reached any alert threshold
func (s BudgetStatus) Alerted() bool {
	return s.Threshold > 0
}

// CheckBudgets measures the dataset against each budget, in config order
func (d *Dataset) CheckBudgets(budgets []config.Budget) []BudgetStatus {
	statuses := make([]BudgetStatus, 0, len(budgets))

	for _, budget := range budgets {
		scope := budget.Scope
		var spend float64
		switch budget.Dimension {
		case "", "all":
			scope = ""
			spend = d.Total()
		case string(extract.Env):
			scope = d.envs.Canonicalize(scope)
			spend = d.Filter(extract.Env, scope).Total()
		default:
			spend = d.Filter(Field(budget.Dimension), scope).Total()
		}

		status := BudgetStatus{
			Name:      budget.Name,
			Dimension: budget.Dimension,
			Scope:     scope,
			Limit:     budget.MonthlyLimit,
			Spend:     spend,
		}
		if budget.MonthlyLimit > 0 {
			status.PercentUsed = spend / budget.MonthlyLimit * 100
		}

		for _, alertAt := range budget.AlertAt {
			if status.PercentUsed >= float64(alertAt) && alertAt > status.Threshold {
				status.Threshold = alertAt
			}
		}
		if status.Alerted() {
			status.Severity = severity(status.Threshold)
		}

		statuses = append(statuses, status)
	}

	return statuses
}

// BudgetAlerts returns the statuses that reached a threshold
func BudgetAlerts(statuses []BudgetStatus) []BudgetStatus {
	alerts := make([]BudgetStatus, 0)
	for _, s := range statuses {
		if s.Alerted() {
			alerts = append(alerts, s)
		}
	}
	return alerts
}

func severity(threshold int) string {
	switch {
	case threshold >= 90:
		return "high"
	case threshold >= 75:
		return "medium"
	case threshold >= 50:
		return "low"
	default:
		return "info"
	}
}
