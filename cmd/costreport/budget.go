package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
	"github.com/lvonguyen/finops-decomposer/internal/reporter"
)

func newBudgetCmd(a *app) *cobra.Command {
	var failAt float64

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Check spend against the configured budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(a.cfg.Budgets) == 0 {
				return fmt.Errorf("no budgets configured")
			}

			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}

			statuses := ds.CheckBudgets(a.cfg.Budgets)
			for _, alert := range aggregator.BudgetAlerts(statuses) {
				a.logger.Warn("Budget threshold reached",
					zap.String("budget", alert.Name),
					zap.String("scope", alert.Scope),
					zap.Float64("spend", alert.Spend),
					zap.Float64("limit", alert.Limit),
					zap.Float64("percent_used", alert.PercentUsed),
					zap.String("severity", alert.Severity),
				)
			}

			r := reporter.New(a.cfg.Reporter, reporter.NewMarkdownWriter(cmd.OutOrStdout()))
			if err := r.Budgets(statuses); err != nil {
				return err
			}

			if failAt > 0 {
				for _, s := range statuses {
					if s.PercentUsed >= failAt {
						return fmt.Errorf("budget %s at %.1f%%, fail threshold %.1f%%", s.Name, s.PercentUsed, failAt)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&failAt, "fail-at", 0, "exit non-zero when any budget reaches this percentage (0 disables)")

	return cmd
}
