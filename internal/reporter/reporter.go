// Package reporter renders cost rollups as Markdown reports and file exports
package reporter

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
	"github.com/lvonguyen/finops-decomposer/internal/config"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// Reporter generates cost reports
type Reporter struct {
	config  config.ReporterConfig
	display Display
	budgets []config.Budget
	runID   string
	now     func() time.Time
}

// New creates a new Reporter rendering to display
func New(cfg config.ReporterConfig, display Display) *Reporter {
	return &Reporter{
		config:  cfg,
		display: display,
		runID:   uuid.NewString(),
		now:     time.Now,
	}
}

// WithBudgets adds a budget section to full reports and exports
func (r *Reporter) WithBudgets(budgets []config.Budget) *Reporter {
	r.budgets = budgets
	return r
}

// RunID identifies the reports written by this Reporter
func (r *Reporter) RunID() string {
	return r.runID
}

var funcs = template.FuncMap{
	"money":  Money,
	"basis":  Basis,
	"cell":   cell,
	"anchor": Anchor,
}

var lineItemTemplate = template.Must(template.New("items").Funcs(sprig.TxtFuncMap()).Funcs(funcs).Parse(
	`| aws_service | device | usage_type | cost | basis |
|---|---|---|---:|---|
{{- range .}}
| {{cell .AWSService}} | {{cell .Device}} | {{cell .UsageType}} | ${{money .Cost}} | {{cell (basis .)}} |
{{- end}}`))

var tocTemplate = template.Must(template.New("toc").Funcs(sprig.TxtFuncMap()).Funcs(funcs).Parse(
	`## {{.Title}}

Source: {{default "(unknown)" .Source}} | Records: {{.Records}} | Total: ${{money .Total}}

{{range $i, $s := .Services -}}
{{add1 $i}}. [{{$s.Label}}](#{{anchor $s.Label}}): ${{money $s.Total}}
{{end -}}`))

var budgetTemplate = template.Must(template.New("budgets").Funcs(sprig.TxtFuncMap()).Funcs(funcs).Parse(
	`### Budgets

| budget | scope | limit | spend | used | alert |
|---|---|---:|---:|---:|---|
{{- range .}}
| {{cell .Name}} | {{cell (default "all" .Scope)}} | ${{money .Limit}} | ${{money .Spend}} | {{printf "%.1f" .PercentUsed}}% | {{if .Alerted}}{{upper .Severity}} at {{.Threshold}}%{{else}}ok{{end}} |
{{- end}}`))

// ServiceSummary renders the drill-down of one service: its usage type
// chart, then every env and server with their line items.
func (r *Reporter) ServiceSummary(ds *aggregator.Dataset, service string) error {
	rollup := ds.DrillDown(service)

	if err := r.display.Markdown(fmt.Sprintf("### Service: %s", service)); err != nil {
		return err
	}
	if err := r.display.Markdown(fmt.Sprintf("###### Total cost: $%s", Money(rollup.Total))); err != nil {
		return err
	}
	usage := ds.ForService(service).Ascending(extract.UsageType)
	if err := r.display.BarChart(fmt.Sprintf("Cost by usage type: %s", service), usage); err != nil {
		return err
	}

	for _, env := range rollup.Envs {
		if err := r.display.Markdown(fmt.Sprintf("#### %s %s", service, env.Env)); err != nil {
			return err
		}
		if err := r.display.Markdown(fmt.Sprintf("###### Total cost for %s %s: $%s", service, env.Env, Money(env.Total))); err != nil {
			return err
		}

		for _, server := range env.Servers {
			if server.Server != "" {
				if err := r.display.Markdown(fmt.Sprintf("##### %s", server.Server)); err != nil {
					return err
				}
				if err := r.display.Markdown(fmt.Sprintf("###### Total cost for %s: $%s", server.Server, Money(server.Total))); err != nil {
					return err
				}
			}
			table, err := lineItems(server.Records)
			if err != nil {
				return err
			}
			if err := r.display.Markdown(table); err != nil {
				return err
			}
		}
	}

	return r.display.Markdown("---")
}

func lineItems(records []normalizer.CostRecord) (string, error) {
	var b strings.Builder
	if err := lineItemTemplate.Execute(&b, records); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return b.String(), nil
}

// TableOfContents lists services from most to least expensive with links
// to their sections
func (r *Reporter) TableOfContents(ds *aggregator.Dataset) error {
	var b strings.Builder
	err := tocTemplate.Execute(&b, map[string]interface{}{
		"Title":    r.config.Title,
		"Source":   ds.Source(),
		"Records":  ds.Len(),
		"Total":    ds.Total(),
		"Services": ds.Ranked(extract.Service),
	})
	if err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return r.display.Markdown(strings.TrimRight(b.String(), "\n"))
}

// Budgets renders spend against each budget
func (r *Reporter) Budgets(statuses []aggregator.BudgetStatus) error {
	if len(statuses) == 0 {
		return r.display.Markdown("_No budgets configured_")
	}
	var b strings.Builder
	if err := budgetTemplate.Execute(&b, statuses); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return r.display.Markdown(b.String())
}

// Full renders the table of contents, any budgets, the service chart and
// every service
func (r *Reporter) Full(ds *aggregator.Dataset) error {
	if err := r.TableOfContents(ds); err != nil {
		return err
	}
	if len(r.budgets) > 0 {
		if err := r.Budgets(ds.CheckBudgets(r.budgets)); err != nil {
			return err
		}
	}
	if err := r.display.BarChart("Cost by service", ds.Ascending(extract.Service)); err != nil {
		return err
	}
	for _, service := range ds.Services() {
		if err := r.ServiceSummary(ds, service); err != nil {
			return fmt.Errorf("service %s: %w", service, err)
		}
	}
	return r.display.Markdown(fmt.Sprintf("_Run %s, generated %s_", r.runID, r.now().UTC().Format(time.RFC3339)))
}
