package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// ReportData contains all data for report generation
type ReportData struct {
	RunID       string                     `json:"run_id"`
	Title       string                     `json:"title"`
	Source      string                     `json:"source"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Summary     normalizer.CostSummary     `json:"summary"`
	Services    []aggregator.LabeledTotal  `json:"services"`
	Rollups     []aggregator.ServiceRollup `json:"rollups"`
	Budgets     []aggregator.BudgetStatus  `json:"budgets,omitempty"`
	Records     []RecordView               `json:"records"`
}

// RecordView is a cost record with non-finite numbers left out
type RecordView struct {
	normalizer.CostRecord
	Quantity *float64 `json:"quantity"`
	UnitCost *float64 `json:"unit_cost"`
	Basis    string   `json:"basis"`
}

func optional(v float64) *float64 {
	if !finite(v) {
		return nil
	}
	return &v
}

// Data collects the export data of a dataset
func (r *Reporter) Data(ds *aggregator.Dataset) ReportData {
	records := ds.Records()
	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, RecordView{
			CostRecord: rec,
			Quantity:   optional(rec.Quantity),
			UnitCost:   optional(rec.UnitCost),
			Basis:      Basis(rec),
		})
	}

	return ReportData{
		RunID:       r.runID,
		Title:       r.config.Title,
		Source:      ds.Source(),
		GeneratedAt: r.now(),
		Summary:     normalizer.Summarize(records),
		Services:    ds.Ranked(extract.Service),
		Rollups:     ds.DrillDownAll(),
		Budgets:     ds.CheckBudgets(r.budgets),
		Records:     views,
	}
}

// Write exports data in each of formats and returns the written paths
func (r *Reporter) Write(ds *aggregator.Dataset, formats []string) ([]string, error) {
	data := r.Data(ds)

	var paths []string
	for _, format := range formats {
		var (
			path string
			err  error
		)
		switch format {
		case "markdown":
			path, err = r.WriteMarkdown(ds, data.GeneratedAt)
		case "csv":
			path, err = r.WriteCSV(data)
		case "json":
			path, err = r.WriteJSON(data)
		case "html":
			path, err = r.WriteHTML(data)
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *Reporter) outputPath(ext string, at time.Time) (string, error) {
	if err := os.MkdirAll(r.config.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := fmt.Sprintf("cost-report-%s.%s", at.Format("20060102-150405"), ext)
	return filepath.Join(r.config.OutputDir, filename), nil
}

// WriteMarkdown writes the full Markdown report
func (r *Reporter) WriteMarkdown(ds *aggregator.Dataset, at time.Time) (string, error) {
	outputPath, err := r.outputPath("md", at)
	if err != nil {
		return "", err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	file := &Reporter{config: r.config, display: NewMarkdownWriter(f), budgets: r.budgets, runID: r.runID, now: r.now}
	if err := file.Full(ds); err != nil {
		return "", err
	}

	return outputPath, nil
}

// CSVHeader is the column row of the CSV export
var CSVHeader = []string{
	"service", "env", "server", "device", "aws_service", "usage_type",
	"zone", "cost", "quantity", "unit", "unit_cost",
}

// WriteCSV generates a CSV report of every line item
func (r *Reporter) WriteCSV(data ReportData) (string, error) {
	outputPath, err := r.outputPath("csv", data.GeneratedAt)
	if err != nil {
		return "", err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	if err := writer.Write(CSVHeader); err != nil {
		return "", fmt.Errorf("failed to write CSV: %w", err)
	}

	for _, rec := range data.Records {
		err := writer.Write([]string{
			rec.Service,
			rec.Env,
			rec.Server,
			rec.Device,
			rec.AWSService,
			rec.UsageType,
			rec.Zone,
			strconv.FormatFloat(rec.Cost, 'f', -1, 64),
			formatOptional(rec.Quantity),
			rec.Unit,
			formatOptional(rec.UnitCost),
		})
		if err != nil {
			return "", fmt.Errorf("failed to write CSV: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to write CSV: %w", err)
	}

	return outputPath, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteJSON generates a JSON report
func (r *Reporter) WriteJSON(data ReportData) (string, error) {
	outputPath, err := r.outputPath("json", data.GeneratedAt)
	if err != nil {
		return "", err
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return outputPath, nil
}

// WriteHTML generates an HTML report
func (r *Reporter) WriteHTML(data ReportData) (string, error) {
	outputPath, err := r.outputPath("html", data.GeneratedAt)
	if err != nil {
		return "", err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := htmlReport.Execute(f, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return outputPath, nil
}

var htmlReport = template.Must(template.New("report").Funcs(sprig.FuncMap()).Funcs(template.FuncMap{
	"money":  Money,
	"anchor": Anchor,
}).Parse(htmlTemplate))

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - {{.Source}}</title>
    <style>
        :root {
            --bg-dark: #0f172a;
            --bg-card: #1e293b;
            --text-primary: #f1f5f9;
            --text-secondary: #94a3b8;
            --accent-blue: #1295d8;
            --border: #334155;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: 'Inter', -apple-system, BlinkMacSystemFont, sans-serif;
            background: var(--bg-dark);
            color: var(--text-primary);
            line-height: 1.6;
            padding: 2rem;
        }
        .container { max-width: 1400px; margin: 0 auto; }
        h1 { font-size: 2rem; margin-bottom: 0.5rem; color: var(--accent-blue); }
        h2 { margin: 2rem 0 1rem; }
        h3 { margin: 1.5rem 0 0.5rem; color: var(--text-secondary); }
        .subtitle { color: var(--text-secondary); margin-bottom: 2rem; }
        .stats-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 1rem;
            margin-bottom: 2rem;
        }
        .stat-card {
            background: var(--bg-card);
            border: 1px solid var(--border);
            border-radius: 12px;
            padding: 1.5rem;
        }
        .stat-label { color: var(--text-secondary); font-size: 0.875rem; }
        .stat-value { font-size: 2rem; font-weight: 700; }
        table {
            width: 100%;
            border-collapse: collapse;
            background: var(--bg-card);
            margin-bottom: 1rem;
        }
        th, td { padding: 0.5rem 1rem; text-align: left; }
        th { color: var(--accent-blue); font-weight: 600; }
        td.num { text-align: right; }
        tr:not(:last-child) { border-bottom: 1px solid var(--border); }
        .footer {
            margin-top: 3rem;
            padding-top: 1rem;
            border-top: 1px solid var(--border);
            color: var(--text-secondary);
            font-size: 0.875rem;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p class="subtitle">{{.Source}} | Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>

        <div class="stats-grid">
            <div class="stat-card">
                <div class="stat-label">Total Cost</div>
                <div class="stat-value">${{money .Summary.TotalCost}}</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Services</div>
                <div class="stat-value">{{len .Services}}</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Line Items</div>
                <div class="stat-value">{{.Summary.Records}}</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Unknown Quantity</div>
                <div class="stat-value">{{.Summary.UnknownQuantity}}</div>
            </div>
        </div>

        <h2>Services</h2>
        <table>
            <thead><tr><th>Service</th><th>Cost</th></tr></thead>
            <tbody>
                {{range .Services}}
                <tr><td><a href="#{{anchor .Label}}">{{.Label}}</a></td><td class="num">${{money .Total}}</td></tr>
                {{end}}
            </tbody>
        </table>

        {{if .Budgets}}
        <h2>Budgets</h2>
        <table>
            <thead><tr><th>Budget</th><th>Scope</th><th>Limit</th><th>Spend</th><th>Used</th><th>Alert</th></tr></thead>
            <tbody>
                {{range .Budgets}}
                <tr><td>{{.Name}}</td><td>{{default "all" .Scope}}</td><td class="num">${{money .Limit}}</td><td class="num">${{money .Spend}}</td><td class="num">{{printf "%.1f" .PercentUsed}}%</td><td>{{if .Alerted}}{{.Severity}} at {{.Threshold}}%{{else}}ok{{end}}</td></tr>
                {{end}}
            </tbody>
        </table>
        {{end}}

        {{range .Rollups}}
        <h2 id="{{anchor .Service}}">{{.Service}} <small>${{money .Total}}</small></h2>
        {{$service := .Service}}
        {{range .Envs}}
        <h3>{{$service}} {{.Env}}: ${{money .Total}}</h3>
        <table>
            <thead><tr><th>Server</th><th>Line Items</th><th>Cost</th></tr></thead>
            <tbody>
                {{range .Servers}}
                <tr><td>{{default "-" .Server}}</td><td>{{len .Records}}</td><td class="num">${{money .Total}}</td></tr>
                {{end}}
            </tbody>
        </table>
        {{end}}
        {{end}}

        <div class="footer">
            <p>Run {{.RunID}} | {{.Summary.Currency}} | {{.Records | len}} records</p>
        </div>
    </div>
</body>
</html>`
