package reporter

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
)

// Display is where a report is rendered
type Display interface {
	Markdown(text string) error
	BarChart(title string, totals []aggregator.LabeledTotal) error
}

// DefaultBarWidth is the length of the longest chart bar
const DefaultBarWidth = 40

// MarkdownWriter renders a report as Markdown text. Charts are drawn as
// ASCII bars inside fenced code blocks.
type MarkdownWriter struct {
	w        io.Writer
	barWidth int
}

// NewMarkdownWriter creates a MarkdownWriter over w
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{w: w, barWidth: DefaultBarWidth}
}

// Markdown writes one block of Markdown followed by a blank line
func (m *MarkdownWriter) Markdown(text string) error {
	_, err := fmt.Fprintf(m.w, "%s\n\n", text)
	return err
}

type chartRow struct {
	Label string
	Bar   int
	Neg   bool
	Money string
}

var chartTemplate = template.Must(template.New("chart").Funcs(sprig.TxtFuncMap()).Parse(
	"```" + `
{{.Title}}
{{- if not .Rows}}
(no data)
{{- end}}
{{- range .Rows}}
{{printf "%-*s" $.LabelWidth .Label}} | {{if .Neg}}{{repeat .Bar "-"}}{{else}}{{repeat .Bar "#"}}{{end}} ${{.Money}}
{{- end}}
` + "```\n\n"))

// BarChart writes a horizontal bar chart, smallest value first
func (m *MarkdownWriter) BarChart(title string, totals []aggregator.LabeledTotal) error {
	sorted := append([]aggregator.LabeledTotal(nil), totals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Total < sorted[j].Total
	})

	var peak float64
	for _, t := range sorted {
		if a := math.Abs(t.Total); a > peak {
			peak = a
		}
	}

	labelWidth := 0
	rows := make([]chartRow, 0, len(sorted))
	for _, t := range sorted {
		bar := 0
		if peak > 0 {
			bar = int(math.Round(math.Abs(t.Total) / peak * float64(m.barWidth)))
		}
		label := t.Label
		if label == "" {
			label = "(none)"
		}
		if len(label) > labelWidth {
			labelWidth = len(label)
		}
		rows = append(rows, chartRow{
			Label: label,
			Bar:   bar,
			Neg:   t.Total < 0,
			Money: Money(t.Total),
		})
	}

	return chartTemplate.Execute(m.w, map[string]interface{}{
		"Title":      title,
		"Rows":       rows,
		"LabelWidth": labelWidth,
	})
}
