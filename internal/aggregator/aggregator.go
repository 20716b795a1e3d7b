// Package aggregator provides grouping, rollups and drill-down queries over
// a loaded set of cost records.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lvonguyen/finops-decomposer/internal/environment"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// Field names a groupable record dimension
type Field = extract.Dimension

// LabeledTotal is the summed cost of one group
type LabeledTotal struct {
	Label string  `json:"label"`
	Total float64 `json:"total"`
}

// Predicate selects records whose field equals value
type Predicate struct {
	Field Field
	Value string
}

// Eq builds an equality predicate
func Eq(field Field, value string) Predicate {
	return Predicate{Field: field, Value: value}
}

// Dataset is an immutable, ordered set of cost records. Every query returns
// new values; none modifies the dataset, so concurrent readers are safe.
type Dataset struct {
	records  []normalizer.CostRecord
	envs     *environment.Canonicalizer
	stats    normalizer.Stats
	source   string
	loadedAt time.Time
}

// New creates a dataset over records, which must already be in canonical
// order. The slice is copied.
func New(records []normalizer.CostRecord, envs *environment.Canonicalizer) *Dataset {
	if envs == nil {
		envs = environment.Default
	}
	return &Dataset{
		records: append([]normalizer.CostRecord(nil), records...),
		envs:    envs,
	}
}

func (d *Dataset) derive(records []normalizer.CostRecord) *Dataset {
	return &Dataset{
		records:  records,
		envs:     d.envs,
		source:   d.source,
		loadedAt: d.loadedAt,
	}
}

// Records returns a copy of the records in canonical order
func (d *Dataset) Records() []normalizer.CostRecord {
	return append([]normalizer.CostRecord(nil), d.records...)
}

// Len returns the number of records
func (d *Dataset) Len() int {
	return len(d.records)
}

// Empty reports whether the dataset has no records
func (d *Dataset) Empty() bool {
	return len(d.records) == 0
}

// Stats returns the build statistics of a loaded dataset
func (d *Dataset) Stats() normalizer.Stats {
	return d.stats
}

// Source returns the path the dataset was loaded from
func (d *Dataset) Source() string {
	return d.source
}

// LoadedAt returns when the dataset was loaded
func (d *Dataset) LoadedAt() time.Time {
	return d.loadedAt
}

// Environments returns the canonicalizer ordering the env field
func (d *Dataset) Environments() *environment.Canonicalizer {
	return d.envs
}

// Filter returns the records whose field equals value, in order
func (d *Dataset) Filter(field Field, value string) *Dataset {
	return d.Where(Eq(field, value))
}

// Where returns the records matching every predicate, in order
func (d *Dataset) Where(preds ...Predicate) *Dataset {
	out := make([]normalizer.CostRecord, 0)
	for _, r := range d.records {
		if matches(r, preds) {
			out = append(out, r)
		}
	}
	return d.derive(out)
}

func matches(r normalizer.CostRecord, preds []Predicate) bool {
	for _, p := range preds {
		if r.Field(p.Field) != p.Value {
			return false
		}
	}
	return true
}

// Distinct returns the distinct values of field. Environments come in
// report order; every other field sorts lexicographically.
func (d *Dataset) Distinct(field Field) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, r := range d.records {
		v := r.Field(field)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	d.sortValues(field, values)
	return values
}

// Services returns the distinct services
func (d *Dataset) Services() []string {
	return d.Distinct(extract.Service)
}

// Envs returns the distinct environments in report order
func (d *Dataset) Envs() []string {
	return d.Distinct(extract.Env)
}

// AWSServices returns the distinct vendor sub-services
func (d *Dataset) AWSServices() []string {
	return d.Distinct(extract.AWSService)
}

// GroupAndSum sums cost per distinct value of field
func (d *Dataset) GroupAndSum(field Field) map[string]float64 {
	totals := make(map[string]float64)
	for _, r := range d.records {
		totals[r.Field(field)] += r.Cost
	}
	return totals
}

// Ranked returns group totals by descending cost. Equal totals fall back to
// the field's natural order.
func (d *Dataset) Ranked(field Field) []LabeledTotal {
	totals := d.labeled(field)
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total > totals[j].Total
		}
		return d.lessValue(field, totals[i].Label, totals[j].Label)
	})
	return totals
}

// Ascending returns group totals by ascending cost, the order bar charts
// are drawn in
func (d *Dataset) Ascending(field Field) []LabeledTotal {
	totals := d.labeled(field)
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total < totals[j].Total
		}
		return d.lessValue(field, totals[i].Label, totals[j].Label)
	})
	return totals
}

// TopN returns the n most expensive groups of field
func (d *Dataset) TopN(field Field, n int) []LabeledTotal {
	ranked := d.Ranked(field)
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

func (d *Dataset) labeled(field Field) []LabeledTotal {
	sums := d.GroupAndSum(field)
	out := make([]LabeledTotal, 0, len(sums))
	for label, total := range sums {
		out = append(out, LabeledTotal{Label: label, Total: total})
	}
	return out
}

// Total returns the unrounded cost sum. Round only for display.
func (d *Dataset) Total() float64 {
	var sum float64
	for _, r := range d.records {
		sum += r.Cost
	}
	return sum
}

// Round2 rounds a cost to cents for presentation. Non-finite values are
// returned unchanged.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func (d *Dataset) sortValues(field Field, values []string) {
	sort.SliceStable(values, func(i, j int) bool {
		return d.lessValue(field, values[i], values[j])
	})
}

func (d *Dataset) lessValue(field Field, a, b string) bool {
	if field == extract.Env {
		return d.envs.Less(a, b)
	}
	return a < b
}
