package normalizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lvonguyen/finops-decomposer/internal/environment"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
)

var (
	// ErrMissingRequiredColumn aborts a load when a required column is absent
	ErrMissingRequiredColumn = errors.New("missing required column")

	// ErrInvalidCost aborts a load when unblended_cost is not a number
	ErrInvalidCost = errors.New("invalid unblended cost")
)

// MissingColumnError reports which column is missing. Row is zero when the
// column is missing from the header, otherwise the 1-based data row.
type MissingColumnError struct {
	Column string
	Row    int
}

func (e *MissingColumnError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("%s: %s", ErrMissingRequiredColumn, e.Column)
	}
	return fmt.Sprintf("%s: %s (row %d)", ErrMissingRequiredColumn, e.Column, e.Row)
}

func (e *MissingColumnError) Unwrap() error {
	return ErrMissingRequiredColumn
}

// Stats counts the non-fatal conditions seen while building records
type Stats struct {
	Rows int
	// Unmatched counts, per dimension, rows that fell back to the default
	Unmatched map[extract.Dimension]int
	// NonFiniteQuantity counts records whose quantity could not be derived
	NonFiniteQuantity int
}

// Builder applies the extraction rules to raw rows
type Builder struct {
	rules *extract.Rules
	envs  *environment.Canonicalizer
}

// NewBuilder creates a record builder. Nil arguments select the defaults.
func NewBuilder(rules *extract.Rules, envs *environment.Canonicalizer) *Builder {
	if rules == nil {
		rules = extract.MustDefault()
	}
	if envs == nil {
		envs = environment.Default
	}
	return &Builder{rules: rules, envs: envs}
}

// Environments returns the canonicalizer used for env ordering
func (b *Builder) Environments() *environment.Canonicalizer {
	return b.envs
}

// Record decomposes a single row. Only a missing or malformed cost fails;
// every other field falls back to its default.
func (b *Builder) Record(row RawRow) (CostRecord, extract.Values, error) {
	rawCost, ok := row[ColumnUnblendedCost]
	if !ok {
		return CostRecord{}, nil, &MissingColumnError{Column: ColumnUnblendedCost}
	}
	cost, err := strconv.ParseFloat(strings.TrimSpace(rawCost), 64)
	if err != nil || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return CostRecord{}, nil, fmt.Errorf("%w: %q", ErrInvalidCost, rawCost)
	}

	values := b.rules.Apply(func(src extract.Source) string {
		return row[string(src)]
	})

	unitCost := math.NaN()
	if m := values[extract.UnitCost]; m.Matched {
		if v, err := strconv.ParseFloat(m.Value, 64); err == nil {
			unitCost = v
		}
	}

	rec := CostRecord{
		Zone:       values.Get(extract.Zone),
		AWSService: values.Get(extract.AWSService),
		UsageType:  values.Get(extract.UsageType),
		Server:     values.Get(extract.Server),
		Env:        b.envs.Canonicalize(values.Get(extract.Env)),
		Service:    values.Get(extract.Service),
		Device:     values.Get(extract.Device),
		UnitCost:   unitCost,
		Unit:       values.Get(extract.Unit),
		Cost:       cost,
		Quantity:   cost / unitCost,
	}

	return rec, values, nil
}

// Build decomposes every row and returns the records in canonical order.
// Any fatal row error aborts the whole build.
func (b *Builder) Build(rows []RawRow) ([]CostRecord, Stats, error) {
	stats := Stats{
		Rows:      len(rows),
		Unmatched: make(map[extract.Dimension]int),
	}
	records := make([]CostRecord, 0, len(rows))

	for i, row := range rows {
		rec, values, err := b.Record(row)
		if err != nil {
			var missing *MissingColumnError
			if errors.As(err, &missing) {
				missing.Row = i + 1
				return nil, Stats{}, missing
			}
			return nil, Stats{}, fmt.Errorf("row %d: %w", i+1, err)
		}

		for dim, m := range values {
			if !m.Matched {
				stats.Unmatched[dim]++
			}
		}
		if !rec.HasQuantity() {
			stats.NonFiniteQuantity++
		}
		records = append(records, rec)
	}

	b.Sort(records)
	return records, stats, nil
}

// Sort orders records by (service, env, server, device, aws_service,
// usage_type), comparing env by report order. Equal keys keep input order.
func (b *Builder) Sort(records []CostRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return b.Less(records[i], records[j])
	})
}

// Less is the canonical record ordering
func (b *Builder) Less(x, y CostRecord) bool {
	if x.Service != y.Service {
		return x.Service < y.Service
	}
	if x.Env != y.Env {
		return b.envs.Less(x.Env, y.Env)
	}
	if x.Server != y.Server {
		return x.Server < y.Server
	}
	if x.Device != y.Device {
		return x.Device < y.Device
	}
	if x.AWSService != y.AWSService {
		return x.AWSService < y.AWSService
	}
	return x.UsageType < y.UsageType
}
