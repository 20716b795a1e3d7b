// Package normalizer turns raw billing export rows into normalized cost records.
package normalizer

import (
	"math"

	"github.com/lvonguyen/finops-decomposer/internal/extract"
)

// Required export columns
const (
	ColumnUsageType       = "usage_type"
	ColumnItemDescription = "item_description"
	ColumnName            = "name"
	ColumnUnblendedCost   = "unblended_cost"
)

// RequiredColumns lists the columns every export must carry
var RequiredColumns = []string{
	ColumnUsageType,
	ColumnItemDescription,
	ColumnName,
	ColumnUnblendedCost,
}

// RawRow is one line item of the billing export, keyed by column name
type RawRow map[string]string

// CostRecord represents one fully decomposed billing line item
type CostRecord struct {
	// Zone is the region code prefix of the usage type; empty when absent
	Zone       string `json:"zone,omitempty"`
	AWSService string `json:"aws_service"`
	UsageType  string `json:"usage_type"`

	Server  string `json:"server"`
	Env     string `json:"env"`
	Service string `json:"service"`
	Device  string `json:"device"`

	// UnitCost is NaN when the description carries no price
	UnitCost float64 `json:"-"`
	Unit     string  `json:"unit"`
	Cost     float64 `json:"cost"`
	// Quantity is Cost / UnitCost; non-finite when UnitCost is NaN or zero
	Quantity float64 `json:"-"`
}

// HasZone reports whether a zone was found in the usage type
func (r CostRecord) HasZone() bool {
	return r.Zone != ""
}

// HasUnitCost reports whether the description carried a unit price
func (r CostRecord) HasUnitCost() bool {
	return !math.IsNaN(r.UnitCost)
}

// HasQuantity reports whether Quantity is a finite number
func (r CostRecord) HasQuantity() bool {
	return !math.IsNaN(r.Quantity) && !math.IsInf(r.Quantity, 0)
}

// Field returns the value of a dimension by name
func (r CostRecord) Field(dim extract.Dimension) string {
	switch dim {
	case extract.Zone:
		return r.Zone
	case extract.AWSService:
		return r.AWSService
	case extract.UsageType:
		return r.UsageType
	case extract.Server:
		return r.Server
	case extract.Env:
		return r.Env
	case extract.Service:
		return r.Service
	case extract.Device:
		return r.Device
	case extract.Unit:
		return r.Unit
	default:
		return ""
	}
}

// CostSummary holds totals by the main dimensions
type CostSummary struct {
	TotalCost    float64            `json:"total_cost"`
	Currency     string             `json:"currency"`
	Records      int                `json:"records"`
	ByService    map[string]float64 `json:"by_service"`
	ByEnv        map[string]float64 `json:"by_env"`
	ByAWSService map[string]float64 `json:"by_aws_service"`
	ByZone       map[string]float64 `json:"by_zone"`
	ByUnit       map[string]float64 `json:"by_unit"`
	// UnknownQuantity counts records whose quantity is non-finite
	UnknownQuantity int `json:"unknown_quantity"`
}

// Summarize aggregates cost records into a summary
func Summarize(records []CostRecord) CostSummary {
	summary := CostSummary{
		Currency:     "USD",
		Records:      len(records),
		ByService:    make(map[string]float64),
		ByEnv:        make(map[string]float64),
		ByAWSService: make(map[string]float64),
		ByZone:       make(map[string]float64),
		ByUnit:       make(map[string]float64),
	}

	for _, r := range records {
		summary.TotalCost += r.Cost
		summary.ByService[r.Service] += r.Cost
		summary.ByEnv[r.Env] += r.Cost
		summary.ByAWSService[r.AWSService] += r.Cost
		summary.ByZone[r.Zone] += r.Cost
		summary.ByUnit[r.Unit] += r.Cost

		if !r.HasQuantity() {
			summary.UnknownQuantity++
		}
	}

	return summary
}
