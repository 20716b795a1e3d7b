package reporter

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// Unknown is printed in place of non-finite numbers
const Unknown = "unknown"

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Money formats a cost with two decimals, rounding half away from zero
func Money(v float64) string {
	if !finite(v) {
		return Unknown
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Basis describes how a line item was billed, e.g. "24 instance hour at $0.1 ea."
func Basis(r normalizer.CostRecord) string {
	if !r.HasQuantity() || !r.HasUnitCost() {
		return Unknown
	}
	return decimal.NewFromFloat(r.Quantity).Round(2).String() + " " + r.Unit +
		" at $" + decimal.NewFromFloat(r.UnitCost).Round(2).String() + " ea."
}

// Anchor returns the Markdown heading anchor of a service section
func Anchor(service string) string {
	return "service-" + strings.ReplaceAll(strings.ToLower(service), " ", "-")
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
