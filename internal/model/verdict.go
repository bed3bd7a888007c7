package model

import (
	"github.com/shopspring/decimal"
)

// VerdictStatus is the per-line outcome of a price comparison.
type VerdictStatus string

// Verdict statuses.
const (
	VerdictInRange     VerdictStatus = "IN_RANGE"
	VerdictOverpriced  VerdictStatus = "OVERPRICED"
	VerdictUnderpriced VerdictStatus = "UNDERPRICED"
	VerdictNoHistory   VerdictStatus = "NO_HISTORY"
)

// OutOfRange reports whether the status falls outside the acceptable band.
func (s VerdictStatus) OutOfRange() bool {
	return s == VerdictOverpriced || s == VerdictUnderpriced
}

// ComparisonVerdict is the result of comparing one invoice line against the
// vendor's price history for that item.
type ComparisonVerdict struct {
	Item           string          `json:"item"`
	RawDescription string          `json:"raw_description,omitempty"`
	Status         VerdictStatus   `json:"status"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`

	// Populated only when history exists. AdjustedAvg is the baseline average
	// after quantity adjustment; the acceptable range is derived from it.
	AdjustedAvg    decimal.Decimal `json:"adjusted_avg"`
	RangeLow       decimal.Decimal `json:"range_low"`
	RangeHigh      decimal.Decimal `json:"range_high"`
	QuantityFactor float64         `json:"quantity_factor,omitempty"`
	DeviationRatio float64         `json:"deviation_ratio,omitempty"`
	Baseline       *Baseline       `json:"baseline,omitempty"`

	// LookupDegraded marks a NO_HISTORY verdict caused by a learned-store
	// read failure rather than a genuinely unseen item.
	LookupDegraded bool   `json:"lookup_degraded,omitempty"`
	Note           string `json:"note,omitempty"`
}

// VariancePct returns the deviation from the adjusted average in percent,
// positive when the invoice price is above it. Zero when no history exists.
func (v ComparisonVerdict) VariancePct() float64 {
	if v.DeviationRatio == 0 {
		return 0
	}
	return (v.DeviationRatio - 1) * 100
}

// MathFinding records a line whose printed total does not equal
// quantity times unit price within the configured epsilon.
type MathFinding struct {
	Item     string          `json:"item"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Delta    decimal.Decimal `json:"delta"`
}

// ReconcileStatus is the invoice-wide reconciliation outcome. All of these
// checks are observation-only: they annotate the summary and never flag.
type ReconcileStatus struct {
	TotalsOK   bool     `json:"totals_ok"`
	TaxOK      bool     `json:"tax_ok"`
	ShippingOK bool     `json:"shipping_ok"`
	Notes      []string `json:"notes,omitempty"`
}
