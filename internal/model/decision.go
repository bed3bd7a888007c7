package model

import "fmt"

// DecisionStatus is the final disposition of an invoice.
type DecisionStatus string

// Decision statuses. There is no third state: anything that is not cleanly
// approvable is FLAGGED for human review.
const (
	StatusApproved DecisionStatus = "APPROVED"
	StatusFlagged  DecisionStatus = "FLAGGED"
)

// Reason code kinds. Item-scoped codes are rendered as "KIND:<item>".
const (
	ReasonPriceAnomaly        = "PRICE_ANOMALY"
	ReasonNoHistory           = "NO_HISTORY"
	ReasonMathMismatch        = "MATH_MISMATCH"
	ReasonVendorConfidenceLow = "VENDOR_CONFIDENCE_LOW"
)

// ItemReason renders an item-scoped reason code.
func ItemReason(kind, item string) string {
	return fmt.Sprintf("%s:%s", kind, item)
}

// Summary carries the reconciliation counts surfaced with every decision.
type Summary struct {
	ItemsChecked int      `json:"items_checked"`
	InRange      int      `json:"in_range"`
	OutOfRange   int      `json:"out_of_range"`
	NoHistory    int      `json:"no_history"`
	MathIssues   int      `json:"math_issues"`
	TotalsOK     bool     `json:"totals_ok"`
	TaxOK        bool     `json:"tax_ok"`
	ShippingOK   bool     `json:"shipping_ok"`
	Notes        []string `json:"notes,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Decision is the deterministic outcome for one invoice. It is a pure value:
// no identifiers, no timestamps, no randomness. Deciding the same inputs
// twice produces identical Decisions; the persistence envelope adds identity.
type Decision struct {
	Status      DecisionStatus `json:"status"`
	ReasonCodes []string       `json:"reason_codes"`
	Questions   []string       `json:"questions"`
	Summary     Summary        `json:"summary"`
}

// Flagged reports whether the invoice requires human review.
func (d Decision) Flagged() bool {
	return d.Status == StatusFlagged
}
