package model

import "time"

// DecisionRecord is the persistence envelope around a Decision: the pure
// decision value plus identity, provenance, and the evidence that produced it.
type DecisionRecord struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	VendorID      string    `json:"vendor_id,omitempty"`
	SourceFile    string    `json:"source_file,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	Invoice   Invoice             `json:"invoice"`
	Match     *VendorMatch        `json:"vendor_match,omitempty"`
	Verdicts  []ComparisonVerdict `json:"verdicts"`
	Math      []MathFinding       `json:"math_findings,omitempty"`
	Reconcile ReconcileStatus     `json:"reconcile"`
	Decision  Decision            `json:"decision"`
	Advisory  *AdvisoryRecord     `json:"advisory,omitempty"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
}

// Approval records a human sign-off on an invoice. One approval per invoice
// number: the learning store refuses duplicates.
type Approval struct {
	InvoiceNumber string    `json:"invoice_number"`
	VendorID      string    `json:"vendor_id"`
	DecisionID    string    `json:"decision_id,omitempty"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	ApprovedAt    time.Time `json:"approved_at"`
}
