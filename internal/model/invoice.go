// Package model defines the types that flow through the invoice decision pipeline.
package model

import (
	"github.com/shopspring/decimal"
)

// LineItem is a single billed line as extracted from an invoice.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Invoice is the structured invoice produced by the extraction collaborator.
type Invoice struct {
	Number     string          `json:"invoice_number"`
	VendorName string          `json:"vendor_name"`
	Date       string          `json:"invoice_date,omitempty"`
	LineItems  []LineItem      `json:"line_items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Shipping   decimal.Decimal `json:"shipping"`
	Total      decimal.Decimal `json:"total"`
}

// ExtractionResult wraps an extracted invoice with any warnings the extractor
// emitted for missing or malformed fields. Warnings are carried through to the
// decision summary; they never flag on their own.
type ExtractionResult struct {
	Invoice  Invoice      `json:"invoice"`
	Match    *VendorMatch `json:"vendor_match,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}
