package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryOrigin identifies which price source produced an observation or
// baseline: the static contract table or the learned store of approved
// invoices.
type HistoryOrigin string

// History origins.
const (
	OriginStatic  HistoryOrigin = "static"
	OriginLearned HistoryOrigin = "learned"
	OriginNone    HistoryOrigin = "none"
)

// PriceObservation is one historical price point for a (vendor, item) pair.
// Observations are immutable once recorded.
type PriceObservation struct {
	VendorID      string          `json:"vendor_id"`
	Item          string          `json:"item"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Origin        HistoryOrigin   `json:"origin,omitempty"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Baseline is the aggregate derived from a set of observations for one
// (vendor, item) pair. It is computed on demand and never stored.
type Baseline struct {
	VendorID      string          `json:"vendor_id"`
	Item          string          `json:"item"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	AvgQuantity   decimal.Decimal `json:"avg_quantity"`
	MinPrice      decimal.Decimal `json:"min_price"`
	MaxPrice      decimal.Decimal `json:"max_price"`
	Observations  int             `json:"observations"`
	Origin        HistoryOrigin   `json:"origin"`
	LowConfidence bool            `json:"low_confidence,omitempty"`
}

// HistoryStats summarizes the learning store contents.
type HistoryStats struct {
	Vendors      int `json:"vendors"`
	Items        int `json:"items"`
	Observations int `json:"observations"`
	Approvals    int `json:"approvals"`
	Decisions    int `json:"decisions"`
}
