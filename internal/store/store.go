// Package store persists decision records and the learned price history.
// The learned history is append-only: observations enter only through an
// explicit approval, never during the comparison pass that produced a flag.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/stackbirds/invoiceguard/internal/config"
	"github.com/stackbirds/invoiceguard/internal/model"
)

// ErrAlreadyApproved is returned when an invoice has already been approved;
// each invoice feeds the learned history exactly once.
var ErrAlreadyApproved = eris.New("store: invoice already approved")

// DecisionFilter specifies criteria for listing decision records.
type DecisionFilter struct {
	Status        model.DecisionStatus `json:"status,omitempty"`
	VendorID      string               `json:"vendor_id,omitempty"`
	InvoiceNumber string               `json:"invoice_number,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
	Offset        int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for decision records, approvals,
// and learned price observations.
type Store interface {
	// Decisions
	SaveDecision(ctx context.Context, rec *model.DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error)

	// Learned history
	RecordObservation(ctx context.Context, obs model.PriceObservation) error
	Observations(ctx context.Context, vendorID, item string) ([]model.PriceObservation, error)
	Stats(ctx context.Context) (model.HistoryStats, error)

	// Approvals
	RecordApproval(ctx context.Context, approval model.Approval, obs []model.PriceObservation) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store backend selected by the configured driver.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

func validateObservation(obs model.PriceObservation) error {
	if obs.VendorID == "" || obs.Item == "" {
		return eris.New("store: observation requires vendor and item")
	}
	if obs.Quantity.Sign() <= 0 || obs.UnitPrice.Sign() < 0 {
		return eris.Errorf("store: invalid observation for %s/%s", obs.VendorID, obs.Item)
	}
	return nil
}
