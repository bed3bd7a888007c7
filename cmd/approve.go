package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/internal/store"
)

var (
	approveBy string
	approveID string
)

var approveCmd = &cobra.Command{
	Use:   "approve [invoice-number]",
	Short: "Record human sign-off and feed the invoice into the learned history",
	Long:  "Marks a stored decision approved and records one learned price observation per line item. Each invoice can be approved exactly once; this is the only path that writes to the learned history.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 && approveID == "" {
			return eris.New("approve: an invoice number or --id is required")
		}
		if err := cfg.Validate("approve"); err != nil {
			return err
		}

		st, err := store.New(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		invoice := ""
		if len(args) > 0 {
			invoice = args[0]
		}
		rec, err := findDecision(ctx, st, invoice)
		if err != nil {
			return err
		}
		if rec.VendorID == "" {
			return eris.Errorf("approve: decision %s has no matched vendor; add the vendor to the approved list and reprocess before approving", rec.ID)
		}

		obs := observationsFromRecord(rec)
		approval := model.Approval{
			InvoiceNumber: rec.InvoiceNumber,
			VendorID:      rec.VendorID,
			DecisionID:    rec.ID,
			ApprovedBy:    approveBy,
			ApprovedAt:    time.Now().UTC(),
		}

		if err := st.RecordApproval(ctx, approval, obs); err != nil {
			if errors.Is(err, store.ErrAlreadyApproved) {
				return eris.Errorf("approve: invoice %s is already approved; the learned history records each invoice once", rec.InvoiceNumber)
			}
			return eris.Wrap(err, "approve: record approval")
		}

		zap.L().Info("invoice approved",
			zap.String("invoice", rec.InvoiceNumber),
			zap.String("vendor", rec.VendorID),
			zap.String("approved_by", approveBy),
			zap.Int("observations", len(obs)),
		)
		fmt.Printf("Approved %s for %s (%d observations recorded)\n", rec.InvoiceNumber, rec.VendorID, len(obs))
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveBy, "by", "", "name or handle of the approver")
	approveCmd.Flags().StringVar(&approveID, "id", "", "approve a specific decision record by ID")
	rootCmd.AddCommand(approveCmd)
}

func findDecision(ctx context.Context, st store.Store, invoice string) (*model.DecisionRecord, error) {
	if approveID != "" {
		rec, err := st.GetDecision(ctx, approveID)
		if err != nil {
			return nil, eris.Wrap(err, "approve: load decision")
		}
		if rec == nil {
			return nil, eris.Errorf("approve: no decision with ID %s", approveID)
		}
		return rec, nil
	}

	// Most recent decision for the invoice wins; ListDecisions orders by
	// creation time descending.
	recs, err := st.ListDecisions(ctx, store.DecisionFilter{InvoiceNumber: invoice, Limit: 1})
	if err != nil {
		return nil, eris.Wrap(err, "approve: list decisions")
	}
	if len(recs) == 0 {
		return nil, eris.Errorf("approve: no decision found for invoice %s; run process first", invoice)
	}
	return &recs[0], nil
}

// observationsFromRecord turns the record's line verdicts into learned
// observations. Verdicts carry canonical item names, so future comparisons
// hit the same keys the static table uses. Lines the store would reject
// (zero quantity, negative price) are skipped rather than failing the whole
// approval.
func observationsFromRecord(rec *model.DecisionRecord) []model.PriceObservation {
	obs := make([]model.PriceObservation, 0, len(rec.Verdicts))
	for _, v := range rec.Verdicts {
		if v.Item == "" || v.Quantity.Sign() <= 0 || v.UnitPrice.Sign() < 0 {
			continue
		}
		obs = append(obs, model.PriceObservation{
			VendorID:      rec.VendorID,
			Item:          v.Item,
			Quantity:      v.Quantity,
			UnitPrice:     v.UnitPrice,
			InvoiceNumber: rec.InvoiceNumber,
			Origin:        model.OriginLearned,
		})
	}
	return obs
}
