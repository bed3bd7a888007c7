package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/internal/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func approvableRecord(invoice string) model.DecisionRecord {
	rec := sampleRecord(invoice)
	rec.ID = uuid.NewString()
	rec.Verdicts = []model.ComparisonVerdict{
		{
			Item:      "Staples Pack",
			Status:    model.VerdictInRange,
			Quantity:  decimal.RequireFromString("5"),
			UnitPrice: decimal.RequireFromString("85"),
		},
		{
			Item:      "Ergonomic Chair",
			Status:    model.VerdictNoHistory,
			Quantity:  decimal.RequireFromString("2"),
			UnitPrice: decimal.RequireFromString("199"),
		},
	}
	return rec
}

func TestObservationsFromRecord(t *testing.T) {
	rec := approvableRecord("INV-7100")
	rec.Verdicts = append(rec.Verdicts,
		model.ComparisonVerdict{Item: "Zero Qty", Quantity: decimal.Zero, UnitPrice: decimal.RequireFromString("10")},
		model.ComparisonVerdict{Item: "", Quantity: decimal.RequireFromString("1"), UnitPrice: decimal.RequireFromString("10")},
		model.ComparisonVerdict{Item: "Refund Line", Quantity: decimal.RequireFromString("1"), UnitPrice: decimal.RequireFromString("-5")},
	)

	obs := observationsFromRecord(&rec)
	require.Len(t, obs, 2)
	assert.Equal(t, "Staples Pack", obs[0].Item)
	assert.Equal(t, "Ergonomic Chair", obs[1].Item)
	for _, o := range obs {
		assert.Equal(t, "Acme Supplies Inc.", o.VendorID)
		assert.Equal(t, "INV-7100", o.InvoiceNumber)
		assert.Equal(t, model.OriginLearned, o.Origin)
	}
}

func TestFindDecision_ByInvoiceNumber(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	rec := approvableRecord("INV-7101")
	require.NoError(t, st.SaveDecision(ctx, &rec))

	found, err := findDecision(ctx, st, "INV-7101")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
}

func TestFindDecision_MostRecentWins(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	older := approvableRecord("INV-7102")
	older.CreatedAt = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveDecision(ctx, &older))

	newer := approvableRecord("INV-7102")
	newer.CreatedAt = time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveDecision(ctx, &newer))

	found, err := findDecision(ctx, st, "INV-7102")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, found.ID)
}

func TestFindDecision_ByID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	rec := approvableRecord("INV-7103")
	require.NoError(t, st.SaveDecision(ctx, &rec))

	approveID = rec.ID
	t.Cleanup(func() { approveID = "" })

	found, err := findDecision(ctx, st, "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
}

func TestFindDecision_NotFound(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := findDecision(ctx, st, "INV-9999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decision found for invoice INV-9999")
}

func TestApprove_RecordsLearnedObservations(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	rec := approvableRecord("INV-7104")
	require.NoError(t, st.SaveDecision(ctx, &rec))

	obs := observationsFromRecord(&rec)
	approval := model.Approval{
		InvoiceNumber: rec.InvoiceNumber,
		VendorID:      rec.VendorID,
		DecisionID:    rec.ID,
		ApprovedBy:    "pat",
		ApprovedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.RecordApproval(ctx, approval, obs))

	// Future comparisons for this key now see the learned price.
	learned, err := st.Observations(ctx, "Acme Supplies Inc.", "Staples Pack")
	require.NoError(t, err)
	require.Len(t, learned, 1)
	assert.Equal(t, "85", learned[0].UnitPrice.String())

	// Second sign-off is refused; the history records each invoice once.
	err = st.RecordApproval(ctx, approval, obs)
	assert.ErrorIs(t, err, store.ErrAlreadyApproved)
}
