package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbirds/invoiceguard/internal/history"
	"github.com/stackbirds/invoiceguard/internal/model"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	table, err := history.Load("")
	require.NoError(t, err)
	return NewResolver(table)
}

func TestResolveExact(t *testing.T) {
	r := newTestResolver(t)

	m := r.Resolve("Acme Supplies Inc.")
	assert.Equal(t, "Acme Supplies Inc.", m.VendorID)
	assert.Equal(t, model.MatchExact, m.Method)
	assert.InDelta(t, 1.0, m.Confidence, 0.001)
	assert.True(t, m.Matched())
}

func TestResolveExactCaseInsensitive(t *testing.T) {
	r := newTestResolver(t)

	m := r.Resolve("ACME SUPPLIES INC.")
	assert.Equal(t, "Acme Supplies Inc.", m.VendorID)
	assert.Equal(t, model.MatchExact, m.Method)
}

func TestResolveAlias(t *testing.T) {
	r := newTestResolver(t)

	m := r.Resolve("harbour hardware")
	assert.Equal(t, "Harbor Hardware", m.VendorID)
	assert.Equal(t, model.MatchAlias, m.Method)
	assert.InDelta(t, 0.95, m.Confidence, 0.001)
}

func TestResolveNone(t *testing.T) {
	r := newTestResolver(t)

	m := r.Resolve("Totally Unknown Vendor GmbH")
	assert.Empty(t, m.VendorID)
	assert.Equal(t, model.MatchNone, m.Method)
	assert.Zero(t, m.Confidence)
	assert.False(t, m.Matched())

	m = r.Resolve("   ")
	assert.Equal(t, model.MatchNone, m.Method)
}

func TestResolveExtractionUsesUpstreamMatch(t *testing.T) {
	r := newTestResolver(t)

	ex := model.ExtractionResult{
		Invoice: model.Invoice{VendorName: "Acme Suplies Inc"},
		Match: &model.VendorMatch{
			VendorID:   "Acme Supplies Inc.",
			Method:     model.MatchFuzzy,
			Confidence: 0.91,
		},
	}

	m := r.ResolveExtraction(ex)
	assert.Equal(t, "Acme Supplies Inc.", m.VendorID)
	assert.Equal(t, model.MatchFuzzy, m.Method)
	assert.InDelta(t, 0.91, m.Confidence, 0.001)
	assert.Equal(t, "Acme Suplies Inc", m.RawName)
}

func TestResolveExtractionRejectsUnknownUpstreamVendor(t *testing.T) {
	r := newTestResolver(t)

	ex := model.ExtractionResult{
		Invoice: model.Invoice{VendorName: "bright office"},
		Match: &model.VendorMatch{
			VendorID:   "Some Other Vendor",
			Method:     model.MatchFuzzy,
			Confidence: 0.9,
		},
	}

	// Falls back to deterministic resolution of the printed name
	m := r.ResolveExtraction(ex)
	assert.Equal(t, "BrightOffice LLC", m.VendorID)
	assert.Equal(t, model.MatchAlias, m.Method)
}

func TestResolveExtractionClampsConfidence(t *testing.T) {
	r := newTestResolver(t)

	ex := model.ExtractionResult{
		Invoice: model.Invoice{VendorName: "Orbit Software Ltd."},
		Match: &model.VendorMatch{
			VendorID:   "Orbit Software Ltd.",
			Method:     model.MatchFuzzy,
			Confidence: 1.7,
		},
	}

	m := r.ResolveExtraction(ex)
	assert.InDelta(t, 1.0, m.Confidence, 0.001)
}

func TestResolveExtractionNoUpstreamMatch(t *testing.T) {
	r := newTestResolver(t)

	ex := model.ExtractionResult{
		Invoice: model.Invoice{VendorName: "north star it services"},
	}

	m := r.ResolveExtraction(ex)
	assert.Equal(t, "Northstar IT Services", m.VendorID)
	assert.Equal(t, model.MatchAlias, m.Method)
}
