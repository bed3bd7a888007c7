package compare

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbirds/invoiceguard/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// cleanInvoice reconciles perfectly against the test seed: lines sum to the
// subtotal, tax is exactly 7.5%, shipping is under Acme's $60 maximum.
func cleanInvoice() model.Invoice {
	return model.Invoice{
		Number:     "INV-1000",
		VendorName: "Acme Supplies",
		LineItems: []model.LineItem{
			line("Staples Pack", "5", "88", "440"),
			line("Ergonomic Chair", "10", "39", "390"),
		},
		Subtotal: dec("830"),
		Tax:      dec("62.25"),
		Shipping: dec("40"),
		Total:    dec("932.25"),
	}
}

// --- Line math ---

func TestMathFindings_Mismatch(t *testing.T) {
	c := newTestComparator(t, nil)

	findings := c.MathFindings([]model.LineItem{
		line("Staples Pack", "5", "88", "440"),
		line("Catering Tray", "5", "10", "60"),
	})
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "Catering Tray", f.Item)
	assert.Equal(t, "50", f.Expected.String())
	assert.Equal(t, "60", f.Actual.String())
	assert.Equal(t, "10", f.Delta.String())
}

func TestMathFindings_EpsilonBoundary(t *testing.T) {
	c := newTestComparator(t, nil)

	// A one-cent delta is rounding, two cents is a finding.
	assert.Empty(t, c.MathFindings([]model.LineItem{line("Widget", "5", "10", "50.01")}))
	assert.Len(t, c.MathFindings([]model.LineItem{line("Widget", "5", "10", "50.02")}), 1)
}

func TestMathFindings_Clean(t *testing.T) {
	c := newTestComparator(t, nil)
	assert.Empty(t, c.MathFindings(cleanInvoice().LineItems))
}

// --- Totals ---

func TestReconcile_CleanInvoice(t *testing.T) {
	c := newTestComparator(t, nil)

	rs := c.Reconcile(cleanInvoice(), "Acme Supplies Inc.")

	assert.True(t, rs.TotalsOK)
	assert.True(t, rs.TaxOK)
	assert.True(t, rs.ShippingOK)
	require.Len(t, rs.Notes, 1)
	assert.Contains(t, rs.Notes[0], "matches known rate 7.5%")
}

func TestReconcile_LineSumMismatch(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Subtotal = dec("800")
	inv.Total = dec("902.25")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.False(t, rs.TotalsOK)
	assert.Contains(t, rs.Notes[0], "line items sum to $830.00 but subtotal is $800.00")
}

func TestReconcile_GrandTotalMismatch(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Total = dec("999")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.False(t, rs.TotalsOK)
	assert.Contains(t, rs.Notes[0], "but total is $999.00")
}

// --- Tax ---

func TestReconcile_NoTax(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Tax = decimal.Zero
	inv.Total = dec("870")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.True(t, rs.TaxOK)
	require.Len(t, rs.Notes, 1)
	assert.Contains(t, rs.Notes[0], "no tax charged")
}

func TestReconcile_UnknownTaxRate(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Tax = dec("120")
	inv.Total = dec("990")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.False(t, rs.TaxOK)
	require.Len(t, rs.Notes, 1)
	assert.Contains(t, rs.Notes[0], "matches no known rate")
}

func TestReconcile_TaxOnZeroSubtotal(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := model.Invoice{
		Number:   "INV-1001",
		Subtotal: decimal.Zero,
		Tax:      dec("10"),
		Total:    dec("10"),
	}
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.True(t, rs.TotalsOK)
	assert.False(t, rs.TaxOK)
	assert.Contains(t, rs.Notes[0], "non-positive subtotal")
}

// --- Shipping ---

func TestReconcile_ShippingAboveMax(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Shipping = dec("75")
	inv.Total = dec("967.25")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.False(t, rs.ShippingOK)
	assert.Contains(t, rs.Notes[1], "above the vendor maximum $60.00")
}

func TestReconcile_ShippingNoVendorHistory(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := model.Invoice{
		Number:     "INV-1002",
		VendorName: "Calib Manufacturing",
		LineItems:  []model.LineItem{line("Widget", "100", "100", "10000")},
		Subtotal:   dec("10000"),
		Tax:        dec("750"),
		Shipping:   dec("40"),
		Total:      dec("10790"),
	}
	rs := c.Reconcile(inv, "Calib Manufacturing")

	assert.True(t, rs.ShippingOK)
	assert.Contains(t, rs.Notes[1], "no vendor history to compare")
}

func TestReconcile_NegativeShipping(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Shipping = dec("-5")
	inv.Total = dec("887.25")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.False(t, rs.ShippingOK)
	assert.Contains(t, rs.Notes[1], "negative shipping charge")
}

func TestReconcile_ZeroShippingNoNote(t *testing.T) {
	c := newTestComparator(t, nil)

	inv := cleanInvoice()
	inv.Shipping = decimal.Zero
	inv.Total = dec("892.25")
	rs := c.Reconcile(inv, "Acme Supplies Inc.")

	assert.True(t, rs.ShippingOK)
	require.Len(t, rs.Notes, 1) // only the tax match note
}
