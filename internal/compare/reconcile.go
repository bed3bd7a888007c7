package compare

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/stackbirds/invoiceguard/internal/model"
)

// MathFindings checks each line's printed total against quantity times unit
// price. A delta beyond the configured epsilon is a finding and flags the
// invoice; anything within epsilon is treated as rounding.
func (c *Comparator) MathFindings(items []model.LineItem) []model.MathFinding {
	epsilon := decimal.NewFromFloat(c.cfg.Epsilon)
	var findings []model.MathFinding
	for _, item := range items {
		expected := item.Quantity.Mul(item.UnitPrice)
		delta := item.LineTotal.Sub(expected)
		if delta.Abs().GreaterThan(epsilon) {
			findings = append(findings, model.MathFinding{
				Item:     c.table.CanonicalItem(item.Description),
				Expected: expected,
				Actual:   item.LineTotal,
				Delta:    delta,
			})
		}
	}
	return findings
}

// Reconcile runs the invoice-wide totals, tax, and shipping checks. The
// result annotates the decision summary; none of it flags on its own.
func (c *Comparator) Reconcile(inv model.Invoice, vendorID string) model.ReconcileStatus {
	rs := model.ReconcileStatus{TotalsOK: true, TaxOK: true, ShippingOK: true}
	epsilon := decimal.NewFromFloat(c.cfg.Epsilon)

	lineSum := decimal.Zero
	for _, item := range inv.LineItems {
		lineSum = lineSum.Add(item.LineTotal)
	}
	if lineSum.Sub(inv.Subtotal).Abs().GreaterThan(epsilon) {
		rs.TotalsOK = false
		rs.Notes = append(rs.Notes, fmt.Sprintf("line items sum to %s but subtotal is %s", money(lineSum), money(inv.Subtotal)))
	}

	expectedTotal := inv.Subtotal.Add(inv.Tax).Add(inv.Shipping)
	if expectedTotal.Sub(inv.Total).Abs().GreaterThan(epsilon) {
		rs.TotalsOK = false
		rs.Notes = append(rs.Notes, fmt.Sprintf("subtotal %s + tax %s + shipping %s = %s but total is %s",
			money(inv.Subtotal), money(inv.Tax), money(inv.Shipping), money(expectedTotal), money(inv.Total)))
	}

	c.reconcileTax(inv, &rs)
	c.reconcileShipping(inv, vendorID, &rs)
	return rs
}

func (c *Comparator) reconcileTax(inv model.Invoice, rs *model.ReconcileStatus) {
	if inv.Tax.IsZero() {
		rs.Notes = append(rs.Notes, "no tax charged; could be tax-exempt or bundled into unit prices")
		return
	}
	if inv.Subtotal.Sign() <= 0 {
		rs.TaxOK = false
		rs.Notes = append(rs.Notes, fmt.Sprintf("tax %s charged on a non-positive subtotal", money(inv.Tax)))
		return
	}

	rate, _ := inv.Tax.Div(inv.Subtotal).Float64()
	for _, known := range c.table.ValidTaxRates() {
		if known <= 0 {
			continue
		}
		if math.Abs(rate-known) <= c.cfg.TaxRateTolerance {
			rs.Notes = append(rs.Notes, fmt.Sprintf("tax rate %.2f%% matches known rate %.1f%%", rate*100, known*100))
			return
		}
	}
	rs.TaxOK = false
	rs.Notes = append(rs.Notes, fmt.Sprintf("tax rate %.2f%% matches no known rate", rate*100))
}

func (c *Comparator) reconcileShipping(inv model.Invoice, vendorID string, rs *model.ReconcileStatus) {
	if inv.Shipping.IsZero() {
		return
	}
	if inv.Shipping.Sign() < 0 {
		rs.ShippingOK = false
		rs.Notes = append(rs.Notes, fmt.Sprintf("negative shipping charge %s", money(inv.Shipping)))
		return
	}

	max, ok := c.table.ShippingMax(vendorID)
	if !ok {
		rs.Notes = append(rs.Notes, fmt.Sprintf("shipping %s; no vendor history to compare", money(inv.Shipping)))
		return
	}
	if inv.Shipping.GreaterThan(max) {
		rs.ShippingOK = false
		rs.Notes = append(rs.Notes, fmt.Sprintf("shipping %s above the vendor maximum %s; could be distance or rush", money(inv.Shipping), money(max)))
	}
}
