// Package compare implements the price comparison engine: per-line verdicts
// against a quantity-adjusted historical baseline, line math findings, and
// the invoice-wide reconciliation checks.
package compare

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stackbirds/invoiceguard/internal/config"
	"github.com/stackbirds/invoiceguard/internal/history"
	"github.com/stackbirds/invoiceguard/internal/model"
)

// LearnedSource supplies price observations recorded from approved invoices.
// Implemented by store.Store; a nil source disables the learned fallback.
type LearnedSource interface {
	Observations(ctx context.Context, vendorID, item string) ([]model.PriceObservation, error)
}

// Comparator checks invoice line items against per-vendor price history.
// Static history takes strict precedence; the learned store is consulted
// only for keys the static table does not cover. It never writes anywhere.
type Comparator struct {
	table   *history.Table
	learned LearnedSource
	cfg     config.CompareConfig
}

func NewComparator(table *history.Table, learned LearnedSource, cfg config.CompareConfig) *Comparator {
	return &Comparator{table: table, learned: learned, cfg: cfg}
}

// Compare produces one verdict per line item, in input order.
func (c *Comparator) Compare(ctx context.Context, vendorID string, items []model.LineItem) []model.ComparisonVerdict {
	verdicts := make([]model.ComparisonVerdict, 0, len(items))
	for _, item := range items {
		verdicts = append(verdicts, c.compareItem(ctx, vendorID, item))
	}
	return verdicts
}

func (c *Comparator) compareItem(ctx context.Context, vendorID string, item model.LineItem) model.ComparisonVerdict {
	canonical := c.table.CanonicalItem(item.Description)
	v := model.ComparisonVerdict{
		Item:           canonical,
		RawDescription: item.Description,
		Quantity:       item.Quantity,
		UnitPrice:      item.UnitPrice,
	}

	obs, degraded := c.lookup(ctx, vendorID, canonical)
	v.LookupDegraded = degraded
	if len(obs) == 0 {
		v.Status = model.VerdictNoHistory
		if degraded {
			v.Note = fmt.Sprintf("learned history for %q could not be read; treated as no history", canonical)
		} else {
			v.Note = fmt.Sprintf("no price history for %q from %q; needs human review to establish a baseline", canonical, vendorID)
		}
		return v
	}

	baseline := summarize(obs, c.cfg.PreferredObservations)
	v.Baseline = &baseline

	factor := quantityFactor(item.Quantity.InexactFloat64(), baseline.AvgQuantity.InexactFloat64())
	v.QuantityFactor = factor

	adjusted := baseline.AvgPrice.Mul(decimal.NewFromFloat(factor))
	v.AdjustedAvg = adjusted
	v.RangeLow = adjusted.Mul(decimal.NewFromFloat(c.cfg.RatioLow))
	v.RangeHigh = adjusted.Mul(decimal.NewFromFloat(c.cfg.RatioHigh))

	if af := adjusted.InexactFloat64(); af > 0 {
		v.DeviationRatio = item.UnitPrice.InexactFloat64() / af
	}

	// Bounds are inclusive: a price exactly on either edge is in range.
	switch {
	case item.UnitPrice.LessThan(v.RangeLow):
		v.Status = model.VerdictUnderpriced
		v.Note = fmt.Sprintf("UNDERPRICED: %s is %.2fx the adjusted average %s (floor %.2fx); possible error, wrong item, or missing quantity",
			money(item.UnitPrice), v.DeviationRatio, money(adjusted), c.cfg.RatioLow)
	case item.UnitPrice.GreaterThan(v.RangeHigh):
		v.Status = model.VerdictOverpriced
		v.Note = fmt.Sprintf("OVERPRICED: %s is %.2fx the adjusted average %s (ceiling %.2fx)",
			money(item.UnitPrice), v.DeviationRatio, money(adjusted), c.cfg.RatioHigh)
	default:
		v.Status = model.VerdictInRange
		v.Note = fmt.Sprintf("%s within adjusted range %s to %s (%d observations, qty factor %.2f)",
			money(item.UnitPrice), money(v.RangeLow), money(v.RangeHigh), baseline.Observations, factor)
	}
	return v
}

// lookup applies the strict static-then-learned precedence; the two sources
// are never merged. A learned read failure degrades to no observations with
// the degraded flag set, so callers can tell "no data" from "could not read
// data"; it never aborts the comparison pass.
func (c *Comparator) lookup(ctx context.Context, vendorID, item string) ([]model.PriceObservation, bool) {
	if vendorID == "" {
		return nil, false
	}
	if obs := c.table.Observations(vendorID, item); len(obs) > 0 {
		return obs, false
	}
	if c.learned == nil {
		return nil, false
	}
	obs, err := c.learned.Observations(ctx, vendorID, item)
	if err != nil {
		zap.L().Warn("compare: learned history lookup failed",
			zap.String("vendor", vendorID),
			zap.String("item", item),
			zap.Error(err))
		return nil, true
	}
	return obs, false
}

// summarize reduces raw observations to a comparison-ready baseline.
// Zero quantities are excluded from the quantity average so one degenerate
// row cannot drag the adjustment toward zero.
func summarize(obs []model.PriceObservation, preferred int) model.Baseline {
	b := model.Baseline{
		VendorID:     obs[0].VendorID,
		Item:         obs[0].Item,
		Observations: len(obs),
		Origin:       obs[0].Origin,
		MinPrice:     obs[0].UnitPrice,
		MaxPrice:     obs[0].UnitPrice,
	}

	priceSum := decimal.Zero
	qtySum := decimal.Zero
	qtyCount := 0
	for _, o := range obs {
		priceSum = priceSum.Add(o.UnitPrice)
		if o.UnitPrice.LessThan(b.MinPrice) {
			b.MinPrice = o.UnitPrice
		}
		if o.UnitPrice.GreaterThan(b.MaxPrice) {
			b.MaxPrice = o.UnitPrice
		}
		if o.Quantity.Sign() > 0 {
			qtySum = qtySum.Add(o.Quantity)
			qtyCount++
		}
	}

	b.AvgPrice = priceSum.Div(decimal.NewFromInt(int64(len(obs))))
	if qtyCount > 0 {
		b.AvgQuantity = qtySum.Div(decimal.NewFromInt(int64(qtyCount)))
	}
	b.LowConfidence = len(obs) < preferred
	return b
}

// quantityFactor returns the multiplier applied to the baseline average
// price for an order of size qty against the historical average avgQty.
// Bulk orders are expected to be cheaper per unit, small orders more
// expensive, on a log curve: doubling the order size lowers the expected
// unit price to 0.8x, a tenfold increase only to ~0.55x. The ratio is
// floored at 0.1 and the factor clamped to [0.4, 2.0]. The curve has no
// flat segment, so moving the quantity toward the historical average always
// moves the expected price toward the unadjusted baseline.
func quantityFactor(qty, avgQty float64) float64 {
	if qty <= 0 || avgQty <= 0 {
		return 1.0
	}
	ratio := qty / avgQty
	if ratio < 0.1 {
		ratio = 0.1
	}
	factor := 1.0 / (1.0 + 0.25*math.Log2(ratio))
	return math.Max(0.4, math.Min(2.0, factor))
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
