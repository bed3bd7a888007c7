package advisory

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/stackbirds/invoiceguard/internal/model"
)

// contextPayload is the structured context handed to the model. Only
// pipeline output goes in; raw document text never does, so the model can
// reference but not reinvent the numbers.
type contextPayload struct {
	Invoice       invoiceContext     `json:"invoice"`
	LineItems     []lineContext      `json:"line_items"`
	Algorithmic   decisionContext    `json:"algorithmic_decision"`
	MathIssues    []string           `json:"math_issues"`
	TaxCheck      checkContext       `json:"tax_check"`
	ShippingCheck checkContext       `json:"shipping_check"`
	LearningStats model.HistoryStats `json:"learning_db_stats"`
}

type invoiceContext struct {
	Number          string  `json:"number"`
	VendorOnInvoice string  `json:"vendor_on_invoice"`
	MatchedVendor   string  `json:"matched_vendor,omitempty"`
	MatchMethod     string  `json:"vendor_match_method"`
	MatchConfidence float64 `json:"vendor_confidence"`
	Date            string  `json:"date,omitempty"`
	Subtotal        string  `json:"subtotal"`
	Tax             string  `json:"tax"`
	Shipping        string  `json:"shipping"`
	Total           string  `json:"total"`
}

type lineContext struct {
	Item            string  `json:"item"`
	Quantity        string  `json:"quantity"`
	InvoicePrice    string  `json:"invoice_price"`
	HistoricalRange string  `json:"historical_range,omitempty"`
	HistoricalAvg   string  `json:"historical_avg,omitempty"`
	VariancePct     float64 `json:"variance_pct"`
	QtyAdjustment   float64 `json:"qty_adjustment,omitempty"`
	RateSource      string  `json:"rate_source"`
	Status          string  `json:"status"`
	Note            string  `json:"note,omitempty"`
}

type decisionContext struct {
	Status       string   `json:"status"`
	ReasonCodes  []string `json:"reason_codes"`
	Observations []string `json:"observations"`
}

type checkContext struct {
	OK bool `json:"ok"`
}

// buildUserPrompt renders the full analysis request: a fixed instruction
// line plus the context payload as indented JSON.
func buildUserPrompt(in Input) (string, error) {
	payload := buildContext(in)
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "advisory: marshal context")
	}
	return fmt.Sprintf("Analyze this invoice. The deterministic checks have already run. Your job is to add depth, not override.\n\n```json\n%s\n```", b), nil
}

func buildContext(in Input) contextPayload {
	inv := invoiceContext{
		Number:          in.Invoice.Number,
		VendorOnInvoice: in.Invoice.VendorName,
		MatchMethod:     string(model.MatchNone),
		Date:            in.Invoice.Date,
		Subtotal:        in.Invoice.Subtotal.String(),
		Tax:             in.Invoice.Tax.String(),
		Shipping:        in.Invoice.Shipping.String(),
		Total:           in.Invoice.Total.String(),
	}
	if in.Match != nil {
		inv.MatchedVendor = in.Match.VendorID
		inv.MatchMethod = string(in.Match.Method)
		inv.MatchConfidence = in.Match.Confidence
	}

	lines := make([]lineContext, 0, len(in.Verdicts))
	for _, v := range in.Verdicts {
		lc := lineContext{
			Item:          v.Item,
			Quantity:      v.Quantity.String(),
			InvoicePrice:  v.UnitPrice.String(),
			VariancePct:   v.VariancePct(),
			QtyAdjustment: v.QuantityFactor,
			RateSource:    string(model.OriginNone),
			Status:        string(v.Status),
			Note:          v.Note,
		}
		if v.Baseline != nil {
			lc.HistoricalRange = fmt.Sprintf("%s to %s", v.RangeLow, v.RangeHigh)
			lc.HistoricalAvg = v.AdjustedAvg.String()
			lc.RateSource = string(v.Baseline.Origin)
		}
		lines = append(lines, lc)
	}

	issues := make([]string, 0, len(in.Findings))
	for _, f := range in.Findings {
		issues = append(issues, fmt.Sprintf("%s: quantity times unit price is %s but the line shows %s (off by %s)",
			f.Item, f.Expected, f.Actual, f.Delta))
	}

	return contextPayload{
		Invoice:   inv,
		LineItems: lines,
		Algorithmic: decisionContext{
			Status:       string(in.Decision.Status),
			ReasonCodes:  in.Decision.ReasonCodes,
			Observations: in.Decision.Summary.Notes,
		},
		MathIssues:    issues,
		TaxCheck:      checkContext{OK: in.Reconcile.TaxOK},
		ShippingCheck: checkContext{OK: in.Reconcile.ShippingOK},
		LearningStats: in.Stats,
	}
}
