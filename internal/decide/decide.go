// Package decide turns comparison evidence into the final invoice decision:
// a status, machine-readable reason codes, and one to three clarifying
// questions. Every invoice gets at least one question, approved or not.
package decide

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stackbirds/invoiceguard/internal/config"
	"github.com/stackbirds/invoiceguard/internal/model"
)

// Input is the evidence a decision is made from. Decide never reaches past
// it: same input, same decision.
type Input struct {
	Match     *model.VendorMatch
	Verdicts  []model.ComparisonVerdict
	Math      []model.MathFinding
	Reconcile model.ReconcileStatus
	Warnings  []string
}

// Engine applies the decision rule. It has no state beyond configuration
// and performs no I/O.
type Engine struct {
	cfg config.DecideConfig
}

func NewEngine(cfg config.DecideConfig) *Engine {
	if cfg.VendorConfidenceThreshold <= 0 {
		cfg.VendorConfidenceThreshold = 0.85
	}
	if cfg.MaxQuestions < 1 {
		cfg.MaxQuestions = 3
	}
	return &Engine{cfg: cfg}
}

// Decide produces the invoice decision. The status rule is a pure OR over
// independent triggers: any out-of-range or no-history verdict, any math
// finding, or a vendor match below the confidence threshold flags the
// invoice. Nothing cancels anything out; a single bad line flags the whole
// invoice. Tax, shipping, and extraction warnings annotate the summary but
// never trigger on their own.
func (e *Engine) Decide(in Input) model.Decision {
	var anomalies, noHistory []model.ComparisonVerdict
	for _, v := range in.Verdicts {
		switch {
		case v.Status.OutOfRange():
			anomalies = append(anomalies, v)
		case v.Status == model.VerdictNoHistory:
			noHistory = append(noHistory, v)
		}
	}

	confidence := 0.0
	if in.Match != nil {
		confidence = in.Match.Confidence
	}
	lowConfidence := confidence < e.cfg.VendorConfidenceThreshold

	reasons := reasonCodes(anomalies, noHistory, in.Math, lowConfidence)

	status := model.StatusApproved
	if len(anomalies) > 0 || len(noHistory) > 0 || len(in.Math) > 0 || lowConfidence {
		status = model.StatusFlagged
	}

	return model.Decision{
		Status:      status,
		ReasonCodes: reasons,
		Questions:   e.questions(anomalies, noHistory, in.Math, lowConfidence, in.Match),
		Summary:     summary(in),
	}
}

// reasonCodes synthesizes one code per triggering condition, ordered by
// severity kind and then input order, deduplicated but never collapsed:
// every flagged item keeps its own code.
func reasonCodes(anomalies, noHistory []model.ComparisonVerdict, findings []model.MathFinding, lowConfidence bool) []string {
	var codes []string
	seen := make(map[string]bool)
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}

	for _, v := range anomalies {
		add(model.ItemReason(model.ReasonPriceAnomaly, v.Item))
	}
	for _, v := range noHistory {
		add(model.ItemReason(model.ReasonNoHistory, v.Item))
	}
	for _, f := range findings {
		add(model.ItemReason(model.ReasonMathMismatch, f.Item))
	}
	if lowConfidence {
		add(model.ReasonVendorConfidenceLow)
	}
	return codes
}

// questions builds one candidate question per triggered category, in fixed
// severity order (price anomaly, no history, math mismatch, low vendor
// confidence), truncates to the configured maximum, and floors at one: an
// invoice that triggers nothing still gets the generic verification
// question. A reviewer never sees zero questions.
func (e *Engine) questions(anomalies, noHistory []model.ComparisonVerdict, findings []model.MathFinding, lowConfidence bool, match *model.VendorMatch) []string {
	var qs []string

	if len(anomalies) > 0 {
		details := make([]string, 0, len(anomalies))
		for _, v := range anomalies {
			details = append(details, fmt.Sprintf("%s (%s vs adjusted average %s)", v.Item, money(v.UnitPrice), money(v.AdjustedAvg)))
		}
		qs = append(qs, fmt.Sprintf("Price anomalies detected: %s. Please verify these prices with the vendor before approving.",
			strings.Join(details, "; ")))
	}

	if len(noHistory) > 0 {
		names := make([]string, 0, len(noHistory))
		for _, v := range noHistory {
			names = append(names, v.Item)
		}
		qs = append(qs, fmt.Sprintf("No historical pricing for: %s. Is this a first-time order? Please confirm the prices match the agreed contract terms; once approved they become the baseline for future invoices.",
			strings.Join(names, ", ")))
	}

	if len(findings) > 0 {
		qs = append(qs, "The invoice math doesn't add up. Is this a rounding issue, or could there be a missing line item or incorrect amount?")
	}

	if lowConfidence {
		if match == nil || !match.Matched() {
			qs = append(qs, "This vendor is not in the approved vendor list. Is this a new vendor that needs onboarding, or a known vendor under a different name?")
		} else {
			qs = append(qs, fmt.Sprintf("Vendor matched to %q with only %.0f%% confidence. Is this the right vendor?",
				match.VendorID, match.Confidence*100))
		}
	}

	if len(qs) == 0 {
		qs = append(qs, "This invoice passed all automated checks. Please confirm the quantities and descriptions match what was actually received before final approval.")
	}
	if len(qs) > e.cfg.MaxQuestions {
		qs = qs[:e.cfg.MaxQuestions]
	}
	return qs
}

func summary(in Input) model.Summary {
	s := model.Summary{
		ItemsChecked: len(in.Verdicts),
		TotalsOK:     in.Reconcile.TotalsOK,
		TaxOK:        in.Reconcile.TaxOK,
		ShippingOK:   in.Reconcile.ShippingOK,
	}

	for _, v := range in.Verdicts {
		switch {
		case v.Status == model.VerdictInRange:
			s.InRange++
		case v.Status.OutOfRange():
			s.OutOfRange++
		case v.Status == model.VerdictNoHistory:
			s.NoHistory++
		}
	}
	s.MathIssues = len(in.Math)

	if in.Match != nil {
		switch in.Match.Method {
		case model.MatchAlias:
			s.Notes = append(s.Notes, fmt.Sprintf("vendor matched via known alias to %q", in.Match.VendorID))
		case model.MatchFuzzy:
			s.Notes = append(s.Notes, fmt.Sprintf("vendor fuzzy-matched to %q (%.0f%% confidence)", in.Match.VendorID, in.Match.Confidence*100))
		}
	}
	s.Notes = append(s.Notes, in.Reconcile.Notes...)

	if len(in.Warnings) > 0 {
		s.Warnings = append([]string(nil), in.Warnings...)
	}
	return s
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
