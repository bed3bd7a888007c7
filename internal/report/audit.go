package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/stackbirds/invoiceguard/internal/model"
)

// Audit renders the step-by-step trail for a record: what each phase saw,
// what it assumed, and why the decision came out the way it did. Reviewers
// read this when they disagree with a flag.
func Audit(rec model.DecisionRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] AUDIT TRAIL - Invoice %s\n\n",
		rec.CreatedAt.Format(time.RFC3339), orNA(rec.InvoiceNumber))

	auditExtraction(&b, rec)
	auditVendor(&b, rec)
	auditComparison(&b, rec)
	auditChecks(&b, rec)
	auditDecision(&b, rec)
	auditAdvisory(&b, rec)

	b.WriteString("GUARDRAIL SUMMARY:\n")
	b.WriteString("  The deterministic decision is final. AI analysis is advisory only.\n")
	b.WriteString("  AI cannot weaken, override, or modify any deterministic flags.\n")
	b.WriteString("  If AI and the deterministic checks disagree, the checks win.\n")

	return b.String()
}

func auditExtraction(b *strings.Builder, rec model.DecisionRecord) {
	b.WriteString("STEP 1: DATA EXTRACTION\n")
	fmt.Fprintf(b, "  Source: %s\n", orNA(rec.SourceFile))
	fmt.Fprintf(b, "  Vendor extracted: %q\n", rec.Invoice.VendorName)
	fmt.Fprintf(b, "  Invoice #: %s\n", orNA(rec.Invoice.Number))
	fmt.Fprintf(b, "  Date: %s\n", orNA(rec.Invoice.Date))
	fmt.Fprintf(b, "  Line items found: %d\n", len(rec.Invoice.LineItems))
	fmt.Fprintf(b, "  Subtotal: %s\n", money(rec.Invoice.Subtotal))
	fmt.Fprintf(b, "  Tax: %s\n", money(rec.Invoice.Tax))
	fmt.Fprintf(b, "  Shipping: %s\n", money(rec.Invoice.Shipping))
	fmt.Fprintf(b, "  Total: %s\n", money(rec.Invoice.Total))
	if warnings := rec.Decision.Summary.Warnings; len(warnings) > 0 {
		fmt.Fprintf(b, "  Extraction warnings: %s\n", strings.Join(warnings, ", "))
	} else {
		b.WriteString("  Extraction warnings: None\n")
	}
	b.WriteString("\n")
}

func auditVendor(b *strings.Builder, rec model.DecisionRecord) {
	b.WriteString("STEP 2: VENDOR VERIFICATION\n")
	fmt.Fprintf(b, "  Invoice says: %q\n", rec.Invoice.VendorName)
	if m := rec.Match; m != nil && m.Matched() {
		fmt.Fprintf(b, "  Best match: %q\n", m.VendorID)
		fmt.Fprintf(b, "  Match method: %s\n", m.Method)
		fmt.Fprintf(b, "  Confidence: %.0f%%\n", m.Confidence*100)
		switch m.Method {
		case model.MatchAlias:
			fmt.Fprintf(b, "  ASSUMPTION: Known alias for %q.\n", m.VendorID)
		case model.MatchFuzzy:
			b.WriteString("  UNCERTAINTY: Fuzzy match; needs human confirmation.\n")
		}
	} else {
		b.WriteString("  Best match: NONE\n")
		b.WriteString("  UNCERTAINTY: Vendor not in approved list.\n")
	}
	b.WriteString("\n")
}

func auditComparison(b *strings.Builder, rec model.DecisionRecord) {
	b.WriteString("STEP 3: PRICE COMPARISON (quantity-adjusted range)\n")
	for _, v := range rec.Verdicts {
		fmt.Fprintf(b, "  Item: %s\n", v.Item)
		fmt.Fprintf(b, "    Invoice price: %s\n", money(v.UnitPrice))
		fmt.Fprintf(b, "    Quantity: %s\n", v.Quantity.String())
		if v.Baseline != nil {
			fmt.Fprintf(b, "    Historical range: %s - %s\n", money(v.RangeLow), money(v.RangeHigh))
			fmt.Fprintf(b, "    Adjusted avg: %s\n", money(v.AdjustedAvg))
			fmt.Fprintf(b, "    Variance from avg: %+.1f%%\n", v.VariancePct())
			fmt.Fprintf(b, "    Rate source: %s (%d observations)\n", v.Baseline.Origin, v.Baseline.Observations)
			fmt.Fprintf(b, "    Qty adjustment: %.2fx\n", v.QuantityFactor)
		} else {
			b.WriteString("    Historical range: No data\n")
		}
		fmt.Fprintf(b, "    Verdict: %s\n", v.Status)
		if v.Note != "" {
			fmt.Fprintf(b, "    Detail: %s\n", v.Note)
		}
	}
	b.WriteString("\n")
}

func auditChecks(b *strings.Builder, rec model.DecisionRecord) {
	b.WriteString("STEP 4: MATH, TAX & SHIPPING CHECKS\n")
	if len(rec.Math) > 0 {
		fmt.Fprintf(b, "  Math: %d issue(s)\n", len(rec.Math))
		for _, f := range rec.Math {
			fmt.Fprintf(b, "    - %s: expected %s, invoice shows %s (off by %s)\n",
				f.Item, money(f.Expected), money(f.Actual), money(f.Delta))
		}
	} else {
		b.WriteString("  Math: All calculations verified.\n")
	}
	fmt.Fprintf(b, "  Totals reconcile: %s\n", okWord(rec.Reconcile.TotalsOK))
	fmt.Fprintf(b, "  Tax check: %s\n", okWord(rec.Reconcile.TaxOK))
	fmt.Fprintf(b, "  Shipping check: %s\n", okWord(rec.Reconcile.ShippingOK))
	for _, n := range rec.Reconcile.Notes {
		fmt.Fprintf(b, "    - %s\n", n)
	}
	b.WriteString("\n")
}

func auditDecision(b *strings.Builder, rec model.DecisionRecord) {
	b.WriteString("STEP 5: DETERMINISTIC DECISION\n")
	fmt.Fprintf(b, "  Status: %s\n\n", rec.Decision.Status)

	if len(rec.Decision.ReasonCodes) > 0 {
		b.WriteString("  FLAG REASONS:\n")
		for _, r := range rec.Decision.ReasonCodes {
			fmt.Fprintf(b, "    - %s\n", r)
		}
		b.WriteString("\n")
	}

	if len(rec.Decision.Questions) > 0 {
		b.WriteString("  CLARIFYING QUESTIONS:\n")
		for i, q := range rec.Decision.Questions {
			fmt.Fprintf(b, "    Q%d: %s\n", i+1, q)
		}
		b.WriteString("\n")
	}

	b.WriteString("  REASONING:\n")
	if rec.Decision.Flagged() {
		b.WriteString("    One or more checks produced a flag requiring human attention.\n")
		b.WriteString("    This does not mean the invoice is wrong; it means the system\n")
		b.WriteString("    cannot confidently verify it. See the clarifying questions above.\n")
	} else {
		b.WriteString("    Vendor recognized, prices within the adjusted historical range,\n")
		b.WriteString("    math verified, tax and shipping normal. A clarifying question is\n")
		b.WriteString("    still attached: no invoice is auto-approved without at least one\n")
		b.WriteString("    supervision checkpoint.\n")
	}
	b.WriteString("\n")
}

func auditAdvisory(b *strings.Builder, rec model.DecisionRecord) {
	b.WriteString("STEP 6: AI ANALYSIS (advisory layer)\n")
	adv := rec.Advisory
	switch {
	case adv == nil:
		b.WriteString("  Status: NOT RUN\n")
	case adv.Available:
		fmt.Fprintf(b, "  Model: %s\n", orNA(adv.Model))
		fmt.Fprintf(b, "  Latency: %dms\n", adv.LatencyMS)
		fmt.Fprintf(b, "  Risk Level: %s\n", strings.ToUpper(adv.RiskLevel))
		fmt.Fprintf(b, "  Executive Summary: %s\n", adv.Summary)
		if len(adv.Insights) > 0 {
			b.WriteString("\n  AI INSIGHTS:\n")
			for _, ins := range adv.Insights {
				fmt.Fprintf(b, "    - %s\n", ins)
			}
		}
		if len(adv.Questions) > 0 {
			b.WriteString("\n  AI-GENERATED QUESTIONS:\n")
			for i, q := range adv.Questions {
				fmt.Fprintf(b, "    AQ%d: %s\n", i+1, q)
			}
		}
		if adv.Explanation != "" {
			fmt.Fprintf(b, "\n  AI EXPLANATION: %s\n", adv.Explanation)
		}
	default:
		b.WriteString("  Status: UNAVAILABLE\n")
		fmt.Fprintf(b, "  Reason: %s\n", adv.Explanation)
		b.WriteString("  Note: Deterministic analysis is complete. AI is an optional depth layer.\n")
	}
	b.WriteString("\n")
}

func okWord(ok bool) string {
	if ok {
		return "OK"
	}
	return "ATTENTION"
}
