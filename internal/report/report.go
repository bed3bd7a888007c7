// Package report assembles and renders the per-invoice outputs: the
// structured decision record, a human-readable reconciliation report, and an
// audit trail of every check the pipeline ran.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stackbirds/invoiceguard/internal/model"
)

// Input collects the pipeline outputs for one invoice. Build stamps identity
// onto them; nothing else in the system mints IDs or timestamps.
type Input struct {
	SourceFile string
	Extraction model.ExtractionResult
	Match      *model.VendorMatch
	Verdicts   []model.ComparisonVerdict
	Findings   []model.MathFinding
	Reconcile  model.ReconcileStatus
	Decision   model.Decision
	Advisory   *model.AdvisoryRecord
}

// Build assembles the persistence envelope around a finished decision.
func Build(in Input) model.DecisionRecord {
	rec := model.DecisionRecord{
		ID:            uuid.NewString(),
		InvoiceNumber: in.Extraction.Invoice.Number,
		SourceFile:    in.SourceFile,
		CreatedAt:     time.Now().UTC(),
		Invoice:       in.Extraction.Invoice,
		Match:         in.Match,
		Verdicts:      in.Verdicts,
		Math:          in.Findings,
		Reconcile:     in.Reconcile,
		Decision:      in.Decision,
		Advisory:      in.Advisory,
	}
	if in.Match != nil && in.Match.Matched() {
		rec.VendorID = in.Match.VendorID
	}
	return rec
}

const lineWidth = 72

// Render produces the human-readable reconciliation report for a record.
// Deterministic: the same record always renders the same text.
func Render(rec model.DecisionRecord) string {
	var b strings.Builder
	sep := strings.Repeat("=", lineWidth)
	sub := strings.Repeat("-", lineWidth)

	b.WriteString(sep + "\n")
	b.WriteString("  INVOICE RECONCILIATION REPORT\n")
	b.WriteString(sep + "\n\n")

	fmt.Fprintf(&b, "  Invoice:     %s\n", orNA(rec.Invoice.Number))
	fmt.Fprintf(&b, "  Vendor:      %s\n", orNA(rec.Invoice.VendorName))
	fmt.Fprintf(&b, "  Matched to:  %s\n", matchLine(rec.Match))
	fmt.Fprintf(&b, "  Date:        %s\n", orNA(rec.Invoice.Date))
	fmt.Fprintf(&b, "  Total:       %s\n\n", money(rec.Invoice.Total))

	if rec.Decision.Flagged() {
		b.WriteString("  Decision:    >>> FLAGGED FOR HUMAN REVIEW <<<\n")
	} else {
		b.WriteString("  Decision:    >>> APPROVED <<<\n")
	}
	if len(rec.Decision.ReasonCodes) > 0 {
		fmt.Fprintf(&b, "  Reasons:     %s\n", strings.Join(rec.Decision.ReasonCodes, ", "))
	}
	b.WriteString("\n")

	// Line items.
	b.WriteString(sub + "\n")
	b.WriteString("  LINE ITEM COMPARISON\n")
	b.WriteString(sub + "\n")
	fmt.Fprintf(&b, "  %-26s %5s %10s %22s %s\n", "Item", "Qty", "Invoice$", "Range (historical)", "Status")
	fmt.Fprintf(&b, "  %-26s %5s %10s %22s %s\n",
		strings.Repeat("-", 24), "-----", "----------", "----------------------", "------------")
	for _, v := range rec.Verdicts {
		name := v.Item
		if name == "" {
			name = v.RawDescription
		}
		if len(name) > 24 {
			name = name[:24]
		}
		rangeStr := "No data"
		if v.Baseline != nil {
			rangeStr = fmt.Sprintf("%s - %s", money(v.RangeLow), money(v.RangeHigh))
		}
		fmt.Fprintf(&b, "  %-26s %5s %10s %22s %s\n",
			name, v.Quantity.String(), money(v.UnitPrice), rangeStr, statusSymbol(v.Status))
	}
	b.WriteString("\n")

	// Totals.
	b.WriteString(sub + "\n")
	b.WriteString("  TOTALS & OBSERVATIONS\n")
	b.WriteString(sub + "\n")
	fmt.Fprintf(&b, "  Subtotal:  %s\n", money(rec.Invoice.Subtotal))
	fmt.Fprintf(&b, "  Tax:       %s\n", money(rec.Invoice.Tax))
	fmt.Fprintf(&b, "  Shipping:  %s\n", money(rec.Invoice.Shipping))
	fmt.Fprintf(&b, "  Total:     %s\n", money(rec.Invoice.Total))

	if len(rec.Math) > 0 {
		b.WriteString("\n  Math Issues:\n")
		for _, f := range rec.Math {
			fmt.Fprintf(&b, "    !! %s: expected %s, invoice shows %s (off by %s)\n",
				f.Item, money(f.Expected), money(f.Actual), money(f.Delta))
		}
	}

	if len(rec.Decision.Summary.Notes) > 0 {
		b.WriteString("\n" + sub + "\n")
		b.WriteString("  OBSERVATIONS\n")
		b.WriteString(sub + "\n")
		for _, n := range rec.Decision.Summary.Notes {
			fmt.Fprintf(&b, "  - %s\n", n)
		}
	}

	if len(rec.Decision.Questions) > 0 {
		b.WriteString("\n" + sub + "\n")
		b.WriteString("  CLARIFYING QUESTIONS (for human reviewer)\n")
		b.WriteString(sub + "\n")
		for i, q := range rec.Decision.Questions {
			fmt.Fprintf(&b, "  Q%d: %s\n", i+1, q)
		}
	}

	if rec.Advisory != nil {
		renderAdvisory(&b, sub, rec.Advisory)
	}

	b.WriteString("\n" + sep + "\n")
	return b.String()
}

func renderAdvisory(b *strings.Builder, sub string, adv *model.AdvisoryRecord) {
	b.WriteString("\n" + sub + "\n")
	if !adv.Available {
		b.WriteString("  AI ANALYSIS: unavailable\n")
		b.WriteString(sub + "\n")
		fmt.Fprintf(b, "  %s\n", adv.Explanation)
		b.WriteString("  Deterministic analysis above is complete. AI adds depth, not requirements.\n")
		return
	}

	b.WriteString("  AI ANALYSIS (advisory; deterministic flags are final)\n")
	b.WriteString(sub + "\n")
	fmt.Fprintf(b, "  Risk Level:  %s\n", strings.ToUpper(adv.RiskLevel))
	fmt.Fprintf(b, "  Summary:     %s\n", adv.Summary)
	if len(adv.Insights) > 0 {
		b.WriteString("\n  Insights:\n")
		for _, ins := range adv.Insights {
			fmt.Fprintf(b, "    - %s\n", ins)
		}
	}
	if len(adv.Questions) > 0 {
		b.WriteString("\n  AI-Generated Questions:\n")
		for i, q := range adv.Questions {
			fmt.Fprintf(b, "    AQ%d: %s\n", i+1, q)
		}
	}
	if adv.Explanation != "" {
		fmt.Fprintf(b, "\n  Explanation: %s\n", adv.Explanation)
	}
	fmt.Fprintf(b, "  Model: %s | Latency: %dms\n", adv.Model, adv.LatencyMS)
}

func statusSymbol(s model.VerdictStatus) string {
	switch s {
	case model.VerdictInRange:
		return "OK"
	case model.VerdictOverpriced:
		return "!! HIGH"
	case model.VerdictUnderpriced:
		return "!! LOW"
	case model.VerdictNoHistory:
		return "? NEW"
	default:
		return string(s)
	}
}

func matchLine(m *model.VendorMatch) string {
	if m == nil || !m.Matched() {
		return "UNRECOGNIZED"
	}
	return fmt.Sprintf("%s (%s, %.0f%% confidence)", m.VendorID, m.Method, m.Confidence*100)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
