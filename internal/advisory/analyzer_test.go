package advisory

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbirds/invoiceguard/internal/config"
	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/pkg/anthropic"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeClient replays canned replies in order; the last reply repeats if
// Analyze retries past the end.
type fakeClient struct {
	replies  []reply
	requests []anthropic.MessageRequest
}

type reply struct {
	text string
	err  error
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	r := f.replies[i]
	if r.err != nil {
		return nil, r.err
	}
	return &anthropic.MessageResponse{
		ID:      "msg_test",
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: r.text}},
		Usage:   anthropic.TokenUsage{InputTokens: 900, OutputTokens: 150},
	}, nil
}

func testAdvisoryConfig() config.AdvisoryConfig {
	return config.AdvisoryConfig{
		Enabled:     true,
		TimeoutSecs: 15,
		Retries:     0,
		MaxTokens:   800,
		Temperature: 0.1,
		RatePerSec:  100,
	}
}

func newTestAnalyzer(client anthropic.Client) *Analyzer {
	return NewAnalyzer(client, testAdvisoryConfig(), "claude-haiku-4-5-20251001")
}

const goodAdvisoryJSON = `{
  "risk_level": "high",
  "executive_summary": "Staples Pack is billed at nearly double the historical average.",
  "insights": ["The anomalous line is also the largest line on the invoice."],
  "recommended_questions": ["Was a price increase for Staples Pack agreed in writing?"],
  "explanation": "The unit price of $160.00 exceeds the adjusted ceiling of $132.00."
}`

func flaggedInput() Input {
	return Input{
		Invoice: model.Invoice{
			Number:     "INV-2001",
			VendorName: "Acme Supplies",
			Date:       "2025-11-03",
			LineItems: []model.LineItem{
				{Description: "Staples Pack", Quantity: dec("5"), UnitPrice: dec("160"), LineTotal: dec("800")},
			},
			Subtotal: dec("800"),
			Tax:      dec("60"),
			Shipping: dec("40"),
			Total:    dec("900"),
		},
		Match: &model.VendorMatch{
			VendorID:   "Acme Supplies Inc.",
			RawName:    "Acme Supplies",
			Method:     model.MatchAlias,
			Confidence: 0.95,
		},
		Verdicts: []model.ComparisonVerdict{
			{
				Item:           "Staples Pack",
				RawDescription: "Staples Pack",
				Status:         model.VerdictOverpriced,
				Quantity:       dec("5"),
				UnitPrice:      dec("160"),
				AdjustedAvg:    dec("88"),
				RangeLow:       dec("66"),
				RangeHigh:      dec("132"),
				QuantityFactor: 1.0,
				DeviationRatio: 1.8182,
				Baseline: &model.Baseline{
					VendorID:     "Acme Supplies Inc.",
					Item:         "Staples Pack",
					AvgPrice:     dec("88"),
					AvgQuantity:  dec("5"),
					MinPrice:     dec("80"),
					MaxPrice:     dec("94"),
					Observations: 3,
					Origin:       model.OriginStatic,
				},
			},
		},
		Findings: []model.MathFinding{
			{Item: "Staples Pack", Expected: dec("800"), Actual: dec("810"), Delta: dec("10")},
		},
		Reconcile: model.ReconcileStatus{TotalsOK: true, TaxOK: true, ShippingOK: true},
		Decision: model.Decision{
			Status:      model.StatusFlagged,
			ReasonCodes: []string{"PRICE_ANOMALY:Staples Pack", "MATH_MISMATCH:Staples Pack"},
			Questions:   []string{"Please verify these prices with the vendor before approving."},
			Summary: model.Summary{
				ItemsChecked: 1,
				OutOfRange:   1,
				MathIssues:   1,
				TotalsOK:     true,
				TaxOK:        true,
				ShippingOK:   true,
				Notes:        []string{"tax rate 7.50% matches known rate 7.5%"},
			},
		},
		Stats: model.HistoryStats{Vendors: 9, Items: 40, Observations: 100},
	}
}

func approvedInput() Input {
	in := flaggedInput()
	in.Verdicts[0].Status = model.VerdictInRange
	in.Verdicts[0].UnitPrice = dec("88")
	in.Verdicts[0].DeviationRatio = 1.0
	in.Findings = nil
	in.Decision = model.Decision{
		Status:    model.StatusApproved,
		Questions: []string{"Please confirm the quantities match what was received."},
		Summary:   model.Summary{ItemsChecked: 1, InRange: 1, TotalsOK: true, TaxOK: true, ShippingOK: true},
	}
	return in
}

// --- Analysis ---

func TestAnalyze_ValidResponse(t *testing.T) {
	client := &fakeClient{replies: []reply{{text: goodAdvisoryJSON}}}
	a := newTestAnalyzer(client)

	rec := a.Analyze(context.Background(), flaggedInput())

	assert.True(t, rec.Available)
	assert.Equal(t, model.RiskHigh, rec.RiskLevel)
	assert.Equal(t, "Staples Pack is billed at nearly double the historical average.", rec.Summary)
	assert.Equal(t, []string{"The anomalous line is also the largest line on the invoice."}, rec.Insights)
	assert.Equal(t, []string{"Was a price increase for Staples Pack agreed in writing?"}, rec.Questions)
	assert.Equal(t, "The unit price of $160.00 exceeds the adjusted ceiling of $132.00.", rec.Explanation)
	assert.Equal(t, "claude-haiku-4-5-20251001", rec.Model)
	assert.GreaterOrEqual(t, rec.LatencyMS, int64(0))
}

func TestAnalyze_RequestShape(t *testing.T) {
	client := &fakeClient{replies: []reply{{text: goodAdvisoryJSON}}}
	a := newTestAnalyzer(client)

	a.Analyze(context.Background(), flaggedInput())

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, int64(800), req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.1, *req.Temperature, 1e-9)

	// System prompt is cached with a 1h breakpoint.
	require.Len(t, req.System, 1)
	require.NotNil(t, req.System[0].CacheControl)
	assert.Equal(t, "1h", req.System[0].CacheControl.TTL)
	assert.Contains(t, req.System[0].Text, "You cannot change the status from FLAGGED to APPROVED")
}

func TestAnalyze_PromptCarriesContext(t *testing.T) {
	client := &fakeClient{replies: []reply{{text: goodAdvisoryJSON}}}
	a := newTestAnalyzer(client)

	a.Analyze(context.Background(), flaggedInput())

	require.Len(t, client.requests, 1)
	require.Len(t, client.requests[0].Messages, 1)
	prompt := client.requests[0].Messages[0].Content

	assert.Contains(t, prompt, `"number": "INV-2001"`)
	assert.Contains(t, prompt, `"vendor_on_invoice": "Acme Supplies"`)
	assert.Contains(t, prompt, `"matched_vendor": "Acme Supplies Inc."`)
	assert.Contains(t, prompt, `"vendor_match_method": "alias"`)
	assert.Contains(t, prompt, `"status": "FLAGGED"`)
	assert.Contains(t, prompt, `"PRICE_ANOMALY:Staples Pack"`)
	assert.Contains(t, prompt, `"historical_range": "66 to 132"`)
	assert.Contains(t, prompt, `"rate_source": "static"`)
	assert.Contains(t, prompt, "quantity times unit price is 800 but the line shows 810 (off by 10)")
	assert.Contains(t, prompt, `"learning_db_stats"`)
	assert.Contains(t, prompt, `"observations": 100`)
}

func TestAnalyze_CodeFencedResponse(t *testing.T) {
	fenced := "```json\n" + goodAdvisoryJSON + "\n```"
	client := &fakeClient{replies: []reply{{text: fenced}}}
	a := newTestAnalyzer(client)

	rec := a.Analyze(context.Background(), flaggedInput())

	assert.True(t, rec.Available)
	assert.Equal(t, model.RiskHigh, rec.RiskLevel)
}

func TestAnalyze_RetriesThenSucceeds(t *testing.T) {
	client := &fakeClient{replies: []reply{
		{err: assert.AnError},
		{text: goodAdvisoryJSON},
	}}
	cfg := testAdvisoryConfig()
	cfg.Retries = 1
	a := NewAnalyzer(client, cfg, "claude-haiku-4-5-20251001")

	rec := a.Analyze(context.Background(), flaggedInput())

	assert.Len(t, client.requests, 2)
	assert.True(t, rec.Available)
	assert.Equal(t, model.RiskHigh, rec.RiskLevel)
}

// --- Guardrails ---

func TestAnalyze_FlaggedLowRiskClamped(t *testing.T) {
	lowRisk := strings.Replace(goodAdvisoryJSON, `"high"`, `"low"`, 1)
	client := &fakeClient{replies: []reply{{text: lowRisk}}}
	a := newTestAnalyzer(client)

	rec := a.Analyze(context.Background(), flaggedInput())

	assert.True(t, rec.Available)
	assert.Equal(t, model.RiskMedium, rec.RiskLevel)
}

func TestAnalyze_ApprovedKeepsLowRisk(t *testing.T) {
	lowRisk := strings.Replace(goodAdvisoryJSON, `"high"`, `"low"`, 1)
	client := &fakeClient{replies: []reply{{text: lowRisk}}}
	a := newTestAnalyzer(client)

	rec := a.Analyze(context.Background(), approvedInput())

	assert.Equal(t, model.RiskLow, rec.RiskLevel)
}

func TestSanitize_InvalidRiskDefaultsToMedium(t *testing.T) {
	rec := sanitize(rawAdvisory{RiskLevel: "catastrophic"}, false)
	assert.Equal(t, model.RiskMedium, rec.RiskLevel)
}

func TestSanitize_RiskCaseInsensitive(t *testing.T) {
	rec := sanitize(rawAdvisory{RiskLevel: "  HIGH "}, false)
	assert.Equal(t, model.RiskHigh, rec.RiskLevel)
}

func TestSanitize_ClampsListsAndLengths(t *testing.T) {
	long := strings.Repeat("x", 400)
	raw := rawAdvisory{
		RiskLevel:            "medium",
		ExecutiveSummary:     strings.Repeat("s", 600),
		Insights:             []string{"a", "b", "c", "d", "e", "f", "g"},
		RecommendedQuestions: []string{long, "q2", "q3", "q4", "q5"},
		Explanation:          strings.Repeat("e", 600),
	}

	rec := sanitize(raw, true)

	assert.Len(t, rec.Insights, 5)
	assert.Len(t, rec.Questions, 3)
	assert.Len(t, rec.Summary, 500)
	assert.Len(t, rec.Explanation, 500)
	assert.Len(t, rec.Questions[0], 300)
}

func TestSanitize_DropsBlankEntries(t *testing.T) {
	raw := rawAdvisory{
		RiskLevel: "low",
		Insights:  []string{"", "   ", "real insight"},
	}

	rec := sanitize(raw, false)

	assert.Equal(t, []string{"real insight"}, rec.Insights)
}

func TestSanitize_EmptyTextDefaults(t *testing.T) {
	rec := sanitize(rawAdvisory{RiskLevel: "low"}, false)

	assert.Equal(t, "No summary generated.", rec.Summary)
	assert.Equal(t, "No explanation generated.", rec.Explanation)
}

// --- Fallbacks ---

func TestAnalyze_NilClient(t *testing.T) {
	a := NewAnalyzer(nil, testAdvisoryConfig(), "claude-haiku-4-5-20251001")

	rec := a.Analyze(context.Background(), approvedInput())

	assert.False(t, rec.Available)
	assert.Equal(t, model.RiskLow, rec.RiskLevel)
	assert.Contains(t, rec.Explanation, "LLM analysis skipped")
}

func TestAnalyze_APIErrorFallsBack(t *testing.T) {
	client := &fakeClient{replies: []reply{{err: assert.AnError}}}
	a := newTestAnalyzer(client)

	rec := a.Analyze(context.Background(), flaggedInput())

	assert.Len(t, client.requests, 1)
	assert.False(t, rec.Available)
	assert.Equal(t, model.RiskMedium, rec.RiskLevel)
	assert.Contains(t, rec.Explanation, "LLM call failed")
	assert.Contains(t, rec.Summary, "INV-2001")
	assert.Contains(t, rec.Summary, "FLAGGED")
}

func TestAnalyze_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	client := &fakeClient{replies: []reply{{err: assert.AnError}}}
	a := newTestAnalyzer(client)
	in := flaggedInput()

	for i := 0; i < 5; i++ {
		a.Analyze(context.Background(), in)
	}
	require.Len(t, client.requests, 5)

	// Sixth call short-circuits without touching the API.
	rec := a.Analyze(context.Background(), in)

	assert.Len(t, client.requests, 5)
	assert.False(t, rec.Available)
	assert.Contains(t, rec.Explanation, "temporarily disabled")
}

func TestAnalyze_InvalidJSONFallsBack(t *testing.T) {
	client := &fakeClient{replies: []reply{{text: "I think this invoice looks risky."}}}
	a := newTestAnalyzer(client)

	rec := a.Analyze(context.Background(), flaggedInput())

	assert.False(t, rec.Available)
	assert.Equal(t, model.RiskMedium, rec.RiskLevel)
	assert.Equal(t, "LLM returned invalid JSON. Deterministic results only.", rec.Explanation)
}

func TestFallback(t *testing.T) {
	flagged := Fallback("INV-7", true)
	assert.False(t, flagged.Available)
	assert.Equal(t, model.RiskMedium, flagged.RiskLevel)
	assert.Contains(t, flagged.Summary, "INV-7 was FLAGGED")

	approved := Fallback("INV-8", false)
	assert.Equal(t, model.RiskLow, approved.RiskLevel)
	assert.Contains(t, approved.Summary, "INV-8 was APPROVED")
}

func TestNewAnalyzer_Defaults(t *testing.T) {
	a := NewAnalyzer(nil, config.AdvisoryConfig{}, "m")

	assert.Equal(t, 15, a.cfg.TimeoutSecs)
	assert.Equal(t, int64(800), a.cfg.MaxTokens)
	assert.InDelta(t, 0.1, a.cfg.Temperature, 1e-9)
	assert.InDelta(t, 1.0, a.cfg.RatePerSec, 1e-9)
}

// --- Response parsing helpers ---

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON(`Here is the analysis: {"a":1} hope it helps`))
	assert.Equal(t, `{"a":1}`, cleanJSON(`{"a":1}`))
}

func TestExtractText(t *testing.T) {
	resp := &anthropic.MessageResponse{Content: []anthropic.ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", extractText(resp))
	assert.Equal(t, "", extractText(nil))
}

func TestBuildContext_NoBaseline(t *testing.T) {
	in := flaggedInput()
	in.Match = nil
	in.Verdicts[0].Baseline = nil
	in.Verdicts[0].Status = model.VerdictNoHistory

	payload := buildContext(in)

	assert.Equal(t, "none", payload.Invoice.MatchMethod)
	assert.Empty(t, payload.Invoice.MatchedVendor)
	require.Len(t, payload.LineItems, 1)
	assert.Equal(t, "none", payload.LineItems[0].RateSource)
	assert.Empty(t, payload.LineItems[0].HistoricalRange)
	assert.Equal(t, "NO_HISTORY", payload.LineItems[0].Status)
}
