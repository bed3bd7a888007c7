// Package advisory runs an LLM analysis pass over a finished decision. The
// deterministic pipeline decides first; the analyzer adds plain-English
// explanations, pattern observations, and sharper reviewer questions. Its
// output is validated in code so a response can never weaken a flag, and any
// failure degrades to a marked fallback record instead of an error.
package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stackbirds/invoiceguard/internal/config"
	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/internal/resilience"
	"github.com/stackbirds/invoiceguard/pkg/anthropic"
)

// Guardrail limits applied to every response before it reaches a report.
const (
	maxInsights   = 5
	maxQuestions  = 3
	maxItemLen    = 300
	maxSummaryLen = 500
)

const advisorySystemPrompt = `You are an invoice analysis assistant embedded in a deterministic invoice review system.

STRICT CONSTRAINTS:
1. You cannot approve, override, or weaken any flags from the deterministic checks.
2. You cannot change the status from FLAGGED to APPROVED.
3. You cannot dispute price deviations; if the checks say 2.8x, it is 2.8x.
4. You cannot invent prices, rates, or data points that are not in the input.
5. Your role is advisory only. You add depth, explanations, and sharper questions.

YOUR JOB:
- Explain why flagged items are concerning in plain business English.
- Identify patterns (for example, every item from one vendor overpriced suggests a contract issue).
- Generate 1-3 specific, actionable clarifying questions for the human reviewer.
- Assess overall risk: low, medium, high, or critical.
- Surface anything the deterministic checks cannot see (unusual combinations, timing, context).

Respond ONLY with valid JSON, no markdown, no text outside the JSON:
{
  "risk_level": "low|medium|high|critical",
  "executive_summary": "1-2 sentence plain English summary of the invoice",
  "insights": ["insight 1", "insight 2"],
  "recommended_questions": ["question 1", "question 2"],
  "explanation": "plain English explanation of why this invoice was flagged, or why it passed"
}`

// Input is a read-only snapshot of one invoice's pipeline output. The
// analyzer describes it; it never mutates it.
type Input struct {
	Invoice   model.Invoice
	Match     *model.VendorMatch
	Verdicts  []model.ComparisonVerdict
	Findings  []model.MathFinding
	Reconcile model.ReconcileStatus
	Decision  model.Decision
	Stats     model.HistoryStats
}

// Analyzer calls Claude with the structured results of the deterministic
// pipeline and sanitizes whatever comes back.
type Analyzer struct {
	client  anthropic.Client
	cfg     config.AdvisoryConfig
	model   string
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewAnalyzer builds an analyzer. A nil client is allowed and produces
// skipped-analysis fallback records, so callers without an API key can still
// run the pipeline unchanged. Zero config values fall back to the shipped
// defaults.
func NewAnalyzer(client anthropic.Client, cfg config.AdvisoryConfig, modelID string) *Analyzer {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 15
	}
	if cfg.Retries < 0 {
		cfg.Retries = 1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}

	// The breaker keeps a dead API from costing every invoice in a batch run
	// a full timeout: after repeated failures the remaining invoices fall
	// back immediately.
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("advisory: circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Analyzer{
		client:  client,
		cfg:     cfg,
		model:   modelID,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		breaker: resilience.NewCircuitBreaker(cbCfg),
	}
}

// Analyze runs one advisory call and returns a validated record. It never
// returns an error: any failure path (no client, rate limit interrupted,
// API error, bad JSON) yields a fallback record with Available=false and
// the decision is left exactly as the engine produced it.
func (a *Analyzer) Analyze(ctx context.Context, in Input) model.AdvisoryRecord {
	if a.client == nil {
		rec := Fallback(in.Invoice.Number, in.Decision.Flagged())
		rec.Explanation = "LLM analysis skipped (no API key configured). Deterministic results only."
		return rec
	}

	userPrompt, err := buildUserPrompt(in)
	if err != nil {
		zap.L().Warn("advisory: build context", zap.Error(err))
		return Fallback(in.Invoice.Number, in.Decision.Flagged())
	}

	temp := a.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(advisorySystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt}},
		Temperature: &temp,
	}

	// The 1s fixed backoff matches the single polite retry the API budget
	// allows; transient-or-not, one more try is all an invoice gets.
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    a.cfg.Retries + 1,
		InitialBackoff: time.Second,
		Multiplier:     1,
		ShouldRetry:    func(error) bool { return true },
		OnRetry:        resilience.RetryLogger("anthropic", "advisory"),
	}

	start := time.Now()
	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutSecs)*time.Second)
			defer cancel()
			return a.client.CreateMessage(callCtx, req)
		})
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		rec := Fallback(in.Invoice.Number, in.Decision.Flagged())
		rec.LatencyMS = latency
		if errors.Is(err, resilience.ErrCircuitOpen) {
			rec.Explanation = "LLM temporarily disabled after repeated failures. Deterministic results only."
			return rec
		}
		zap.L().Warn("advisory: analysis failed",
			zap.String("invoice", in.Invoice.Number),
			zap.Int("attempts", a.cfg.Retries+1),
			zap.Error(err),
		)
		rec.Explanation = fmt.Sprintf("LLM call failed after %d attempts. Deterministic results only.", a.cfg.Retries+1)
		return rec
	}

	resp.Usage.LogCost(a.model, "advisory")

	var raw rawAdvisory
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &raw); err != nil {
		zap.L().Warn("advisory: response is not valid JSON",
			zap.String("invoice", in.Invoice.Number),
			zap.Error(err),
		)
		rec := Fallback(in.Invoice.Number, in.Decision.Flagged())
		rec.Explanation = "LLM returned invalid JSON. Deterministic results only."
		rec.LatencyMS = latency
		return rec
	}

	rec := sanitize(raw, in.Decision.Flagged())
	rec.Model = a.model
	rec.LatencyMS = latency
	return rec
}

// Fallback is the record attached when no analysis ran or the analysis
// failed. The risk level mirrors the deterministic status so reports always
// carry a populated advisory block.
func Fallback(invoiceNumber string, flagged bool) model.AdvisoryRecord {
	risk := model.RiskLow
	status := model.StatusApproved
	if flagged {
		risk = model.RiskMedium
		status = model.StatusFlagged
	}
	return model.AdvisoryRecord{
		Available:   false,
		RiskLevel:   risk,
		Summary:     fmt.Sprintf("Invoice %s was %s by the deterministic checks.", invoiceNumber, status),
		Explanation: "LLM analysis unavailable. Deterministic results only.",
	}
}

// rawAdvisory is the shape the model is instructed to return. Anything that
// does not unmarshal into it is treated as a failed analysis.
type rawAdvisory struct {
	RiskLevel            string   `json:"risk_level"`
	ExecutiveSummary     string   `json:"executive_summary"`
	Insights             []string `json:"insights"`
	RecommendedQuestions []string `json:"recommended_questions"`
	Explanation          string   `json:"explanation"`
}

// sanitize enforces the advisory boundary in code, not just in the prompt:
// the risk level is constrained to the enum and can never read "low" for a
// flagged invoice, and every string is clipped before it can reach a report.
func sanitize(raw rawAdvisory, flagged bool) model.AdvisoryRecord {
	risk := strings.ToLower(strings.TrimSpace(raw.RiskLevel))
	if !model.ValidRiskLevel(risk) {
		risk = model.RiskMedium
	}
	if flagged && risk == model.RiskLow {
		risk = model.RiskMedium
	}

	rec := model.AdvisoryRecord{
		Available:   true,
		RiskLevel:   risk,
		Summary:     clip(raw.ExecutiveSummary, maxSummaryLen),
		Explanation: clip(raw.Explanation, maxSummaryLen),
	}
	if rec.Summary == "" {
		rec.Summary = "No summary generated."
	}
	if rec.Explanation == "" {
		rec.Explanation = "No explanation generated."
	}

	for _, s := range raw.Insights {
		if strings.TrimSpace(s) == "" {
			continue
		}
		rec.Insights = append(rec.Insights, clip(s, maxItemLen))
		if len(rec.Insights) == maxInsights {
			break
		}
	}
	for _, q := range raw.RecommendedQuestions {
		if strings.TrimSpace(q) == "" {
			continue
		}
		rec.Questions = append(rec.Questions, clip(q, maxItemLen))
		if len(rec.Questions) == maxQuestions {
			break
		}
	}

	return rec
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
