package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields required for the given run mode. It collects
// every problem into a single error so the operator sees the full list.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Compare.RatioLow <= 0 || c.Compare.RatioLow >= 1 {
		problems = append(problems, "compare.ratio_low must be in (0, 1)")
	}
	if c.Compare.RatioHigh <= 1 {
		problems = append(problems, "compare.ratio_high must be > 1")
	}
	if c.Compare.Epsilon < 0 {
		problems = append(problems, "compare.epsilon must be >= 0")
	}
	if c.Decide.VendorConfidenceThreshold < 0 || c.Decide.VendorConfidenceThreshold > 1 {
		problems = append(problems, "decide.vendor_confidence_threshold must be between 0 and 1")
	}
	if c.Decide.MaxQuestions < 1 || c.Decide.MaxQuestions > 3 {
		problems = append(problems, "decide.max_questions must be between 1 and 3")
	}
	if c.Batch.MaxConcurrentInvoices < 1 || c.Batch.MaxConcurrentInvoices > 32 {
		problems = append(problems, "batch.max_concurrent_invoices must be between 1 and 32")
	}

	switch mode {
	case "process", "approve", "history":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
