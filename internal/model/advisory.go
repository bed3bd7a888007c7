package model

// Advisory risk levels.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// ValidRiskLevel reports whether s is one of the four advisory risk levels.
func ValidRiskLevel(s string) bool {
	switch s {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AdvisoryRecord is the validated output of the advisory analyzer. It is
// attached alongside a Decision, never merged into it: the analyzer cannot
// change a status, remove a reason code, or alter a question the engine chose.
type AdvisoryRecord struct {
	Available   bool     `json:"available"`
	RiskLevel   string   `json:"risk_level"`
	Summary     string   `json:"summary"`
	Insights    []string `json:"insights,omitempty"`
	Questions   []string `json:"questions,omitempty"`
	Explanation string   `json:"explanation"`
	Model       string   `json:"model,omitempty"`
	LatencyMS   int64    `json:"latency_ms"`
}
