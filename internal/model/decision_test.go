package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemReason(t *testing.T) {
	assert.Equal(t, "PRICE_ANOMALY:Staples Pack", ItemReason(ReasonPriceAnomaly, "Staples Pack"))
	assert.Equal(t, "NO_HISTORY:Toner Cartridge", ItemReason(ReasonNoHistory, "Toner Cartridge"))
}

func TestDecision_Flagged(t *testing.T) {
	assert.True(t, Decision{Status: StatusFlagged}.Flagged())
	assert.False(t, Decision{Status: StatusApproved}.Flagged())
}

func TestValidRiskLevel(t *testing.T) {
	for _, level := range []string{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		assert.True(t, ValidRiskLevel(level), level)
	}
	assert.False(t, ValidRiskLevel("severe"))
	assert.False(t, ValidRiskLevel(""))
	assert.False(t, ValidRiskLevel("LOW"))
}
