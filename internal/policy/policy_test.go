package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

func assessment(score int, rules ...string) *domain.Assessment {
	return &domain.Assessment{AggregatedRiskScore: score, TriggeredRules: rules}
}

func TestProcessor_Decide(t *testing.T) {
	proc := policy.NewProcessor(0)
	assert.Equal(t, policy.DefaultSARThreshold, proc.SARThreshold)

	tests := []struct {
		score    int
		status   string
		sar      bool
		severity domain.RiskLevel
	}{
		{score: 0, status: domain.StatusNoAlert, severity: domain.RiskLevelLow},
		{score: 40, status: domain.StatusNoAlert, severity: domain.RiskLevelMedium},
		{score: 49, status: domain.StatusNoAlert, severity: domain.RiskLevelMedium},
		{score: 50, status: domain.StatusAlert, sar: true, severity: domain.RiskLevelMedium},
		{score: 60, status: domain.StatusAlert, sar: true, severity: domain.RiskLevelHigh},
		{score: 80, status: domain.StatusAlert, sar: true, severity: domain.RiskLevelCritical},
		{score: 100, status: domain.StatusAlert, sar: true, severity: domain.RiskLevelCritical},
	}

	for _, tt := range tests {
		d := proc.Decide(assessment(tt.score, "rule"), 0)
		assert.Equal(t, tt.status, d.Status, "score %d", tt.score)
		assert.Equal(t, tt.sar, d.RequiresSAR, "score %d", tt.score)
		assert.Equal(t, tt.severity, d.Severity, "score %d", tt.score)
		assert.Equal(t, 50, d.Threshold)
		assert.Equal(t, tt.sar, policy.ShouldAlert(d))
	}
}

func TestProcessor_ReasonsAreCopied(t *testing.T) {
	a := assessment(70, "Critical transaction detected: USD 250,000 (T1)")
	d := policy.NewProcessor(50).Decide(a, 0)

	d.Reasons[0] = "changed"
	assert.Equal(t, "Critical transaction detected: USD 250,000 (T1)", a.TriggeredRules[0])
}

func TestProcessor_RepeatEscalation(t *testing.T) {
	proc := policy.NewProcessor(50)
	proc.RepeatEscalation = 5
	proc.MinThreshold = 35

	assert.Equal(t, domain.StatusNoAlert, proc.Decide(assessment(45), 0).Status)

	d := proc.Decide(assessment(45), 1)
	assert.Equal(t, 45, d.Threshold)
	assert.True(t, d.RequiresSAR)

	d = proc.Decide(assessment(36), 10)
	assert.Equal(t, 35, d.Threshold, "threshold never drops below the floor")
	assert.True(t, d.RequiresSAR)
}
