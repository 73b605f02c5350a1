// Package policy turns an assessment into the external alert decision.
// The evaluator scores; policy decides whether a SAR gets drafted.
package policy

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultSARThreshold is the score at or above which a SAR is required.
const DefaultSARThreshold = 50

// Severity cutoffs on the capped score.
const (
	criticalSeverity = 80
	highSeverity     = 60
	mediumSeverity   = 40
)

// Processor applies the SAR threshold to assessments.
type Processor struct {
	// SARThreshold is inclusive.
	SARThreshold int

	// RepeatEscalation lowers the effective threshold by this many points
	// for each prior assessment of the same customer, down to MinThreshold.
	RepeatEscalation int
	MinThreshold     int
}

// NewProcessor creates a processor with the given threshold. A
// non-positive threshold selects DefaultSARThreshold.
func NewProcessor(threshold int) *Processor {
	if threshold <= 0 {
		threshold = DefaultSARThreshold
	}
	return &Processor{SARThreshold: threshold, MinThreshold: threshold}
}

// Decide produces the decision for a. priorAssessments is the number of
// earlier assessments of the same customer inside the velocity window.
func (p *Processor) Decide(a *domain.Assessment, priorAssessments int) domain.Decision {
	threshold := p.threshold(priorAssessments)
	score := a.AggregatedRiskScore

	d := domain.Decision{
		Status:    domain.StatusNoAlert,
		Severity:  Severity(score),
		Threshold: threshold,
		Reasons:   append([]string{}, a.TriggeredRules...),
	}
	if score >= threshold {
		d.Status = domain.StatusAlert
		d.RequiresSAR = true
	}
	return d
}

func (p *Processor) threshold(prior int) int {
	t := p.SARThreshold
	if p.RepeatEscalation <= 0 || prior <= 0 {
		return t
	}
	t -= p.RepeatEscalation * prior
	if t < p.MinThreshold {
		t = p.MinThreshold
	}
	return t
}

// Severity maps a score to a fixed severity scale, independent of the
// profile's own classification labels.
func Severity(score int) domain.RiskLevel {
	switch {
	case score >= criticalSeverity:
		return domain.RiskLevelCritical
	case score >= highSeverity:
		return domain.RiskLevelHigh
	case score >= mediumSeverity:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

// ShouldAlert reports whether the decision raises an alert.
func ShouldAlert(d domain.Decision) bool {
	return d.Status == domain.StatusAlert
}
