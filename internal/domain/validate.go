package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate checks the profile's own invariants. It returns a
// *ConfigurationError listing every problem found, or nil.
// CEL expressions are checked when the profile is compiled.
func (p *RiskProfile) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(p.Name) == "" {
		fail("name is required")
	}
	if strings.TrimSpace(p.Version) == "" {
		fail("version is required")
	}
	if !isCurrencyCode(p.ReferenceCurrency) {
		fail("reference currency %q must be a 3-letter code", p.ReferenceCurrency)
	}
	for ccy, rate := range p.ConversionRates {
		if !isCurrencyCode(ccy) {
			fail("conversion rate key %q must be a 3-letter code", ccy)
		}
		if !rate.IsPositive() {
			fail("conversion rate for %s must be positive", ccy)
		}
	}

	high := make(map[string]struct{}, len(p.HighRiskCountries))
	for _, c := range p.HighRiskCountries {
		high[strings.ToUpper(c)] = struct{}{}
	}
	for _, c := range p.MediumRiskCountries {
		if _, ok := high[strings.ToUpper(c)]; ok {
			fail("country %s is in both high-risk and medium-risk sets", c)
		}
	}

	if len(p.HighRiskCountries) > 0 {
		p.requireWeight(RuleHighRiskJurisdiction, fail)
	}
	if len(p.MediumRiskCountries) > 0 {
		p.requireWeight(RuleMediumRiskJurisdiction, fail)
	}

	seen := make(map[string]bool, len(p.AmountTiers))
	for i, tier := range p.AmountTiers {
		switch tier.Name {
		case TierCritical, TierLarge, TierSignificant:
		default:
			fail("amount tier %d has unknown name %q", i, tier.Name)
		}
		if seen[tier.Name] {
			fail("amount tier %q is declared twice", tier.Name)
		}
		seen[tier.Name] = true
		if !tier.Min.IsPositive() {
			fail("amount tier %q minimum must be positive", tier.Name)
		}
		if i > 0 && tier.Min.GreaterThanOrEqual(p.AmountTiers[i-1].Min) {
			fail("amount tier %q must be below tier %q", tier.Name, p.AmountTiers[i-1].Name)
		}
		p.requireWeight(TierRule(tier.Name), fail)
	}

	s := p.Structuring
	if !s.Min.IsPositive() || s.Max.LessThan(s.Min) {
		fail("structuring band [%s, %s] is empty or inverted", s.Min, s.Max)
	}
	if s.CountThreshold < 1 {
		fail("structuring count threshold must be at least 1")
	}
	if s.WindowHours < 0 {
		fail("structuring window must not be negative")
	}
	p.requireWeight(RuleStructuring, fail)

	if p.Smurfing.Enabled() {
		if p.Smurfing.CountThreshold < 1 {
			fail("smurfing count threshold must be at least 1")
		}
		if p.Smurfing.WindowHours < 0 {
			fail("smurfing window must not be negative")
		}
		p.requireWeight(RuleSmurfing, fail)
	}

	d := p.Deviation
	switch d.Baseline {
	case "", BaselineMonthlyVolume, BaselineAnnualIncome:
	default:
		fail("deviation baseline %q is unknown", d.Baseline)
	}
	if !d.DefaultBaseline.IsPositive() {
		fail("deviation default baseline must be positive")
	}
	if d.HighPercent.IsNegative() || d.ExtremePercent.LessThanOrEqual(d.HighPercent) {
		fail("deviation bands must ascend: high %s < extreme %s", d.HighPercent, d.ExtremePercent)
	}
	p.requireWeight(RuleDeviationExtreme, fail)
	p.requireWeight(RuleDeviationHigh, fail)

	r := p.RoundAmounts
	if r.MinCount < 1 {
		fail("round amount minimum count must be at least 1")
	}
	if r.Unit.IsNegative() {
		fail("round amount unit must not be negative")
	}
	p.requireWeight(RuleRoundAmount, fail)

	if p.Cash.Enabled() {
		if len(p.Cash.Keywords) == 0 && p.Cash.Expression == "" {
			fail("cash check needs keywords or an expression")
		}
		p.requireWeight(RuleCashTransaction, fail)
	}

	if p.Occupation.Floor.IsNegative() {
		fail("occupation floor must not be negative")
	}
	if len(p.Occupation.LowIncome) > 0 {
		p.requireWeight(RuleProfileInconsistency, fail)
	}

	for name, tier := range map[string]VelocityTier{RuleVelocityExtreme: p.Velocity.Extreme, RuleVelocityHigh: p.Velocity.High} {
		if tier.MinCount < 0 {
			fail("%s minimum count must not be negative", name)
		}
		if tier.Enabled() {
			if tier.MinCount < 2 {
				fail("%s minimum count must be at least 2", name)
			}
			if tier.WithinHours <= 0 {
				fail("%s window must be positive", name)
			}
			p.requireWeight(name, fail)
		}
	}

	for rule, w := range p.Weights {
		if w < 0 {
			fail("weight %s must not be negative", rule)
		}
	}

	c := p.Classification
	if !(c.Low.Cutoff < c.Medium.Cutoff && c.Medium.Cutoff < c.High.Cutoff && c.High.Cutoff < c.Critical.Cutoff) {
		fail("classification cutoffs must ascend: low %d < medium %d < high %d < critical %d",
			c.Low.Cutoff, c.Medium.Cutoff, c.High.Cutoff, c.Critical.Cutoff)
	}
	for level, b := range map[RiskLevel]Band{RiskLevelCritical: c.Critical, RiskLevelHigh: c.High, RiskLevelMedium: c.Medium, RiskLevelLow: c.Low} {
		if strings.TrimSpace(b.Label) == "" {
			fail("classification label for %s is required", level)
		}
	}

	if p.SummaryConcerns < 0 {
		fail("summary concerns must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	// Map iteration above is unordered; keep the report stable.
	slices.Sort(problems)
	return &ConfigurationError{Profile: p.Name, Problems: problems}
}

func (p *RiskProfile) requireWeight(rule string, fail func(string, ...any)) {
	if _, ok := p.Weights[rule]; !ok {
		fail("weight %s is required", rule)
	}
}

// Rate returns the conversion rate from ccy into the reference currency.
func (p *RiskProfile) Rate(ccy string) (decimal.Decimal, bool) {
	if ccy == "" || strings.EqualFold(ccy, p.ReferenceCurrency) {
		return decimal.NewFromInt(1), true
	}
	rate, ok := p.ConversionRates[strings.ToUpper(ccy)]
	return rate, ok
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
