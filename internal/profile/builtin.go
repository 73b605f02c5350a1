// Package profile provides risk profiles: the built-in set, YAML profile
// files and a hot-reloadable registry of compiled evaluators.
package profile

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in profile names.
const (
	GenericUSD = "generic-usd"
	IndiaINR   = "india-inr"
)

// Builtins returns fresh copies of the built-in profiles.
func Builtins() []*domain.RiskProfile {
	return []*domain.RiskProfile{GenericUSDProfile(), IndiaINRProfile()}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ds(vs ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = d(v)
	}
	return out
}

var standardClassification = domain.ClassificationBands{
	Critical: domain.Band{Cutoff: 75, Label: "SAR Required - Critical Risk"},
	High:     domain.Band{Cutoff: 50, Label: "SAR Required - High Risk"},
	Medium:   domain.Band{Cutoff: 25, Label: "Enhanced Monitoring Required"},
	Low:      domain.Band{Cutoff: 0, Label: "False Positive - Close Case"},
}

// GenericUSDProfile is a USD profile around the 10,000 CTR threshold.
func GenericUSDProfile() *domain.RiskProfile {
	return &domain.RiskProfile{
		Name:              GenericUSD,
		Version:           "1.0.0",
		Description:       "Generic USD profile around the 10,000 currency transaction report threshold",
		ReferenceCurrency: "USD",
		ConversionRates: map[string]decimal.Decimal{
			"EUR": decimal.RequireFromString("1.08"),
			"GBP": decimal.RequireFromString("1.27"),
			"CAD": decimal.RequireFromString("0.74"),
			"AED": decimal.RequireFromString("0.2723"),
			"INR": decimal.RequireFromString("0.012"),
		},
		HighRiskCountries:   []string{"KP", "IR", "MM", "KY"},
		MediumRiskCountries: []string{"PK", "YE", "UG", "PH"},
		AmountTiers: []domain.AmountTier{
			{Name: domain.TierCritical, Min: d(100000)},
			{Name: domain.TierLarge, Min: d(50000)},
			{Name: domain.TierSignificant, Min: d(25000)},
		},
		Structuring: domain.StructuringRule{
			Min:            d(8000),
			Max:            decimal.RequireFromString("9999.99"),
			CountThreshold: 3,
			WindowHours:    24,
		},
		Deviation: domain.DeviationRule{
			Baseline:        domain.BaselineMonthlyVolume,
			DefaultBaseline: d(20000),
			ExtremePercent:  d(500),
			HighPercent:     d(200),
		},
		RoundAmounts: domain.RoundAmountRule{
			Values:   ds(1000, 5000, 10000, 25000, 50000, 100000),
			Unit:     d(10000),
			MinCount: 1,
		},
		Cash: domain.CashRule{
			Threshold: d(10000),
			Keywords:  []string{"cash"},
		},
		Occupation: domain.OccupationRule{
			LowIncome: []string{"student", "unemployed", "retired"},
			Floor:     d(50000),
		},
		Velocity: domain.VelocityRule{
			Extreme: domain.VelocityTier{MinCount: 10, WithinHours: 24},
			High:    domain.VelocityTier{MinCount: 5, WithinHours: 72},
		},
		Weights: map[string]int{
			domain.RuleCriticalAmount:         40,
			domain.RuleLargeAmount:            30,
			domain.RuleSignificantAmount:      20,
			domain.RuleHighRiskJurisdiction:   35,
			domain.RuleMediumRiskJurisdiction: 20,
			domain.RuleStructuring:            40,
			domain.RuleDeviationExtreme:       20,
			domain.RuleDeviationHigh:          10,
			domain.RuleRoundAmount:            10,
			domain.RuleCashTransaction:        15,
			domain.RuleProfileInconsistency:   15,
			domain.RuleVelocityExtreme:        15,
			domain.RuleVelocityHigh:           10,
		},
		Classification: standardClassification,
		Typologies: domain.TypologyLabels{
			Structuring:            domain.TypologyStructuring,
			HighRiskJurisdiction:   domain.TypologySanctionsEvasion,
			MediumRiskJurisdiction: domain.TypologyGeographicRisk,
			Cash:                   domain.TypologyCashIntensive,
		},
		SummaryConcerns: 5,
		Defaults: domain.CustomerDefaults{
			Occupation:            "Unknown",
			AnnualIncome:          d(60000),
			ExpectedMonthlyVolume: d(20000),
			Country:               "US",
		},
		Enabled: true,
	}
}

// IndiaINRProfile is an INR profile around the 10 lakh reporting threshold,
// with lakh-denominated round amounts and smurfing detection.
func IndiaINRProfile() *domain.RiskProfile {
	return &domain.RiskProfile{
		Name:              IndiaINR,
		Version:           "1.0.0",
		Description:       "India INR profile around the 10 lakh cash and 45 lakh transaction reporting thresholds",
		ReferenceCurrency: "INR",
		ConversionRates: map[string]decimal.Decimal{
			"USD": decimal.RequireFromString("83.00"),
			"EUR": decimal.RequireFromString("90.00"),
			"GBP": decimal.RequireFromString("105.00"),
			"AED": decimal.RequireFromString("22.60"),
			"SGD": decimal.RequireFromString("61.50"),
		},
		HighRiskCountries:   []string{"KP", "IR", "MM", "KY"},
		MediumRiskCountries: []string{"PK", "YE", "UG", "PH", "AF"},
		AmountTiers: []domain.AmountTier{
			{Name: domain.TierCritical, Min: d(4500000)},
			{Name: domain.TierLarge, Min: d(1000000)},
			{Name: domain.TierSignificant, Min: d(500000)},
		},
		Structuring: domain.StructuringRule{
			Min:            d(850000),
			Max:            d(990000),
			CountThreshold: 3,
			WindowHours:    168,
		},
		Smurfing: domain.SmurfingRule{
			Below:          d(50000),
			CountThreshold: 10,
			WindowHours:    168,
		},
		Deviation: domain.DeviationRule{
			Baseline:        domain.BaselineMonthlyVolume,
			DefaultBaseline: d(100000),
			ExtremePercent:  d(500),
			HighPercent:     d(200),
		},
		RoundAmounts: domain.RoundAmountRule{
			MinCount:   3,
			Expression: "whole && amount_units >= 100000 && amount_units % 100000 == 0",
		},
		Cash: domain.CashRule{
			Threshold: d(1000000),
			Keywords:  []string{"cash", "atm", "cdm"},
		},
		Occupation: domain.OccupationRule{
			LowIncome: []string{"student", "unemployed", "retired", "homemaker"},
			Floor:     d(4000000),
		},
		Velocity: domain.VelocityRule{
			Extreme: domain.VelocityTier{MinCount: 10, WithinHours: 24},
			High:    domain.VelocityTier{MinCount: 5, WithinHours: 72},
		},
		Weights: map[string]int{
			domain.RuleCriticalAmount:         40,
			domain.RuleLargeAmount:            30,
			domain.RuleSignificantAmount:      20,
			domain.RuleHighRiskJurisdiction:   35,
			domain.RuleMediumRiskJurisdiction: 20,
			domain.RuleStructuring:            40,
			domain.RuleSmurfing:               25,
			domain.RuleDeviationExtreme:       20,
			domain.RuleDeviationHigh:          10,
			domain.RuleRoundAmount:            10,
			domain.RuleCashTransaction:        15,
			domain.RuleProfileInconsistency:   15,
			domain.RuleVelocityExtreme:        15,
			domain.RuleVelocityHigh:           10,
		},
		Classification: standardClassification,
		Typologies: domain.TypologyLabels{
			Structuring:            domain.TypologyStructuring,
			Smurfing:               domain.TypologyStructuring,
			HighRiskJurisdiction:   domain.TypologySanctionsEvasion,
			MediumRiskJurisdiction: domain.TypologyGeographicRisk,
			Cash:                   domain.TypologyCashIntensive,
		},
		SummaryConcerns: 5,
		Defaults: domain.CustomerDefaults{
			Occupation:            "Unknown",
			AnnualIncome:          d(1200000),
			ExpectedMonthlyVolume: d(100000),
			Country:               "IN",
		},
		Enabled: true,
	}
}
