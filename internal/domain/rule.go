package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskProfile is a versioned, read-only parameter set for the evaluator.
// Profiles are selected by name (or by currency) at the call site; one
// engine serves every profile.
type RiskProfile struct {
	Name              string                     `json:"name" yaml:"name"`
	Version           string                     `json:"version" yaml:"version"`
	Description       string                     `json:"description,omitempty" yaml:"description,omitempty"`
	ReferenceCurrency string                     `json:"reference_currency" yaml:"reference_currency"`
	ConversionRates   map[string]decimal.Decimal `json:"conversion_rates,omitempty" yaml:"conversion_rates,omitempty"`

	HighRiskCountries   []string `json:"high_risk_countries" yaml:"high_risk_countries"`
	MediumRiskCountries []string `json:"medium_risk_countries" yaml:"medium_risk_countries"`

	// AmountTiers must be ordered from most to least severe.
	AmountTiers  []AmountTier    `json:"amount_tiers" yaml:"amount_tiers"`
	Structuring  StructuringRule `json:"structuring" yaml:"structuring"`
	Smurfing     SmurfingRule    `json:"smurfing" yaml:"smurfing"`
	Deviation    DeviationRule   `json:"deviation" yaml:"deviation"`
	RoundAmounts RoundAmountRule `json:"round_amounts" yaml:"round_amounts"`
	Cash         CashRule        `json:"cash" yaml:"cash"`
	Occupation   OccupationRule  `json:"occupation" yaml:"occupation"`
	Velocity     VelocityRule    `json:"velocity" yaml:"velocity"`

	Weights        map[string]int      `json:"weights" yaml:"weights"`
	Classification ClassificationBands `json:"classification" yaml:"classification"`
	Typologies     TypologyLabels      `json:"typologies" yaml:"typologies"`

	// SummaryConcerns caps primary_concerns in the suspicion summary (0 means 5).
	SummaryConcerns int `json:"summary_concerns,omitempty" yaml:"summary_concerns,omitempty"`

	// Defaults are applied by intake before evaluation.
	Defaults CustomerDefaults `json:"defaults" yaml:"defaults"`

	// Storage metadata
	TenantID  string    `json:"tenantId,omitempty" yaml:"-"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// AmountTier is one band of the per-transaction amount check.
type AmountTier struct {
	Name string          `json:"name" yaml:"name"` // critical, large or significant
	Min  decimal.Decimal `json:"min" yaml:"min"`
}

// StructuringRule flags repeated transactions just below a reporting threshold.
// Both band ends are inclusive.
type StructuringRule struct {
	Min            decimal.Decimal `json:"min" yaml:"min"`
	Max            decimal.Decimal `json:"max" yaml:"max"`
	CountThreshold int             `json:"count_threshold" yaml:"count_threshold"`
	WindowHours    int             `json:"window_hours" yaml:"window_hours"` // 0 means the whole case
}

// SmurfingRule flags many small transactions. Disabled when Below is zero.
type SmurfingRule struct {
	Below          decimal.Decimal `json:"below" yaml:"below"`
	CountThreshold int             `json:"count_threshold" yaml:"count_threshold"`
	WindowHours    int             `json:"window_hours" yaml:"window_hours"`
}

// Enabled reports whether the smurfing check runs.
func (r SmurfingRule) Enabled() bool {
	return r.Below.IsPositive()
}

// Deviation baselines.
const (
	BaselineMonthlyVolume = "monthly_volume"
	BaselineAnnualIncome  = "annual_income"
)

// DeviationRule compares total value against the customer's expected baseline.
// Percentages are strict lower bounds.
type DeviationRule struct {
	Baseline        string          `json:"baseline" yaml:"baseline"`
	DefaultBaseline decimal.Decimal `json:"default_baseline" yaml:"default_baseline"`
	ExtremePercent  decimal.Decimal `json:"extreme_percent" yaml:"extreme_percent"`
	HighPercent     decimal.Decimal `json:"high_percent" yaml:"high_percent"`
}

// RoundAmountRule configures the round-value heuristic.
// Expression, when set, is a CEL predicate that replaces the built-in check.
type RoundAmountRule struct {
	Values     []decimal.Decimal `json:"values" yaml:"values"`
	Unit       decimal.Decimal   `json:"unit" yaml:"unit"`
	MinCount   int               `json:"min_count" yaml:"min_count"`
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// CashRule configures cash-channel detection. Disabled when Threshold is zero.
// Expression, when set, is a CEL predicate that replaces keyword matching.
type CashRule struct {
	Threshold  decimal.Decimal `json:"threshold" yaml:"threshold"`
	Keywords   []string        `json:"keywords" yaml:"keywords"`
	Expression string          `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Enabled reports whether the cash check runs.
func (r CashRule) Enabled() bool {
	return r.Threshold.IsPositive()
}

// OccupationRule flags large volume from low-income occupations.
type OccupationRule struct {
	LowIncome []string        `json:"low_income" yaml:"low_income"`
	Floor     decimal.Decimal `json:"floor" yaml:"floor"`
}

// VelocityRule holds two mutually exclusive tiers; the extreme tier wins.
type VelocityRule struct {
	Extreme VelocityTier `json:"extreme" yaml:"extreme"`
	High    VelocityTier `json:"high" yaml:"high"`
}

// VelocityTier matches when at least MinCount transactions span no more
// than WithinHours. A zero MinCount disables the tier.
type VelocityTier struct {
	MinCount    int `json:"min_count" yaml:"min_count"`
	WithinHours int `json:"within_hours" yaml:"within_hours"`
}

// Enabled reports whether the tier is configured.
func (t VelocityTier) Enabled() bool {
	return t.MinCount > 0
}

// ClassificationBands maps an aggregated score to a disposition.
// Cutoffs ascend from Low to Critical and are inclusive lower bounds.
type ClassificationBands struct {
	Critical Band `json:"critical" yaml:"critical"`
	High     Band `json:"high" yaml:"high"`
	Medium   Band `json:"medium" yaml:"medium"`
	Low      Band `json:"low" yaml:"low"`
}

// Band is one classification cutoff and its label.
type Band struct {
	Cutoff int    `json:"cutoff" yaml:"cutoff"`
	Label  string `json:"label" yaml:"label"`
}

// CustomerDefaults fill missing customer and transaction fields at intake.
type CustomerDefaults struct {
	Occupation            string          `json:"occupation" yaml:"occupation"`
	AnnualIncome          decimal.Decimal `json:"annual_income" yaml:"annual_income"`
	ExpectedMonthlyVolume decimal.Decimal `json:"expected_monthly_volume" yaml:"expected_monthly_volume"`
	Country               string          `json:"country" yaml:"country"`
}

// Rule names. They key RiskProfile.Weights and Assessment.Contributions.
const (
	RuleCriticalAmount         = "critical_amount"
	RuleLargeAmount            = "large_amount"
	RuleSignificantAmount      = "significant_amount"
	RuleHighRiskJurisdiction   = "high_risk_jurisdiction"
	RuleMediumRiskJurisdiction = "medium_risk_jurisdiction"
	RuleStructuring            = "structuring"
	RuleSmurfing               = "smurfing"
	RuleDeviationExtreme       = "deviation_extreme"
	RuleDeviationHigh          = "deviation_high"
	RuleRoundAmount            = "round_amount"
	RuleCashTransaction        = "cash_transaction"
	RuleProfileInconsistency   = "profile_inconsistency"
	RuleVelocityExtreme        = "velocity_extreme"
	RuleVelocityHigh           = "velocity_high"
)

// Amount tier names, most severe first.
const (
	TierCritical    = "critical"
	TierLarge       = "large"
	TierSignificant = "significant"
)

// TierRule returns the weight key for an amount tier.
func TierRule(tier string) string {
	return tier + "_amount"
}
