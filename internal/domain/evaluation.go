package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Assessment is the evaluator's output for one case.
// It is built fresh on every evaluation and never mutated after return.
type Assessment struct {
	CaseID              string            `json:"case_id"`
	ExecutionTimestamp  time.Time         `json:"execution_timestamp"`
	RuleEngineVersion   string            `json:"rule_engine_version"`
	Profile             string            `json:"profile"`
	ReferenceCurrency   string            `json:"reference_currency"`
	TriggeredRules      []string          `json:"triggered_rules"`
	Contributions       []Contribution    `json:"contributions"`
	CalculatedMetrics   CalculatedMetrics `json:"calculated_metrics"`
	TypologyTags        []string          `json:"typology_tags"`
	RawScore            int               `json:"raw_score"`
	AggregatedRiskScore int               `json:"aggregated_risk_score"`
	RiskLevel           RiskLevel         `json:"risk_level"`
	SuspicionSummary    SuspicionSummary  `json:"suspicion_summary_json"`
	FinalClassification string            `json:"final_classification"`
}

// Contribution records the points one fired rule added to the raw score.
type Contribution struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
}

// CalculatedMetrics holds the derived quantities of an evaluation.
// Monetary values are in the profile's reference currency.
type CalculatedMetrics struct {
	TotalTransactionValue      decimal.Decimal  `json:"total_transaction_value"`
	TransactionCount           int              `json:"transaction_count"`
	AverageTransactionValue    decimal.Decimal  `json:"average_transaction_value"`
	BaselineAmount             decimal.Decimal  `json:"baseline_amount"`
	BaselineDeviationPercent   decimal.Decimal  `json:"baseline_deviation_percent"`
	HighRiskTransactionCount   int              `json:"high_risk_transaction_count"`
	MediumRiskTransactionCount int              `json:"medium_risk_transaction_count"`
	RoundAmountCount           int              `json:"round_amount_count"`
	CashTransactionCount       int              `json:"cash_transaction_count"`
	CashTransactionTotal       decimal.Decimal  `json:"cash_transaction_total"`
	StructuringPattern         *PatternMetric   `json:"structuring_pattern,omitempty"`
	SmurfingPattern            *PatternMetric   `json:"smurfing_pattern,omitempty"`
	TransactionWindowHours     *decimal.Decimal `json:"transaction_window_hours,omitempty"`
}

// PatternMetric describes the transactions behind a structuring or smurfing flag.
type PatternMetric struct {
	Count       int             `json:"count"`
	Total       decimal.Decimal `json:"total"`
	WindowHours int             `json:"window_hours"`
}

// SuspicionSummary is the compact digest handed to narrative generation.
type SuspicionSummary struct {
	CustomerName          string          `json:"customer_name"`
	CustomerID            string          `json:"customer_id"`
	CustomerRiskRating    string          `json:"customer_risk_rating,omitempty"`
	Currency              string          `json:"currency"`
	TotalSuspiciousAmount decimal.Decimal `json:"total_suspicious_amount"`
	TransactionCount      int             `json:"transaction_count"`
	HighRiskCountries     []string        `json:"high_risk_countries"`
	PrimaryConcerns       []string        `json:"primary_concerns"`
	RecommendedAction     string          `json:"recommended_action"`
}

// RiskLevel is the classification band an aggregated score falls into.
type RiskLevel string

const (
	RiskLevelCritical RiskLevel = "critical"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelLow      RiskLevel = "low"
)

// Decision is the policy outcome attached to an assessment by the caller.
type Decision struct {
	Status      string    `json:"status"` // "ALRT" or "NALT"
	RequiresSAR bool      `json:"requiresSar"`
	Severity    RiskLevel `json:"severity"`
	Threshold   int       `json:"threshold"`
	Reasons     []string  `json:"reasons,omitempty"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // score at or above the SAR threshold
	StatusNoAlert = "NALT"
)

// AssessmentRecord is a stored assessment with its policy decision.
type AssessmentRecord struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	CaseID     string     `json:"caseId"`
	CustomerID string     `json:"customerId"`
	Assessment Assessment `json:"assessment"`
	Decision   Decision   `json:"decision"`
	TraceID    string     `json:"traceId,omitempty"`
	TotalMs    int64      `json:"totalMs"`
	CreatedAt  time.Time  `json:"createdAt"`
}
