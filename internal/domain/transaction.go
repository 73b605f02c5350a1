package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one financial movement under review in a case.
// The evaluator never mutates it.
type Transaction struct {
	ID           string          `json:"id" yaml:"id"`
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
	Currency     string          `json:"currency" yaml:"currency"`
	Date         string          `json:"date" yaml:"date"`
	Counterparty string          `json:"counterparty" yaml:"counterparty"`
	Country      string          `json:"country" yaml:"country"`
	Type         string          `json:"type" yaml:"type"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// CustomerProfile is the subject of a case.
// Defaults for income and expected volume are applied by intake, not the evaluator.
type CustomerProfile struct {
	ID                    string          `json:"id" yaml:"id"`
	Name                  string          `json:"name" yaml:"name"`
	Occupation            string          `json:"occupation" yaml:"occupation"`
	AnnualIncome          decimal.Decimal `json:"annual_income" yaml:"annual_income"`
	ExpectedMonthlyVolume decimal.Decimal `json:"expected_monthly_volume" yaml:"expected_monthly_volume"`
	RiskRating            string          `json:"risk_rating,omitempty" yaml:"risk_rating,omitempty"`

	// Carried through, never scored
	DateOfBirth string `json:"date_of_birth,omitempty" yaml:"date_of_birth,omitempty"`
	TaxID       string `json:"tax_id,omitempty" yaml:"tax_id,omitempty"`
	Address     string `json:"address,omitempty" yaml:"address,omitempty"`
}

// CaseData is the evaluator's only input besides a risk profile.
type CaseData struct {
	CaseID       string          `json:"case_id" yaml:"case_id"`
	Customer     CustomerProfile `json:"customer" yaml:"customer"`
	Transactions []Transaction   `json:"transactions" yaml:"transactions"`
	AlertDate    string          `json:"alert_date,omitempty" yaml:"alert_date,omitempty"`
}

// CaseRecord is a case as stored by the service.
type CaseRecord struct {
	TenantID  string    `json:"tenantId"`
	Status    string    `json:"status"`
	Profile   string    `json:"profile"`
	Data      CaseData  `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
