// Package intake turns raw customer uploads into normalized case data.
//
// Field validation happens here; numeric and date semantics are left to the
// evaluator, which rejects what it cannot score.
package intake

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Upload is the bulk payload: one case per customer.
type Upload struct {
	Profile   string           `json:"profile,omitempty"`
	Customers []CustomerRecord `json:"customers" validate:"required,min=1"`
}

// CaseRequest is the single-case payload.
type CaseRequest struct {
	Profile  string         `json:"profile,omitempty"`
	CaseID   string         `json:"case_id,omitempty" validate:"omitempty,max=64"`
	Customer CustomerRecord `json:"customer" validate:"required"`
}

// CustomerRecord is a customer with their transactions as uploaded.
type CustomerRecord struct {
	CustomerID            string           `json:"customer_id" validate:"required,max=64"`
	FullName              string           `json:"full_name" validate:"required,max=256"`
	Occupation            string           `json:"occupation,omitempty" validate:"max=128"`
	AnnualIncome          *decimal.Decimal `json:"annual_income,omitempty"`
	ExpectedMonthlyVolume *decimal.Decimal `json:"expected_monthly_volume,omitempty"`
	RiskRating            string           `json:"risk_rating,omitempty" validate:"omitempty,oneofci=low medium high"`
	DateOfBirth           string           `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PAN                   string           `json:"pan,omitempty" validate:"omitempty,pan"`
	Address               string           `json:"address,omitempty"`

	Transactions []TransactionRecord `json:"transactions" validate:"required,dive"`
}

// TransactionRecord is one uploaded transaction. Amount accepts a JSON
// number or a numeric string.
type TransactionRecord struct {
	TransactionID       string           `json:"transaction_id,omitempty" validate:"max=64"`
	Amount              *decimal.Decimal `json:"amount" validate:"required"`
	Currency            string           `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Date                string           `json:"date" validate:"required"`
	Counterparty        string           `json:"counterparty,omitempty"`
	CounterpartyCountry string           `json:"counterparty_country,omitempty" validate:"omitempty,len=2,alpha"`
	Type                string           `json:"type,omitempty"`
	Description         string           `json:"description,omitempty"`
}

// FirstCurrency returns the currency of the first transaction, if any.
// It is used to pick a profile when none is named.
func (c *CustomerRecord) FirstCurrency() string {
	if len(c.Transactions) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(c.Transactions[0].Currency))
}

// FieldError is one failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Rejection is an upload entry that could not become a case.
type Rejection struct {
	Index      int    `json:"index"`
	CustomerID string `json:"customer_id,omitempty"`
	Error      string `json:"error"`
	Err        error  `json:"-"`
}

var panPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

// Normalizer validates uploads and builds case data.
// It is safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the clock used for case IDs and alert dates.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDSource sets the source of the random case ID suffix.
func WithIDSource(newID func() string) Option {
	return func(n *Normalizer) { n.newID = newID }
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("pan", func(fl validator.FieldLevel) bool {
		return panPattern.MatchString(strings.ToUpper(fl.Field().String()))
	}); err != nil {
		panic(fmt.Sprintf("intake: register pan validation: %v", err))
	}

	n := &Normalizer{
		validate: v,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Validate checks a payload struct and returns a *ValidationError.
func (n *Normalizer) Validate(v any) error {
	err := n.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate: %w", err)
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

// fieldPath drops the root struct name: "CustomerRecord.transactions[0].date"
// becomes "transactions[0].date".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "alpha":
		return "must contain letters only"
	case "oneofci":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "pan":
		return "must be a valid PAN (AAAAA9999A)"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// NewCaseID returns an ID of the form SAR-<year>-<6 digits>-<8 hex>.
func (n *Normalizer) NewCaseID() string {
	now := n.now().UTC()
	suffix := strings.ReplaceAll(n.newID(), "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("SAR-%d-%06d-%s", now.Year(), now.UnixMilli()%1000000, suffix)
}

// Case validates rec and normalizes it against p's defaults. An empty
// caseID gets a generated one.
func (n *Normalizer) Case(caseID string, rec *CustomerRecord, p *domain.RiskProfile) (*domain.CaseData, error) {
	if err := n.Validate(rec); err != nil {
		return nil, err
	}
	if caseID == "" {
		caseID = n.NewCaseID()
	}
	return n.normalize(caseID, rec, p), nil
}

// FromRequest validates a single-case request and normalizes it.
func (n *Normalizer) FromRequest(req *CaseRequest, p *domain.RiskProfile) (*domain.CaseData, error) {
	if err := n.Validate(req); err != nil {
		return nil, err
	}
	caseID := strings.TrimSpace(req.CaseID)
	if caseID == "" {
		caseID = n.NewCaseID()
	}
	return n.normalize(caseID, &req.Customer, p), nil
}

// Split validates every customer of an upload separately. Valid records are
// returned in order; invalid ones become rejections and do not fail the
// upload.
func (n *Normalizer) Split(u *Upload) ([]*CustomerRecord, []Rejection, error) {
	if err := n.Validate(u); err != nil {
		return nil, nil, err
	}

	var (
		valid    []*CustomerRecord
		rejected []Rejection
	)
	for i := range u.Customers {
		rec := &u.Customers[i]
		if err := n.Validate(rec); err != nil {
			rejected = append(rejected, Rejection{Index: i, CustomerID: rec.CustomerID, Error: err.Error(), Err: err})
			continue
		}
		valid = append(valid, rec)
	}
	return valid, rejected, nil
}

func (n *Normalizer) normalize(caseID string, rec *CustomerRecord, p *domain.RiskProfile) *domain.CaseData {
	def := p.Defaults

	occupation := strings.TrimSpace(rec.Occupation)
	if occupation == "" {
		occupation = def.Occupation
	}
	if occupation == "" {
		occupation = "Unknown"
	}

	c := &domain.CaseData{
		CaseID: caseID,
		Customer: domain.CustomerProfile{
			ID:                    strings.TrimSpace(rec.CustomerID),
			Name:                  strings.TrimSpace(rec.FullName),
			Occupation:            occupation,
			AnnualIncome:          positiveOr(rec.AnnualIncome, def.AnnualIncome),
			ExpectedMonthlyVolume: positiveOr(rec.ExpectedMonthlyVolume, def.ExpectedMonthlyVolume),
			RiskRating:            strings.ToLower(rec.RiskRating),
			DateOfBirth:           rec.DateOfBirth,
			TaxID:                 strings.ToUpper(rec.PAN),
			Address:               rec.Address,
		},
		Transactions: make([]domain.Transaction, len(rec.Transactions)),
		AlertDate:    n.now().UTC().Format(time.RFC3339),
	}

	for i, t := range rec.Transactions {
		id := strings.TrimSpace(t.TransactionID)
		if id == "" {
			id = fmt.Sprintf("TXN-%d", i+1)
		}
		currency := strings.ToUpper(strings.TrimSpace(t.Currency))
		if currency == "" {
			currency = p.ReferenceCurrency
		}
		country := strings.ToUpper(strings.TrimSpace(t.CounterpartyCountry))
		if country == "" {
			country = strings.ToUpper(def.Country)
		}

		c.Transactions[i] = domain.Transaction{
			ID:           id,
			Amount:       *t.Amount,
			Currency:     currency,
			Date:         strings.TrimSpace(t.Date),
			Counterparty: strings.TrimSpace(t.Counterparty),
			Country:      country,
			Type:         strings.TrimSpace(t.Type),
			Description:  t.Description,
		}
	}
	return c
}

func positiveOr(v *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if v == nil || !v.IsPositive() {
		return def
	}
	return *v
}
