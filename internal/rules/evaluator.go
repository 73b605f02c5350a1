// Package rules implements the deterministic case risk evaluator.
//
// An Evaluator is compiled once from a domain.RiskProfile and is then
// immutable: Evaluate performs no I/O, keeps no state between calls and may
// be called from any number of goroutines.
package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxScore caps the aggregated risk score.
const MaxScore = 100

// maxAmount bounds a converted amount so it fits an int64 in predicates.
var maxAmount = decimal.NewFromInt(math.MaxInt64)

// defaultSummaryConcerns is used when a profile leaves SummaryConcerns unset.
const defaultSummaryConcerns = 5

// Evaluator scores cases against one compiled risk profile.
type Evaluator struct {
	profile   domain.RiskProfile
	high      map[string]struct{}
	medium    map[string]struct{}
	lowIncome []string
	round     Predicate
	cash      Predicate
	concerns  int
	now       func() time.Time
}

// Option customizes an Evaluator at compile time.
type Option func(*Evaluator)

// WithRoundPredicate replaces the round-amount heuristic.
func WithRoundPredicate(p Predicate) Option {
	return func(e *Evaluator) { e.round = p }
}

// WithCashPredicate replaces the cash-channel heuristic.
func WithCashPredicate(p Predicate) Option {
	return func(e *Evaluator) { e.cash = p }
}

// WithClock sets the clock used for execution timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// Compile validates p and prepares an Evaluator for it. Invalid profiles
// and invalid predicate expressions yield a *domain.ConfigurationError.
// The profile is copied; later changes to p do not affect the Evaluator.
func Compile(p *domain.RiskProfile, opts ...Option) (*Evaluator, error) {
	if p == nil {
		return nil, &domain.ConfigurationError{Problems: []string{"profile is required"}}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{
		profile:  cloneProfile(p),
		high:     countrySet(p.HighRiskCountries),
		medium:   countrySet(p.MediumRiskCountries),
		concerns: p.SummaryConcerns,
		now:      time.Now,
	}
	if e.concerns == 0 {
		e.concerns = defaultSummaryConcerns
	}
	for _, occ := range p.Occupation.LowIncome {
		if occ = strings.ToLower(strings.TrimSpace(occ)); occ != "" {
			e.lowIncome = append(e.lowIncome, occ)
		}
	}

	var problems []string
	if expr := p.RoundAmounts.Expression; expr != "" {
		pred, err := NewExprPredicate(expr)
		if err != nil {
			problems = append(problems, "round amount expression: "+err.Error())
		}
		e.round = pred
	} else {
		e.round = RoundValues{Values: p.RoundAmounts.Values, Unit: p.RoundAmounts.Unit}
	}
	if expr := p.Cash.Expression; expr != "" {
		pred, err := NewExprPredicate(expr)
		if err != nil {
			problems = append(problems, "cash expression: "+err.Error())
		}
		e.cash = pred
	} else {
		e.cash = KeywordMatch{Keywords: p.Cash.Keywords}
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigurationError{Profile: p.Name, Problems: problems}
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate compiles p and evaluates c against it. Callers scoring more than
// one case should Compile once and reuse the Evaluator.
func Evaluate(c *domain.CaseData, p *domain.RiskProfile) (*domain.Assessment, error) {
	e, err := Compile(p)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(c)
}

// Profile returns a copy of the compiled profile.
func (e *Evaluator) Profile() domain.RiskProfile {
	return cloneProfile(&e.profile)
}

// Evaluate scores one case. It fails only with *domain.MalformedInputError
// for transactions that cannot be normalized, or when a custom predicate
// fails.
func (e *Evaluator) Evaluate(c *domain.CaseData) (*domain.Assessment, error) {
	if c == nil {
		panic("rules: Evaluate called with nil case")
	}
	p := &e.profile
	ccy := p.ReferenceCurrency

	entries, err := e.normalize(c)
	if err != nil {
		return nil, err
	}

	card := &scorecard{
		weights:       p.Weights,
		rules:         []string{},
		contributions: []domain.Contribution{},
	}
	m := domain.CalculatedMetrics{
		TotalTransactionValue:    decimal.Zero,
		AverageTransactionValue:  decimal.Zero,
		BaselineAmount:           decimal.Zero,
		BaselineDeviationPercent: decimal.Zero,
		CashTransactionTotal:     decimal.Zero,
	}

	// Aggregates
	total := sum(entries)
	m.TotalTransactionValue = total
	m.TransactionCount = len(entries)
	if len(entries) > 0 {
		m.AverageTransactionValue = total.DivRound(decimal.NewFromInt(int64(len(entries))), 2)
	}

	e.checkAmountTiers(c, entries, card)
	highCountries := e.checkJurisdictions(c, entries, card, &m)
	e.checkStructuring(entries, card, &m)
	e.checkSmurfing(entries, card, &m)
	e.checkDeviation(c, total, len(entries), card, &m)
	if err := e.checkRoundAmounts(c, entries, card, &m); err != nil {
		return nil, err
	}
	if err := e.checkCash(c, entries, card, &m); err != nil {
		return nil, err
	}
	e.checkOccupation(c, total, card)
	e.checkVelocity(entries, card, &m)

	if card.raw < 0 {
		panic(fmt.Sprintf("rules: negative raw score %d for case %s", card.raw, c.CaseID))
	}
	score := min(card.raw, MaxScore)
	level, label := e.classify(score)

	concerns := card.rules
	if len(concerns) > e.concerns {
		concerns = concerns[:e.concerns]
	}

	return &domain.Assessment{
		CaseID:              c.CaseID,
		ExecutionTimestamp:  e.now().UTC(),
		RuleEngineVersion:   p.Version,
		Profile:             p.Name,
		ReferenceCurrency:   ccy,
		TriggeredRules:      card.rules,
		Contributions:       card.contributions,
		CalculatedMetrics:   m,
		TypologyTags:        dedupe(card.tags),
		RawScore:            card.raw,
		AggregatedRiskScore: score,
		RiskLevel:           level,
		SuspicionSummary: domain.SuspicionSummary{
			CustomerName:          c.Customer.Name,
			CustomerID:            c.Customer.ID,
			CustomerRiskRating:    c.Customer.RiskRating,
			Currency:              ccy,
			TotalSuspiciousAmount: total,
			TransactionCount:      len(entries),
			HighRiskCountries:     highCountries,
			PrimaryConcerns:       append([]string{}, concerns...),
			RecommendedAction:     label,
		},
		FinalClassification: label,
	}, nil
}

// normalize parses dates and converts amounts into the reference currency.
func (e *Evaluator) normalize(c *domain.CaseData) ([]entry, error) {
	entries := make([]entry, 0, len(c.Transactions))
	for i := range c.Transactions {
		tx := &c.Transactions[i]
		bad := func(field, value, reason string) error {
			return &domain.MalformedInputError{
				CaseID:        c.CaseID,
				TransactionID: txLabel(tx, i),
				Field:         field,
				Value:         value,
				Reason:        reason,
			}
		}

		if tx.Amount.IsNegative() {
			return nil, bad("amount", tx.Amount.String(), "amount must not be negative")
		}
		rate, ok := e.profile.Rate(strings.TrimSpace(tx.Currency))
		if !ok {
			return nil, bad("currency", tx.Currency, "no conversion rate to "+e.profile.ReferenceCurrency)
		}
		at, ok := parseDate(tx.Date)
		if !ok {
			return nil, bad("date", tx.Date, "unparseable date")
		}

		amount := tx.Amount.Mul(rate)
		if amount.GreaterThan(maxAmount) {
			return nil, bad("amount", tx.Amount.String(), "amount exceeds the supported range")
		}

		entries = append(entries, entry{index: i, at: at, amount: amount})
	}
	return entries, nil
}

// classify maps a capped score to its band, highest cutoff first.
func (e *Evaluator) classify(score int) (domain.RiskLevel, string) {
	c := e.profile.Classification
	switch {
	case score >= c.Critical.Cutoff:
		return domain.RiskLevelCritical, c.Critical.Label
	case score >= c.High.Cutoff:
		return domain.RiskLevelHigh, c.High.Label
	case score >= c.Medium.Cutoff:
		return domain.RiskLevelMedium, c.Medium.Label
	default:
		return domain.RiskLevelLow, c.Low.Label
	}
}

// scorecard accumulates fired rules in evaluation order.
type scorecard struct {
	weights       map[string]int
	rules         []string
	contributions []domain.Contribution
	tags          []string
	raw           int
}

func (s *scorecard) fire(rule, line, tag string) {
	w, ok := s.weights[rule]
	if !ok {
		panic("rules: no weight for fired rule " + rule)
	}
	s.raw += w
	s.rules = append(s.rules, line)
	s.contributions = append(s.contributions, domain.Contribution{Rule: rule, Points: w})
	if tag != "" {
		s.tags = append(s.tags, tag)
	}
}

func dedupe(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func countrySet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return set
}

func txLabel(tx *domain.Transaction, i int) string {
	if tx.ID != "" {
		return tx.ID
	}
	return fmt.Sprintf("TXN-%d", i+1)
}

func cloneProfile(p *domain.RiskProfile) domain.RiskProfile {
	cp := *p
	cp.ConversionRates = make(map[string]decimal.Decimal, len(p.ConversionRates))
	for k, v := range p.ConversionRates {
		cp.ConversionRates[strings.ToUpper(k)] = v
	}
	cp.Weights = make(map[string]int, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	cp.HighRiskCountries = append([]string(nil), p.HighRiskCountries...)
	cp.MediumRiskCountries = append([]string(nil), p.MediumRiskCountries...)
	cp.AmountTiers = append([]domain.AmountTier(nil), p.AmountTiers...)
	cp.RoundAmounts.Values = append([]decimal.Decimal(nil), p.RoundAmounts.Values...)
	cp.Cash.Keywords = append([]string(nil), p.Cash.Keywords...)
	cp.Occupation.LowIncome = append([]string(nil), p.Occupation.LowIncome...)
	return cp
}
