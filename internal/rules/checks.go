package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// checkAmountTiers fires at most one tier per transaction, most severe first.
func (e *Evaluator) checkAmountTiers(c *domain.CaseData, entries []entry, card *scorecard) {
	ccy := e.profile.ReferenceCurrency
	for _, en := range entries {
		tx := &c.Transactions[en.index]
		for _, tier := range e.profile.AmountTiers {
			if en.amount.LessThan(tier.Min) {
				continue
			}
			line := fmt.Sprintf("%s transaction detected: %s (%s)",
				tierTitle(tier.Name), money(ccy, en.amount), txLabel(tx, en.index))
			if native := strings.ToUpper(strings.TrimSpace(tx.Currency)); native != "" && native != ccy {
				line = fmt.Sprintf("%s transaction detected: %s from %s (%s)",
					tierTitle(tier.Name), money(ccy, en.amount), money(native, tx.Amount), txLabel(tx, en.index))
			}
			card.fire(domain.TierRule(tier.Name), line, "")
			break
		}
	}
}

// checkJurisdictions fires the high and medium rules once each and returns
// the high-risk countries observed, in first-seen order.
func (e *Evaluator) checkJurisdictions(c *domain.CaseData, entries []entry, card *scorecard, m *domain.CalculatedMetrics) []string {
	var high, medium []string
	highSeen := map[string]struct{}{}
	mediumSeen := map[string]struct{}{}

	for _, en := range entries {
		country := strings.ToUpper(strings.TrimSpace(c.Transactions[en.index].Country))
		if _, ok := e.high[country]; ok {
			m.HighRiskTransactionCount++
			if _, dup := highSeen[country]; !dup {
				highSeen[country] = struct{}{}
				high = append(high, country)
			}
			continue
		}
		if _, ok := e.medium[country]; ok {
			m.MediumRiskTransactionCount++
			if _, dup := mediumSeen[country]; !dup {
				mediumSeen[country] = struct{}{}
				medium = append(medium, country)
			}
		}
	}

	t := e.profile.Typologies
	if m.HighRiskTransactionCount > 0 {
		card.fire(domain.RuleHighRiskJurisdiction,
			fmt.Sprintf("High-risk jurisdiction transactions: %d to %s", m.HighRiskTransactionCount, strings.Join(high, ", ")),
			t.HighRiskJurisdiction)
	}
	if m.MediumRiskTransactionCount > 0 {
		card.fire(domain.RuleMediumRiskJurisdiction,
			fmt.Sprintf("Medium-risk jurisdiction transactions: %d to %s", m.MediumRiskTransactionCount, strings.Join(medium, ", ")),
			t.MediumRiskJurisdiction)
	}

	if high == nil {
		high = []string{}
	}
	return high
}

// checkStructuring flags repeated transactions inside the band just below a
// reporting threshold.
func (e *Evaluator) checkStructuring(entries []entry, card *scorecard, m *domain.CalculatedMetrics) {
	rule := e.profile.Structuring
	var inBand []entry
	for _, en := range entries {
		if en.amount.GreaterThanOrEqual(rule.Min) && en.amount.LessThanOrEqual(rule.Max) {
			inBand = append(inBand, en)
		}
	}
	if len(inBand) < rule.CountThreshold {
		return
	}

	run := densest(inBand, hours(rule.WindowHours))
	if len(run) < rule.CountThreshold {
		return
	}
	total := sum(run)
	m.StructuringPattern = &domain.PatternMetric{Count: len(run), Total: total, WindowHours: rule.WindowHours}

	ccy := e.profile.ReferenceCurrency
	card.fire(domain.RuleStructuring,
		fmt.Sprintf("Potential structuring: %d transactions between %s and %s totaling %s %s",
			len(run), money(ccy, rule.Min), money(ccy, rule.Max), money(ccy, total), windowPhrase(rule.WindowHours)),
		e.profile.Typologies.Structuring)
}

// checkSmurfing flags many transactions below the small-transaction threshold.
// A transaction may count toward both structuring and smurfing.
func (e *Evaluator) checkSmurfing(entries []entry, card *scorecard, m *domain.CalculatedMetrics) {
	rule := e.profile.Smurfing
	if !rule.Enabled() {
		return
	}
	var small []entry
	for _, en := range entries {
		if en.amount.LessThan(rule.Below) {
			small = append(small, en)
		}
	}
	if len(small) < rule.CountThreshold {
		return
	}

	run := densest(small, hours(rule.WindowHours))
	if len(run) < rule.CountThreshold {
		return
	}
	total := sum(run)
	m.SmurfingPattern = &domain.PatternMetric{Count: len(run), Total: total, WindowHours: rule.WindowHours}

	ccy := e.profile.ReferenceCurrency
	card.fire(domain.RuleSmurfing,
		fmt.Sprintf("Potential smurfing: %d transactions below %s totaling %s %s",
			len(run), money(ccy, rule.Below), money(ccy, total), windowPhrase(rule.WindowHours)),
		e.profile.Typologies.Smurfing)
}

// checkDeviation compares total value with the customer's baseline. Only the
// most severe band fires.
func (e *Evaluator) checkDeviation(c *domain.CaseData, total decimal.Decimal, count int, card *scorecard, m *domain.CalculatedMetrics) {
	if count == 0 {
		return
	}
	rule := e.profile.Deviation

	basis := "expected monthly volume"
	baseline := c.Customer.ExpectedMonthlyVolume
	if rule.Baseline == domain.BaselineAnnualIncome {
		basis = "annual income"
		baseline = c.Customer.AnnualIncome
	}
	if !baseline.IsPositive() {
		baseline = rule.DefaultBaseline
	}

	pct := total.Sub(baseline).Mul(hundred).DivRound(baseline, 8)
	m.BaselineAmount = baseline
	m.BaselineDeviationPercent = pct.Round(2)

	ccy := e.profile.ReferenceCurrency
	switch {
	case pct.GreaterThan(rule.ExtremePercent):
		card.fire(domain.RuleDeviationExtreme,
			fmt.Sprintf("Extreme profile deviation: %s%% above %s baseline of %s", formatAmount(pct), basis, money(ccy, baseline)),
			"")
	case pct.GreaterThan(rule.HighPercent):
		card.fire(domain.RuleDeviationHigh,
			fmt.Sprintf("High profile deviation: %s%% above %s baseline of %s", formatAmount(pct), basis, money(ccy, baseline)),
			"")
	}
}

// checkRoundAmounts fires once when enough transactions look suspiciously round.
func (e *Evaluator) checkRoundAmounts(c *domain.CaseData, entries []entry, card *scorecard, m *domain.CalculatedMetrics) error {
	for _, en := range entries {
		ok, err := e.round.Match(Candidate{Transaction: &c.Transactions[en.index], Amount: en.amount})
		if err != nil {
			return fmt.Errorf("round amount predicate: %w", err)
		}
		if ok {
			m.RoundAmountCount++
		}
	}
	if m.RoundAmountCount >= e.profile.RoundAmounts.MinCount {
		card.fire(domain.RuleRoundAmount,
			fmt.Sprintf("Round amount transactions detected: %d", m.RoundAmountCount), "")
	}
	return nil
}

// checkCash fires when the aggregate of cash-channel transactions reaches
// the threshold.
func (e *Evaluator) checkCash(c *domain.CaseData, entries []entry, card *scorecard, m *domain.CalculatedMetrics) error {
	rule := e.profile.Cash
	if !rule.Enabled() {
		return nil
	}
	for _, en := range entries {
		ok, err := e.cash.Match(Candidate{Transaction: &c.Transactions[en.index], Amount: en.amount})
		if err != nil {
			return fmt.Errorf("cash predicate: %w", err)
		}
		if ok {
			m.CashTransactionCount++
			m.CashTransactionTotal = m.CashTransactionTotal.Add(en.amount)
		}
	}
	if m.CashTransactionCount > 0 && m.CashTransactionTotal.GreaterThanOrEqual(rule.Threshold) {
		ccy := e.profile.ReferenceCurrency
		card.fire(domain.RuleCashTransaction,
			fmt.Sprintf("Cash transactions totaling %s across %d transactions meet the %s reporting threshold",
				money(ccy, m.CashTransactionTotal), m.CashTransactionCount, money(ccy, rule.Threshold)),
			e.profile.Typologies.Cash)
	}
	return nil
}

// checkOccupation flags volume inconsistent with a low-income occupation.
func (e *Evaluator) checkOccupation(c *domain.CaseData, total decimal.Decimal, card *scorecard) {
	occupation := strings.ToLower(c.Customer.Occupation)
	if occupation == "" || !total.GreaterThan(e.profile.Occupation.Floor) {
		return
	}
	for _, low := range e.lowIncome {
		if strings.Contains(occupation, low) {
			card.fire(domain.RuleProfileInconsistency,
				fmt.Sprintf("Profile inconsistency: large transactions from %s (total %s)",
					c.Customer.Occupation, money(e.profile.ReferenceCurrency, total)),
				"")
			return
		}
	}
}

// checkVelocity records the case span and fires the most severe matching tier.
func (e *Evaluator) checkVelocity(entries []entry, card *scorecard, m *domain.CalculatedMetrics) {
	if len(entries) < 2 {
		return
	}
	d := span(entries)
	h := decimal.NewFromFloat(d.Hours()).Round(2)
	m.TransactionWindowHours = &h

	rule := e.profile.Velocity
	n := len(entries)
	match := func(t domain.VelocityTier) bool {
		return t.Enabled() && n >= t.MinCount && d <= hours(t.WithinHours)
	}
	switch {
	case match(rule.Extreme):
		card.fire(domain.RuleVelocityExtreme,
			fmt.Sprintf("Extreme velocity: %d transactions within %sh", n, h.String()), "")
	case match(rule.High):
		card.fire(domain.RuleVelocityHigh,
			fmt.Sprintf("High velocity: %d transactions within %sh", n, h.String()), "")
	}
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

func windowPhrase(windowHours int) string {
	if windowHours <= 0 {
		return "across the case period"
	}
	return fmt.Sprintf("within %dh", windowHours)
}

func tierTitle(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
