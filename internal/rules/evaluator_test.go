package rules_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func compile(t *testing.T, p *domain.RiskProfile, opts ...rules.Option) *rules.Evaluator {
	t.Helper()
	opts = append(opts, rules.WithClock(func() time.Time { return fixedNow }))
	ev, err := rules.Compile(p, opts...)
	require.NoError(t, err)
	return ev
}

func txn(id, amount, country, date string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Date:         date,
		Counterparty: "Acme Trading LLC",
		Country:      country,
		Type:         "wire transfer",
	}
}

// quietCustomer has a baseline high enough that deviation never fires.
func quietCustomer() domain.CustomerProfile {
	return domain.CustomerProfile{
		ID:                    "CUST-001",
		Name:                  "Jane Doe",
		Occupation:            "Engineer",
		AnnualIncome:          decimal.NewFromInt(150000),
		ExpectedMonthlyVolume: decimal.NewFromInt(10000000),
	}
}

func caseWith(txs ...domain.Transaction) *domain.CaseData {
	return &domain.CaseData{CaseID: "CASE-1", Customer: quietCustomer(), Transactions: txs}
}

func contributions(a *domain.Assessment, rule string) int {
	n := 0
	for _, c := range a.Contributions {
		if c.Rule == rule {
			n++
		}
	}
	return n
}

func ruleWithPrefix(a *domain.Assessment, prefix string) (string, bool) {
	for _, r := range a.TriggeredRules {
		if strings.HasPrefix(r, prefix) {
			return r, true
		}
	}
	return "", false
}

func TestEvaluate_EmptyCase(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	a, err := ev.Evaluate(caseWith())
	require.NoError(t, err)

	assert.Equal(t, "CASE-1", a.CaseID)
	assert.Equal(t, 0, a.AggregatedRiskScore)
	assert.Equal(t, domain.RiskLevelLow, a.RiskLevel)
	assert.Equal(t, "False Positive - Close Case", a.FinalClassification)
	assert.NotNil(t, a.TriggeredRules)
	assert.Empty(t, a.TriggeredRules)
	assert.Empty(t, a.TypologyTags)

	m := a.CalculatedMetrics
	assert.Equal(t, 0, m.TransactionCount)
	assert.True(t, m.TotalTransactionValue.IsZero())
	assert.True(t, m.AverageTransactionValue.IsZero())
	assert.True(t, m.BaselineDeviationPercent.IsZero())
	assert.Nil(t, m.StructuringPattern)
	assert.Nil(t, m.TransactionWindowHours)

	assert.Empty(t, a.SuspicionSummary.PrimaryConcerns)
	assert.Empty(t, a.SuspicionSummary.HighRiskCountries)
	assert.Equal(t, a.FinalClassification, a.SuspicionSummary.RecommendedAction)
	assert.True(t, fixedNow.Equal(a.ExecutionTimestamp))
}

func TestEvaluate_CriticalHighRiskRetiredCustomer(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	c := &domain.CaseData{
		CaseID: "CASE-RET",
		Customer: domain.CustomerProfile{
			ID:                    "CUST-9",
			Name:                  "John Smith",
			Occupation:            "Retired nurse",
			ExpectedMonthlyVolume: decimal.NewFromInt(5000),
		},
		Transactions: []domain.Transaction{txn("T1", "250000", "IR", "2025-02-10")},
	}

	a, err := ev.Evaluate(c)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Critical transaction detected: USD 250,000 (T1)",
		"High-risk jurisdiction transactions: 1 to IR",
		"Extreme profile deviation: 4,900% above expected monthly volume baseline of USD 5,000",
		"Round amount transactions detected: 1",
		"Profile inconsistency: large transactions from Retired nurse (total USD 250,000)",
	}, a.TriggeredRules)

	// 40 + 35 + 20 + 10 + 15
	assert.Equal(t, 120, a.RawScore)
	assert.Equal(t, 100, a.AggregatedRiskScore)
	assert.Equal(t, domain.RiskLevelCritical, a.RiskLevel)
	assert.Equal(t, "SAR Required - Critical Risk", a.FinalClassification)
	assert.Equal(t, []string{domain.TypologySanctionsEvasion}, a.TypologyTags)
	assert.Equal(t, []string{"IR"}, a.SuspicionSummary.HighRiskCountries)
	assert.Equal(t, a.TriggeredRules, a.SuspicionSummary.PrimaryConcerns)
	assert.Equal(t, "4900", a.CalculatedMetrics.BaselineDeviationPercent.String())
}

func TestEvaluate_StructuringScenario(t *testing.T) {
	ev := compile(t, profile.IndiaINRProfile())

	c := caseWith(
		txn("T1", "900000", "IN", "2025-01-06T10:00:00"),
		txn("T2", "900000", "IN", "2025-01-07T10:00:00"),
		txn("T3", "900000", "IN", "2025-01-08T10:00:00"),
	)
	for i := range c.Transactions {
		c.Transactions[i].Currency = "INR"
	}

	a, err := ev.Evaluate(c)
	require.NoError(t, err)

	_, ok := ruleWithPrefix(a, "Potential structuring")
	assert.True(t, ok, "structuring should fire: %v", a.TriggeredRules)
	assert.Contains(t, a.TypologyTags, domain.TypologyStructuring)

	sp := a.CalculatedMetrics.StructuringPattern
	require.NotNil(t, sp)
	assert.Equal(t, 3, sp.Count)
	assert.True(t, sp.Total.Equal(decimal.NewFromInt(2700000)), "total = %s", sp.Total)
	assert.Equal(t, 1, contributions(a, domain.RuleStructuring))
}

func TestEvaluate_StructuringBoundary(t *testing.T) {
	p := profile.GenericUSDProfile()
	p.Structuring.WindowHours = 0
	ev := compile(t, p)

	inBand := []domain.Transaction{
		txn("T1", "8000", "US", "2025-01-01T09:00:00Z"),
		txn("T2", "9999.99", "US", "2025-01-01T10:00:00Z"),
		txn("T3", "9000.50", "US", "2025-01-01T11:00:00Z"),
	}
	outOfBand := []domain.Transaction{
		txn("T4", "7999.99", "US", "2025-01-01T12:00:00Z"),
		txn("T5", "10000", "US", "2025-01-01T13:00:00Z"),
	}

	t.Run("one below threshold", func(t *testing.T) {
		txs := append(append([]domain.Transaction{}, inBand[:2]...), outOfBand...)
		a, err := ev.Evaluate(caseWith(txs...))
		require.NoError(t, err)

		_, ok := ruleWithPrefix(a, "Potential structuring")
		assert.False(t, ok)
		assert.Nil(t, a.CalculatedMetrics.StructuringPattern)
		assert.Zero(t, contributions(a, domain.RuleStructuring))
	})

	t.Run("at threshold", func(t *testing.T) {
		txs := append(append([]domain.Transaction{}, inBand...), outOfBand...)
		a, err := ev.Evaluate(caseWith(txs...))
		require.NoError(t, err)

		_, ok := ruleWithPrefix(a, "Potential structuring")
		assert.True(t, ok)
		sp := a.CalculatedMetrics.StructuringPattern
		require.NotNil(t, sp)
		assert.Equal(t, 3, sp.Count)
		assert.True(t, sp.Total.Equal(decimal.RequireFromString("27000.49")), "total = %s", sp.Total)
	})
}

func TestEvaluate_StructuringWindow(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile()) // 24h window

	spread := []domain.Transaction{
		txn("T1", "9500.10", "US", "2025-01-01"),
		txn("T2", "9500.20", "US", "2025-01-03"),
		txn("T3", "9500.30", "US", "2025-01-05"),
	}
	a, err := ev.Evaluate(caseWith(spread...))
	require.NoError(t, err)
	assert.Nil(t, a.CalculatedMetrics.StructuringPattern, "transactions two days apart should not cluster")

	dense := append(spread,
		txn("T4", "9500.40", "US", "2025-01-05T10:00:00"),
		txn("T5", "9500.50", "US", "2025-01-05T20:00:00"),
	)
	a, err = ev.Evaluate(caseWith(dense...))
	require.NoError(t, err)

	sp := a.CalculatedMetrics.StructuringPattern
	require.NotNil(t, sp)
	assert.Equal(t, 3, sp.Count)
	assert.Equal(t, 24, sp.WindowHours)
	assert.True(t, sp.Total.Equal(decimal.RequireFromString("28501.20")), "total = %s", sp.Total)
}

func TestEvaluate_JurisdictionPartition(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	t.Run("high and medium fire once each", func(t *testing.T) {
		a, err := ev.Evaluate(caseWith(
			txn("T1", "100.25", "IR", "2025-01-01"),
			txn("T2", "100.25", "KP", "2025-01-11"),
			txn("T3", "100.25", "ir", "2025-01-21"),
			txn("T4", "100.25", "PK", "2025-01-31"),
			txn("T5", "100.25", "US", "2025-02-10"),
		))
		require.NoError(t, err)

		assert.Equal(t, 1, contributions(a, domain.RuleHighRiskJurisdiction))
		assert.Equal(t, 1, contributions(a, domain.RuleMediumRiskJurisdiction))
		assert.Contains(t, a.TriggeredRules, "High-risk jurisdiction transactions: 3 to IR, KP")
		assert.Contains(t, a.TriggeredRules, "Medium-risk jurisdiction transactions: 1 to PK")
		assert.Equal(t, 3, a.CalculatedMetrics.HighRiskTransactionCount)
		assert.Equal(t, []string{"IR", "KP"}, a.SuspicionSummary.HighRiskCountries)
		assert.Equal(t, []string{domain.TypologySanctionsEvasion, domain.TypologyGeographicRisk}, a.TypologyTags)
	})

	t.Run("high only does not trigger medium", func(t *testing.T) {
		a, err := ev.Evaluate(caseWith(
			txn("T1", "100.25", "MM", "2025-01-01"),
			txn("T2", "100.25", "MM", "2025-01-11"),
		))
		require.NoError(t, err)

		assert.Equal(t, 1, contributions(a, domain.RuleHighRiskJurisdiction))
		assert.Zero(t, contributions(a, domain.RuleMediumRiskJurisdiction))
		assert.Zero(t, a.CalculatedMetrics.MediumRiskTransactionCount)
	})
}

func TestEvaluate_ClassificationBands(t *testing.T) {
	tests := []struct {
		weight int
		level  domain.RiskLevel
	}{
		{weight: 80, level: domain.RiskLevelCritical},
		{weight: 79, level: domain.RiskLevelHigh},
		{weight: 60, level: domain.RiskLevelHigh},
		{weight: 59, level: domain.RiskLevelMedium},
		{weight: 40, level: domain.RiskLevelMedium},
		{weight: 39, level: domain.RiskLevelLow},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("score %d", tt.weight), func(t *testing.T) {
			p := profile.GenericUSDProfile()
			p.Classification.Critical.Cutoff = 80
			p.Classification.High.Cutoff = 60
			p.Classification.Medium.Cutoff = 40
			p.Classification.Low.Cutoff = 0
			p.Weights[domain.RuleCriticalAmount] = tt.weight
			ev := compile(t, p)

			a, err := ev.Evaluate(caseWith(txn("T1", "123456.78", "US", "2025-01-01")))
			require.NoError(t, err)

			require.Equal(t, []string{"Critical transaction detected: USD 123,456.78 (T1)"}, a.TriggeredRules)
			assert.Equal(t, tt.weight, a.AggregatedRiskScore)
			assert.Equal(t, tt.level, a.RiskLevel)
		})
	}
}

func TestEvaluate_MalformedInput(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	tests := []struct {
		name  string
		tx    domain.Transaction
		field string
	}{
		{name: "unparseable date", tx: txn("T2", "100", "US", "31/31/2025"), field: "date"},
		{name: "empty date", tx: txn("T2", "100", "US", ""), field: "date"},
		{name: "negative amount", tx: txn("T2", "-5", "US", "2025-01-01"), field: "amount"},
		{name: "amount beyond int64", tx: txn("T2", "100000000000000000000", "US", "2025-01-01"), field: "amount"},
		{name: "unknown currency", tx: func() domain.Transaction {
			tx := txn("T2", "100", "US", "2025-01-01")
			tx.Currency = "XYZ"
			return tx
		}(), field: "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ev.Evaluate(caseWith(txn("T1", "100", "US", "2025-01-01"), tt.tx))
			require.Error(t, err)
			assert.Nil(t, a)

			var mie *domain.MalformedInputError
			require.True(t, errors.As(err, &mie))
			assert.Equal(t, "T2", mie.TransactionID)
			assert.Equal(t, tt.field, mie.Field)
			assert.Equal(t, "CASE-1", mie.CaseID)
		})
	}
}

func TestEvaluate_CurrencyNormalization(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	eur := txn("T1", "100000", "DE", "2025-01-01")
	eur.Currency = "EUR"
	noCcy := txn("T2", "12.5", "US", "2025-01-20")
	noCcy.Currency = ""

	a, err := ev.Evaluate(caseWith(eur, noCcy))
	require.NoError(t, err)

	assert.Equal(t, "Critical transaction detected: USD 108,000 from EUR 100,000 (T1)", a.TriggeredRules[0])
	assert.True(t, a.CalculatedMetrics.TotalTransactionValue.Equal(decimal.RequireFromString("108012.5")))
	assert.Equal(t, "USD", a.ReferenceCurrency)
}

func TestEvaluate_MonotonicInAmount(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	// None of these amounts is round or inside the structuring band.
	amounts := []string{"100.37", "1000.37", "5000.37", "12000.37", "26000.37", "51000.37", "120000.37", "600000.37"}

	prev := -1
	for _, amt := range amounts {
		c := caseWith(
			txn("T1", "150.37", "PK", "2025-01-01"),
			txn("T2", amt, "PK", "2025-01-15"),
		)
		c.Customer.Occupation = "Student"
		c.Customer.ExpectedMonthlyVolume = decimal.NewFromInt(20000)

		a, err := ev.Evaluate(c)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, a.AggregatedRiskScore, prev, "amount %s lowered the score", amt)
		prev = a.AggregatedRiskScore
	}
}

func TestEvaluate_ScoreBound(t *testing.T) {
	ev := compile(t, profile.IndiaINRProfile())

	var txs []domain.Transaction
	for i := 0; i < 3; i++ {
		tx := txn(fmt.Sprintf("S%d", i), "900000", "IR", fmt.Sprintf("2025-01-01T0%d:00:00", i))
		tx.Currency = "INR"
		tx.Type = "cash deposit"
		txs = append(txs, tx)
	}
	for i := 0; i < 10; i++ {
		tx := txn(fmt.Sprintf("M%d", i), "20000.50", "PK", fmt.Sprintf("2025-01-01T1%d:00:00", i))
		tx.Currency = "INR"
		txs = append(txs, tx)
	}
	big := txn("B1", "5000000", "KP", "2025-01-01T23:00:00")
	big.Currency = "INR"
	txs = append(txs, big)

	c := caseWith(txs...)
	c.Customer.Occupation = "unemployed"
	c.Customer.ExpectedMonthlyVolume = decimal.Zero

	a, err := ev.Evaluate(c)
	require.NoError(t, err)

	assert.Greater(t, a.RawScore, rules.MaxScore)
	assert.Equal(t, rules.MaxScore, a.AggregatedRiskScore)
	assert.Equal(t, domain.RiskLevelCritical, a.RiskLevel)
}

func TestEvaluate_SmurfingAndTypologyDedup(t *testing.T) {
	ev := compile(t, profile.IndiaINRProfile())

	var txs []domain.Transaction
	for i := 0; i < 3; i++ {
		tx := txn(fmt.Sprintf("S%d", i), "900000", "IN", fmt.Sprintf("2025-01-01T0%d:00:00", i))
		tx.Currency = "INR"
		txs = append(txs, tx)
	}
	for i := 0; i < 10; i++ {
		tx := txn(fmt.Sprintf("M%d", i), "20000.50", "IN", fmt.Sprintf("2025-01-02T1%d:00:00", i))
		tx.Currency = "INR"
		txs = append(txs, tx)
	}

	a, err := ev.Evaluate(caseWith(txs...))
	require.NoError(t, err)

	assert.Equal(t, 1, contributions(a, domain.RuleStructuring))
	assert.Equal(t, 1, contributions(a, domain.RuleSmurfing))

	sp := a.CalculatedMetrics.SmurfingPattern
	require.NotNil(t, sp)
	assert.Equal(t, 10, sp.Count)
	assert.True(t, sp.Total.Equal(decimal.NewFromInt(200005)), "total = %s", sp.Total)

	n := 0
	for _, tag := range a.TypologyTags {
		if tag == domain.TypologyStructuring {
			n++
		}
	}
	assert.Equal(t, 1, n, "tags: %v", a.TypologyTags)
}

func TestEvaluate_Deviation(t *testing.T) {
	t.Run("default baseline", func(t *testing.T) {
		ev := compile(t, profile.GenericUSDProfile())
		c := caseWith(txn("T1", "70000.37", "US", "2025-01-01"))
		c.Customer.ExpectedMonthlyVolume = decimal.Zero

		a, err := ev.Evaluate(c)
		require.NoError(t, err)

		assert.True(t, a.CalculatedMetrics.BaselineAmount.Equal(decimal.NewFromInt(20000)))
		assert.True(t, a.CalculatedMetrics.BaselineDeviationPercent.Equal(decimal.NewFromInt(250)))
		assert.Equal(t, 1, contributions(a, domain.RuleDeviationHigh))
		assert.Zero(t, contributions(a, domain.RuleDeviationExtreme))
	})

	t.Run("annual income basis", func(t *testing.T) {
		p := profile.GenericUSDProfile()
		p.Deviation.Baseline = domain.BaselineAnnualIncome
		ev := compile(t, p)

		c := caseWith(txn("T1", "700000.37", "US", "2025-01-01"))
		c.Customer.AnnualIncome = decimal.NewFromInt(100000)

		a, err := ev.Evaluate(c)
		require.NoError(t, err)

		line, ok := ruleWithPrefix(a, "Extreme profile deviation")
		require.True(t, ok)
		assert.Contains(t, line, "annual income")
		assert.Zero(t, contributions(a, domain.RuleDeviationHigh))
	})
}

func TestEvaluate_Velocity(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	hourly := func(n int) []domain.Transaction {
		txs := make([]domain.Transaction, n)
		for i := range txs {
			txs[i] = txn(fmt.Sprintf("T%d", i+1), "100.37", "US",
				time.Date(2025, 1, 1, i, 0, 0, 0, time.UTC).Format(time.RFC3339))
		}
		return txs
	}

	a, err := ev.Evaluate(caseWith(hourly(5)...))
	require.NoError(t, err)
	assert.Contains(t, a.TriggeredRules, "High velocity: 5 transactions within 4h")
	require.NotNil(t, a.CalculatedMetrics.TransactionWindowHours)
	assert.True(t, a.CalculatedMetrics.TransactionWindowHours.Equal(decimal.NewFromInt(4)))

	a, err = ev.Evaluate(caseWith(hourly(10)...))
	require.NoError(t, err)
	assert.Equal(t, 1, contributions(a, domain.RuleVelocityExtreme))
	assert.Zero(t, contributions(a, domain.RuleVelocityHigh))

	a, err = ev.Evaluate(caseWith(hourly(1)...))
	require.NoError(t, err)
	assert.Nil(t, a.CalculatedMetrics.TransactionWindowHours)
}

func TestEvaluate_Predicates(t *testing.T) {
	t.Run("custom cash predicate", func(t *testing.T) {
		casino := rules.PredicateFunc(func(c rules.Candidate) bool {
			return c.Transaction.Counterparty == "Casino Royale"
		})
		ev := compile(t, profile.GenericUSDProfile(), rules.WithCashPredicate(casino))

		tx := txn("T1", "12000.37", "US", "2025-01-01")
		tx.Counterparty = "Casino Royale"
		a, err := ev.Evaluate(caseWith(tx))
		require.NoError(t, err)

		assert.Equal(t, 1, contributions(a, domain.RuleCashTransaction))
		assert.Contains(t, a.TypologyTags, domain.TypologyCashIntensive)
		assert.Equal(t, 1, a.CalculatedMetrics.CashTransactionCount)
	})

	t.Run("custom round predicate", func(t *testing.T) {
		always := rules.PredicateFunc(func(rules.Candidate) bool { return true })
		ev := compile(t, profile.GenericUSDProfile(), rules.WithRoundPredicate(always))

		a, err := ev.Evaluate(caseWith(
			txn("T1", "12.37", "US", "2025-01-01"),
			txn("T2", "13.37", "US", "2025-01-10"),
		))
		require.NoError(t, err)
		assert.Equal(t, 2, a.CalculatedMetrics.RoundAmountCount)
		assert.Contains(t, a.TriggeredRules, "Round amount transactions detected: 2")
	})

	t.Run("cel cash expression", func(t *testing.T) {
		p := profile.GenericUSDProfile()
		p.Cash.Expression = `kind.lowerAscii().contains("cash") || description.matches("(?i)atm")`
		ev := compile(t, p)

		tx := txn("T1", "15000.37", "US", "2025-01-01")
		tx.Type = "Withdrawal"
		tx.Description = "ATM withdrawal downtown"
		a, err := ev.Evaluate(caseWith(tx))
		require.NoError(t, err)

		assert.Equal(t, 1, contributions(a, domain.RuleCashTransaction))
	})

	t.Run("cash below threshold does not fire", func(t *testing.T) {
		ev := compile(t, profile.GenericUSDProfile())

		tx := txn("T1", "9000.37", "US", "2025-01-01")
		tx.Type = "Cash deposit"
		a, err := ev.Evaluate(caseWith(tx))
		require.NoError(t, err)

		assert.Equal(t, 1, a.CalculatedMetrics.CashTransactionCount)
		assert.Zero(t, contributions(a, domain.RuleCashTransaction))
	})

	t.Run("lakh round amounts", func(t *testing.T) {
		ev := compile(t, profile.IndiaINRProfile())

		var txs []domain.Transaction
		for i, amt := range []string{"300000", "500000", "1200000", "250000.50"} {
			tx := txn(fmt.Sprintf("T%d", i), amt, "IN", fmt.Sprintf("2025-01-%02d", i*10+1))
			tx.Currency = "INR"
			txs = append(txs, tx)
		}
		a, err := ev.Evaluate(caseWith(txs...))
		require.NoError(t, err)

		assert.Equal(t, 3, a.CalculatedMetrics.RoundAmountCount)
		assert.Equal(t, 1, contributions(a, domain.RuleRoundAmount))
	})
}

func TestCompile_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.RiskProfile)
	}{
		{name: "overlapping jurisdictions", mutate: func(p *domain.RiskProfile) {
			p.MediumRiskCountries = append(p.MediumRiskCountries, "IR")
		}},
		{name: "non-ascending bands", mutate: func(p *domain.RiskProfile) {
			p.Classification.High.Cutoff = 90
		}},
		{name: "invalid cel", mutate: func(p *domain.RiskProfile) {
			p.Cash.Expression = "amount >"
		}},
		{name: "non-bool cel", mutate: func(p *domain.RiskProfile) {
			p.RoundAmounts.Expression = "amount * 2.0"
		}},
		{name: "missing weight", mutate: func(p *domain.RiskProfile) {
			delete(p.Weights, domain.RuleStructuring)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profile.GenericUSDProfile()
			tt.mutate(p)

			ev, err := rules.Compile(p)
			assert.Nil(t, ev)
			var ce *domain.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, profile.GenericUSD, ce.Profile)
			assert.NotEmpty(t, ce.Problems)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	ev := compile(t, profile.IndiaINRProfile())

	c := caseWith(
		txn("T1", "900000", "IR", "2025-01-01T08:00:00"),
		txn("T2", "950000", "PK", "2025-01-01T09:00:00"),
		txn("T3", "980000", "IN", "2025-01-01T10:00:00"),
		txn("T4", "5000000", "KY", "2025-01-02T10:00:00"),
	)
	for i := range c.Transactions {
		c.Transactions[i].Currency = "INR"
	}

	first, err := ev.Evaluate(c)
	require.NoError(t, err)
	second, err := rules.Evaluate(c, profile.IndiaINRProfile())
	require.NoError(t, err)

	assert.Equal(t, first.AggregatedRiskScore, second.AggregatedRiskScore)
	assert.Equal(t, first.TriggeredRules, second.TriggeredRules)
	assert.Equal(t, first.TypologyTags, second.TypologyTags)
	assert.Equal(t, first.FinalClassification, second.FinalClassification)
	assert.Equal(t, first.Contributions, second.Contributions)
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())

	c := caseWith(
		txn("T2", "9500.37", "IR", "2025-01-03"),
		txn("T1", "9500.37", "US", "2025-01-01"),
	)
	before := *c
	before.Transactions = append([]domain.Transaction(nil), c.Transactions...)

	_, err := ev.Evaluate(c)
	require.NoError(t, err)
	assert.Equal(t, before, *c)
}

func TestEvaluate_SummaryConcernsLimit(t *testing.T) {
	p := profile.GenericUSDProfile()
	p.SummaryConcerns = 2
	ev := compile(t, p)

	c := caseWith(txn("T1", "250000", "IR", "2025-02-10"))
	c.Customer.Occupation = "retired"

	a, err := ev.Evaluate(c)
	require.NoError(t, err)
	require.Greater(t, len(a.TriggeredRules), 2)
	assert.Equal(t, a.TriggeredRules[:2], a.SuspicionSummary.PrimaryConcerns)
}

func TestEvaluate_ConcurrentUse(t *testing.T) {
	ev := compile(t, profile.GenericUSDProfile())
	c := caseWith(
		txn("T1", "9500.37", "IR", "2025-01-01T01:00:00Z"),
		txn("T2", "9600.37", "IR", "2025-01-01T02:00:00Z"),
		txn("T3", "9700.37", "PK", "2025-01-01T03:00:00Z"),
	)
	want, err := ev.Evaluate(c)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := ev.Evaluate(c)
			if err != nil {
				errs <- err
				return
			}
			if got.AggregatedRiskScore != want.AggregatedRiskScore {
				errs <- fmt.Errorf("score %d, want %d", got.AggregatedRiskScore, want.AggregatedRiskScore)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
