package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Candidate is a transaction as seen by a predicate.
type Candidate struct {
	Transaction *domain.Transaction

	// Amount is normalized into the profile's reference currency.
	Amount decimal.Decimal
}

// Predicate is a swappable heuristic over a single transaction.
// Implementations must be safe for concurrent use.
type Predicate interface {
	Match(c Candidate) (bool, error)
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(c Candidate) bool

// Match implements Predicate.
func (f PredicateFunc) Match(c Candidate) (bool, error) {
	return f(c), nil
}

// RoundValues matches amounts that equal one of Values or are an exact
// multiple of Unit. Zero amounts never match.
type RoundValues struct {
	Values []decimal.Decimal
	Unit   decimal.Decimal
}

// Match implements Predicate.
func (r RoundValues) Match(c Candidate) (bool, error) {
	if !c.Amount.IsPositive() {
		return false, nil
	}
	for _, v := range r.Values {
		if c.Amount.Equal(v) {
			return true, nil
		}
	}
	if r.Unit.IsPositive() && c.Amount.Mod(r.Unit).IsZero() {
		return true, nil
	}
	return false, nil
}

// KeywordMatch matches when the transaction type or description contains
// any keyword, ignoring case.
type KeywordMatch struct {
	Keywords []string
}

// Match implements Predicate.
func (k KeywordMatch) Match(c Candidate) (bool, error) {
	typ := strings.ToLower(c.Transaction.Type)
	desc := strings.ToLower(c.Transaction.Description)
	for _, kw := range k.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(typ, kw) || strings.Contains(desc, kw) {
			return true, nil
		}
	}
	return false, nil
}

// ExprPredicate is a predicate written as a CEL expression returning bool.
//
// Variables: amount (double, reference currency), amount_units (int, whole
// units of amount), whole (bool, amount has no fractional part),
// native_amount (double), currency, kind (the transaction type),
// description, country and counterparty (strings). The ext.Strings library
// is available.
type ExprPredicate struct {
	source  string
	program cel.Program
}

func predicateEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amount_units", cel.IntType),
		cel.Variable("whole", cel.BoolType),
		cel.Variable("native_amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("counterparty", cel.StringType),
		ext.Strings(),
	)
}

// NewExprPredicate compiles expr. The expression must return bool.
func NewExprPredicate(expr string) (*ExprPredicate, error) {
	env, err := predicateEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}

	return &ExprPredicate{source: expr, program: program}, nil
}

// Match implements Predicate.
func (p *ExprPredicate) Match(c Candidate) (bool, error) {
	tx := c.Transaction
	if c.Amount.GreaterThan(maxAmount) {
		return false, fmt.Errorf("amount %s of transaction %s is out of range for %q", c.Amount, tx.ID, p.source)
	}
	out, _, err := p.program.Eval(map[string]any{
		"amount":        c.Amount.InexactFloat64(),
		"amount_units":  c.Amount.IntPart(),
		"whole":         c.Amount.Equal(c.Amount.Truncate(0)),
		"native_amount": tx.Amount.InexactFloat64(),
		"currency":      tx.Currency,
		"kind":          tx.Type,
		"description":   tx.Description,
		"country":       tx.Country,
		"counterparty":  tx.Counterparty,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q on transaction %s: %w", p.source, tx.ID, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %s, want bool", p.source, out.Type())
	}
	return bool(b), nil
}

// String returns the expression source.
func (p *ExprPredicate) String() string {
	return p.source
}
