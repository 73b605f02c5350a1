package domain

import (
	"fmt"
	"strings"
)

// MalformedInputError reports a transaction the evaluator cannot score.
// The whole case is rejected; the caller decides how to handle it.
type MalformedInputError struct {
	CaseID        string
	TransactionID string
	Field         string
	Value         string
	Reason        string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed transaction %q in case %q: %s %q: %s",
		e.TransactionID, e.CaseID, e.Field, e.Value, e.Reason)
}

// ConfigurationError reports a risk profile that violates its own invariants.
// It is raised when a profile is compiled, never per evaluation.
type ConfigurationError struct {
	Profile  string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid risk profile %q: %s", e.Profile, strings.Join(e.Problems, "; "))
}
