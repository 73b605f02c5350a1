package domain

import "fmt"

// Case lifecycle statuses. Assessment opens a case as ASSESSED, or as
// DRAFT_READY when a SAR is required; reviewers move it from there.
const (
	CaseStatusAssessed      = "ASSESSED"
	CaseStatusDraftReady    = "DRAFT_READY"
	CaseStatusPendingReview = "PENDING_REVIEW"
	CaseStatusApproved      = "APPROVED"
	CaseStatusRejected      = "REJECTED"
	CaseStatusClosed        = "CLOSED"
)

// caseTransitions lists the statuses reachable from each status.
// CLOSED is terminal.
var caseTransitions = map[string][]string{
	CaseStatusAssessed:      {CaseStatusPendingReview, CaseStatusClosed},
	CaseStatusDraftReady:    {CaseStatusPendingReview, CaseStatusClosed},
	CaseStatusPendingReview: {CaseStatusApproved, CaseStatusRejected, CaseStatusClosed},
	CaseStatusRejected:      {CaseStatusPendingReview, CaseStatusClosed},
	CaseStatusApproved:      {CaseStatusClosed},
}

// IsCaseStatus reports whether s is a known case status.
func IsCaseStatus(s string) bool {
	if s == CaseStatusClosed {
		return true
	}
	_, ok := caseTransitions[s]
	return ok
}

// CanTransition reports whether a case may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range caseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	CaseID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("case %q cannot move from %s to %s", e.CaseID, e.From, e.To)
}

// CaseFilter narrows a case listing. Empty fields match everything.
type CaseFilter struct {
	Status     string
	CustomerID string
	Limit      int
	Offset     int
}
