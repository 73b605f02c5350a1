package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func nextAudit(t *testing.T, ch <-chan []byte) domain.AuditEvent {
	t.Helper()
	var e domain.AuditEvent
	require.NoError(t, json.Unmarshal(receive(t, ch), &e))
	return e
}

func TestChangeCaseStatus_ReviewFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const caseID = "SAR-2025-000010-abcdef12"

	_, err := f.svc.Assess(ctx, tenantID, "", criticalCase(caseID))
	require.NoError(t, err)

	audits := f.collect(t, domain.TopicAudit)
	changes := f.collect(t, domain.TopicCaseStatusChanged)

	// An empty status submits for review.
	c, err := f.svc.ChangeCaseStatus(ctx, tenantID, "analyst-7", caseID, pipeline.StatusChange{})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusPendingReview, c.Status)

	var change domain.CaseStatusChange
	require.NoError(t, json.Unmarshal(receive(t, changes), &change))
	assert.Equal(t, domain.CaseStatusDraftReady, change.From)
	assert.Equal(t, domain.CaseStatusPendingReview, change.To)
	assert.Equal(t, "analyst-7", change.UserID)
	assert.Equal(t, "CUST-9", change.CustomerID)

	e := nextAudit(t, audits)
	assert.Equal(t, domain.AuditStatusChange, e.EventType)
	assert.Equal(t, "analyst-7", e.UserID)
	assert.Equal(t, caseID, e.CaseID)
	assert.Equal(t, domain.CaseStatusDraftReady, e.Detail["old_status"])
	e = nextAudit(t, audits)
	assert.Equal(t, domain.AuditSubmittedForReview, e.EventType)
	assert.Equal(t, "analyst-7", e.UserID)

	c, err = f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{
		Status: domain.CaseStatusApproved,
		Reason: "narrative complete",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusApproved, c.Status)

	assert.Equal(t, domain.AuditStatusChange, nextAudit(t, audits).EventType)
	e = nextAudit(t, audits)
	assert.Equal(t, domain.AuditCaseApproved, e.EventType)
	assert.Equal(t, "lead-2", e.UserID)
	assert.Equal(t, "narrative complete", e.Detail["comments"])

	c, err = f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{Status: domain.CaseStatusClosed})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusClosed, c.Status)

	stored, err := f.svc.GetCase(ctx, tenantID, caseID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusClosed, stored.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CaseTransitions.WithLabelValues(domain.CaseStatusDraftReady, domain.CaseStatusPendingReview)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CaseTransitions.WithLabelValues(domain.CaseStatusPendingReview, domain.CaseStatusApproved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CaseTransitions.WithLabelValues(domain.CaseStatusApproved, domain.CaseStatusClosed)))
}

func TestChangeCaseStatus_Rejection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const caseID = "SAR-2025-000011-abcdef12"

	_, err := f.svc.Assess(ctx, tenantID, "", criticalCase(caseID))
	require.NoError(t, err)
	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "analyst-7", caseID, pipeline.StatusChange{Status: domain.CaseStatusPendingReview})
	require.NoError(t, err)

	audits := f.collect(t, domain.TopicAudit)

	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{Status: domain.CaseStatusRejected})
	assert.ErrorIs(t, err, repository.ErrInvalidInput, "rejection needs a reason")

	c, err := f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{
		Status: domain.CaseStatusRejected,
		Reason: "transactions explained by payroll",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusRejected, c.Status)

	e := nextAudit(t, audits)
	assert.Equal(t, domain.AuditStatusChange, e.EventType)
	assert.Equal(t, "transactions explained by payroll", e.Detail["reason"])
	e = nextAudit(t, audits)
	assert.Equal(t, domain.AuditCaseRejected, e.EventType)
	assert.Equal(t, "lead-2", e.UserID)
	assert.Equal(t, "transactions explained by payroll", e.Detail["rejection_reason"])

	// A rejected case can be reworked and resubmitted.
	c, err = f.svc.ChangeCaseStatus(ctx, tenantID, "analyst-7", caseID, pipeline.StatusChange{Status: domain.CaseStatusPendingReview})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusPendingReview, c.Status)
}

func TestChangeCaseStatus_InvalidTransition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const caseID = "SAR-2025-000012-abcdef12"

	_, err := f.svc.Assess(ctx, tenantID, "", criticalCase(caseID))
	require.NoError(t, err)
	changes := f.collect(t, domain.TopicCaseStatusChanged)

	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{Status: domain.CaseStatusApproved})
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, domain.CaseStatusDraftReady, te.From)
	assert.Equal(t, domain.CaseStatusApproved, te.To)

	stored, err := f.svc.GetCase(ctx, tenantID, caseID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusDraftReady, stored.Status)
	assertNone(t, changes)

	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{Status: domain.CaseStatusClosed})
	require.NoError(t, err)
	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "lead-2", caseID, pipeline.StatusChange{Status: domain.CaseStatusPendingReview})
	assert.True(t, errors.As(err, &te), "closed is terminal, got %v", err)
}

func TestChangeCaseStatus_InvalidArguments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.ChangeCaseStatus(ctx, "", "analyst-7", "c", pipeline.StatusChange{})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)

	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "", "c", pipeline.StatusChange{})
	assert.ErrorIs(t, err, repository.ErrInvalidInput, "user id is required")

	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "analyst-7", "c", pipeline.StatusChange{Status: "Pending Review"})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)

	_, err = f.svc.ChangeCaseStatus(ctx, tenantID, "analyst-7", "missing", pipeline.StatusChange{})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListCases(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Assess(ctx, tenantID, "", criticalCase("SAR-2025-000020-abcdef12"))
	require.NoError(t, err)
	_, err = f.svc.Assess(ctx, tenantID, "", &domain.CaseData{
		CaseID:       "CASE-LOW",
		Customer:     customer("CUST-1"),
		Transactions: []domain.Transaction{tx("T1", "1234.56", "USD", "US")},
	})
	require.NoError(t, err)
	_, err = f.svc.Assess(ctx, "tenant-002", "", criticalCase("SAR-2025-000021-abcdef12"))
	require.NoError(t, err)

	cases, err := f.svc.ListCases(ctx, tenantID, domain.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	cases, err = f.svc.ListCases(ctx, tenantID, domain.CaseFilter{Status: domain.CaseStatusDraftReady})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "SAR-2025-000020-abcdef12", cases[0].Data.CaseID)

	_, err = f.svc.ListCases(ctx, tenantID, domain.CaseFilter{Status: "open"})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
	_, err = f.svc.ListCases(ctx, "", domain.CaseFilter{})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestDeleteCase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const caseID = "SAR-2025-000030-abcdef12"

	res, err := f.svc.Assess(ctx, tenantID, "", criticalCase(caseID))
	require.NoError(t, err)
	audits := f.collect(t, domain.TopicAudit)

	require.NoError(t, f.svc.DeleteCase(ctx, tenantID, "admin-1", caseID))

	_, err = f.svc.GetCase(ctx, tenantID, caseID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.svc.GetAssessment(ctx, tenantID, res.AssessmentID)
	assert.NoError(t, err, "assessments survive a case delete")

	e := nextAudit(t, audits)
	assert.Equal(t, domain.AuditCaseDeleted, e.EventType)
	assert.Equal(t, "admin-1", e.UserID)

	assert.ErrorIs(t, f.svc.DeleteCase(ctx, tenantID, "admin-1", caseID), repository.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteCase(ctx, "", "admin-1", caseID), repository.ErrInvalidInput)
}
