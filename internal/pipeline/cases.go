package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// StatusChange asks for a case to move to Status. An empty Status submits
// the case for review. Rejections need a Reason; for approvals it is kept
// as reviewer comments.
type StatusChange struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ListCases returns a tenant's stored cases, newest first.
func (s *Service) ListCases(ctx context.Context, tenantID string, filter domain.CaseFilter) ([]*domain.CaseRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", repository.ErrInvalidInput)
	}
	if filter.Status != "" && !domain.IsCaseStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown case status %q", repository.ErrInvalidInput, filter.Status)
	}
	if s.repo == nil {
		return nil, errors.New("repository not available")
	}
	return s.repo.ListCases(ctx, tenantID, filter)
}

// ChangeCaseStatus moves a case along its review lifecycle on behalf of
// userID. A move the lifecycle does not allow fails with a
// *domain.TransitionError; a concurrent change to the same case fails
// with repository.ErrConflict.
func (s *Service) ChangeCaseStatus(ctx context.Context, tenantID, userID, caseID string, change StatusChange) (*domain.CaseRecord, error) {
	switch {
	case tenantID == "":
		return nil, fmt.Errorf("%w: tenantID is required", repository.ErrInvalidInput)
	case userID == "":
		return nil, fmt.Errorf("%w: user id is required to change a case status", repository.ErrInvalidInput)
	case caseID == "":
		return nil, fmt.Errorf("%w: case id is required", repository.ErrInvalidInput)
	}

	to := strings.TrimSpace(change.Status)
	if to == "" {
		to = domain.CaseStatusPendingReview
	}
	if !domain.IsCaseStatus(to) {
		return nil, fmt.Errorf("%w: unknown case status %q", repository.ErrInvalidInput, change.Status)
	}
	reason := strings.TrimSpace(change.Reason)
	if to == domain.CaseStatusRejected && reason == "" {
		return nil, fmt.Errorf("%w: a reason is required to reject a case", repository.ErrInvalidInput)
	}
	if s.repo == nil {
		return nil, errors.New("repository not available")
	}

	current, err := s.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	from := current.Status
	if !domain.CanTransition(from, to) {
		return nil, &domain.TransitionError{CaseID: caseID, From: from, To: to}
	}
	if err := s.repo.UpdateCaseStatus(ctx, tenantID, caseID, from, to); err != nil {
		return nil, err
	}

	slog.Info("case status changed",
		"tenant_id", tenantID,
		"case_id", caseID,
		"user_id", userID,
		"from", from,
		"to", to,
	)
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues(from, to).Inc()
	}
	s.statusChanged(ctx, tenantID, userID, current, from, to, reason)

	updated, err := s.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		// The change is stored; report it from what was read before.
		current.Status = to
		current.UpdatedAt = s.now().UTC()
		return current, nil
	}
	return updated, nil
}

// DeleteCase soft-deletes a case on behalf of userID. Its assessments
// stay stored.
func (s *Service) DeleteCase(ctx context.Context, tenantID, userID, caseID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", repository.ErrInvalidInput)
	}
	if s.repo == nil {
		return errors.New("repository not available")
	}
	if err := s.repo.DeleteCase(ctx, tenantID, caseID); err != nil {
		return err
	}

	slog.Info("case deleted", "tenant_id", tenantID, "case_id", caseID, "user_id", userID)
	if s.audit != nil {
		if err := s.audit.CaseDeleted(ctx, tenantID, userID, caseID); err != nil {
			slog.Error("audit failed", "case_id", caseID, "error", err)
		}
	}
	return nil
}

func (s *Service) statusChanged(ctx context.Context, tenantID, userID string, c *domain.CaseRecord, from, to, reason string) {
	if s.bus == nil {
		return
	}
	caseID := c.Data.CaseID

	s.publish(ctx, tenantID, domain.TopicCaseStatusChanged, domain.CaseStatusChange{
		CaseID:     caseID,
		CustomerID: c.Data.Customer.ID,
		From:       from,
		To:         to,
		Reason:     reason,
		UserID:     userID,
		ChangedAt:  s.now().UTC(),
	})

	if err := s.audit.StatusChanged(ctx, tenantID, userID, caseID, from, to, reason); err != nil {
		slog.Error("audit failed", "case_id", caseID, "error", err)
	}

	var err error
	switch to {
	case domain.CaseStatusPendingReview:
		err = s.audit.SubmittedForReview(ctx, tenantID, userID, caseID)
	case domain.CaseStatusApproved:
		err = s.audit.CaseApproved(ctx, tenantID, userID, caseID, reason)
	case domain.CaseStatusRejected:
		err = s.audit.CaseRejected(ctx, tenantID, userID, caseID, reason)
	}
	if err != nil {
		slog.Error("audit failed", "case_id", caseID, "error", err)
	}
}
