// Package audit publishes immutable audit events on the event bus.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder builds audit events and publishes them on domain.TopicAudit.
type Recorder struct {
	bus   domain.EventBus
	now   func() time.Time
	newID func() string
}

// NewRecorder creates a Recorder publishing on b.
func NewRecorder(b domain.EventBus) *Recorder {
	return &Recorder{
		bus:   b,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Record publishes one event. ID and Timestamp are filled in when empty;
// the event is returned as published.
func (r *Recorder) Record(ctx context.Context, e domain.AuditEvent) (domain.AuditEvent, error) {
	if e.TenantID == "" {
		return e, fmt.Errorf("audit event %s: tenantID is required", e.EventType)
	}
	if e.EventType == "" {
		return e, fmt.Errorf("audit event type is required")
	}
	if e.ID == "" {
		e.ID = r.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}

	if err := bus.PublishJSON(ctx, r.bus, e.TenantID, domain.TopicAudit, e); err != nil {
		return e, fmt.Errorf("failed to publish audit event %s: %w", e.EventType, err)
	}
	return e, nil
}

// RuleEngineExecuted records that a case was scored.
func (r *Recorder) RuleEngineExecuted(ctx context.Context, tenantID string, a *domain.Assessment, d domain.Decision) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:  tenantID,
		CaseID:    a.CaseID,
		EventType: domain.AuditRuleEngineExecuted,
		Description: fmt.Sprintf("Risk score %d (%s) under profile %s %s",
			a.AggregatedRiskScore, a.RiskLevel, a.Profile, a.RuleEngineVersion),
		Detail: map[string]any{
			"profile":         a.Profile,
			"version":         a.RuleEngineVersion,
			"score":           a.AggregatedRiskScore,
			"risk_level":      a.RiskLevel,
			"triggered_rules": len(a.TriggeredRules),
			"typology_tags":   a.TypologyTags,
			"status":          d.Status,
			"requires_sar":    d.RequiresSAR,
		},
	})
	return err
}

// CaseCreated records that a case was opened for SAR filing.
func (r *Recorder) CaseCreated(ctx context.Context, tenantID, caseID, customerID string) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditCaseCreated,
		Description: "SAR case created for customer " + customerID,
		Detail:      map[string]any{"customer_id": customerID},
	})
	return err
}

// InputRejected records a case the evaluator refused to score.
func (r *Recorder) InputRejected(ctx context.Context, tenantID, caseID string, cause error) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditInputRejected,
		Description: cause.Error(),
	})
	return err
}

// StatusChanged records a reviewer moving a case between lifecycle statuses.
func (r *Recorder) StatusChanged(ctx context.Context, tenantID, userID, caseID, from, to, reason string) error {
	detail := map[string]any{"old_status": from, "new_status": to}
	if reason != "" {
		detail["reason"] = reason
	}
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditStatusChange,
		UserID:      userID,
		Description: fmt.Sprintf("Status changed from %s to %s", from, to),
		Detail:      detail,
	})
	return err
}

// SubmittedForReview records a case entering review.
func (r *Recorder) SubmittedForReview(ctx context.Context, tenantID, userID, caseID string) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditSubmittedForReview,
		UserID:      userID,
		Description: "SAR submitted for review",
	})
	return err
}

// CaseApproved records a reviewer approving a case.
func (r *Recorder) CaseApproved(ctx context.Context, tenantID, userID, caseID, comments string) error {
	e := domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditCaseApproved,
		UserID:      userID,
		Description: "SAR approved",
	}
	if comments != "" {
		e.Description = "SAR approved: " + comments
		e.Detail = map[string]any{"comments": comments}
	}
	_, err := r.Record(ctx, e)
	return err
}

// CaseRejected records a reviewer rejecting a case. A reason is required.
func (r *Recorder) CaseRejected(ctx context.Context, tenantID, userID, caseID, reason string) error {
	if reason == "" {
		return fmt.Errorf("audit event %s: rejection reason is required", domain.AuditCaseRejected)
	}
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditCaseRejected,
		UserID:      userID,
		Description: "SAR rejected: " + reason,
		Detail:      map[string]any{"rejection_reason": reason},
	})
	return err
}

// CaseDeleted records a case being soft-deleted.
func (r *Recorder) CaseDeleted(ctx context.Context, tenantID, userID, caseID string) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		CaseID:      caseID,
		EventType:   domain.AuditCaseDeleted,
		UserID:      userID,
		Description: "Case deleted",
	})
	return err
}

// ProfileChanged records a stored risk profile being saved or deleted.
func (r *Recorder) ProfileChanged(ctx context.Context, tenantID, userID, name, action string) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		EventType:   domain.AuditRiskProfileChanged,
		UserID:      userID,
		Description: fmt.Sprintf("Risk profile %s %s", name, action),
		Detail:      map[string]any{"profile": name, "action": action},
	})
	return err
}

// ProfilesReloaded records a registry reload.
func (r *Recorder) ProfilesReloaded(ctx context.Context, tenantID string, names []string) error {
	_, err := r.Record(ctx, domain.AuditEvent{
		TenantID:    tenantID,
		EventType:   domain.AuditRiskProfilesReload,
		Description: fmt.Sprintf("Risk profile registry reloaded with %d profiles", len(names)),
		Detail:      map[string]any{"profiles": names},
	})
	return err
}
