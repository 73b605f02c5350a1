package domain

import "time"

// AuditEventType names a significant action in a case's life.
type AuditEventType string

const (
	AuditCaseCreated        AuditEventType = "CASE_CREATED"
	AuditRuleEngineExecuted AuditEventType = "RULE_ENGINE_EXECUTED"
	AuditInputRejected      AuditEventType = "INPUT_REJECTED"
	AuditRiskProfileChanged AuditEventType = "RISK_PROFILE_CHANGED"
	AuditRiskProfilesReload AuditEventType = "RISK_PROFILES_RELOADED"

	// Review lifecycle.
	AuditStatusChange       AuditEventType = "STATUS_CHANGE"
	AuditSubmittedForReview AuditEventType = "SUBMITTED_FOR_REVIEW"
	AuditCaseApproved       AuditEventType = "CASE_APPROVED"
	AuditCaseRejected       AuditEventType = "CASE_REJECTED"
	AuditCaseDeleted        AuditEventType = "CASE_DELETED"
)

// AuditEvent is an immutable record that an action happened.
// Events are published on TopicAudit; storing them is a downstream concern.
type AuditEvent struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	CaseID      string         `json:"caseId,omitempty"`
	EventType   AuditEventType `json:"eventType"`
	Description string         `json:"description"`
	UserID      string         `json:"userId,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
