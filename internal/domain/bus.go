package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup load-balances subscribers of the same topic across
	// nodes. Empty means every subscriber sees every message.
	NATSQueueGroup string `mapstructure:"nats_queue_group"`
}

// Topics used by the assessment pipeline.
const (
	TopicCaseSubmitted = "case.submitted"
	TopicCaseAssessed  = "case.assessed"
	TopicCaseRejected  = "case.rejected"
	TopicSARRequired   = "sar.required"
	TopicAudit         = "audit"

	TopicCaseStatusChanged = "case.status_changed"
)

// CaseSubmission is the payload of TopicCaseSubmitted.
type CaseSubmission struct {
	Profile string   `json:"profile,omitempty"`
	Case    CaseData `json:"case"`
}

// CaseRejection is the payload of TopicCaseRejected.
type CaseRejection struct {
	CaseID        string `json:"case_id"`
	CustomerID    string `json:"customer_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Field         string `json:"field,omitempty"`
	Reason        string `json:"reason"`
}

// CaseStatusChange is the payload of TopicCaseStatusChanged.
type CaseStatusChange struct {
	CaseID     string    `json:"case_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	UserID     string    `json:"user_id"`
	ChangedAt  time.Time `json:"changed_at"`
}
