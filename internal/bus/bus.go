// Package bus carries pipeline events between Kestrel components.
//
// The community tier uses in-process channels; the pro tier uses NATS.
// Subjects are always scoped by tenant.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates an event bus from configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{"content-type": "application/json"},
		Timestamp: time.Now().UnixNano(),
	}
}
