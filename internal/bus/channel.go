package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChannelBus is the in-process event bus.
//
// Each subscription owns a buffered channel drained by one goroutine.
// Publish never blocks: a message for a full subscriber is dropped and
// counted.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
	dropped       atomic.Int64
}

type channelSubscription struct {
	id       string
	key      string
	topic    string
	bus      *ChannelBus
	handler  domain.MessageHandler
	msgCh    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

var _ domain.EventBus = (*ChannelBus)(nil)

// NewChannelBus creates a channel bus. A non-positive bufferSize means 1000.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers payload to every current subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := newMessage(tenantID, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, sub := range b.subscriptions[makeKey(tenantID, topic)] {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber buffer full",
				"topic", topic,
				"tenant_id", tenantID,
				"subscription", sub.id,
			)
		}
	}
	return nil
}

// Subscribe starts delivering the tenant's topic to handler until the
// subscription, ctx or the bus ends.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.NewString(),
		key:     makeKey(tenantID, topic),
		topic:   topic,
		bus:     b,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subscriptions[sub.key] = append(b.subscriptions[sub.key], sub)

	go sub.run()
	return sub, nil
}

// Dropped returns how many messages were dropped on full buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Messages still buffered are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.key]
	for i, s := range subs {
		if s == sub {
			b.subscriptions[sub.key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[sub.key]) == 0 {
		delete(b.subscriptions, sub.key)
	}
}

func makeKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("event handler failed",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *channelSubscription) Unsubscribe() error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.bus.remove(s)
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
