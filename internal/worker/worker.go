// Package worker assesses cases submitted on the event bus (Pro tier).
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// GlobalTenant is subscribed to when no tenants are configured.
const GlobalTenant = "_global"

// Assessor is the part of the pipeline the worker drives.
type Assessor interface {
	Assess(ctx context.Context, tenantID, profileName string, c *domain.CaseData) (*pipeline.Result, error)
}

// Worker consumes TopicCaseSubmitted and runs each case through the pipeline.
type Worker struct {
	bus      domain.EventBus
	assessor Assessor
	timeout  time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe for. Empty subscribes GlobalTenant only.
	TenantIDs []string

	// Concurrency bounds in-flight assessments across all tenants.
	Concurrency int

	// Timeout bounds one assessment. Zero means no limit.
	Timeout time.Duration
}

// NewWorker creates a worker. Nothing is consumed until Start.
func NewWorker(bus domain.EventBus, assessor Assessor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		assessor: assessor,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes for the configured tenants. A tenant that fails to
// subscribe is logged and skipped.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	w.mu.Lock()
	w.sem = make(chan struct{}, cfg.Concurrency)
	w.timeout = cfg.Timeout
	w.mu.Unlock()

	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribe(GlobalTenant); err != nil {
			return err
		}
		slog.Info("global worker started", "concurrency", cfg.Concurrency)
		return nil
	}

	var started int
	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return errors.New("no tenant worker could be started")
	}

	slog.Info("workers started",
		"tenant_count", started,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCaseSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", tenantID, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCaseSubmitted,
	)
	return nil
}

// handleMessage blocks while the pool is full, which pushes back on the bus.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var sub domain.CaseSubmission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse case submission",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("worker stopped")
	}
	w.wg.Add(1)
	w.mu.Unlock()

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		w.wg.Done()
		return ctx.Err()
	}

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(msg, &sub)
	}()
	return nil
}

func (w *Worker) process(msg *domain.Message, sub *domain.CaseSubmission) {
	ctx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, err := w.assessor.Assess(ctx, msg.TenantID, sub.Profile, &sub.Case)
	if err != nil {
		w.failed.Add(1)
		// The pipeline already published case.rejected for malformed input.
		slog.Error("case assessment failed",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"case_id", sub.Case.CaseID,
			"error", err,
		)
		return
	}

	w.processed.Add(1)
	slog.Debug("case processed",
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
		"case_id", sub.Case.CaseID,
		"assessment_id", res.AssessmentID,
	)
}

// Stop unsubscribes and waits for in-flight assessments.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return errors.Join(errs...)
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
