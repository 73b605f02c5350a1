// Package pipeline runs a case through scoring, policy and persistence.
//
// The evaluator itself is pure; everything with side effects around it
// lives here: profile resolution, the SAR decision, storage, caching,
// events, audit, metrics and tracing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Error kinds reported on the assessment_errors_total metric.
const (
	kindProfile   = "profile"
	kindMalformed = "malformed"
	kindStorage   = "storage"
	kindInternal  = "internal"
)

// DefaultCacheTTL is how long assessments stay in the read cache.
const DefaultCacheTTL = 15 * time.Minute

// Deps are the collaborators of a Service. Registry and Policy are
// required; the rest are optional and skipped when nil.
type Deps struct {
	Registry *profile.Registry
	Policy   *policy.Processor
	Velocity *velocity.Service
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Metrics  *telemetry.Metrics

	// ProfileDir holds YAML profiles merged in on reload.
	ProfileDir string
}

// Options tunes a Service.
type Options struct {
	// Concurrency bounds AssessBatch. Zero means 8.
	Concurrency int
	CacheTTL    time.Duration
}

// Service assesses cases. It is safe for concurrent use.
type Service struct {
	registry   *profile.Registry
	policy     *policy.Processor
	velocity   *velocity.Service
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	audit      *audit.Recorder
	metrics    *telemetry.Metrics
	profileDir string

	concurrency int
	cacheTTL    time.Duration
	tracer      trace.Tracer
	now         func() time.Time
	newID       func() string
}

// Result is the outcome of one assessment.
type Result struct {
	AssessmentID     string             `json:"assessment_id"`
	Assessment       *domain.Assessment `json:"assessment"`
	Decision         domain.Decision    `json:"decision"`
	PriorAssessments int                `json:"prior_assessments"`
	TraceID          string             `json:"trace_id,omitempty"`
	TotalMs          int64              `json:"total_ms"`
}

// New creates a Service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Registry == nil {
		return nil, errors.New("pipeline: profile registry is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("pipeline: policy processor is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	s := &Service{
		registry:    deps.Registry,
		policy:      deps.Policy,
		velocity:    deps.Velocity,
		repo:        deps.Repo,
		cache:       deps.Cache,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		profileDir:  deps.ProfileDir,
		concurrency: opts.Concurrency,
		cacheTTL:    opts.CacheTTL,
		tracer:      telemetry.Tracer("pipeline"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if deps.Bus != nil {
		s.audit = audit.NewRecorder(deps.Bus)
	}
	return s, nil
}

// Registry returns the profile registry the service resolves against.
func (s *Service) Registry() *profile.Registry {
	return s.registry
}

// Assess scores c under the named profile, or under the profile matching
// the currency of its first transaction, or under the default profile.
//
// A *domain.MalformedInputError rejects the case: nothing is stored and a
// case.rejected event is published. Storage failures fail the assessment;
// cache and bus failures are logged and do not.
func (s *Service) Assess(ctx context.Context, tenantID, profileName string, c *domain.CaseData) (res *Result, err error) {
	start := s.now()

	ctx, span := s.tracer.Start(ctx, "pipeline.Assess", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("profile.requested", profileName),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", repository.ErrInvalidInput)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: case data is required", repository.ErrInvalidInput)
	}
	span.SetAttributes(attribute.String("case.id", c.CaseID))

	currency := ""
	if len(c.Transactions) > 0 {
		currency = c.Transactions[0].Currency
	}
	ev, err := s.registry.Resolve(profileName, currency)
	if err != nil {
		s.countError(profileName, kindProfile)
		return nil, fmt.Errorf("failed to resolve profile for case %s: %w", c.CaseID, err)
	}
	p := ev.Profile()
	span.SetAttributes(attribute.String("profile.name", p.Name))

	a, err := ev.Evaluate(c)
	if err != nil {
		var mie *domain.MalformedInputError
		if errors.As(err, &mie) {
			s.countError(p.Name, kindMalformed)
			s.reject(ctx, tenantID, c, mie)
			return nil, err
		}
		s.countError(p.Name, kindInternal)
		return nil, fmt.Errorf("failed to evaluate case %s: %w", c.CaseID, err)
	}

	prior := s.priorAssessments(ctx, tenantID, c.Customer.ID)
	decision := s.policy.Decide(a, prior)

	traceID := telemetry.TraceID(ctx)
	rec := &domain.AssessmentRecord{
		ID:         s.newID(),
		TenantID:   tenantID,
		CaseID:     c.CaseID,
		CustomerID: c.Customer.ID,
		Assessment: *a,
		Decision:   decision,
		TraceID:    traceID,
		TotalMs:    s.now().Sub(start).Milliseconds(),
		CreatedAt:  s.now().UTC(),
	}

	if err := s.persist(ctx, tenantID, p.Name, c, rec); err != nil {
		s.countError(p.Name, kindStorage)
		return nil, err
	}

	res = &Result{
		AssessmentID:     rec.ID,
		Assessment:       a,
		Decision:         decision,
		PriorAssessments: prior,
		TraceID:          traceID,
		TotalMs:          rec.TotalMs,
	}
	s.announce(ctx, tenantID, rec, res)

	elapsed := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.Assessments.WithLabelValues(p.Name, string(a.RiskLevel), decision.Status).Inc()
		s.metrics.AssessmentDuration.WithLabelValues(p.Name).Observe(elapsed.Seconds())
		s.metrics.RiskScores.WithLabelValues(p.Name).Observe(float64(a.AggregatedRiskScore))
		if decision.RequiresSAR {
			s.metrics.SARRequired.WithLabelValues(p.Name).Inc()
		}
	}

	span.SetAttributes(
		attribute.Int("risk.score", a.AggregatedRiskScore),
		attribute.String("risk.level", string(a.RiskLevel)),
		attribute.Bool("sar.required", decision.RequiresSAR),
	)

	slog.Info("case assessed",
		"tenant_id", tenantID,
		"case_id", c.CaseID,
		"assessment_id", rec.ID,
		"profile", p.Name,
		"score", a.AggregatedRiskScore,
		"risk_level", a.RiskLevel,
		"status", decision.Status,
		"prior_assessments", prior,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

// BatchItem is one entry of an AssessBatch result, in input order.
type BatchItem struct {
	CaseID string
	Result *Result
	Err    error
}

// AssessBatch assesses cases concurrently, at most Options.Concurrency at a
// time. One failing case does not stop the others. Cases not started
// before ctx ends fail with ctx.Err().
func (s *Service) AssessBatch(ctx context.Context, tenantID, profileName string, cases []*domain.CaseData) []BatchItem {
	out := make([]BatchItem, len(cases))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, c := range cases {
		if c != nil {
			out[i].CaseID = c.CaseID
		}

		select {
		case <-ctx.Done():
			out[i].Err = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, c *domain.CaseData) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i].Result, out[i].Err = s.Assess(ctx, tenantID, profileName, c)
		}(i, c)
	}

	wg.Wait()
	return out
}

// GetAssessment returns a stored assessment, from the cache when possible.
func (s *Service) GetAssessment(ctx context.Context, tenantID, id string) (*domain.AssessmentRecord, error) {
	if s.cache != nil {
		rec, err := s.cache.GetAssessment(ctx, tenantID, id)
		if err != nil {
			slog.Warn("assessment cache read failed", "assessment_id", id, "error", err)
		} else if rec != nil {
			return rec, nil
		}
	}
	if s.repo == nil {
		return nil, errors.New("repository not available")
	}

	rec, err := s.repo.GetAssessment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetAssessment(ctx, tenantID, rec, s.cacheTTL)
	}
	return rec, nil
}

// GetCase returns a stored case.
func (s *Service) GetCase(ctx context.Context, tenantID, caseID string) (*domain.CaseRecord, error) {
	if s.repo == nil {
		return nil, errors.New("repository not available")
	}
	return s.repo.GetCase(ctx, tenantID, caseID)
}

// Ping checks every configured backend.
func (s *Service) Ping(ctx context.Context) error {
	var errs []error
	if s.repo != nil {
		if err := s.repo.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("repository: %w", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if s.bus != nil {
		if err := s.bus.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) priorAssessments(ctx context.Context, tenantID, customerID string) int {
	if s.velocity == nil || customerID == "" {
		return 0
	}
	n, err := s.velocity.PriorAssessments(ctx, tenantID, customerID)
	if err != nil {
		// The decision falls back to the base threshold.
		slog.Warn("velocity lookup failed",
			"tenant_id", tenantID,
			"customer_id", customerID,
			"error", err,
		)
		return 0
	}
	return n
}

func (s *Service) persist(ctx context.Context, tenantID, profileName string, c *domain.CaseData, rec *domain.AssessmentRecord) error {
	if s.repo == nil {
		return nil
	}

	status := domain.CaseStatusAssessed
	if rec.Decision.RequiresSAR {
		status = domain.CaseStatusDraftReady
	}
	caseRec := &domain.CaseRecord{
		Status:    status,
		Profile:   profileName,
		Data:      *c,
		CreatedAt: rec.CreatedAt,
	}
	if err := s.repo.SaveCase(ctx, tenantID, caseRec); err != nil {
		return fmt.Errorf("failed to save case %s: %w", c.CaseID, err)
	}
	if err := s.repo.SaveAssessment(ctx, tenantID, rec); err != nil {
		return fmt.Errorf("failed to save assessment for case %s: %w", c.CaseID, err)
	}

	if s.cache != nil {
		if err := s.cache.SetAssessment(ctx, tenantID, rec, s.cacheTTL); err != nil {
			slog.Warn("failed to cache assessment", "assessment_id", rec.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) announce(ctx context.Context, tenantID string, rec *domain.AssessmentRecord, res *Result) {
	if s.bus == nil {
		return
	}

	s.publish(ctx, tenantID, domain.TopicCaseAssessed, res)
	if rec.Decision.RequiresSAR {
		s.publish(ctx, tenantID, domain.TopicSARRequired, res)
	}

	if err := s.audit.RuleEngineExecuted(ctx, tenantID, &rec.Assessment, rec.Decision); err != nil {
		slog.Error("audit failed", "case_id", rec.CaseID, "error", err)
	}
	if rec.Decision.RequiresSAR {
		if err := s.audit.CaseCreated(ctx, tenantID, rec.CaseID, rec.CustomerID); err != nil {
			slog.Error("audit failed", "case_id", rec.CaseID, "error", err)
		}
	}
}

func (s *Service) reject(ctx context.Context, tenantID string, c *domain.CaseData, mie *domain.MalformedInputError) {
	slog.Warn("case rejected",
		"tenant_id", tenantID,
		"case_id", c.CaseID,
		"transaction_id", mie.TransactionID,
		"field", mie.Field,
		"reason", mie.Reason,
	)
	if s.bus == nil {
		return
	}

	s.publish(ctx, tenantID, domain.TopicCaseRejected, domain.CaseRejection{
		CaseID:        c.CaseID,
		CustomerID:    c.Customer.ID,
		TransactionID: mie.TransactionID,
		Field:         mie.Field,
		Reason:        mie.Reason,
	})
	if err := s.audit.InputRejected(ctx, tenantID, c.CaseID, mie); err != nil {
		slog.Error("audit failed", "case_id", c.CaseID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, v any) {
	err := bus.PublishJSON(ctx, s.bus, tenantID, topic, v)
	if s.metrics != nil {
		s.metrics.ObservePublish(topic, err)
	}
	if err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func (s *Service) countError(profileName, kind string) {
	if s.metrics == nil {
		return
	}
	if profileName == "" {
		profileName = "unresolved"
	}
	s.metrics.AssessmentErrors.WithLabelValues(profileName, kind).Inc()
}
