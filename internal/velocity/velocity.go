// Package velocity counts how often a customer has been assessed recently.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultWindow is used when no window is configured.
const DefaultWindow = 30 * 24 * time.Hour

// Service counts prior assessments per customer.
//
// The repository is the source of truth. When a cache is present its
// counter absorbs the hot path: the first call in a window seeds the count
// from the repository and later calls only increment. Concurrent callers
// that find the seed missing share one repository count.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
	seeds  singleflight.Group
}

// NewService creates a velocity service. Either repo or cache may be nil,
// not both.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		window: window,
		now:    time.Now,
	}
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// PriorAssessments records one more assessment of customerID and returns
// how many came before it inside the window.
func (s *Service) PriorAssessments(ctx context.Context, tenantID, customerID string) (int, error) {
	if tenantID == "" || customerID == "" {
		return 0, fmt.Errorf("tenantID and customerID are required")
	}

	if s.cache == nil {
		if s.repo == nil {
			return 0, fmt.Errorf("no data source available")
		}
		return s.countFromRepo(ctx, tenantID, customerID)
	}

	n, err := s.cache.IncrementCounter(ctx, tenantID, counterKey(customerID), s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity counter: %w", err)
	}

	if n == 1 {
		seed, err := s.loadSeed(ctx, tenantID, customerID)
		if err != nil {
			return 0, err
		}
		if err := s.cache.Set(ctx, tenantID, seedKey(customerID), []byte(strconv.Itoa(seed)), s.window); err != nil {
			return 0, fmt.Errorf("failed to store velocity seed: %w", err)
		}
		return seed, nil
	}

	seed, ok, err := s.seed(ctx, tenantID, customerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		// The first caller of this window is still seeding.
		if seed, err = s.loadSeed(ctx, tenantID, customerID); err != nil {
			return 0, err
		}
	}
	return seed + int(n) - 1, nil
}

// loadSeed counts the customer's assessments in the repository, once per
// customer for overlapping callers.
func (s *Service) loadSeed(ctx context.Context, tenantID, customerID string) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	v, err, _ := s.seeds.Do(tenantID+"/"+customerID, func() (any, error) {
		return s.countFromRepo(ctx, tenantID, customerID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Service) seed(ctx context.Context, tenantID, customerID string) (int, bool, error) {
	raw, err := s.cache.Get(ctx, tenantID, seedKey(customerID))
	if err != nil {
		return 0, false, fmt.Errorf("failed to read velocity seed: %w", err)
	}
	if raw == nil {
		return 0, false, nil
	}
	seed, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt velocity seed %q: %w", raw, err)
	}
	return seed, true, nil
}

func (s *Service) countFromRepo(ctx context.Context, tenantID, customerID string) (int, error) {
	since := s.now().Add(-s.window)
	recs, err := s.repo.ListAssessmentsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list assessments: %w", err)
	}
	return len(recs), nil
}

func counterKey(customerID string) string { return "velocity:" + customerID }
func seedKey(customerID string) string    { return "velocity-seed:" + customerID }
