package velocity

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func saveAssessments(t *testing.T, repo domain.Repository, tenantID, customerID string, ages ...time.Duration) {
	t.Helper()
	for i, age := range ages {
		rec := &domain.AssessmentRecord{
			ID:         fmt.Sprintf("%s-asm-%d", customerID, i),
			CaseID:     fmt.Sprintf("case-%d", i),
			CustomerID: customerID,
			CreatedAt:  time.Now().Add(-age),
		}
		if err := repo.SaveAssessment(context.Background(), tenantID, rec); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}
	}
}

func TestPriorAssessments_RepositoryOnly(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	svc := NewService(repo, nil, 24*time.Hour)

	count, err := svc.PriorAssessments(ctx, "tenant-001", "CUST-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 for empty database, got %d", count)
	}

	// Two inside the window, one outside it.
	saveAssessments(t, repo, "tenant-001", "CUST-1", time.Hour, 2*time.Hour, 48*time.Hour)

	count, err = svc.PriorAssessments(ctx, "tenant-001", "CUST-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 prior assessments, got %d", count)
	}

	count, _ = svc.PriorAssessments(ctx, "tenant-002", "CUST-1")
	if count != 0 {
		t.Errorf("expected tenant isolation, got %d", count)
	}
}

func TestPriorAssessments_CacheSeededFromRepository(t *testing.T) {
	repo := newRepo(t)
	lru := cache.NewLRUCache(100)
	defer lru.Close()
	ctx := context.Background()

	saveAssessments(t, repo, "tenant-001", "CUST-1", time.Hour, 3*time.Hour)
	svc := NewService(repo, lru, 0)

	if svc.Window() != DefaultWindow {
		t.Errorf("expected default window, got %v", svc.Window())
	}

	for i, want := range []int{2, 3, 4} {
		got, err := svc.PriorAssessments(ctx, "tenant-001", "CUST-1")
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Errorf("call %d: expected %d, got %d", i, want, got)
		}
	}

	got, err := svc.PriorAssessments(ctx, "tenant-001", "CUST-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 for a new customer, got %d", got)
	}
}

func TestPriorAssessments_CacheOnly(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()
	svc := NewService(nil, lru, time.Hour)
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		got, err := svc.PriorAssessments(ctx, "tenant-001", "CUST-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestPriorAssessments_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewService(nil, nil, time.Hour).PriorAssessments(ctx, "t", "c"); err == nil {
		t.Error("expected error with no data source")
	}

	svc := NewService(nil, cache.NewLRUCache(10), time.Hour)
	if _, err := svc.PriorAssessments(ctx, "", "c"); err == nil {
		t.Error("expected error for empty tenantID")
	}
	if _, err := svc.PriorAssessments(ctx, "t", ""); err == nil {
		t.Error("expected error for empty customerID")
	}
}

// gatedRepo holds ListAssessmentsByCustomer until release is closed.
type gatedRepo struct {
	domain.Repository
	prior   int
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedRepo) ListAssessmentsByCustomer(ctx context.Context, tenantID, customerID string, since time.Time) ([]*domain.AssessmentRecord, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return make([]*domain.AssessmentRecord, g.prior), nil
}

func TestPriorAssessments_ConcurrentSeeding(t *testing.T) {
	repo := &gatedRepo{prior: 5, entered: make(chan struct{}), release: make(chan struct{})}
	lru := cache.NewLRUCache(100)
	defer lru.Close()
	svc := NewService(repo, lru, time.Hour)
	ctx := context.Background()

	results := make(chan int, 2)
	call := func() {
		n, err := svc.PriorAssessments(ctx, "tenant-001", "CUST-1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		results <- n
	}

	go call()
	<-repo.entered
	go call()

	// Let the second caller reach the missing seed before the repository answers.
	time.Sleep(20 * time.Millisecond)
	close(repo.release)

	got := map[int]bool{<-results: true, <-results: true}
	if !got[5] || !got[6] {
		t.Errorf("expected concurrent callers to see 5 and 6, got %v", got)
	}

	third, err := svc.PriorAssessments(ctx, "tenant-001", "CUST-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != 7 {
		t.Errorf("expected 7 on the third call, got %d", third)
	}
}
