package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClockedLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache, clock := newClockedLRU(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Errorf("deleting a missing key failed: %v", err)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Second)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.advance(11 * time.Second)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-a", "shared", []byte("a"), time.Minute)
		_ = cache.Set(ctx, "tenant-b", "shared", []byte("b"), time.Minute)

		a, _ := cache.Get(ctx, "tenant-a", "shared")
		b, _ := cache.Get(ctx, "tenant-b", "shared")
		if string(a) != "a" || string(b) != "b" {
			t.Errorf("tenants leaked into each other: a=%q b=%q", a, b)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID on Get")
		}
		if err := cache.Set(ctx, "", "key", []byte("v"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID on Set")
		}
		if _, err := cache.IncrementCounter(ctx, "", "key", time.Minute); err == nil {
			t.Error("expected error for empty tenantID on IncrementCounter")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			n, err := cache.IncrementCounter(ctx, tenantID, "velocity:CUST-1", time.Hour)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if n != want {
				t.Errorf("expected %d, got %d", want, n)
			}
		}

		clock.advance(2 * time.Hour)

		n, _ := cache.IncrementCounter(ctx, tenantID, "velocity:CUST-1", time.Hour)
		if n != 1 {
			t.Errorf("expected counter to restart after window, got %d", n)
		}
	})

	t.Run("AssessmentCache", func(t *testing.T) {
		rec := &domain.AssessmentRecord{
			ID:         "asm-1",
			CaseID:     "SAR-2025-000001-abcdef12",
			CustomerID: "CUST-1",
			Assessment: domain.Assessment{AggregatedRiskScore: 72, RiskLevel: domain.RiskLevelHigh},
			Decision:   domain.Decision{Status: domain.StatusAlert, RequiresSAR: true},
		}
		if err := cache.SetAssessment(ctx, tenantID, rec, time.Minute); err != nil {
			t.Fatalf("SetAssessment failed: %v", err)
		}

		got, err := cache.GetAssessment(ctx, tenantID, "asm-1")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got == nil || got.Assessment.AggregatedRiskScore != 72 || !got.Decision.RequiresSAR {
			t.Errorf("unexpected cached assessment: %+v", got)
		}

		missing, err := cache.GetAssessment(ctx, tenantID, "asm-404")
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil on miss; got %v, %v", missing, err)
		}

		if err := cache.SetAssessment(ctx, tenantID, &domain.AssessmentRecord{}, time.Minute); err == nil {
			t.Error("expected error caching an assessment without an id")
		}
	})

	t.Run("CorruptAssessment", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, assessmentKey("bad"), []byte("{not json"), time.Minute)
		if _, err := cache.GetAssessment(ctx, tenantID, "bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "before-close", []byte("x"), time.Minute)
		if err := cache.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if size, _ := cache.Stats(); size != 0 {
			t.Errorf("expected empty cache after Close, got %d entries", size)
		}
	})
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	cache, _ := newClockedLRU(3)

	_ = cache.Set(ctx, "t", "a", []byte("1"), time.Minute)
	_ = cache.Set(ctx, "t", "b", []byte("2"), time.Minute)
	_ = cache.Set(ctx, "t", "c", []byte("3"), time.Minute)

	// Touch "a" so "b" becomes least recently used.
	_, _ = cache.Get(ctx, "t", "a")
	_ = cache.Set(ctx, "t", "d", []byte("4"), time.Minute)

	if val, _ := cache.Get(ctx, "t", "b"); val != nil {
		t.Error("expected 'b' to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if val, _ := cache.Get(ctx, "t", k); val == nil {
			t.Errorf("expected %q to survive eviction", k)
		}
	}

	size, capacity := cache.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("Stats() = %d, %d; want 3, 3", size, capacity)
	}
}

func TestCounterSweep(t *testing.T) {
	ctx := context.Background()
	cache, clock := newClockedLRU(10)

	for i := 0; i < counterSweepSize; i++ {
		_, _ = cache.IncrementCounter(ctx, "t", fmt.Sprintf("k%d", i), time.Minute)
	}
	clock.advance(2 * time.Minute)
	_, _ = cache.IncrementCounter(ctx, "t", "fresh", time.Minute)

	if n := len(cache.counters); n != 1 {
		t.Errorf("expected expired counters to be swept, %d remain", n)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		lru, ok := c.(*LRUCache)
		if !ok {
			t.Fatalf("expected *LRUCache, got %T", c)
		}
		if _, capacity := lru.Stats(); capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("DefaultSize", func(t *testing.T) {
		if _, capacity := NewLRUCache(0).Stats(); capacity != 10000 {
			t.Errorf("expected default capacity 10000, got %d", capacity)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("tenant-1", assessmentKey("asm-9")); got != "kestrel:tenant-1:assessment:asm-9" {
		t.Errorf("redisKey = %q", got)
	}
}
