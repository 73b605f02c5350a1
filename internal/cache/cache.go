// Package cache holds assessment lookups and velocity counters.
//
// The community tier runs an in-process LRU. The pro tier runs Redis,
// optionally fronted by the LRU as a short-lived first level.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a cache from configuration.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func assessmentKey(id string) string {
	return "assessment:" + id
}

// getter and setter are the byte-level halves every backend shares; the
// assessment helpers below sit on top of them.
type getter interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
}

type setter interface {
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func loadAssessment(ctx context.Context, g getter, tenantID, id string) (*domain.AssessmentRecord, error) {
	data, err := g.Get(ctx, tenantID, assessmentKey(id))
	if err != nil || data == nil {
		return nil, err
	}

	var rec domain.AssessmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached assessment %s: %w", id, err)
	}
	return &rec, nil
}

func storeAssessment(ctx context.Context, s setter, tenantID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("assessment id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode assessment %s: %w", rec.ID, err)
	}
	return s.Set(ctx, tenantID, assessmentKey(rec.ID), data, ttl)
}

// TwoPhaseCache reads the local LRU before Redis.
// Counters always go to Redis so every node sees the same count.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get retrieves from L1 first, then L2. An L2 hit is copied into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both levels. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both levels.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetAssessment retrieves a cached assessment from either level.
func (c *TwoPhaseCache) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.AssessmentRecord, error) {
	return loadAssessment(ctx, c, tenantID, id)
}

// SetAssessment caches an assessment in both levels.
func (c *TwoPhaseCache) SetAssessment(ctx context.Context, tenantID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	return storeAssessment(ctx, c, tenantID, rec, ttl)
}

// IncrementCounter counts in Redis only.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both levels.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both levels.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
