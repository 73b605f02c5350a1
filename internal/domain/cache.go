package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetAssessment retrieves a cached assessment record.
	// Returns nil, nil if not cached.
	GetAssessment(ctx context.Context, tenantID string, id string) (*AssessmentRecord, error)

	// SetAssessment caches an assessment record.
	SetAssessment(ctx context.Context, tenantID string, rec *AssessmentRecord, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// The counter expires after window.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // check local first, then Redis
}
