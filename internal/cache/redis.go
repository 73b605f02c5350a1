package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// keyPrefix namespaces every Kestrel key in a shared Redis.
const keyPrefix = "kestrel:"

// incrWithExpiry starts the window on the first increment only, so later
// increments do not extend it.
var incrWithExpiry = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache is the pro tier cache.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

// Get returns nil, nil when key is absent.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores value with a TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetAssessment returns a cached assessment record.
func (c *RedisCache) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.AssessmentRecord, error) {
	return loadAssessment(ctx, c, tenantID, id)
}

// SetAssessment caches an assessment record.
func (c *RedisCache) SetAssessment(ctx context.Context, tenantID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	return storeAssessment(ctx, c, tenantID, rec, ttl)
}

// IncrementCounter runs INCR and sets the expiry on the first increment.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := redisKey(tenantID, "counter:"+key)
	n, err := incrWithExpiry.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return n, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(tenantID, key string) string {
	return keyPrefix + makeKey(tenantID, key)
}
