// Package cache provides the two-tier genetic result cache: an in-memory
// expirable LRU in front of an optional Redis tier guarded by a circuit breaker.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/badal-health/risk-server/internal/domain"
)

const keyPrefix = "badal:genetic:"

// Stats represents cache performance statistics
type Stats struct {
	MemoryHits   int64 `json:"memory_hits"`
	MemoryMisses int64 `json:"memory_misses"`
	RedisHits    int64 `json:"redis_hits"`
	RedisMisses  int64 `json:"redis_misses"`
	RedisErrors  int64 `json:"redis_errors"`
}

// TieredCache implements domain.ResultCache. Redis failures degrade to a
// cache miss and never surface to the caller.
type TieredCache struct {
	memory  *expirable.LRU[string, domain.GeneticAssessment]
	redis   *RedisTier
	ttl     time.Duration
	logger  *logrus.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	rHits   atomic.Int64
	rMisses atomic.Int64
	rErrors atomic.Int64
}

// NewTieredCache creates a cache. redisTier may be nil for memory-only mode.
func NewTieredCache(cfg domain.CacheConfig, redisTier *RedisTier, logger *logrus.Logger) *TieredCache {
	size := cfg.MaxItems
	if size <= 0 {
		size = 1000
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &TieredCache{
		memory: expirable.NewLRU[string, domain.GeneticAssessment](size, nil, ttl),
		redis:  redisTier,
		ttl:    ttl,
		logger: logger,
	}
}

// GetAssessment looks the key up in memory, then in Redis.
func (c *TieredCache) GetAssessment(ctx context.Context, key string) (*domain.GeneticAssessment, bool) {
	if a, ok := c.memory.Get(key); ok {
		c.hits.Add(1)
		return cloneAssessment(&a), true
	}
	c.misses.Add(1)

	if c.redis == nil {
		return nil, false
	}

	a, found, err := c.redis.Get(ctx, key)
	if err != nil {
		c.rErrors.Add(1)
		c.logger.WithError(err).WithField("cache_tier", "redis").Warn("Cache lookup failed, recomputing")
		return nil, false
	}
	if !found {
		c.rMisses.Add(1)
		return nil, false
	}

	c.rHits.Add(1)
	c.memory.Add(key, *a)
	return cloneAssessment(a), true
}

// SetAssessment stores the assessment in both tiers.
func (c *TieredCache) SetAssessment(ctx context.Context, key string, a *domain.GeneticAssessment) {
	if a == nil {
		return
	}
	c.memory.Add(key, *cloneAssessment(a))

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, key, a, c.ttl); err != nil {
		c.rErrors.Add(1)
		c.logger.WithError(err).WithField("cache_tier", "redis").Warn("Cache store failed")
	}
}

// Len returns the number of entries held in memory.
func (c *TieredCache) Len() int {
	return c.memory.Len()
}

// Stats returns a snapshot of the hit and miss counters.
func (c *TieredCache) Stats() Stats {
	return Stats{
		MemoryHits:   c.hits.Load(),
		MemoryMisses: c.misses.Load(),
		RedisHits:    c.rHits.Load(),
		RedisMisses:  c.rMisses.Load(),
		RedisErrors:  c.rErrors.Load(),
	}
}

// Close releases the Redis connection, if any.
func (c *TieredCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// Key builds the cache key for content hashed under a rule table fingerprint.
// The file extension is part of the key because it selects how the content
// is parsed, and whether it is accepted at all.
func Key(fingerprint, extension, contentHash string) string {
	return fingerprint + ":" + strings.ToLower(extension) + ":" + contentHash
}

func cloneAssessment(a *domain.GeneticAssessment) *domain.GeneticAssessment {
	out := *a
	out.Findings = append([]string(nil), a.Findings...)
	out.Recommendations = append([]string(nil), a.Recommendations...)
	return &out
}

// RedisTier wraps a Redis client behind a circuit breaker.
type RedisTier struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRedisTier connects to Redis using the configured URL.
func NewRedisTier(cfg domain.CacheConfig, logger *logrus.Logger) (*RedisTier, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisTierWithClient(client, logger), nil
}

// NewRedisTierWithClient wraps an existing client.
func NewRedisTierWithClient(client *redis.Client, logger *logrus.Logger) *RedisTier {
	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &RedisTier{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Get returns the cached assessment. A missing key is not an error.
func (r *RedisTier) Get(ctx context.Context, key string) (*domain.GeneticAssessment, bool, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, nil
	}

	var a domain.GeneticAssessment
	if err := json.Unmarshal(result.([]byte), &a); err != nil {
		// corrupt entry, drop it
		r.client.Del(ctx, keyPrefix+key)
		return nil, false, nil
	}
	return &a, true, nil
}

// Set stores the assessment with the given TTL.
func (r *RedisTier) Set(ctx context.Context, key string, a *domain.GeneticAssessment, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, keyPrefix+key, data, ttl).Err()
	})
	return err
}

// State reports the breaker state.
func (r *RedisTier) State() gobreaker.State {
	return r.breaker.State()
}

// Close closes the Redis client.
func (r *RedisTier) Close() error {
	return r.client.Close()
}
