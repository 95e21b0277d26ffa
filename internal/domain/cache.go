package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns the new value.
	// The window starts with the first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetCounter returns the current value of a counter, 0 if absent or expired.
	GetCounter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTTL" yaml:"localTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
