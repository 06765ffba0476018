// Package cache provides the key-value stores behind the task list cache.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a key-value store with per-key TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// DelByPrefix removes every key starting with prefix and reports how
	// many were removed.
	DelByPrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}
