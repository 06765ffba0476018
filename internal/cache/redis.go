package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// OpTimeout bounds every command so an unreachable server degrades to
	// an error instead of a hang.
	OpTimeout time.Duration
}

// RedisStore is a Store backed by Redis.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore creates a store. The connection is lazy: an unreachable
// server surfaces as errors on individual operations.
func NewRedisStore(opts RedisOptions) *RedisStore {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.OpTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
		MaxRetries:   1,
	})
	return &RedisStore{client: client, timeout: opts.OpTimeout}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DelByPrefix collects every match with SCAN, then deletes them in batches.
// Deleting only after the scan completes keeps the cursor stable. Keys
// written concurrently with the scan may survive.
func (s *RedisStore) DelByPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pattern := escapeGlob(prefix) + "*"
	var (
		cursor  uint64
		matched []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		matched = append(matched, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}

	removed := 0
	for start := 0; start < len(matched); start += scanBatch {
		end := min(start+scanBatch, len(matched))
		n, err := s.client.Del(ctx, matched[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del %d keys: %w", end-start, err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
