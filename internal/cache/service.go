package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/metrics"
)

// Service wraps a Store as an advisory cache: every store error is logged
// and reported as a miss or a no-op, never returned to the caller.
type Service struct {
	store   Store
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, ttl time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		ttl:     ttl,
		logger:  logger.With().Str("component", "cache").Logger(),
		metrics: m,
	}
}

// TTL is the expiry applied by SetJSON.
func (s *Service) TTL() time.Duration { return s.ttl }

// GetJSON decodes the value at key into dst and reports whether it was a
// hit. Undecodable values are evicted and count as a miss.
func (s *Service) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		s.metrics.CacheRequests.WithLabelValues(metrics.CacheMiss).Inc()
		return false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, falling back to store")
		s.metrics.CacheRequests.WithLabelValues(metrics.CacheError).Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		s.metrics.CacheRequests.WithLabelValues(metrics.CacheError).Inc()
		s.Del(ctx, key)
		return false
	}
	s.metrics.CacheRequests.WithLabelValues(metrics.CacheHit).Inc()
	return true
}

// SetJSON stores value under key with the service TTL.
func (s *Service) SetJSON(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cannot encode cache value")
		return
	}
	if err := s.store.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (s *Service) Del(ctx context.Context, key string) {
	if err := s.store.Del(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache del failed")
	}
}

// DelByPrefix removes every key under prefix.
func (s *Service) DelByPrefix(ctx context.Context, prefix string) {
	n, err := s.store.DelByPrefix(ctx, prefix)
	if err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Int("removed", n).Msg("cache invalidation failed")
		return
	}
	s.logger.Debug().Str("prefix", prefix).Int("removed", n).Msg("cache invalidated")
}
