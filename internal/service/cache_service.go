package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

// CacheRepository stores JSON-encoded lookups under string keys.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService fronts policy lookups. Cache failures are logged and treated as
// misses, so callers only ever see errors from their own loaders. A nil or
// disabled service never stores anything.
type CacheService struct {
	store   CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	on      bool
}

// NewCacheService constructs the cache. ttl applies to every entry (15m when unset).
func NewCacheService(store CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{store: store, metrics: metrics, ttl: ttl, logger: logger, on: enabled && store != nil}
}

func (s *CacheService) active() bool { return s != nil && s.on }

// Get decodes the entry under key into dest and reports whether it was present.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.active() {
		return false, nil
	}
	began := time.Now()
	err := s.store.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(began))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, appErrors.ErrCacheMiss) {
		return false, nil
	}
	s.logger.Warn("policy cache read failed", zap.String("key", key), zap.Error(err))
	return false, err
}

// Set stores value under key. ttl <= 0 uses the service TTL.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.active() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	began := time.Now()
	err := s.store.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(began))
	if err != nil {
		s.logger.Warn("policy cache write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate drops every entry whose key matches pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.active() {
		return nil
	}
	err := s.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		s.logger.Warn("policy cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return err
}

// remember returns the cached value under key, or runs load and caches its
// result. The boolean is true when the value came from the cache.
func remember[T any](ctx context.Context, cache *CacheService, key string, load func(context.Context) (T, error)) (T, bool, error) {
	var cached T
	if hit, _ := cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}
	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	_ = cache.Set(ctx, key, value, 0)
	return value, false, nil
}
