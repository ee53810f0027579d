// Package flags provides feature flag evaluation and management.
package flags

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// ErrFlagNotFound is returned when a flag does not exist.
var ErrFlagNotFound = errors.New("flag not found")

// DefaultCacheTTL bounds how stale a cached flag can be.
const DefaultCacheTTL = 30 * time.Second

type cachedFlag struct {
	flag    *models.FeatureFlag
	fetched time.Time
}

// Service evaluates and manages feature flags. Evaluation is
// deterministic: the same flag, subject, and environment always yield
// the same answer until the flag definition changes.
type Service struct {
	store       store.Store
	environment string
	cacheTTL    time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedFlag
}

// NewService creates a new flag service scoped to an environment.
func NewService(st store.Store, environment string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		environment: environment,
		cacheTTL:    DefaultCacheTTL,
		logger:      logger,
		cache:       make(map[string]cachedFlag),
	}
}

// IsEnabled evaluates a flag for a subject. Unknown flags evaluate to
// false without error so callers can gate on flags that do not exist yet.
func (s *Service) IsEnabled(ctx context.Context, key, subject string) bool {
	flag, err := s.getFlag(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrFlagNotFound) {
			s.logger.Error("flag lookup failed", "flag", key, "error", err)
		}
		return false
	}
	return Evaluate(flag, subject, s.environment)
}

// Evaluate applies the flag's strategy for a subject and environment.
func Evaluate(flag *models.FeatureFlag, subject, environment string) bool {
	if flag == nil || !flag.Enabled {
		return false
	}
	if !flag.AppliesTo(environment) {
		return false
	}

	switch flag.Type {
	case models.FlagTypeBoolean:
		return true
	case models.FlagTypeTargeted:
		for _, t := range flag.Targets {
			if t == subject {
				return true
			}
		}
		return false
	case models.FlagTypePercentage:
		return Bucket(flag.Key, subject) < flag.Percentage
	default:
		return false
	}
}

// Bucket maps a (flag, subject) pair to a stable value in [0, 100).
// FNV-1a keeps the assignment uniform and independent of map iteration
// or process restarts.
func Bucket(flagKey, subject string) int {
	h := fnv.New32a()
	h.Write([]byte(flagKey))
	h.Write([]byte{':'})
	h.Write([]byte(subject))
	return int(h.Sum32() % 100)
}

// Create creates a flag and invalidates the cache entry.
func (s *Service) Create(ctx context.Context, flag *models.FeatureFlag) error {
	if err := s.store.Flags().Create(ctx, flag); err != nil {
		return err
	}
	s.invalidate(flag.Key)
	return nil
}

// Get retrieves a flag definition, bypassing the cache.
func (s *Service) Get(ctx context.Context, key string) (*models.FeatureFlag, error) {
	flag, err := s.store.Flags().Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFlagNotFound
		}
		return nil, err
	}
	return flag, nil
}

// List retrieves all flag definitions.
func (s *Service) List(ctx context.Context) ([]*models.FeatureFlag, error) {
	return s.store.Flags().List(ctx)
}

// Update updates a flag and invalidates the cache entry.
func (s *Service) Update(ctx context.Context, flag *models.FeatureFlag) error {
	if err := s.store.Flags().Update(ctx, flag); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFlagNotFound
		}
		return err
	}
	s.invalidate(flag.Key)
	return nil
}

// Delete removes a flag and invalidates the cache entry.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.Flags().Delete(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFlagNotFound
		}
		return err
	}
	s.invalidate(key)
	return nil
}

// getFlag returns a flag from the cache, refreshing on TTL expiry.
func (s *Service) getFlag(ctx context.Context, key string) (*models.FeatureFlag, error) {
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	if ok && time.Since(cached.fetched) < s.cacheTTL {
		return cached.flag, nil
	}

	flag, err := s.store.Flags().Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFlagNotFound
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cachedFlag{flag: flag, fetched: time.Now()}
	s.mu.Unlock()

	return flag, nil
}

// invalidate drops a cache entry.
func (s *Service) invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}
