package guard

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// Config configures a guarded store.
type Config struct {
	// RequestsPerSecond is the sustained rate of store round trips.
	// Zero or negative disables rate limiting.
	RequestsPerSecond float64

	// Burst is the maximum number of round trips allowed at once (default: 1).
	Burst int

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig
}

// Store decorates a storage.EntityStore with rate limiting and a circuit breaker.
type Store struct {
	inner   storage.EntityStore
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

var _ storage.EntityStore = (*Store)(nil)

// NewStore wraps inner. The name labels the breaker in logs.
func NewStore(name string, inner storage.EntityStore, config Config) *Store {
	s := &Store{
		inner:   inner,
		breaker: NewCircuitBreaker(name, config.Breaker),
	}
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return s
}

// GetPageInfo implements storage.PageInfoProvider.
func (s *Store) GetPageInfo(ctx context.Context, entityType string, localIDs []string) (map[string]types.PageInfo, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.inner.GetPageInfo(ctx, entityType, localIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("guard: page info for %s: %w", entityType, err)
	}
	return result.(map[string]types.PageInfo), nil
}

// LoadTerms implements storage.TermBatchLoader.
func (s *Store) LoadTerms(ctx context.Context, entityType string, kind types.TermKind, localIDs []string, languages []string) ([]types.TermRow, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.inner.LoadTerms(ctx, entityType, kind, localIDs, languages)
	})
	if err != nil {
		return nil, fmt.Errorf("guard: %s terms for %s: %w", kind, entityType, err)
	}
	return result.([]types.TermRow), nil
}

// Close closes the wrapped store.
func (s *Store) Close() error {
	return s.inner.Close()
}

// Unwrap returns the wrapped store.
func (s *Store) Unwrap() storage.EntityStore {
	return s.inner
}

// Breaker exposes the circuit breaker for health reporting.
func (s *Store) Breaker() *CircuitBreaker {
	return s.breaker
}

func (s *Store) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("guard: rate limit wait: %w", err)
	}
	return nil
}
