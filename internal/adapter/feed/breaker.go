package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/couchcryptid/hml-forecast-producer/internal/observability"
	"github.com/sony/gobreaker"
)

type fetcher interface {
	Fetch(ctx context.Context) ([]domain.RawProduct, error)
}

// BreakerSettings tunes the feed circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings opens after three failed runs in a row and probes
// again after a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute}
}

// BreakerFetcher stops calling an unhealthy feed for a while after repeated
// failures. While open, Fetch fails immediately with domain.ErrFetch.
type BreakerFetcher struct {
	inner fetcher
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerFetcher wraps inner with a circuit breaker whose state is
// exported on metrics.FeedBreakerState.
func NewBreakerFetcher(inner fetcher, s BreakerSettings, metrics *observability.Metrics, logger *slog.Logger) *BreakerFetcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feed",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the feed's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.FeedBreakerState.Set(stateValue(to))
		},
	})
	metrics.FeedBreakerState.Set(stateValue(cb.State()))
	return &BreakerFetcher{inner: inner, cb: cb}
}

func (b *BreakerFetcher) Fetch(ctx context.Context) ([]domain.RawProduct, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
		return nil, err
	}
	products, ok := result.([]domain.RawProduct)
	if !ok {
		return nil, fmt.Errorf("%w: fetcher returned %T", domain.ErrFetch, result)
	}
	return products, nil
}

// State reports the breaker state name: closed, half-open, or open.
func (b *BreakerFetcher) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
