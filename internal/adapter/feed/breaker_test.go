package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/couchcryptid/hml-forecast-producer/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls    int
	err      error
	products []domain.RawProduct
}

func (s *stubFetcher) Fetch(context.Context) ([]domain.RawProduct, error) {
	s.calls++
	return s.products, s.err
}

func TestBreakerFetcher_PassesThrough(t *testing.T) {
	inner := &stubFetcher{products: []domain.RawProduct{{"id": "A"}}}
	b := NewBreakerFetcher(inner, DefaultBreakerSettings(), observability.NewMetricsForTesting(), discardLogger())

	products, err := b.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RawProduct{{"id": "A"}}, products)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerFetcher_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubFetcher{err: errors.Join(domain.ErrFetch, errors.New("status 503"))}
	metrics := observability.NewMetricsForTesting()
	b := NewBreakerFetcher(inner, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, metrics, discardLogger())

	for range 2 {
		_, err := b.Fetch(context.Background())
		require.ErrorIs(t, err, domain.ErrFetch)
	}
	assert.Equal(t, "open", b.State())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FeedBreakerState), 0)

	_, err := b.Fetch(context.Background())
	require.ErrorIs(t, err, domain.ErrFetch)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls, "open breaker must not call the feed")
}

func TestBreakerFetcher_CancellationDoesNotTrip(t *testing.T) {
	inner := &stubFetcher{err: context.Canceled}
	b := NewBreakerFetcher(inner, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, observability.NewMetricsForTesting(), discardLogger())

	for range 3 {
		_, err := b.Fetch(context.Background())
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 3, inner.calls)
}
