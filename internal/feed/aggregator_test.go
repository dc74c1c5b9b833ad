package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
)

type stubSource struct {
	name  string
	price float64
	err   error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) GetPrice(_ context.Context, _ domain.Pair) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

type recordingCache struct {
	mu     sync.Mutex
	quotes []domain.Quote
	err    error
}

func (c *recordingCache) SetQuote(_ context.Context, q domain.Quote) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = append(c.quotes, q)
	return nil
}

func (c *recordingCache) GetQuote(_ context.Context, _ string, _ domain.Pair) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

func (c *recordingCache) GetPairQuotes(_ context.Context, _ domain.Pair, _ []string) (map[string]domain.Quote, error) {
	return nil, domain.ErrNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testPair(t *testing.T) domain.Pair {
	t.Helper()
	p, err := domain.ParsePair("INJ/USDT")
	require.NoError(t, err)
	return p
}

func TestFetchCollectsAllVenues(t *testing.T) {
	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance", price: 25.10},
		&stubSource{name: "kraken", price: 25.40},
	}, testLogger())

	set, err := agg.Fetch(context.Background(), testPair(t))
	require.NoError(t, err)

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 25.10, set.Quotes["binance"].Price)
	assert.Equal(t, 25.40, set.Quotes["kraken"].Price)
	assert.False(t, set.Quotes["binance"].Ts.IsZero())
}

func TestFetchOmitsFailingVenues(t *testing.T) {
	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance", price: 25.10},
		&stubSource{name: "kraken", err: errors.New("connection refused")},
		&stubSource{name: "helix", price: -1},
	}, testLogger())

	set, err := agg.Fetch(context.Background(), testPair(t))
	require.NoError(t, err)

	assert.Equal(t, 1, set.Len())
	assert.Contains(t, set.Quotes, "binance")
	assert.NotContains(t, set.Quotes, "kraken")
	assert.NotContains(t, set.Quotes, "helix")
}

func TestFetchAllVenuesDown(t *testing.T) {
	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance", err: errors.New("timeout")},
		&stubSource{name: "kraken", price: 0},
	}, testLogger())

	_, err := agg.Fetch(context.Background(), testPair(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
}

func TestFetchNoVenuesConfigured(t *testing.T) {
	agg := NewAggregator(nil, testLogger())

	_, err := agg.Fetch(context.Background(), testPair(t))
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
}

func TestFetchWritesThroughCache(t *testing.T) {
	cache := &recordingCache{}
	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance", price: 25.10},
		&stubSource{name: "kraken", price: 25.40},
	}, testLogger())
	agg.SetPriceCache(cache)

	_, err := agg.Fetch(context.Background(), testPair(t))
	require.NoError(t, err)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Len(t, cache.quotes, 2)
}

func TestFetchCacheFailureIsNotFatal(t *testing.T) {
	cache := &recordingCache{err: errors.New("redis down")}
	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance", price: 25.10},
	}, testLogger())
	agg.SetPriceCache(cache)

	set, err := agg.Fetch(context.Background(), testPair(t))
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance", price: 25.10},
	}, testLogger())

	// The stub ignores its context, so the fetch itself still succeeds; a
	// source that honors cancellation is simply skipped like any other error.
	_, err := agg.Fetch(ctx, testPair(t))
	require.NoError(t, err)
}

func TestVenues(t *testing.T) {
	agg := NewAggregator([]domain.PriceSource{
		&stubSource{name: "binance"},
		&stubSource{name: "kraken"},
	}, testLogger())

	assert.Equal(t, []string{"binance", "kraken"}, agg.Venues())
}
