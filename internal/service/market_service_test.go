package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
)

type fakePriceCache struct {
	err    error
	quotes map[domain.Pair]map[string]domain.Quote
}

func (f *fakePriceCache) SetQuote(_ context.Context, q domain.Quote) error {
	if f.quotes == nil {
		f.quotes = make(map[domain.Pair]map[string]domain.Quote)
	}
	if f.quotes[q.Pair] == nil {
		f.quotes[q.Pair] = make(map[string]domain.Quote)
	}
	f.quotes[q.Pair][q.Venue] = q
	return nil
}

func (f *fakePriceCache) GetQuote(_ context.Context, venue string, pair domain.Pair) (domain.Quote, error) {
	q, ok := f.quotes[pair][venue]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (f *fakePriceCache) GetPairQuotes(_ context.Context, pair domain.Pair, venues []string) (map[string]domain.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Quote)
	for _, venue := range venues {
		if q, ok := f.quotes[pair][venue]; ok {
			out[venue] = q
		}
	}
	return out, nil
}

func TestMarketSnapshotPrefersInMemory(t *testing.T) {
	pair := domain.Pair("INJ/USDT")
	cache := &fakePriceCache{}
	require.NoError(t, cache.SetQuote(context.Background(), domain.Quote{
		Venue: "binance", Pair: pair, Price: 20.00, Ts: time.Now(),
	}))

	svc := NewMarketService([]domain.Pair{pair}, []string{"binance", "kraken"}, testLogger())
	svc.SetPriceCache(cache)

	set := domain.NewPriceSet(pair)
	set.Add(domain.Quote{Venue: "binance", Pair: pair, Price: 24.10, Ts: time.Now()})
	svc.Update(set)

	snap := svc.Snapshot(context.Background())
	require.Contains(t, snap, pair)
	assert.Equal(t, 24.10, snap[pair].Quotes["binance"].Price)
}

func TestMarketSnapshotFallsBackToCache(t *testing.T) {
	pair := domain.Pair("ATOM/USDT")
	cache := &fakePriceCache{}
	ctx := context.Background()
	require.NoError(t, cache.SetQuote(ctx, domain.Quote{Venue: "binance", Pair: pair, Price: 9.80, Ts: time.Now()}))
	require.NoError(t, cache.SetQuote(ctx, domain.Quote{Venue: "helix", Pair: pair, Price: 10.05, Ts: time.Now()}))

	svc := NewMarketService([]domain.Pair{pair}, []string{"binance", "helix"}, testLogger())
	svc.SetPriceCache(cache)

	snap := svc.Snapshot(ctx)
	require.Contains(t, snap, pair)
	assert.Equal(t, 2, snap[pair].Len())
	assert.Equal(t, 9.80, snap[pair].Quotes["binance"].Price)
}

func TestMarketSnapshotOmitsPairsWithoutData(t *testing.T) {
	pairs := []domain.Pair{domain.Pair("INJ/USDT"), domain.Pair("ATOM/USDT")}
	svc := NewMarketService(pairs, []string{"binance"}, testLogger())
	svc.SetPriceCache(&fakePriceCache{})

	set := domain.NewPriceSet(pairs[0])
	set.Add(domain.Quote{Venue: "binance", Pair: pairs[0], Price: 24.10, Ts: time.Now()})
	svc.Update(set)

	snap := svc.Snapshot(context.Background())
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, pairs[0])
}

func TestMarketSnapshotSurvivesCacheErrors(t *testing.T) {
	pair := domain.Pair("INJ/USDT")
	svc := NewMarketService([]domain.Pair{pair}, []string{"binance"}, testLogger())
	svc.SetPriceCache(&fakePriceCache{err: errors.New("redis down")})

	snap := svc.Snapshot(context.Background())
	assert.Empty(t, snap)
}
