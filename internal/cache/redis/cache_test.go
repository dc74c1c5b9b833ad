package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	cache := NewPriceCache(c)

	q := domain.Quote{
		Venue: "binance",
		Pair:  domain.Pair("INJ/USDT"),
		Price: 24.37,
		Ts:    time.Now(),
	}
	require.NoError(t, cache.SetQuote(ctx, q))

	got, err := cache.GetQuote(ctx, "binance", domain.Pair("INJ/USDT"))
	require.NoError(t, err)
	assert.Equal(t, "binance", got.Venue)
	assert.Equal(t, domain.Pair("INJ/USDT"), got.Pair)
	assert.Equal(t, 24.37, got.Price)
	assert.WithinDuration(t, q.Ts, got.Ts, 0)
}

func TestPriceCacheMissingQuote(t *testing.T) {
	c, _ := newTestClient(t)
	cache := NewPriceCache(c)

	_, err := cache.GetQuote(context.Background(), "binance", domain.Pair("INJ/USDT"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCacheQuotesExpire(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	cache := NewPriceCache(c)

	q := domain.Quote{Venue: "kraken", Pair: domain.Pair("ATOM/USDT"), Price: 9.8, Ts: time.Now()}
	require.NoError(t, cache.SetQuote(ctx, q))

	mr.FastForward(quoteTTL + time.Second)

	_, err := cache.GetQuote(ctx, "kraken", domain.Pair("ATOM/USDT"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCachePairQuotes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	cache := NewPriceCache(c)

	pair := domain.Pair("INJ/USDT")
	require.NoError(t, cache.SetQuote(ctx, domain.Quote{Venue: "binance", Pair: pair, Price: 24.10, Ts: time.Now()}))
	require.NoError(t, cache.SetQuote(ctx, domain.Quote{Venue: "kraken", Pair: pair, Price: 24.55, Ts: time.Now()}))

	// helix has no cached quote and must simply be absent.
	quotes, err := cache.GetPairQuotes(ctx, pair, []string{"binance", "kraken", "helix"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, 24.10, quotes["binance"].Price)
	assert.Equal(t, 24.55, quotes["kraken"].Price)

	quotes, err = cache.GetPairQuotes(ctx, pair, nil)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestRiskCacheRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	cache := NewRiskCache(c)

	snap := domain.RiskSnapshot{
		TradeCount:    3,
		RollingPL:     -0.125,
		WindowResetAt: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		MaxTradeCount: 10,
		MaxDailyLoss:  0.5,
		CanTrade:      true,
		MinProfit:     0.0075,
		PositionScale: 0.75,
		UpdatedAt:     time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.SetSnapshot(ctx, snap))

	got, err := cache.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TradeCount)
	assert.Equal(t, -0.125, got.RollingPL)
	assert.Equal(t, 10, got.MaxTradeCount)
	assert.Equal(t, 0.5, got.MaxDailyLoss)
	assert.True(t, got.CanTrade)
	assert.Equal(t, 0.0075, got.MinProfit)
	assert.Equal(t, 0.75, got.PositionScale)
	assert.WithinDuration(t, snap.WindowResetAt, got.WindowResetAt, 0)
	assert.WithinDuration(t, snap.UpdatedAt, got.UpdatedAt, 0)
}

func TestRiskCacheMissingSnapshot(t *testing.T) {
	c, _ := newTestClient(t)
	cache := NewRiskCache(c)

	_, err := cache.GetSnapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManagerExclusion(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	locks := NewLockManager(c)

	unlock, err := locks.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "trade", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()

	unlock2, err := locks.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockUnlockIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	locks := NewLockManager(c)

	unlock, err := locks.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)

	unlock()
	unlock()

	unlock2, err := locks.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockExpiresWithTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	locks := NewLockManager(c)

	_, err := locks.Acquire(ctx, "trade", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	unlock, err := locks.Acquire(ctx, "trade", time.Second)
	require.NoError(t, err)
	unlock()
}

func TestLockUnlockOnlyReleasesOwnToken(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	locks := NewLockManager(c)

	// First holder's lock expires, a second holder takes it over.
	staleUnlock, err := locks.Acquire(ctx, "trade", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = locks.Acquire(ctx, "trade", time.Minute)
	require.NoError(t, err)

	// The stale unlock's token no longer matches, so the new lock survives.
	staleUnlock()

	_, err = locks.Acquire(ctx, "trade", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRateLimiterAllowWithinLimit(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "binance", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := rl.Allow(ctx, "binance", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	allowed, err := rl.Allow(ctx, "api", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "api", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, err = rl.Allow(ctx, "api", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	allowed, err := rl.Allow(ctx, "binance", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "binance", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = rl.Allow(ctx, "kraken", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	rl.SetWaitRate(1, 10*time.Second)

	require.NoError(t, rl.Wait(context.Background(), "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c)

	ch, err := bus.Subscribe(ctx, "market_update")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "market_update", []byte(`{"pair":"INJ/USDT"}`)))

	select {
	case payload := <-ch:
		assert.JSONEq(t, `{"pair":"INJ/USDT"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancellation")
	}
}

func TestSignalBusPatternSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c)

	ch, err := bus.Subscribe(ctx, "alerts:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "alerts:open_position", []byte("sell leg failed")))

	select {
	case payload := <-ch:
		assert.Equal(t, "sell leg failed", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pattern-matched message")
	}
}

func TestSignalBusStreamAppendRead(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c)

	require.NoError(t, bus.StreamAppend(ctx, "trades", []byte("first")))
	require.NoError(t, bus.StreamAppend(ctx, "trades", []byte("second")))
	require.NoError(t, bus.StreamAppend(ctx, "trades", []byte("third")))

	msgs, err := bus.StreamRead(ctx, "trades", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", string(msgs[0].Payload))
	assert.Equal(t, "third", string(msgs[2].Payload))

	// Resume from the second message's ID.
	msgs, err = bus.StreamRead(ctx, "trades", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "third", string(msgs[0].Payload))
}

func TestSignalBusStreamReadEmpty(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)

	msgs, err := bus.StreamRead(context.Background(), "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
