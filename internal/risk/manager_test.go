package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeRiskCache struct {
	mu    sync.Mutex
	snaps []domain.RiskSnapshot
	err   error
}

func (c *fakeRiskCache) SetSnapshot(_ context.Context, snap domain.RiskSnapshot) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *fakeRiskCache) GetSnapshot(_ context.Context) (domain.RiskSnapshot, error) {
	return domain.RiskSnapshot{}, domain.ErrNotFound
}

func testLimits() Limits {
	return Limits{
		MaxTradeAmount: 1.0,
		MaxDailyLoss:   0.5,
		MaxTradeCount:  10,
		MinProfit:      0.005,
		Window:         24 * time.Hour,
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(testLimits(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	m.now = clock.Now
	m.windowResetAt = clock.Now().Add(m.limits.Window)
	return m, clock
}

func TestFreshManagerAllowsTrading(t *testing.T) {
	m, _ := newTestManager(t)

	assert.True(t, m.CanExecuteTrade())
	assert.Equal(t, 0.005, m.MinProfitThreshold())
	assert.Equal(t, 0.5, m.PositionSize(0.5))
}

func TestTradeCountGate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		m.RecordTradeResult(ctx, true, 0.01)
	}
	assert.True(t, m.CanExecuteTrade(), "one slot left")

	m.RecordTradeResult(ctx, true, 0.01)
	assert.False(t, m.CanExecuteTrade(), "count reached limit")
}

func TestDailyLossGate(t *testing.T) {
	m, _ := newTestManager(t)

	// A single trade losing exactly the daily budget closes the gate even
	// though the trade count is far from its limit.
	m.RecordTradeResult(context.Background(), true, -0.5)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.TradeCount)
	assert.Equal(t, -0.5, snap.RollingPL)
	assert.False(t, m.CanExecuteTrade())
}

func TestFailedTradesCountButDoNotMovePL(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.RecordTradeResult(ctx, false, 0)
	m.RecordTradeResult(ctx, false, -1.0) // profit ignored on failure

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.TradeCount)
	assert.Equal(t, 0.0, snap.RollingPL)
}

func TestMinProfitThresholdScalesWithLoss(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.RecordTradeResult(ctx, true, 0.25)
	assert.Equal(t, 0.005, m.MinProfitThreshold(), "no scaling while profitable")

	m.RecordTradeResult(ctx, true, -0.375) // rolling PL -0.125, loss ratio 0.25
	assert.Equal(t, 0.005*1.5, m.MinProfitThreshold())

	m.RecordTradeResult(ctx, true, -0.125) // rolling PL -0.25, loss ratio 0.5
	assert.Equal(t, 0.005*2, m.MinProfitThreshold())

	m.RecordTradeResult(ctx, true, -2.0) // far past the budget, ratio clamps at 1
	assert.Equal(t, 0.005*3, m.MinProfitThreshold())
}

func TestPositionSizeShrinksWithLoss(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	assert.Equal(t, 0.5, m.PositionSize(0.5), "unscaled while flat")

	m.RecordTradeResult(ctx, true, -0.125) // loss ratio 0.25
	assert.Equal(t, 0.5*0.75, m.PositionSize(0.5))

	m.RecordTradeResult(ctx, true, -0.125) // loss ratio 0.5
	assert.Equal(t, 0.5*0.5, m.PositionSize(0.5))

	m.RecordTradeResult(ctx, true, -10) // ratio clamps, scale floors at 0.1
	assert.Equal(t, 0.5*0.1, m.PositionSize(0.5))
}

func TestPositionSizeMonotonicInLoss(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	prev := m.PositionSize(1.0)
	for i := 0; i < 12; i++ {
		m.RecordTradeResult(ctx, true, -0.05)
		size := m.PositionSize(1.0)
		assert.LessOrEqual(t, size, prev, "size must not grow as losses mount")
		assert.GreaterOrEqual(t, size, 0.1, "floor is 0.1x requested")
		prev = size
	}
}

func TestPositionSizeCappedAtMaxTradeAmount(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Equal(t, 1.0, m.PositionSize(5.0))

	// The cap applies after loss scaling too.
	m.RecordTradeResult(context.Background(), true, -0.125)
	assert.Equal(t, 1.0, m.PositionSize(5.0))
}

func TestWindowResetRestoresTrading(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	m.RecordTradeResult(ctx, true, -0.5)
	require.False(t, m.CanExecuteTrade())

	clock.Advance(24*time.Hour + time.Minute)

	assert.True(t, m.CanExecuteTrade())
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.TradeCount)
	assert.Equal(t, 0.0, snap.RollingPL)
}

func TestWindowResetIsIdempotent(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	m.RecordTradeResult(ctx, true, 0.1)
	clock.Advance(25 * time.Hour)

	// The first call after expiry resets; repeated calls must not reset again
	// or keep pushing the next boundary forward.
	m.CanExecuteTrade()
	resetAt := m.Snapshot().WindowResetAt
	for i := 0; i < 5; i++ {
		m.CanExecuteTrade()
		m.MinProfitThreshold()
		m.PositionSize(0.5)
	}
	assert.Equal(t, resetAt, m.Snapshot().WindowResetAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), resetAt)

	// Counters recorded after the reset survive further calls.
	m.RecordTradeResult(ctx, true, 0.2)
	assert.Equal(t, 1, m.Snapshot().TradeCount)
	assert.Equal(t, 0.2, m.Snapshot().RollingPL)
}

func TestSnapshotFields(t *testing.T) {
	m, _ := newTestManager(t)

	m.RecordTradeResult(context.Background(), true, -0.25)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.TradeCount)
	assert.Equal(t, -0.25, snap.RollingPL)
	assert.Equal(t, 10, snap.MaxTradeCount)
	assert.Equal(t, 0.5, snap.MaxDailyLoss)
	assert.True(t, snap.CanTrade)
	assert.Equal(t, 0.005*2, snap.MinProfit)
	assert.Equal(t, 0.5, snap.PositionScale)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestRiskCacheMirror(t *testing.T) {
	m, _ := newTestManager(t)
	cache := &fakeRiskCache{}
	m.SetRiskCache(cache)

	m.RecordTradeResult(context.Background(), true, 0.05)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.snaps, 1)
	assert.Equal(t, 1, cache.snaps[0].TradeCount)
	assert.Equal(t, 0.05, cache.snaps[0].RollingPL)
}

func TestRiskCacheFailureIsNotFatal(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetRiskCache(&fakeRiskCache{err: errors.New("redis down")})

	m.RecordTradeResult(context.Background(), true, 0.05)

	assert.Equal(t, 1, m.Snapshot().TradeCount)
}
