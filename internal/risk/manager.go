// Package risk enforces account-wide trading limits over a rolling window.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/metrics"
)

// baseWindow is the rolling window length used when Limits does not set one.
const baseWindow = 24 * time.Hour

// Limits carries the account-wide risk configuration. All amounts are in the
// quote currency. MinProfit is the base minimum profit threshold before any
// loss scaling is applied.
type Limits struct {
	MaxTradeAmount float64
	MaxDailyLoss   float64
	MaxTradeCount  int
	MinProfit      float64
	Window         time.Duration
}

// Manager tracks trade count and profit/loss over a rolling window and gates
// execution against the configured limits. All limits are account-wide, so a
// single Manager instance must be shared by every pair trading the same
// account, and every method serializes on one mutation lock.
type Manager struct {
	limits Limits
	logger *slog.Logger
	cache  domain.RiskCache // optional mirror for out-of-process readers
	now    func() time.Time

	mu            sync.Mutex
	tradeCount    int
	rollingPL     float64
	windowResetAt time.Time
}

// NewManager creates a Manager with zeroed counters and a window starting now.
func NewManager(limits Limits, logger *slog.Logger) *Manager {
	if limits.Window <= 0 {
		limits.Window = baseWindow
	}
	m := &Manager{
		limits: limits,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
	m.windowResetAt = m.now().Add(limits.Window)
	return m
}

// SetRiskCache enables best-effort mirroring of the risk snapshot after every
// recorded trade. Mirror failures are logged and otherwise ignored.
func (m *Manager) SetRiskCache(c domain.RiskCache) {
	m.cache = c
}

// CanExecuteTrade reports whether another trade is currently allowed. It is
// false once the window's trade count reaches MaxTradeCount or the rolling
// profit/loss has fallen to -MaxDailyLoss or beyond.
func (m *Manager) CanExecuteTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfElapsed()
	return m.canTrade()
}

// MinProfitThreshold returns the current minimum net margin required to act on
// an opportunity. The base threshold scales linearly up to 3x as the rolling
// loss approaches MaxDailyLoss, so the manager demands better opportunities
// while it is losing money.
func (m *Manager) MinProfitThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfElapsed()
	return m.limits.MinProfit * (1 + 2*m.lossRatio())
}

// PositionSize scales the requested trade amount down as losses mount. The
// scale floor is 0.1 so a losing account still probes with small trades, and
// the result never exceeds MaxTradeAmount.
func (m *Manager) PositionSize(requested float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfElapsed()

	size := requested * m.positionScale()
	if size > m.limits.MaxTradeAmount {
		size = m.limits.MaxTradeAmount
	}
	return size
}

// RecordTradeResult feeds one execution attempt back into the window. The
// trade count advances for failures too; profit is ignored unless the trade
// succeeded.
func (m *Manager) RecordTradeResult(ctx context.Context, success bool, profit float64) {
	m.mu.Lock()
	m.resetIfElapsed()

	m.tradeCount++
	if success {
		m.rollingPL += profit
	}
	metrics.WindowTradeCount.Set(float64(m.tradeCount))
	metrics.RollingPL.Set(m.rollingPL)

	m.logger.InfoContext(ctx, "trade recorded",
		slog.Bool("success", success),
		slog.Float64("profit", profit),
		slog.Int("trade_count", m.tradeCount),
		slog.Float64("rolling_pl", m.rollingPL),
	)

	snap := m.snapshot()
	m.mu.Unlock()

	m.mirror(ctx, snap)
}

// Snapshot returns a read-only view of the current window.
func (m *Manager) Snapshot() domain.RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfElapsed()
	return m.snapshot()
}

// resetIfElapsed zeroes the window counters once windowResetAt has passed and
// starts the next window from now. Every exported method calls this before
// reading or mutating state, so the reset happens on the first touch after
// expiry and exactly once. The caller must hold m.mu.
func (m *Manager) resetIfElapsed() {
	now := m.now()
	if now.Before(m.windowResetAt) {
		return
	}
	m.logger.Info("risk window reset",
		slog.Int("trade_count", m.tradeCount),
		slog.Float64("rolling_pl", m.rollingPL),
	)
	m.tradeCount = 0
	m.rollingPL = 0
	m.windowResetAt = now.Add(m.limits.Window)
	metrics.WindowTradeCount.Set(0)
	metrics.RollingPL.Set(0)
}

// canTrade evaluates the two gate conditions. The caller must hold m.mu.
func (m *Manager) canTrade() bool {
	if m.tradeCount >= m.limits.MaxTradeCount {
		return false
	}
	if m.rollingPL <= -m.limits.MaxDailyLoss {
		return false
	}
	return true
}

// lossRatio returns how far the rolling loss has progressed toward
// MaxDailyLoss, clamped to [0,1]. Zero while profit/loss is non-negative.
// The caller must hold m.mu.
func (m *Manager) lossRatio() float64 {
	if m.rollingPL >= 0 || m.limits.MaxDailyLoss <= 0 {
		return 0
	}
	ratio := -m.rollingPL / m.limits.MaxDailyLoss
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// positionScale returns the sizing factor in [0.1, 1]. The caller must hold
// m.mu.
func (m *Manager) positionScale() float64 {
	if m.rollingPL >= 0 {
		return 1
	}
	scale := 1 - m.lossRatio()
	if scale < 0.1 {
		scale = 0.1
	}
	return scale
}

// snapshot builds the exported view. The caller must hold m.mu.
func (m *Manager) snapshot() domain.RiskSnapshot {
	return domain.RiskSnapshot{
		TradeCount:    m.tradeCount,
		RollingPL:     m.rollingPL,
		WindowResetAt: m.windowResetAt,
		MaxTradeCount: m.limits.MaxTradeCount,
		MaxDailyLoss:  m.limits.MaxDailyLoss,
		CanTrade:      m.canTrade(),
		MinProfit:     m.limits.MinProfit * (1 + 2*m.lossRatio()),
		PositionScale: m.positionScale(),
		UpdatedAt:     m.now(),
	}
}

// mirror publishes the snapshot to the risk cache when one is configured.
func (m *Manager) mirror(ctx context.Context, snap domain.RiskSnapshot) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetSnapshot(ctx, snap); err != nil {
		m.logger.WarnContext(ctx, "risk snapshot mirror failed",
			slog.String("error", err.Error()),
		)
	}
}
