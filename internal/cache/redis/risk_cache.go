package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjanssen/arbot/internal/domain"
)

// riskSnapshotKey holds the trading process's latest risk window state. The
// key carries no TTL: a quiet window is still a valid window, and readers
// judge freshness from UpdatedAt.
const riskSnapshotKey = "risk:snapshot"

// RiskCache implements domain.RiskCache by mirroring the risk snapshot as a
// JSON blob, so an API-only process can report limits for a trading process
// sharing the same Redis.
type RiskCache struct {
	rdb *redis.Client
}

// NewRiskCache creates a RiskCache backed by the given Client.
func NewRiskCache(c *Client) *RiskCache {
	return &RiskCache{rdb: c.Underlying()}
}

type riskSnapshotJSON struct {
	TradeCount    int       `json:"trade_count"`
	RollingPL     float64   `json:"rolling_pl"`
	WindowResetAt time.Time `json:"window_reset_at"`
	MaxTradeCount int       `json:"max_trade_count"`
	MaxDailyLoss  float64   `json:"max_daily_loss"`
	CanTrade      bool      `json:"can_trade"`
	MinProfit     float64   `json:"min_profit"`
	PositionScale float64   `json:"position_scale"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SetSnapshot overwrites the mirrored risk snapshot.
func (rc *RiskCache) SetSnapshot(ctx context.Context, snap domain.RiskSnapshot) error {
	data, err := json.Marshal(riskSnapshotJSON(snap))
	if err != nil {
		return fmt.Errorf("redis: marshal risk snapshot: %w", err)
	}
	if err := rc.rdb.Set(ctx, riskSnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set risk snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the mirrored risk snapshot, or domain.ErrNotFound when
// no trading process has published one yet.
func (rc *RiskCache) GetSnapshot(ctx context.Context) (domain.RiskSnapshot, error) {
	data, err := rc.rdb.Get(ctx, riskSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RiskSnapshot{}, domain.ErrNotFound
		}
		return domain.RiskSnapshot{}, fmt.Errorf("redis: get risk snapshot: %w", err)
	}

	var snap riskSnapshotJSON
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.RiskSnapshot{}, fmt.Errorf("redis: unmarshal risk snapshot: %w", err)
	}
	return domain.RiskSnapshot(snap), nil
}

// Compile-time interface check.
var _ domain.RiskCache = (*RiskCache)(nil)
