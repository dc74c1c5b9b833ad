package domain

import "time"

// RiskSnapshot is a read-only view of the risk manager's rolling window,
// published after every mutation for the status API and dashboard.
type RiskSnapshot struct {
	TradeCount    int
	RollingPL     float64
	WindowResetAt time.Time
	MaxTradeCount int
	MaxDailyLoss  float64
	CanTrade      bool
	MinProfit     float64 // current dynamic minimum profit threshold
	PositionScale float64 // current position sizing factor in (0,1]
	UpdatedAt     time.Time
}
