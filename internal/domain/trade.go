package domain

import "time"

// Side indicates the direction of one leg of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// FailReason distinguishes the ways a two-leg execution can fail. A sell leg
// failing after a filled buy leaves an open position and must never be
// conflated with a clean buy-leg abort.
type FailReason string

const (
	ReasonNone         FailReason = ""
	ReasonBuyFailed    FailReason = "buy_leg_failed"
	ReasonOpenPosition FailReason = "post_buy_sell_failed"
)

// TradeResult is the outcome of one execution attempt.
type TradeResult struct {
	Success   bool
	Reason    FailReason // set when Success is false
	NetProfit float64    // realised profit net of fees; valid only when Success
}

// TradeRecord is the append-only history row for one execution attempt,
// successful or not.
type TradeRecord struct {
	ID        string
	Ts        time.Time
	Pair      Pair
	BuyVenue  string
	SellVenue string
	BuyPrice  float64
	SellPrice float64
	Amount    float64
	Profit    float64 // 0 when the attempt failed
	Success   bool
	Reason    FailReason
}
