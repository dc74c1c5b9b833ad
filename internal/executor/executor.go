// Package executor places the two legs of an arbitrage trade on their venues.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/metrics"
)

// sellLegTimeout bounds the detached sell leg. It is deliberately generous:
// giving up early on the sell is what creates an open position.
const sellLegTimeout = 30 * time.Second

// lockTTL is how long the cross-process trade lock is held at most.
const lockTTL = 30 * time.Second

// Executor submits the buy and sell legs of an opportunity strictly in
// sequence. The sell leg is only attempted after the buy leg filled, and a
// sell failure after a filled buy is reported as an open position, never as
// an ordinary rejection.
type Executor struct {
	venues  map[string]domain.OrderSubmitter
	feeRate float64
	locks   domain.LockManager // optional, for multi-process deployments
	logger  *slog.Logger
}

// NewExecutor creates an Executor over the given venue submitters, keyed by
// venue name.
func NewExecutor(venues map[string]domain.OrderSubmitter, feeRate float64, logger *slog.Logger) *Executor {
	return &Executor{
		venues:  venues,
		feeRate: feeRate,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// SetLockManager enables a distributed lock around each trade so two
// processes sharing one account cannot trade concurrently.
func (e *Executor) SetLockManager(lm domain.LockManager) {
	e.locks = lm
}

// ExecuteArbitrage runs the two-leg protocol for opp with the given base
// amount. A non-nil error means no order was placed: unknown venue, or the
// trade lock is held elsewhere. Once the buy leg has been submitted every
// outcome is reported through the TradeResult instead.
func (e *Executor) ExecuteArbitrage(ctx context.Context, opp domain.Opportunity, amount float64) (domain.TradeResult, error) {
	log := e.logger.With(
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.Pair.String()),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
	)

	// Both venues are resolved before anything is submitted. Discovering a
	// missing sell venue after the buy filled would guarantee an open
	// position.
	buySub, ok := e.venues[opp.BuyVenue]
	if !ok {
		return domain.TradeResult{}, fmt.Errorf("executor: no submitter for venue %q", opp.BuyVenue)
	}
	sellSub, ok := e.venues[opp.SellVenue]
	if !ok {
		return domain.TradeResult{}, fmt.Errorf("executor: no submitter for venue %q", opp.SellVenue)
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "trade", lockTTL)
		if err != nil {
			return domain.TradeResult{}, fmt.Errorf("executor: acquire trade lock: %w", err)
		}
		defer unlock()
	}

	// 1. Buy leg. A failure here is a clean abort with no exposure.
	if err := buySub.SubmitOrder(ctx, opp.Pair, domain.SideBuy, opp.BuyPrice, amount); err != nil {
		metrics.TradesFailed.WithLabelValues(string(domain.ReasonBuyFailed)).Inc()
		log.WarnContext(ctx, "buy leg failed, aborting",
			slog.Float64("price", opp.BuyPrice),
			slog.Float64("amount", amount),
			slog.String("error", err.Error()),
		)
		return domain.TradeResult{Success: false, Reason: domain.ReasonBuyFailed}, nil
	}

	// 2. Sell leg. The position now exists, so the leg runs on a detached
	// context: a loop shutdown must not tear down the trade between legs.
	sellCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sellLegTimeout)
	defer cancel()
	if err := sellSub.SubmitOrder(sellCtx, opp.Pair, domain.SideSell, opp.SellPrice, amount); err != nil {
		metrics.TradesFailed.WithLabelValues(string(domain.ReasonOpenPosition)).Inc()
		log.ErrorContext(ctx, "open position: sell leg failed after filled buy",
			slog.Float64("buy_price", opp.BuyPrice),
			slog.Float64("sell_price", opp.SellPrice),
			slog.Float64("amount", amount),
			slog.String("error", err.Error()),
		)
		return domain.TradeResult{Success: false, Reason: domain.ReasonOpenPosition}, nil
	}

	// 3. Both legs filled.
	net := e.netProfit(opp.BuyPrice, opp.SellPrice, amount)
	metrics.TradesExecuted.Inc()
	log.InfoContext(ctx, "arbitrage executed",
		slog.Float64("amount", amount),
		slog.Float64("net_profit", net),
	)
	return domain.TradeResult{Success: true, NetProfit: net}, nil
}

// netProfit is the gross spread on amount minus one fee per leg.
func (e *Executor) netProfit(buyPrice, sellPrice, amount float64) float64 {
	gross := amount * (sellPrice - buyPrice)
	fees := amount*buyPrice*e.feeRate + amount*sellPrice*e.feeRate
	return gross - fees
}
