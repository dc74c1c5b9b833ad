// Package service wires detection output to persistence, events, and alerts.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/notify"
)

// Bus channels and streams published by the services. The WebSocket hub and
// any sibling process subscribe to these names.
const (
	ChannelMarketUpdate = "market_update"
	ChannelOpportunity  = "arbitrage_opportunity"
	ChannelTrade        = "trade_completed"
	ChannelRiskUpdate   = "risk_update"
	ChannelAlerts       = "alerts"
	StreamTrades        = "trades"
)

// recentOppCap is the default bound on the in-memory opportunity ring served
// by the API.
const recentOppCap = 20

// ArbService records everything the loop produces: opportunities into the
// store and a bounded in-memory ring, execution attempts into trade history,
// plus bus events, audit rows, and operator notifications. It is the loop's
// Recorder.
type ArbService struct {
	opps    domain.OpportunityStore
	trades  domain.TradeStore
	audit   domain.AuditStore
	market  *MarketService
	bus     domain.SignalBus
	notif   *notify.Notifier
	riskSrc RiskSnapshotter
	logger  *slog.Logger

	mu        sync.Mutex
	recentCap int
	recent    []domain.Opportunity // oldest first, capped at recentCap
}

// NewArbService creates an ArbService. The stores may be nil in a process
// that keeps no history; persistence and audit rows are then skipped and
// queries answer from the in-memory ring alone. The bus and notifier are
// optional collaborators attached via Set methods.
func NewArbService(
	opps domain.OpportunityStore,
	trades domain.TradeStore,
	audit domain.AuditStore,
	market *MarketService,
	logger *slog.Logger,
) *ArbService {
	return &ArbService{
		opps:      opps,
		trades:    trades,
		audit:     audit,
		market:    market,
		logger:    logger.With(slog.String("component", "arb_service")),
		recentCap: recentOppCap,
	}
}

// SetSignalBus attaches the event bus.
func (s *ArbService) SetSignalBus(bus domain.SignalBus) {
	s.bus = bus
}

// SetNotifier attaches the operator notifier.
func (s *ArbService) SetNotifier(n *notify.Notifier) {
	s.notif = n
}

// SetRiskSource attaches the risk manager so dashboard clients get the
// refreshed window state after every recorded trade.
func (s *ArbService) SetRiskSource(rs RiskSnapshotter) {
	s.riskSrc = rs
}

// SetHistorySize resizes the in-memory opportunity ring. Values below one
// keep the default.
func (s *ArbService) SetHistorySize(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentCap = n
	if len(s.recent) > n {
		s.recent = s.recent[len(s.recent)-n:]
	}
}

// PairUpdated refreshes the market snapshot and fans the quotes out to
// dashboard subscribers.
func (s *ArbService) PairUpdated(ctx context.Context, set domain.PriceSet) {
	if s.market != nil {
		s.market.Update(set)
	}

	if s.bus == nil {
		return
	}
	prices := make(map[string]float64, len(set.Quotes))
	for venue, q := range set.Quotes {
		prices[venue] = q.Price
	}
	evt, _ := json.Marshal(map[string]any{
		"event":  ChannelMarketUpdate,
		"pair":   set.Pair.String(),
		"prices": prices,
	})
	if err := s.bus.Publish(ctx, ChannelMarketUpdate, evt); err != nil {
		s.logger.WarnContext(ctx, "market update publish failed",
			slog.String("pair", set.Pair.String()),
			slog.String("error", err.Error()),
		)
	}
}

// OpportunityDetected stores the opportunity, keeps it in the recent ring,
// and announces it on the bus and notifier. Failures are logged, never
// propagated: a broken sink must not stall detection.
func (s *ArbService) OpportunityDetected(ctx context.Context, opp domain.Opportunity) {
	s.mu.Lock()
	s.recent = append(s.recent, opp)
	if len(s.recent) > s.recentCap {
		s.recent = s.recent[len(s.recent)-s.recentCap:]
	}
	s.mu.Unlock()

	if s.opps != nil {
		if err := s.opps.Insert(ctx, opp); err != nil {
			s.logger.WarnContext(ctx, "opportunity persist failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "opportunity_detected", map[string]any{
			"opp_id":         opp.ID,
			"pair":           opp.Pair.String(),
			"buy_venue":      opp.BuyVenue,
			"sell_venue":     opp.SellVenue,
			"profit_margin":  opp.ProfitMargin,
			"est_profit_pct": opp.EstProfitPct,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(opportunityPayload(opp))
		if err := s.bus.Publish(ctx, ChannelOpportunity, evt); err != nil {
			s.logger.WarnContext(ctx, "opportunity publish failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notif != nil {
		msg := fmt.Sprintf("%s: buy %s @ %.6f, sell %s @ %.6f (margin %.2f%%)",
			opp.Pair, opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice, opp.EstProfitPct)
		if err := s.notif.Notify(ctx, notify.EventOpportunity, "Arbitrage opportunity", msg); err != nil {
			s.logger.WarnContext(ctx, "opportunity notification failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "opportunity recorded",
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.Pair.String()),
		slog.Float64("est_profit_pct", opp.EstProfitPct),
	)
}

// TradeCompleted appends the execution attempt to trade history, marks the
// opportunity executed on success, and fans the outcome out. A sell leg that
// failed after a filled buy escalates as an open position.
func (s *ArbService) TradeCompleted(ctx context.Context, opp domain.Opportunity, rec domain.TradeRecord) {
	if s.trades != nil {
		if err := s.trades.Insert(ctx, rec); err != nil {
			// Trade history is the account of record; losing a row is loud.
			s.logger.ErrorContext(ctx, "trade history insert failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if rec.Success && s.opps != nil {
		if err := s.opps.MarkExecuted(ctx, opp.ID); err != nil {
			s.logger.WarnContext(ctx, "mark executed failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	evt, _ := json.Marshal(tradePayload(rec))
	if s.bus != nil {
		if err := s.bus.StreamAppend(ctx, StreamTrades, evt); err != nil {
			s.logger.WarnContext(ctx, "trade stream append failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.Publish(ctx, ChannelTrade, evt); err != nil {
			s.logger.WarnContext(ctx, "trade publish failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	event := "trade_executed"
	if !rec.Success {
		event = "trade_failed"
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, map[string]any{
			"trade_id":   rec.ID,
			"opp_id":     opp.ID,
			"pair":       rec.Pair.String(),
			"buy_venue":  rec.BuyVenue,
			"sell_venue": rec.SellVenue,
			"amount":     rec.Amount,
			"profit":     rec.Profit,
			"reason":     string(rec.Reason),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	switch {
	case rec.Success:
		s.logger.InfoContext(ctx, "trade recorded",
			slog.String("trade_id", rec.ID),
			slog.String("pair", rec.Pair.String()),
			slog.Float64("profit", rec.Profit),
		)
		if s.notif != nil {
			msg := fmt.Sprintf("%s: %.6f %s, net profit %.6f",
				rec.Pair, rec.Amount, rec.Pair.Base(), rec.Profit)
			if err := s.notif.Notify(ctx, notify.EventTradeExecuted, "Trade executed", msg); err != nil {
				s.logger.WarnContext(ctx, "trade notification failed",
					slog.String("trade_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	case rec.Reason == domain.ReasonOpenPosition:
		s.escalateOpenPosition(ctx, opp, rec)
	default:
		s.logger.WarnContext(ctx, "trade attempt failed",
			slog.String("trade_id", rec.ID),
			slog.String("pair", rec.Pair.String()),
			slog.String("reason", string(rec.Reason)),
		)
		if s.notif != nil {
			msg := fmt.Sprintf("%s: %s", rec.Pair, rec.Reason)
			if err := s.notif.Notify(ctx, notify.EventTradeFailed, "Trade failed", msg); err != nil {
				s.logger.WarnContext(ctx, "trade notification failed",
					slog.String("trade_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// The risk window just absorbed this attempt, so rebroadcast its state.
	if s.riskSrc != nil {
		s.publishRiskState(ctx, rec.ID)
	}
}

// publishRiskState pushes the post-trade window snapshot to dashboard
// clients and, when this attempt closed the gate, tells the operator the
// loop is sitting out the rest of the window.
func (s *ArbService) publishRiskState(ctx context.Context, tradeID string) {
	snap := s.riskSrc.Snapshot()

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":           ChannelRiskUpdate,
			"trade_count":     snap.TradeCount,
			"rolling_pl":      snap.RollingPL,
			"can_trade":       snap.CanTrade,
			"min_profit":      snap.MinProfit,
			"position_scale":  snap.PositionScale,
			"window_reset_at": snap.WindowResetAt,
		})
		if err := s.bus.Publish(ctx, ChannelRiskUpdate, evt); err != nil {
			s.logger.WarnContext(ctx, "risk update publish failed",
				slog.String("trade_id", tradeID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !snap.CanTrade && s.notif != nil {
		msg := fmt.Sprintf("Trading halted: %d/%d trades this window, rolling P/L %.6f.",
			snap.TradeCount, snap.MaxTradeCount, snap.RollingPL)
		if err := s.notif.Notify(ctx, notify.EventRiskLimit, "Risk limit reached", msg); err != nil {
			s.logger.WarnContext(ctx, "risk limit notification failed",
				slog.String("trade_id", tradeID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// escalateOpenPosition raises every alarm available: the account is holding
// inventory it meant to flip, and a human needs to unwind it.
func (s *ArbService) escalateOpenPosition(ctx context.Context, opp domain.Opportunity, rec domain.TradeRecord) {
	s.logger.ErrorContext(ctx, "open position: sell leg failed after filled buy",
		slog.String("trade_id", rec.ID),
		slog.String("pair", rec.Pair.String()),
		slog.String("buy_venue", rec.BuyVenue),
		slog.String("sell_venue", rec.SellVenue),
		slog.Float64("amount", rec.Amount),
	)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "open_position", map[string]any{
			"trade_id":   rec.ID,
			"opp_id":     opp.ID,
			"pair":       rec.Pair.String(),
			"buy_venue":  rec.BuyVenue,
			"sell_venue": rec.SellVenue,
			"amount":     rec.Amount,
			"buy_price":  rec.BuyPrice,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		alert, _ := json.Marshal(map[string]any{
			"event":     "open_position",
			"trade_id":  rec.ID,
			"pair":      rec.Pair.String(),
			"buy_venue": rec.BuyVenue,
			"amount":    rec.Amount,
		})
		if err := s.bus.Publish(ctx, ChannelAlerts, alert); err != nil {
			s.logger.WarnContext(ctx, "alert publish failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notif != nil {
		msg := fmt.Sprintf("%s: bought %.6f on %s but the sell on %s failed. Manual unwind required.",
			rec.Pair, rec.Amount, rec.BuyVenue, rec.SellVenue)
		if err := s.notif.NotifyAll(ctx, "OPEN POSITION", msg); err != nil {
			s.logger.WarnContext(ctx, "open position notification failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RecentOpportunities returns up to limit opportunities, newest first. The
// in-memory ring answers when this process runs the loop; otherwise the
// store does.
func (s *ArbService) RecentOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	s.mu.Lock()
	if limit <= 0 || limit > s.recentCap {
		limit = s.recentCap
	}
	if n := len(s.recent); n > 0 {
		if limit > n {
			limit = n
		}
		out := make([]domain.Opportunity, limit)
		for i := 0; i < limit; i++ {
			out[i] = s.recent[n-1-i]
		}
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	if s.opps == nil {
		return nil, nil
	}
	opps, err := s.opps.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list recent: %w", err)
	}
	return opps, nil
}

// ListTrades returns trade history with the given pagination.
func (s *ArbService) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	if s.trades == nil {
		return nil, nil
	}
	trades, err := s.trades.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list trades: %w", err)
	}
	return trades, nil
}

// ProfitSince returns total realised profit from the given time onward.
func (s *ArbService) ProfitSince(ctx context.Context, since time.Time) (float64, error) {
	if s.trades == nil {
		return 0, nil
	}
	total, err := s.trades.SumProfitSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("arb_service: profit since: %w", err)
	}
	return total, nil
}

func opportunityPayload(opp domain.Opportunity) map[string]any {
	p := map[string]any{
		"event":          ChannelOpportunity,
		"opp_id":         opp.ID,
		"pair":           opp.Pair.String(),
		"buy_venue":      opp.BuyVenue,
		"buy_price":      opp.BuyPrice,
		"sell_venue":     opp.SellVenue,
		"sell_price":     opp.SellPrice,
		"profit_margin":  opp.ProfitMargin,
		"est_profit_pct": opp.EstProfitPct,
		"detected_at":    opp.DetectedAt,
	}
	if opp.Confidence != nil {
		p["confidence"] = *opp.Confidence
	}
	return p
}

func tradePayload(rec domain.TradeRecord) map[string]any {
	return map[string]any{
		"event":      ChannelTrade,
		"trade_id":   rec.ID,
		"ts":         rec.Ts,
		"pair":       rec.Pair.String(),
		"buy_venue":  rec.BuyVenue,
		"sell_venue": rec.SellVenue,
		"buy_price":  rec.BuyPrice,
		"sell_price": rec.SellPrice,
		"amount":     rec.Amount,
		"profit":     rec.Profit,
		"success":    rec.Success,
		"reason":     string(rec.Reason),
	}
}
