package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/metrics"
)

// PriceFetcher aggregates venue quotes for one pair.
type PriceFetcher interface {
	Fetch(ctx context.Context, pair domain.Pair) (domain.PriceSet, error)
}

// RiskGate is the account-wide risk manager as the loop sees it.
type RiskGate interface {
	CanExecuteTrade() bool
	MinProfitThreshold() float64
	PositionSize(requested float64) float64
	RecordTradeResult(ctx context.Context, success bool, profit float64)
}

// TradeRunner executes a sized opportunity. A non-nil error means no order
// was placed at all (the attempt never started); leg failures after that
// point are reported in-band through the TradeResult.
type TradeRunner interface {
	ExecuteArbitrage(ctx context.Context, opp domain.Opportunity, amount float64) (domain.TradeResult, error)
}

// Recorder receives everything the loop produces: market snapshots, detected
// opportunities, and completed execution attempts. Implementations own
// persistence, events, and alerting; the loop only hands values over.
type Recorder interface {
	PairUpdated(ctx context.Context, set domain.PriceSet)
	OpportunityDetected(ctx context.Context, opp domain.Opportunity)
	TradeCompleted(ctx context.Context, opp domain.Opportunity, rec domain.TradeRecord)
}

// LoopStats is a point-in-time view of the loop's counters, served by the
// status API.
type LoopStats struct {
	CyclesCompleted    int64
	OpportunitiesFound int64
	TradesAttempted    int64
	LastCycleAt        time.Time
}

// LoopSettings are the knobs adjustable while the loop is running.
type LoopSettings struct {
	Pairs       []domain.Pair
	Interval    time.Duration
	TradeAmount float64
	AutoExecute bool
}

// LoopConfig configures the arbitrage loop.
type LoopConfig struct {
	Pairs       []domain.Pair
	Interval    time.Duration // cycle interval, default 10s
	FeeRate     float64       // per-leg fee used for margins and profit
	TradeAmount float64       // requested amount before risk sizing
	AutoExecute bool          // false: detect and record only
	DedupTTL    time.Duration // suppression window for repeat routes

	Fetcher  PriceFetcher
	Detector *Detector
	Risk     RiskGate
	Runner   TradeRunner // required when AutoExecute
	Recorder Recorder    // optional
	Logger   *slog.Logger
}

// Loop drives the detection/execution cycle for every configured pair on a
// fixed interval. Pairs are processed concurrently within a cycle, but the
// gate-size-execute-record sequence serializes on one lock because the risk
// budget is account-wide, not per-pair.
type Loop struct {
	feeRate float64

	fetcher  PriceFetcher
	detector *Detector
	risk     RiskGate
	runner   TradeRunner
	recorder Recorder
	dedup    *Dedup
	logger   *slog.Logger

	setMu       sync.RWMutex
	pairs       []domain.Pair
	interval    time.Duration
	tradeAmount float64
	autoExecute bool

	tradeMu sync.Mutex

	statsMu sync.Mutex
	stats   LoopStats
}

// NewLoop creates the loop. AutoExecute is forced off when no runner is
// configured.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Minute
	}
	if cfg.Runner == nil {
		cfg.AutoExecute = false
	}
	return &Loop{
		feeRate:     cfg.FeeRate,
		fetcher:     cfg.Fetcher,
		detector:    cfg.Detector,
		risk:        cfg.Risk,
		runner:      cfg.Runner,
		recorder:    cfg.Recorder,
		dedup:       NewDedup(cfg.DedupTTL),
		logger:      cfg.Logger.With(slog.String("component", "loop")),
		pairs:       cfg.Pairs,
		interval:    cfg.Interval,
		tradeAmount: cfg.TradeAmount,
		autoExecute: cfg.AutoExecute,
	}
}

// Settings returns a copy of the runtime-adjustable configuration.
func (l *Loop) Settings() LoopSettings {
	l.setMu.RLock()
	defer l.setMu.RUnlock()
	return LoopSettings{
		Pairs:       append([]domain.Pair(nil), l.pairs...),
		Interval:    l.interval,
		TradeAmount: l.tradeAmount,
		AutoExecute: l.autoExecute,
	}
}

// UpdateSettings applies new settings to the running loop; the next cycle
// picks them up. Zero values for Pairs, Interval, and TradeAmount keep the
// current setting. AutoExecute is always applied, though it stays off when
// the loop has no runner.
func (l *Loop) UpdateSettings(s LoopSettings) {
	l.setMu.Lock()
	defer l.setMu.Unlock()

	if len(s.Pairs) > 0 {
		l.pairs = append([]domain.Pair(nil), s.Pairs...)
	}
	if s.Interval > 0 {
		l.interval = s.Interval
	}
	if s.TradeAmount > 0 {
		l.tradeAmount = s.TradeAmount
	}
	l.autoExecute = s.AutoExecute && l.runner != nil

	l.logger.Info("loop settings updated",
		slog.Int("pairs", len(l.pairs)),
		slog.Duration("interval", l.interval),
		slog.Float64("trade_amount", l.tradeAmount),
		slog.Bool("auto_execute", l.autoExecute),
	)
}

// Run processes one cycle immediately and then one per interval until ctx is
// cancelled. Cancellation takes effect between cycles; an in-flight cycle
// always runs to completion so no trade is torn down mid-leg.
func (l *Loop) Run(ctx context.Context) error {
	s := l.Settings()
	l.logger.Info("arbitrage loop started",
		slog.Int("pairs", len(s.Pairs)),
		slog.Duration("interval", s.Interval),
		slog.Bool("auto_execute", s.AutoExecute),
	)
	defer l.logger.Info("arbitrage loop stopped")

	for {
		l.runCycle(ctx)
		l.dedup.Cleanup()

		// The interval is re-read every cycle so settings updates apply
		// without a restart.
		timer := time.NewTimer(l.Settings().Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runCycle fans the pairs out on an errgroup and waits for all of them, so a
// pair never overlaps itself across cycles. Workers always return nil; one
// pair's failure must not cancel the others.
func (l *Loop) runCycle(ctx context.Context) {
	s := l.Settings()

	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range s.Pairs {
		pair := pair
		g.Go(func() error {
			l.processPair(gctx, s, pair)
			return nil
		})
	}
	_ = g.Wait()

	l.statsMu.Lock()
	l.stats.CyclesCompleted++
	l.stats.LastCycleAt = time.Now().UTC()
	l.statsMu.Unlock()
}

// Stats returns the loop's lifetime counters.
func (l *Loop) Stats() LoopStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// processPair runs the fetch-detect-execute chain for one pair. Every exit
// path is a normal skip or a logged failure; nothing propagates.
func (l *Loop) processPair(ctx context.Context, s LoopSettings, pair domain.Pair) {
	log := l.logger.With(slog.String("pair", pair.String()))

	set, err := l.fetcher.Fetch(ctx, pair)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiquidity) {
			log.DebugContext(ctx, "no usable quotes this cycle")
		} else {
			log.WarnContext(ctx, "fetch failed", slog.String("error", err.Error()))
		}
		return
	}
	if l.recorder != nil {
		l.recorder.PairUpdated(ctx, set)
	}

	if !l.risk.CanExecuteTrade() {
		metrics.RiskBlocked.Inc()
		log.DebugContext(ctx, "risk gate closed, skipping cycle")
		return
	}

	opp, err := l.detector.Detect(ctx, set, l.risk.MinProfitThreshold(), l.feeRate)
	if err != nil {
		log.WarnContext(ctx, "detect failed", slog.String("error", err.Error()))
		return
	}
	if opp == nil {
		return
	}

	if l.dedup.IsDuplicate(*opp) {
		log.DebugContext(ctx, "route seen recently, suppressed",
			slog.String("buy_venue", opp.BuyVenue),
			slog.String("sell_venue", opp.SellVenue),
		)
		return
	}

	l.statsMu.Lock()
	l.stats.OpportunitiesFound++
	l.statsMu.Unlock()

	if l.recorder != nil {
		l.recorder.OpportunityDetected(ctx, *opp)
	}

	if !s.AutoExecute {
		return
	}
	l.trade(ctx, log, *opp, s.TradeAmount)
}

// trade runs the serialized execution sequence for one opportunity. The gate
// is re-checked under the lock: another pair may have consumed the remaining
// budget while this one was detecting.
func (l *Loop) trade(ctx context.Context, log *slog.Logger, opp domain.Opportunity, requested float64) {
	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	if !l.risk.CanExecuteTrade() {
		metrics.RiskBlocked.Inc()
		log.InfoContext(ctx, "risk gate closed before execution, dropping opportunity",
			slog.String("opp_id", opp.ID),
		)
		return
	}

	amount := l.risk.PositionSize(requested)
	if amount <= 0 {
		log.WarnContext(ctx, "position size is zero, dropping opportunity",
			slog.String("opp_id", opp.ID),
		)
		return
	}

	res, err := l.runner.ExecuteArbitrage(ctx, opp, amount)
	if err != nil {
		// Nothing was submitted, so there is no attempt to count against
		// the risk window and nothing to record.
		log.WarnContext(ctx, "trade attempt aborted",
			slog.String("opp_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.risk.RecordTradeResult(ctx, res.Success, res.NetProfit)

	l.statsMu.Lock()
	l.stats.TradesAttempted++
	l.statsMu.Unlock()

	rec := domain.TradeRecord{
		ID:        uuid.Must(uuid.NewRandom()).String(),
		Ts:        time.Now().UTC(),
		Pair:      opp.Pair,
		BuyVenue:  opp.BuyVenue,
		SellVenue: opp.SellVenue,
		BuyPrice:  opp.BuyPrice,
		SellPrice: opp.SellPrice,
		Amount:    amount,
		Profit:    res.NetProfit,
		Success:   res.Success,
		Reason:    res.Reason,
	}
	if l.recorder != nil {
		l.recorder.TradeCompleted(ctx, opp, rec)
	}
}
