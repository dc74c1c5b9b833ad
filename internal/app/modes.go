package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kjanssen/arbot/internal/arbitrage"
	"github.com/kjanssen/arbot/internal/crypto"
	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/executor"
	"github.com/kjanssen/arbot/internal/feed"
	"github.com/kjanssen/arbot/internal/pipeline"
	"github.com/kjanssen/arbot/internal/risk"
	"github.com/kjanssen/arbot/internal/server"
	"github.com/kjanssen/arbot/internal/server/handler"
	"github.com/kjanssen/arbot/internal/server/ws"
	"github.com/kjanssen/arbot/internal/service"
	"github.com/kjanssen/arbot/internal/venue/binance"
	"github.com/kjanssen/arbot/internal/venue/helix"
	"github.com/kjanssen/arbot/internal/venue/kraken"
	"github.com/kjanssen/arbot/internal/venue/paper"
)

// loopStack bundles the components a trading process shares with its API
// server: the loop itself plus the services the handlers read from. An
// API-only process carries a stack without a loop.
type loopStack struct {
	loop    *arbitrage.Loop
	arbSvc  *service.ArbService
	market  *service.MarketService
	riskSvc *service.RiskService
}

// MonitorMode runs the detection loop without execution or persistence.
// Opportunities are logged, published, and kept in the in-memory ring; no
// orders are placed and nothing is written to Postgres.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode; detections are recorded and published only")

	g, ctx := errgroup.WithContext(ctx)

	stack, err := a.buildLoopStack(deps, false)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	g.Go(func() error {
		return stack.loop.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startAPIServer(ctx, g, deps, stack)
	}

	return g.Wait()
}

// TradeMode runs the full detect-gate-execute loop headless. Orders are
// routed automatically when the risk manager clears them, and every
// snapshot, opportunity, and attempt is persisted.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("scorer", a.cfg.Arbitrage.Scorer),
	)

	g, ctx := errgroup.WithContext(ctx)

	stack, err := a.buildLoopStack(deps, true)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	g.Go(func() error {
		return stack.loop.Run(ctx)
	})

	if a.cfg.Pipeline.Enabled {
		a.startArchiver(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode serves the REST and WebSocket API from the stores alone. No
// venues are polled and no loop runs; a trading process elsewhere feeds the
// same Postgres and Redis.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	pairs, err := parsePairs(a.cfg.Arbitrage.Pairs)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	market := service.NewMarketService(pairs, a.venueNames(), a.logger)
	market.SetPriceCache(deps.PriceCache)

	arbSvc := service.NewArbService(deps.Opps, deps.Trades, deps.Audit, market, a.logger)
	arbSvc.SetHistorySize(a.cfg.Arbitrage.HistorySize)

	stack := &loopStack{
		arbSvc:  arbSvc,
		market:  market,
		riskSvc: service.NewRiskService(nil, deps.RiskCache, a.logger),
	}

	// Always on here; there is nothing else to run.
	a.startAPIServer(ctx, g, deps, stack)

	return g.Wait()
}

// FullMode runs everything in one process: the execution loop, the archive
// pipeline, and the API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("scorer", a.cfg.Arbitrage.Scorer),
	)

	g, ctx := errgroup.WithContext(ctx)

	stack, err := a.buildLoopStack(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error {
		return stack.loop.Run(ctx)
	})

	if a.cfg.Pipeline.Enabled {
		a.startArchiver(ctx, g, deps)
	}

	if a.cfg.Server.Enabled {
		a.startAPIServer(ctx, g, deps, stack)
	}

	return g.Wait()
}

// buildLoopStack assembles the venue clients, feed aggregator, scorer, risk
// manager, executor, and detection loop for a trading process. With
// autoExecute false no executor is built and the loop records only.
func (a *App) buildLoopStack(deps *Dependencies, autoExecute bool) (*loopStack, error) {
	pairs, err := parsePairs(a.cfg.Arbitrage.Pairs)
	if err != nil {
		return nil, err
	}

	sources, submitters, err := a.buildVenues(autoExecute, deps)
	if err != nil {
		return nil, err
	}

	agg := feed.NewAggregator(sources, a.logger)
	agg.SetPriceCache(deps.PriceCache)

	scorer, err := a.newScorer()
	if err != nil {
		return nil, err
	}

	riskMgr := risk.NewManager(risk.Limits{
		MaxTradeAmount: a.cfg.Risk.MaxTradeAmount,
		MaxDailyLoss:   a.cfg.Risk.MaxDailyLoss,
		MaxTradeCount:  a.cfg.Risk.MaxTradeCount,
		MinProfit:      a.cfg.Arbitrage.MinProfitThreshold,
		Window:         a.cfg.Risk.Window.Duration,
	}, a.logger)
	riskMgr.SetRiskCache(deps.RiskCache)

	market := service.NewMarketService(pairs, agg.Venues(), a.logger)
	market.SetPriceCache(deps.PriceCache)

	arbSvc := service.NewArbService(deps.Opps, deps.Trades, deps.Audit, market, a.logger)
	arbSvc.SetSignalBus(deps.SignalBus)
	arbSvc.SetNotifier(deps.Notifier)
	arbSvc.SetRiskSource(riskMgr)
	arbSvc.SetHistorySize(a.cfg.Arbitrage.HistorySize)

	loopCfg := arbitrage.LoopConfig{
		Pairs:    pairs,
		Interval: a.cfg.Arbitrage.CheckInterval.Duration,
		FeeRate:  a.cfg.Arbitrage.FeeRate,
		// Requested size per trade; the risk manager scales it down as the
		// window fills.
		TradeAmount: a.cfg.Risk.MaxTradeAmount,
		AutoExecute: autoExecute,
		DedupTTL:    a.cfg.Arbitrage.DedupTTL.Duration,
		Fetcher:     agg,
		Detector:    arbitrage.NewDetector(scorer, a.logger),
		Risk:        riskMgr,
		Recorder:    arbSvc,
		Logger:      a.logger,
	}
	if autoExecute {
		exec := executor.NewExecutor(submitters, a.cfg.Arbitrage.FeeRate, a.logger)
		exec.SetLockManager(deps.LockManager)
		loopCfg.Runner = exec
	}

	return &loopStack{
		loop:    arbitrage.NewLoop(loopCfg),
		arbSvc:  arbSvc,
		market:  market,
		riskSvc: service.NewRiskService(riskMgr, deps.RiskCache, a.logger),
	}, nil
}

// buildVenues constructs one client per enabled venue. Every enabled venue is
// a price source; in an executing process the venues with order credentials
// double as submitters.
func (a *App) buildVenues(autoExecute bool, deps *Dependencies) ([]domain.PriceSource, map[string]domain.OrderSubmitter, error) {
	var sources []domain.PriceSource
	submitters := make(map[string]domain.OrderSubmitter)

	vcfg := a.cfg.Venues
	if vcfg.Binance.Enabled {
		c := binance.NewClient(binance.Config{
			BaseURL:   vcfg.Binance.BaseURL,
			ApiKey:    vcfg.Binance.ApiKey,
			ApiSecret: vcfg.Binance.ApiSecret,
		}, a.logger)
		c.SetRateLimiter(deps.RateLimiter)
		sources = append(sources, c)
		if autoExecute && vcfg.Binance.ApiKey != "" {
			submitters[c.Name()] = c
		}
	}
	if vcfg.Kraken.Enabled {
		c := kraken.NewClient(kraken.Config{
			BaseURL:   vcfg.Kraken.BaseURL,
			ApiKey:    vcfg.Kraken.ApiKey,
			ApiSecret: vcfg.Kraken.ApiSecret,
		}, a.logger)
		c.SetRateLimiter(deps.RateLimiter)
		sources = append(sources, c)
		if autoExecute && vcfg.Kraken.ApiKey != "" {
			submitters[c.Name()] = c
		}
	}
	if vcfg.Helix.Enabled {
		signer, err := a.helixSigner()
		if err != nil {
			return nil, nil, err
		}
		c := helix.NewClient(helix.Config{
			BaseURL:   vcfg.Helix.BaseURL,
			MarketIDs: vcfg.Helix.MarketIDs,
		}, signer, a.logger)
		c.SetRateLimiter(deps.RateLimiter)
		sources = append(sources, c)
		if autoExecute && signer != nil {
			submitters[c.Name()] = c
		}
	}
	if vcfg.Paper.Enabled {
		for _, name := range vcfg.Paper.Venues {
			v := paper.New(name, vcfg.Paper.Seed, vcfg.Paper.Jitter, vcfg.Paper.Prices, a.logger)
			sources = append(sources, v)
			if autoExecute {
				submitters[v.Name()] = v
			}
		}
	}

	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no venues enabled")
	}
	return sources, submitters, nil
}

// helixSigner loads the wallet key and builds the order signer. It returns
// (nil, nil) when no wallet is configured, which leaves Helix price-only.
func (a *App) helixSigner() (*crypto.Signer, error) {
	w := a.cfg.Wallet
	if w.PrivateKey == "" && w.EncryptedKeyPath == "" {
		return nil, nil
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    w.PrivateKey,
		EncryptedKeyPath: w.EncryptedKeyPath,
		KeyPassword:      w.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, helixChainID(a.cfg.Venues.Helix.ChainID))
	if err != nil {
		return nil, fmt.Errorf("wallet signer: %w", err)
	}
	return signer, nil
}

// helixChainID maps the Injective chain ID to the numeric EVM chain ID the
// order signer expects. Mainnet signs as 1, the 888 testnet as 5.
func helixChainID(chainID string) int {
	switch chainID {
	case "", "injective-1":
		return 1
	case "injective-888":
		return 5
	default:
		if n, err := strconv.Atoi(chainID); err == nil && n > 0 {
			return n
		}
		return 1
	}
}

// newScorer builds the scorer registry and picks the configured entry.
func (a *App) newScorer() (arbitrage.Scorer, error) {
	reg := arbitrage.NewRegistry()
	reg.Register("margin", arbitrage.NewMarginScorer())

	logit, err := arbitrage.LoadLogitScorer(
		a.cfg.Arbitrage.ScorerWeights,
		a.cfg.Arbitrage.ConfidenceThreshold,
		a.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("load logit scorer: %w", err)
	}
	reg.Register("logit", logit)

	return reg.Get(strings.ToLower(a.cfg.Arbitrage.Scorer))
}

// venueNames lists the venues a trading process would feed, for API-only
// processes that never build clients.
func (a *App) venueNames() []string {
	var names []string
	v := a.cfg.Venues
	if v.Binance.Enabled {
		names = append(names, "binance")
	}
	if v.Kraken.Enabled {
		names = append(names, "kraken")
	}
	if v.Helix.Enabled {
		names = append(names, "helix")
	}
	if v.Paper.Enabled {
		names = append(names, v.Paper.Venues...)
	}
	return names
}

// parsePairs converts the configured pair strings into domain pairs.
func parsePairs(raw []string) ([]domain.Pair, error) {
	pairs := make([]domain.Pair, 0, len(raw))
	for _, s := range raw {
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// startArchiver schedules the archive-and-prune cron. Validation ties the
// pipeline flag to a configured bucket, so a nil archiver here means the
// mode never wired Postgres.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archive pipeline enabled but not wired; skipping")
		return
	}
	arch := pipeline.NewArchiver(
		deps.Archiver,
		deps.Trades,
		deps.Opps,
		a.cfg.Pipeline.ArchiveRetentionDays,
		a.logger,
	)
	arch.SetNotifier(deps.Notifier)
	g.Go(func() error {
		return arch.RunCron(ctx, a.cfg.Pipeline.ArchiveCron)
	})
}

// startAPIServer adds the REST and WebSocket server goroutines to the given
// errgroup. Handlers degrade with the stack: endpoints whose collaborator is
// absent in this mode answer 501 rather than disappearing.
func (a *App) startAPIServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, stack *loopStack) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	statusH := handler.NewStatusHandler(a.cfg.Mode, a.startedAt, a.logger)
	statusH = statusH.WithRisk(stack.riskSvc)

	// The loop is assigned through interface variables only when it exists,
	// so the handlers' nil checks keep working.
	var loopCtrl handler.LoopControl
	if stack.loop != nil {
		loopCtrl = stack.loop
		statusH = statusH.WithLoop(stack.loop)
	}
	configH := handler.NewConfigHandler(loopCtrl, a.logger)
	if deps.Audit != nil {
		configH = configH.WithAudit(deps.Audit)
	}

	var metricsH http.Handler
	if a.cfg.Metrics.Enabled {
		metricsH = promhttp.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(),
		Status:        statusH,
		Opportunities: handler.NewOpportunityHandler(stack.arbSvc, a.logger),
		Trades:        handler.NewTradesHandler(stack.arbSvc, a.logger),
		Market:        handler.NewMarketDataHandler(stack.market, a.logger),
		Config:        configH,
		Archives:      handler.NewArchivesHandler(deps.BlobReader, a.logger),
		Metrics:       metricsH,
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
