package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	VenueQuotes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_venue_quotes_total",
		Help: "Usable price quotes fetched, per venue",
	}, []string{"venue"})

	VenueErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_venue_errors_total",
		Help: "Price fetch failures, per venue",
	}, []string{"venue"})

	FetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbot_fetch_latency_seconds",
		Help:    "Time to aggregate one pair across all venues",
		Buckets: prometheus.DefBuckets,
	})

	BestMargin = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbot_best_net_margin",
		Help: "Best fee-adjusted margin seen in the last cycle, per pair",
	}, []string{"pair"})

	OpportunitiesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbot_opportunities_total",
		Help: "Arbitrage opportunities that cleared margin and confidence gates",
	})

	TradesExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbot_trades_executed_total",
		Help: "Two-leg trades that completed successfully",
	})

	TradesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_trades_failed_total",
		Help: "Trades that failed, by failure reason",
	}, []string{"reason"})

	RiskBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbot_risk_blocked_total",
		Help: "Opportunities dropped by the risk gate",
	})

	RollingPL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_rolling_pl",
		Help: "Profit and loss accumulated in the current risk window",
	})

	WindowTradeCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_window_trade_count",
		Help: "Trades recorded in the current risk window",
	})
)

func init() {
	prometheus.MustRegister(
		VenueQuotes,
		VenueErrors,
		FetchLatency,
		BestMargin,
		OpportunitiesDetected,
		TradesExecuted,
		TradesFailed,
		RiskBlocked,
		RollingPL,
		WindowTradeCount,
	)
}
