package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kjanssen/arbot/internal/arbitrage"
	"github.com/kjanssen/arbot/internal/domain"
)

// LoopStatus reports the trading loop's live settings and counters.
type LoopStatus interface {
	Settings() arbitrage.LoopSettings
	Stats() arbitrage.LoopStats
}

// RiskStatus resolves the current risk state, local or cached.
type RiskStatus interface {
	Status(ctx context.Context) (domain.RiskSnapshot, error)
}

// StatusHandler serves the backend status for the dashboard: mode, uptime,
// loop counters and the risk snapshot. The loop and risk sections are omitted
// when the process runs without them (server-only mode).
type StatusHandler struct {
	mode      string
	startedAt time.Time
	loop      LoopStatus // optional
	risk      RiskStatus // optional
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given mode.
func NewStatusHandler(mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, logger: logger}
}

// WithLoop attaches the trading loop for settings and cycle counters.
func (h *StatusHandler) WithLoop(loop LoopStatus) *StatusHandler {
	h.loop = loop
	return h
}

// WithRisk attaches the risk state source.
func (h *StatusHandler) WithRisk(risk RiskStatus) *StatusHandler {
	h.risk = risk
	return h
}

// GetStatus responds with the current backend mode, uptime and, when present,
// the loop settings, cycle counters and risk snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	resp := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
	}

	if h.loop != nil {
		s := h.loop.Settings()
		st := h.loop.Stats()

		pairs := make([]string, 0, len(s.Pairs))
		for _, p := range s.Pairs {
			pairs = append(pairs, p.String())
		}

		loop := map[string]any{
			"pairs":                  pairs,
			"check_interval_seconds": s.Interval.Seconds(),
			"trade_amount":           s.TradeAmount,
			"auto_execute":           s.AutoExecute,
			"cycles_completed":       st.CyclesCompleted,
			"opportunities_found":    st.OpportunitiesFound,
			"trades_attempted":       st.TradesAttempted,
		}
		if !st.LastCycleAt.IsZero() {
			loop["last_cycle_at"] = st.LastCycleAt.UTC().Format(time.RFC3339)
		}
		resp["loop"] = loop
	}

	if h.risk != nil {
		snap, err := h.risk.Status(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: risk status unavailable",
				slog.String("error", err.Error()),
			)
		} else {
			resp["risk"] = map[string]any{
				"can_trade":       snap.CanTrade,
				"trade_count":     snap.TradeCount,
				"max_trade_count": snap.MaxTradeCount,
				"rolling_pl":      snap.RollingPL,
				"max_daily_loss":  snap.MaxDailyLoss,
				"min_profit":      snap.MinProfit,
				"position_scale":  snap.PositionScale,
				"window_reset_at": snap.WindowResetAt.UTC().Format(time.RFC3339),
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
