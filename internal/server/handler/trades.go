package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
)

// TradeService defines the methods that the trades handler requires.
type TradeService interface {
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
	ProfitSince(ctx context.Context, since time.Time) (float64, error)
}

// TradesHandler serves the execution history and profit endpoints.
type TradesHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler with the given service and logger.
func NewTradesHandler(trades TradeService, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{trades: trades, logger: logger}
}

// listTradesResponse wraps the list endpoint output with its paging echo.
type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListTrades returns execution attempts, newest first, with pagination and an
// optional time window.
// GET /api/trades?limit=50&offset=0&since=2026-08-01&until=2026-08-20
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	trades, err := h.trades.ListTrades(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.TradeRecord{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{
		Trades: trades,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// Profit returns the summed realised profit of successful trades since the
// given instant, defaulting to the last 24 hours.
// GET /api/trades/profit?since=2026-08-01
func (h *TradesHandler) Profit(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if t := parseTimeParam(r.URL.Query().Get("since")); t != nil {
		since = *t
	}

	total, err := h.trades.ProfitSince(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: trade profit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute profit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":        since.Format(time.RFC3339),
		"total_profit": total,
	})
}
