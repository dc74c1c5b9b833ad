package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
)

// MarketDataService defines the methods that the market-data handler requires.
type MarketDataService interface {
	Snapshot(ctx context.Context) map[domain.Pair]domain.PriceSet
}

// MarketDataHandler serves the latest per-venue prices for the watched pairs.
type MarketDataHandler struct {
	market MarketDataService
	logger *slog.Logger
}

// NewMarketDataHandler creates a MarketDataHandler with the given service and
// logger.
func NewMarketDataHandler(market MarketDataService, logger *slog.Logger) *MarketDataHandler {
	return &MarketDataHandler{market: market, logger: logger}
}

// GetMarketData returns the current price snapshot keyed by pair and venue.
// Pairs with no usable quote this cycle are absent.
// GET /api/market-data
func (h *MarketDataHandler) GetMarketData(w http.ResponseWriter, r *http.Request) {
	snap := h.market.Snapshot(r.Context())

	pairs := make(map[string]any, len(snap))
	for pair, set := range snap {
		venues := make(map[string]any, set.Len())
		for _, venue := range set.Venues() {
			q := set.Quotes[venue]
			venues[venue] = map[string]any{
				"price": q.Price,
				"ts":    q.Ts.UTC().Format(time.RFC3339),
			}
		}
		pairs[pair.String()] = venues
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pairs": pairs,
		"count": len(pairs),
	})
}
