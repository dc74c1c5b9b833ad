package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kjanssen/arbot/internal/domain"
)

// OpportunityService defines the methods that the opportunity handler
// requires. It is declared locally so the handler package does not depend on
// the concrete service implementation.
type OpportunityService interface {
	RecentOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// OpportunityHandler serves detected arbitrage opportunities.
type OpportunityHandler struct {
	opps   OpportunityService
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler with the given service
// and logger.
func NewOpportunityHandler(opps OpportunityService, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, logger: logger}
}

// listOpportunitiesResponse wraps the list endpoint output.
type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
}

// ListRecent returns the most recent opportunities, newest first.
// GET /api/opportunities?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	opps, err := h.opps.RecentOpportunities(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	if opps == nil {
		opps = []domain.Opportunity{}
	}

	writeJSON(w, http.StatusOK, listOpportunitiesResponse{
		Opportunities: opps,
		Count:         len(opps),
	})
}
