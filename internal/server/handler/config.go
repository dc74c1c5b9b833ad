package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kjanssen/arbot/internal/arbitrage"
	"github.com/kjanssen/arbot/internal/domain"
)

// LoopControl is the runtime-configuration surface of the trading loop.
type LoopControl interface {
	Settings() arbitrage.LoopSettings
	UpdateSettings(arbitrage.LoopSettings)
}

// ConfigAuditor records configuration changes in the audit log.
type ConfigAuditor interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// ConfigHandler reads and updates the trading loop's runtime settings.
type ConfigHandler struct {
	loop   LoopControl   // nil when the loop is not running in this mode
	audit  ConfigAuditor // optional
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler with the given loop and logger.
func NewConfigHandler(loop LoopControl, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{loop: loop, logger: logHandler(logger, "config")}
}

// WithAudit sets the audit sink for configuration changes.
func (h *ConfigHandler) WithAudit(audit ConfigAuditor) *ConfigHandler {
	h.audit = audit
	return h
}

// GetConfig returns the loop's current runtime settings.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if h.loop == nil {
		writeError(w, http.StatusNotImplemented, "trading loop not running in this mode")
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload(h.loop.Settings()))
}

// updateConfigRequest carries a partial settings update. Pointer fields and
// the nil-vs-empty distinction on pairs separate "absent" from "set to zero".
type updateConfigRequest struct {
	Pairs                []string `json:"pairs"`
	CheckIntervalSeconds *float64 `json:"check_interval_seconds"`
	TradeAmount          *float64 `json:"trade_amount"`
	AutoExecute          *bool    `json:"auto_execute"`
}

// UpdateConfig applies a partial settings update to the live loop. Omitted
// fields keep their current values; the change takes effect from the next
// cycle without a restart.
// POST /api/config
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if h.loop == nil {
		writeError(w, http.StatusNotImplemented, "trading loop not running in this mode")
		return
	}

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	next := h.loop.Settings()
	changed := map[string]any{}

	if req.Pairs != nil {
		if len(req.Pairs) == 0 {
			writeError(w, http.StatusBadRequest, "pairs must not be empty")
			return
		}
		pairs := make([]domain.Pair, 0, len(req.Pairs))
		for _, raw := range req.Pairs {
			p, err := domain.ParsePair(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			pairs = append(pairs, p)
		}
		next.Pairs = pairs
		changed["pairs"] = req.Pairs
	}

	if req.CheckIntervalSeconds != nil {
		secs := *req.CheckIntervalSeconds
		if secs < 1 {
			writeError(w, http.StatusBadRequest, "check_interval_seconds must be at least 1")
			return
		}
		next.Interval = time.Duration(secs * float64(time.Second))
		changed["check_interval_seconds"] = secs
	}

	if req.TradeAmount != nil {
		if *req.TradeAmount <= 0 {
			writeError(w, http.StatusBadRequest, "trade_amount must be positive")
			return
		}
		next.TradeAmount = *req.TradeAmount
		changed["trade_amount"] = *req.TradeAmount
	}

	if req.AutoExecute != nil {
		next.AutoExecute = *req.AutoExecute
		changed["auto_execute"] = *req.AutoExecute
	}

	if len(changed) == 0 {
		writeError(w, http.StatusBadRequest, "no settings to update")
		return
	}

	h.loop.UpdateSettings(next)

	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "config_updated", changed); err != nil {
			h.logger.WarnContext(r.Context(), "handler: audit config update failed",
				slog.String("error", err.Error()),
			)
		}
	}

	// Echo the settings the loop actually adopted; auto-execute may have been
	// refused when no execution venues are wired.
	writeJSON(w, http.StatusOK, settingsPayload(h.loop.Settings()))
}

func settingsPayload(s arbitrage.LoopSettings) map[string]any {
	pairs := make([]string, 0, len(s.Pairs))
	for _, p := range s.Pairs {
		pairs = append(pairs, p.String())
	}
	return map[string]any{
		"pairs":                  pairs,
		"check_interval_seconds": s.Interval.Seconds(),
		"trade_amount":           s.TradeAmount,
		"auto_execute":           s.AutoExecute,
	}
}
