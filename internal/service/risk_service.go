package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kjanssen/arbot/internal/domain"
)

// RiskSnapshotter is the in-process risk manager as the status API sees it.
type RiskSnapshotter interface {
	Snapshot() domain.RiskSnapshot
}

// RiskService answers risk-status queries. A trading process reads its own
// manager; an API-only process reads the snapshot the trading process
// mirrors into Redis.
type RiskService struct {
	local  RiskSnapshotter
	cache  domain.RiskCache
	logger *slog.Logger
}

// NewRiskService creates a RiskService. Either source may be nil; Status
// prefers the local manager and falls back to the cache.
func NewRiskService(local RiskSnapshotter, cache domain.RiskCache, logger *slog.Logger) *RiskService {
	return &RiskService{
		local:  local,
		cache:  cache,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// Status returns the current risk window state. It returns
// domain.ErrNotFound when no local manager exists and no trading process
// has published a snapshot yet.
func (s *RiskService) Status(ctx context.Context) (domain.RiskSnapshot, error) {
	if s.local != nil {
		return s.local.Snapshot(), nil
	}

	if s.cache == nil {
		return domain.RiskSnapshot{}, domain.ErrNotFound
	}

	snap, err := s.cache.GetSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RiskSnapshot{}, domain.ErrNotFound
		}
		return domain.RiskSnapshot{}, fmt.Errorf("risk_service: get snapshot: %w", err)
	}
	return snap, nil
}
