package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
)

// LogitWeights are the coefficients of the logistic scoring model. The
// decision variable is
//
//	z = Bias + NetMargin*netMargin + SpreadPct*spreadPct + VenueCount*venueCount
//
// and the success probability is sigmoid(z).
type LogitWeights struct {
	Bias       float64 `json:"bias"`
	NetMargin  float64 `json:"net_margin"`
	SpreadPct  float64 `json:"spread_pct"`
	VenueCount float64 `json:"venue_count"`
}

// defaultLogitWeights roughly agree with the margin rule at a 0.5% threshold:
// the probability crosses 0.7 near a 0.7% net margin and saturates well
// before the margins the detector typically sees on real spreads.
var defaultLogitWeights = LogitWeights{
	Bias:       -2.0,
	NetMargin:  400,
	SpreadPct:  0.05,
	VenueCount: 0.1,
}

// LogitScorer scores candidates with a logistic model and passes those whose
// success probability exceeds the confidence threshold, replacing the raw
// margin test.
type LogitScorer struct {
	weights   LogitWeights
	threshold float64
	logger    *slog.Logger
}

// NewLogitScorer creates a LogitScorer with the given weights. A zero or
// negative threshold falls back to 0.7.
func NewLogitScorer(weights LogitWeights, threshold float64, logger *slog.Logger) *LogitScorer {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &LogitScorer{
		weights:   weights,
		threshold: threshold,
		logger:    logger.With(slog.String("scorer", "logit")),
	}
}

// LoadLogitScorer builds a LogitScorer from a JSON weights file. An empty
// path selects the built-in default weights.
func LoadLogitScorer(path string, threshold float64, logger *slog.Logger) (*LogitScorer, error) {
	weights := defaultLogitWeights
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("arbitrage: read logit weights: %w", err)
		}
		if err := json.Unmarshal(data, &weights); err != nil {
			return nil, fmt.Errorf("arbitrage: parse logit weights %s: %w", path, err)
		}
	}
	return NewLogitScorer(weights, threshold, logger), nil
}

// Name returns the scorer identifier.
func (s *LogitScorer) Name() string { return "logit" }

// Score returns the model probability for the candidate. It errors on
// non-finite features so the detector can fall back to the margin rule
// instead of acting on a garbage probability.
func (s *LogitScorer) Score(ctx context.Context, f Features) (Prediction, error) {
	if f.MinPrice <= 0 || !isFinite(f.NetMargin) || !isFinite(f.SpreadPct) {
		return Prediction{}, fmt.Errorf("arbitrage: logit features unusable (min=%v margin=%v)", f.MinPrice, f.NetMargin)
	}

	z := s.weights.Bias +
		s.weights.NetMargin*f.NetMargin +
		s.weights.SpreadPct*f.SpreadPct +
		s.weights.VenueCount*float64(f.VenueCount)
	p := sigmoid(z)

	s.logger.DebugContext(ctx, "candidate scored",
		slog.Float64("net_margin", f.NetMargin),
		slog.Float64("probability", p),
	)
	return Prediction{Profitable: p > s.threshold, Confidence: p}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
