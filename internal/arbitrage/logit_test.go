package arbitrage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wideFeatures() Features {
	return Features{
		MinPrice:   100,
		MaxPrice:   106,
		MeanPrice:  103,
		Spread:     6,
		SpreadPct:  6,
		NetMargin:  0.0578,
		MinProfit:  0.005,
		VenueCount: 2,
	}
}

func thinFeatures() Features {
	return Features{
		MinPrice:   100,
		MaxPrice:   100.1,
		MeanPrice:  100.05,
		Spread:     0.1,
		SpreadPct:  0.1,
		NetMargin:  0.001,
		MinProfit:  0.005,
		VenueCount: 2,
	}
}

func TestLogitScorerDefaultWeights(t *testing.T) {
	s := NewLogitScorer(defaultLogitWeights, 0.7, testLogger())

	pred, err := s.Score(context.Background(), wideFeatures())
	require.NoError(t, err)
	assert.True(t, pred.Profitable)
	assert.Greater(t, pred.Confidence, 0.99, "a 5.8% margin should saturate the model")

	pred, err = s.Score(context.Background(), thinFeatures())
	require.NoError(t, err)
	assert.False(t, pred.Profitable)
	assert.Less(t, pred.Confidence, 0.7)
	assert.Greater(t, pred.Confidence, 0.0)
}

func TestLogitScorerThresholdDefaultsTo07(t *testing.T) {
	s := NewLogitScorer(defaultLogitWeights, 0, testLogger())
	assert.Equal(t, 0.7, s.threshold)
}

func TestLogitScorerIsDeterministic(t *testing.T) {
	s := NewLogitScorer(defaultLogitWeights, 0.7, testLogger())
	f := wideFeatures()

	first, err := s.Score(context.Background(), f)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		pred, err := s.Score(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, first, pred)
	}
}

func TestLogitScorerRejectsBadFeatures(t *testing.T) {
	s := NewLogitScorer(defaultLogitWeights, 0.7, testLogger())

	f := wideFeatures()
	f.NetMargin = math.NaN()
	_, err := s.Score(context.Background(), f)
	assert.Error(t, err)

	f = wideFeatures()
	f.MinPrice = 0
	_, err = s.Score(context.Background(), f)
	assert.Error(t, err)

	f = wideFeatures()
	f.SpreadPct = math.Inf(1)
	_, err = s.Score(context.Background(), f)
	assert.Error(t, err)
}

func TestLoadLogitScorerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	weights := `{"bias": -1.0, "net_margin": 100, "spread_pct": 0, "venue_count": 0}`
	require.NoError(t, os.WriteFile(path, []byte(weights), 0o600))

	s, err := LoadLogitScorer(path, 0.7, testLogger())
	require.NoError(t, err)
	assert.Equal(t, -1.0, s.weights.Bias)
	assert.Equal(t, 100.0, s.weights.NetMargin)

	// z = -1 + 100*0.0578 = 4.78, well above the 0.7 probability cut.
	pred, err := s.Score(context.Background(), wideFeatures())
	require.NoError(t, err)
	assert.True(t, pred.Profitable)
}

func TestLoadLogitScorerEmptyPathUsesDefaults(t *testing.T) {
	s, err := LoadLogitScorer("", 0.7, testLogger())
	require.NoError(t, err)
	assert.Equal(t, defaultLogitWeights, s.weights)
}

func TestLoadLogitScorerErrors(t *testing.T) {
	_, err := LoadLogitScorer(filepath.Join(t.TempDir(), "missing.json"), 0.7, testLogger())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadLogitScorer(path, 0.7, testLogger())
	assert.Error(t, err)
}

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, sigmoid(0))
	assert.Greater(t, sigmoid(10), 0.9999)
	assert.Less(t, sigmoid(-10), 0.0001)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("margin", NewMarginScorer())
	r.Register("logit", NewLogitScorer(defaultLogitWeights, 0.7, testLogger()))

	s, err := r.Get("margin")
	require.NoError(t, err)
	assert.Equal(t, "margin", s.Name())

	_, err = r.Get("random-forest")
	assert.Error(t, err)

	assert.Equal(t, []string{"logit", "margin"}, r.List())
}
