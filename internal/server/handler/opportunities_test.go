package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
)

type fakeOpps struct {
	recent   []domain.Opportunity
	err      error
	gotLimit int
}

func (f *fakeOpps) RecentOpportunities(_ context.Context, limit int) ([]domain.Opportunity, error) {
	f.gotLimit = limit
	return f.recent, f.err
}

func TestListOpportunities(t *testing.T) {
	opps := &fakeOpps{recent: []domain.Opportunity{{
		ID:           "opp-1",
		Pair:         "INJ/USDT",
		BuyVenue:     "binance",
		BuyPrice:     24.10,
		SellVenue:    "kraken",
		SellPrice:    24.55,
		ProfitMargin: 0.0165,
		DetectedAt:   time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}}}
	h := NewOpportunityHandler(opps, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest("GET", "/api/opportunities", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, 20, opps.gotLimit)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	list := body["opportunities"].([]any)
	first := list[0].(map[string]any)
	assert.Equal(t, "opp-1", first["ID"])
	assert.Equal(t, "binance", first["BuyVenue"])
}

func TestListOpportunitiesCapsLimit(t *testing.T) {
	opps := &fakeOpps{}
	h := NewOpportunityHandler(opps, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest("GET", "/api/opportunities?limit=9999", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, 200, opps.gotLimit)
}

func TestListOpportunitiesEmpty(t *testing.T) {
	h := NewOpportunityHandler(&fakeOpps{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest("GET", "/api/opportunities", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"opportunities":[]`)
}

func TestListOpportunitiesError(t *testing.T) {
	h := NewOpportunityHandler(&fakeOpps{err: errors.New("db down")}, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest("GET", "/api/opportunities", nil))
	assert.Equal(t, 500, rec.Code)
}
