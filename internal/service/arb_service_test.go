package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeOppStore struct {
	insertErr error
	markErr   error
	inserted  []domain.Opportunity
	executed  []string
	recent    []domain.Opportunity
}

func (f *fakeOppStore) Insert(_ context.Context, opp domain.Opportunity) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, opp)
	return nil
}

func (f *fakeOppStore) MarkExecuted(_ context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.executed = append(f.executed, id)
	return nil
}

func (f *fakeOppStore) ListRecent(_ context.Context, limit int) ([]domain.Opportunity, error) {
	if limit > len(f.recent) {
		limit = len(f.recent)
	}
	return f.recent[:limit], nil
}

func (f *fakeOppStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

func (f *fakeOppStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeTradeStore struct {
	insertErr error
	inserted  []domain.TradeRecord
	sum       float64
}

func (f *fakeTradeStore) Insert(_ context.Context, rec domain.TradeRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeTradeStore) List(_ context.Context, _ domain.ListOpts) ([]domain.TradeRecord, error) {
	return f.inserted, nil
}

func (f *fakeTradeStore) ListRecent(_ context.Context, _ int) ([]domain.TradeRecord, error) {
	return f.inserted, nil
}

func (f *fakeTradeStore) SumProfitSince(_ context.Context, _ time.Time) (float64, error) {
	return f.sum, nil
}

func (f *fakeTradeStore) ListBefore(_ context.Context, _ time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeTradeStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type auditEvent struct {
	event  string
	detail map[string]any
}

type fakeAuditStore struct {
	logErr error
	events []auditEvent
}

func (f *fakeAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.events = append(f.events, auditEvent{event: event, detail: detail})
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditStore) eventNames() []string {
	names := make([]string, 0, len(f.events))
	for _, e := range f.events {
		names = append(names, e.event)
	}
	return names
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func (f *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type stubRiskSource struct {
	snap domain.RiskSnapshot
}

func (s *stubRiskSource) Snapshot() domain.RiskSnapshot { return s.snap }

type stubSender struct {
	name     string
	messages []string
}

func (s *stubSender) Send(_ context.Context, title, message string) error {
	s.messages = append(s.messages, title+"|"+message)
	return nil
}

func (s *stubSender) Name() string { return s.name }

type arbFixture struct {
	svc    *ArbService
	opps   *fakeOppStore
	trades *fakeTradeStore
	audit  *fakeAuditStore
	bus    *fakeBus
	sender *stubSender
	market *MarketService
}

func newArbFixture(t *testing.T, notifyEvents []string) *arbFixture {
	t.Helper()

	f := &arbFixture{
		opps:   &fakeOppStore{},
		trades: &fakeTradeStore{},
		audit:  &fakeAuditStore{},
		bus:    newFakeBus(),
		sender: &stubSender{name: "stub"},
	}
	f.market = NewMarketService(
		[]domain.Pair{domain.Pair("INJ/USDT")},
		[]string{"binance", "kraken"},
		testLogger(),
	)
	f.svc = NewArbService(f.opps, f.trades, f.audit, f.market, testLogger())
	f.svc.SetSignalBus(f.bus)
	f.svc.SetNotifier(notify.NewNotifier([]notify.Sender{f.sender}, notifyEvents, testLogger()))
	return f
}

func testOpp(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:           id,
		Pair:         domain.Pair("INJ/USDT"),
		BuyVenue:     "binance",
		BuyPrice:     24.10,
		SellVenue:    "kraken",
		SellPrice:    24.55,
		ProfitMargin: 0.0165,
		EstProfitPct: 1.65,
		DetectedAt:   time.Now().UTC(),
	}
}

func testRec(opp domain.Opportunity, success bool, reason domain.FailReason) domain.TradeRecord {
	profit := 0.0
	if success {
		profit = 1.005
	}
	return domain.TradeRecord{
		ID:        "trade-" + opp.ID,
		Ts:        time.Now().UTC(),
		Pair:      opp.Pair,
		BuyVenue:  opp.BuyVenue,
		SellVenue: opp.SellVenue,
		BuyPrice:  opp.BuyPrice,
		SellPrice: opp.SellPrice,
		Amount:    2.5,
		Profit:    profit,
		Success:   success,
		Reason:    reason,
	}
}

func TestPairUpdatedPublishesMarketData(t *testing.T) {
	f := newArbFixture(t, nil)
	ctx := context.Background()

	set := domain.NewPriceSet(domain.Pair("INJ/USDT"))
	set.Add(domain.Quote{Venue: "binance", Pair: set.Pair, Price: 24.10, Ts: time.Now()})
	set.Add(domain.Quote{Venue: "kraken", Pair: set.Pair, Price: 24.55, Ts: time.Now()})

	f.svc.PairUpdated(ctx, set)

	snap := f.market.Snapshot(ctx)
	require.Contains(t, snap, domain.Pair("INJ/USDT"))
	assert.Equal(t, 2, snap[domain.Pair("INJ/USDT")].Len())

	msgs := f.bus.published[ChannelMarketUpdate]
	require.Len(t, msgs, 1)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &evt))
	assert.Equal(t, "INJ/USDT", evt["pair"])
	prices := evt["prices"].(map[string]any)
	assert.Equal(t, 24.10, prices["binance"])
	assert.Equal(t, 24.55, prices["kraken"])
}

func TestOpportunityDetectedPersistsAndAnnounces(t *testing.T) {
	f := newArbFixture(t, nil)
	ctx := context.Background()

	opp := testOpp("opp-1")
	f.svc.OpportunityDetected(ctx, opp)

	require.Len(t, f.opps.inserted, 1)
	assert.Equal(t, "opp-1", f.opps.inserted[0].ID)

	assert.Equal(t, []string{"opportunity_detected"}, f.audit.eventNames())

	msgs := f.bus.published[ChannelOpportunity]
	require.Len(t, msgs, 1)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &evt))
	assert.Equal(t, "opp-1", evt["opp_id"])
	assert.Equal(t, "binance", evt["buy_venue"])

	require.Len(t, f.sender.messages, 1)
	assert.Contains(t, f.sender.messages[0], "Arbitrage opportunity")

	recent, err := f.svc.RecentOpportunities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "opp-1", recent[0].ID)
}

func TestRecentOpportunitiesRingIsCapped(t *testing.T) {
	f := newArbFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		f.svc.OpportunityDetected(ctx, testOpp(fmt.Sprintf("opp-%d", i)))
	}

	recent, err := f.svc.RecentOpportunities(ctx, 100)
	require.NoError(t, err)
	require.Len(t, recent, 20)

	// Newest first, oldest five evicted.
	assert.Equal(t, "opp-24", recent[0].ID)
	assert.Equal(t, "opp-5", recent[19].ID)
}

func TestRecentOpportunitiesFallsBackToStore(t *testing.T) {
	f := newArbFixture(t, nil)
	f.opps.recent = []domain.Opportunity{testOpp("stored-1"), testOpp("stored-2")}

	recent, err := f.svc.RecentOpportunities(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "stored-1", recent[0].ID)
}

func TestSetHistorySizeResizesRing(t *testing.T) {
	f := newArbFixture(t, nil)
	ctx := context.Background()
	f.svc.SetHistorySize(5)

	for i := 0; i < 8; i++ {
		f.svc.OpportunityDetected(ctx, testOpp(fmt.Sprintf("opp-%d", i)))
	}

	recent, err := f.svc.RecentOpportunities(ctx, 100)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "opp-7", recent[0].ID)
	assert.Equal(t, "opp-3", recent[4].ID)

	// Shrinking below one is ignored.
	f.svc.SetHistorySize(0)
	recent, err = f.svc.RecentOpportunities(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 5)
}

func TestStorelessServiceKeepsRingOnly(t *testing.T) {
	svc := NewArbService(nil, nil, nil, nil, testLogger())
	ctx := context.Background()

	opp := testOpp("opp-1")
	svc.OpportunityDetected(ctx, opp)
	svc.TradeCompleted(ctx, opp, testRec(opp, true, domain.ReasonNone))

	recent, err := svc.RecentOpportunities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	trades, err := svc.ListTrades(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, trades)

	total, err := svc.ProfitSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTradeCompletedSuccess(t *testing.T) {
	f := newArbFixture(t, nil)
	ctx := context.Background()

	opp := testOpp("opp-1")
	rec := testRec(opp, true, domain.ReasonNone)
	f.svc.TradeCompleted(ctx, opp, rec)

	require.Len(t, f.trades.inserted, 1)
	assert.Equal(t, rec.ID, f.trades.inserted[0].ID)

	assert.Equal(t, []string{"opp-1"}, f.opps.executed)
	assert.Equal(t, []string{"trade_executed"}, f.audit.eventNames())

	require.Len(t, f.bus.streams[StreamTrades], 1)
	require.Len(t, f.bus.published[ChannelTrade], 1)

	// No risk source attached, so no risk rebroadcast.
	assert.Empty(t, f.bus.published[ChannelRiskUpdate])

	require.Len(t, f.sender.messages, 1)
	assert.Contains(t, f.sender.messages[0], "Trade executed")
}

func TestTradeCompletedPublishesRiskUpdate(t *testing.T) {
	f := newArbFixture(t, nil)
	f.svc.SetRiskSource(&stubRiskSource{snap: domain.RiskSnapshot{
		TradeCount: 3,
		RollingPL:  -0.2,
		CanTrade:   true,
	}})
	ctx := context.Background()

	opp := testOpp("opp-1")
	f.svc.TradeCompleted(ctx, opp, testRec(opp, true, domain.ReasonNone))

	msgs := f.bus.published[ChannelRiskUpdate]
	require.Len(t, msgs, 1)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &evt))
	assert.Equal(t, ChannelRiskUpdate, evt["event"])
	assert.Equal(t, float64(3), evt["trade_count"])
	assert.Equal(t, -0.2, evt["rolling_pl"])
	assert.Equal(t, true, evt["can_trade"])
}

func TestTradeCompletedNotifiesRiskLimit(t *testing.T) {
	f := newArbFixture(t, nil)
	f.svc.SetRiskSource(&stubRiskSource{snap: domain.RiskSnapshot{
		TradeCount:    10,
		MaxTradeCount: 10,
		RollingPL:     0.4,
		CanTrade:      false,
	}})
	ctx := context.Background()

	opp := testOpp("opp-1")
	f.svc.TradeCompleted(ctx, opp, testRec(opp, true, domain.ReasonNone))

	// The trade announcement goes out first, then the halt notice.
	require.Len(t, f.sender.messages, 2)
	assert.Contains(t, f.sender.messages[0], "Trade executed")
	assert.Contains(t, f.sender.messages[1], "Risk limit reached")
	assert.Contains(t, f.sender.messages[1], "10/10")
}

func TestTradeCompletedFailureDoesNotMarkExecuted(t *testing.T) {
	f := newArbFixture(t, nil)
	ctx := context.Background()

	opp := testOpp("opp-1")
	rec := testRec(opp, false, domain.ReasonBuyFailed)
	f.svc.TradeCompleted(ctx, opp, rec)

	assert.Empty(t, f.opps.executed)
	assert.Equal(t, []string{"trade_failed"}, f.audit.eventNames())

	require.Len(t, f.sender.messages, 1)
	assert.Contains(t, f.sender.messages[0], "Trade failed")
}

func TestOpenPositionEscalates(t *testing.T) {
	// The notifier filter allows nothing, so only NotifyAll gets through.
	f := newArbFixture(t, []string{"no_such_event"})
	ctx := context.Background()

	opp := testOpp("opp-1")
	rec := testRec(opp, false, domain.ReasonOpenPosition)
	f.svc.TradeCompleted(ctx, opp, rec)

	assert.Equal(t, []string{"trade_failed", "open_position"}, f.audit.eventNames())

	alerts := f.bus.published[ChannelAlerts]
	require.Len(t, alerts, 1)
	var alert map[string]any
	require.NoError(t, json.Unmarshal(alerts[0], &alert))
	assert.Equal(t, "open_position", alert["event"])

	// The escalation bypassed the event filter.
	require.Len(t, f.sender.messages, 1)
	assert.Contains(t, f.sender.messages[0], "OPEN POSITION")
	assert.Contains(t, f.sender.messages[0], "Manual unwind required")
}

func TestSinkFailuresDoNotPropagate(t *testing.T) {
	f := newArbFixture(t, nil)
	f.opps.insertErr = errors.New("db down")
	f.opps.markErr = errors.New("db down")
	f.trades.insertErr = errors.New("db down")
	f.audit.logErr = errors.New("db down")
	ctx := context.Background()

	opp := testOpp("opp-1")
	f.svc.OpportunityDetected(ctx, opp)
	f.svc.TradeCompleted(ctx, opp, testRec(opp, true, domain.ReasonNone))

	// The ring still works even when every sink is down.
	recent, err := f.svc.RecentOpportunities(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestProfitSince(t *testing.T) {
	f := newArbFixture(t, nil)
	f.trades.sum = 3.25

	total, err := f.svc.ProfitSince(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3.25, total)
}
