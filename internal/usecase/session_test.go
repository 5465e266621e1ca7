package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowScope/internal/domain/models"
	dsvc "FlowScope/internal/domain/service"
	"FlowScope/internal/services/analytics"
	"FlowScope/internal/services/feed"
	"FlowScope/internal/services/history"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingMetrics struct {
	noopMetrics
	mu      sync.Mutex
	errors  map[string]int
	firings int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{errors: map[string]int{}} }

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordFiring(string, string) {
	m.mu.Lock()
	m.firings++
	m.mu.Unlock()
}

func (m *countingMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type panicAnalyzer struct{}

func (panicAnalyzer) Compute(dsvc.AnalyticsInput) dsvc.AnalyticsResult { panic("index out of range") }

type insightAnalyzer struct{}

func (insightAnalyzer) Compute(in dsvc.AnalyticsInput) dsvc.AnalyticsResult {
	return dsvc.AnalyticsResult{
		Record: &models.AnalyticsRecord{SharpInsights: []string{"a", "b", "c", "d"}},
		Point:  analytics.Point(in),
	}
}

type scriptedRecommender struct {
	mu    sync.Mutex
	label models.Signal
}

func (r *scriptedRecommender) set(l models.Signal) {
	r.mu.Lock()
	r.label = l
	r.mu.Unlock()
}

func (r *scriptedRecommender) Recommend(in dsvc.RecommendInput) models.Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.Recommendation{Recommendation: r.label, Confidence: 50, Score: 0.5, Timeframe: in.Timeframe}
}

type memRuleStore struct {
	mu    sync.Mutex
	rules []models.AlertRule
	saves int
}

func (m *memRuleStore) LoadRules(context.Context) ([]models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AlertRule(nil), m.rules...), nil
}

func (m *memRuleStore) SaveRules(_ context.Context, rules []models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]models.AlertRule(nil), rules...)
	m.saves++
	return nil
}

type memPublisher struct {
	mu       sync.Mutex
	firings  []models.Firing
	insights []models.InsightEvent
}

func (p *memPublisher) PublishFirings(_ context.Context, f []models.Firing) error {
	p.mu.Lock()
	p.firings = append(p.firings, f...)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) PublishInsight(_ context.Context, ev models.InsightEvent) error {
	p.mu.Lock()
	p.insights = append(p.insights, ev)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memPersister struct {
	mu     sync.Mutex
	stored map[string][]models.HistoryPoint
	saves  int
}

func (p *memPersister) Load(_ context.Context, coin string) ([]models.HistoryPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.HistoryPoint(nil), p.stored[coin]...), nil
}

func (p *memPersister) Save(_ context.Context, coin string, series []models.HistoryPoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored[coin] = append([]models.HistoryPoint(nil), series...)
	p.saves++
	return nil
}

func payload(coin string, last, buy, sell float64) []byte {
	return []byte(fmt.Sprintf(`{"coin":%q,"last":%v,"high":110,"low":90,"count_VOL_minute_120_buy":%v,"count_VOL_minute_120_sell":%v}`,
		coin, last, buy, sell))
}

func TestIngestMalformedLeavesNoState(t *testing.T) {
	m := newCountingMetrics()
	s := NewSession(SessionConfig{}, nil, WithMetrics(m))

	_, err := s.Ingest(context.Background(), []byte(`{"last": 10}`))
	assert.ErrorIs(t, err, feed.ErrMissingCoin)
	_, err = s.Ingest(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, feed.ErrMalformed)

	assert.Empty(t, s.Coins())
	assert.Equal(t, 2, m.errorCount("malformed_snapshot"))
}

func TestIngestUpdatesState(t *testing.T) {
	clk := newClock()
	s := NewSession(SessionConfig{}, nil, WithSessionClock(clk.Now))

	rec, err := s.Ingest(context.Background(), payload("BTC", 100, 300, 100))
	require.NoError(t, err)
	assert.Equal(t, 300.0, rec.VolRatioBuySell)

	assert.Equal(t, []string{"BTC"}, s.Coins())
	got, ok := s.Analytics("BTC")
	require.True(t, ok)
	assert.Equal(t, rec.VolRatioBuySell, got.VolRatioBuySell)

	h := s.History("BTC", 10)
	require.Len(t, h, 1)
	assert.Equal(t, clk.Now().UnixMilli(), h[0].TS)
	assert.Equal(t, 100.0, h[0].Price)

	_, ok = s.Analytics("ETH")
	assert.False(t, ok)
	_, err = s.Recommendation("ETH", models.TF120m, false, false)
	assert.ErrorIs(t, err, ErrUnknownCoin)
}

func TestComputeFaultYieldsNeutralRecord(t *testing.T) {
	m := newCountingMetrics()
	s := NewSession(SessionConfig{}, nil, WithAnalyzer(panicAnalyzer{}), WithMetrics(m))

	rec, err := s.Ingest(context.Background(), payload("BTC", 100, 300, 100))
	require.NoError(t, err)
	assert.True(t, rec.Neutral)
	assert.Zero(t, rec.RiskScore)
	assert.Equal(t, 1, m.errorCount("compute_fault"))
	assert.Len(t, s.History("BTC", 0), 1, "history still advances")

	r, err := s.Recommendation("BTC", models.TF120m, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, r.Recommendation)
}

func TestFiringsRespectCooldown(t *testing.T) {
	clk := newClock()
	pub := &memPublisher{}
	s := NewSession(SessionConfig{}, nil, WithSessionClock(clk.Now), WithFiringPublisher(pub))
	ctx := context.Background()

	_, err := s.Ingest(ctx, payload("BTC", 100, 300, 100))
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	_, err = s.Ingest(ctx, payload("BTC", 100, 300, 100))
	require.NoError(t, err)

	f := s.Firings(10)
	require.Len(t, f, 1)
	assert.Equal(t, "vol_ratio_buy_high", f[0].RuleID)

	clk.Advance(60 * time.Second)
	_, err = s.Ingest(ctx, payload("BTC", 100, 300, 100))
	require.NoError(t, err)
	f = s.Firings(10)
	require.Len(t, f, 2)
	assert.Greater(t, f[0].Timestamp, f[1].Timestamp, "newest first")

	require.NoError(t, s.Close(ctx))
	assert.Len(t, pub.firings, 2)
}

func TestInsightNotificationsThrottled(t *testing.T) {
	clk := newClock()
	pub := &memPublisher{}
	s := NewSession(SessionConfig{}, nil, WithSessionClock(clk.Now), WithAnalyzer(insightAnalyzer{}), WithFiringPublisher(pub))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Ingest(ctx, payload("BTC", 100, 1, 1))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	ev := s.Events(0)
	require.Len(t, ev, 2, "every snapshot with insights is recorded")
	assert.Equal(t, []string{"a", "b", "c"}, ev[0].Messages)
	assert.Greater(t, ev[0].TS, ev[1].TS)

	clk.Advance(time.Minute)
	_, err := s.Ingest(ctx, payload("BTC", 100, 1, 1))
	require.NoError(t, err)
	assert.Len(t, s.Events(0), 3)
	assert.Len(t, s.Events(1), 1)

	require.NoError(t, s.Close(ctx))
	assert.Len(t, pub.insights, 2, "one notification per cooldown window")
}

func TestAnalyticsReturnsDeepCopy(t *testing.T) {
	s := NewSession(SessionConfig{}, nil, WithAnalyzer(insightAnalyzer{}))
	_, err := s.Ingest(context.Background(), payload("BTC", 100, 1, 1))
	require.NoError(t, err)

	got, ok := s.Analytics("BTC")
	require.True(t, ok)
	got.SharpInsights[0] = "mutated"
	got.VolDurabilityByTf = nil

	again, _ := s.Analytics("BTC")
	assert.Equal(t, "a", again.SharpInsights[0])
}

func TestRecommendationCooldown(t *testing.T) {
	clk := newClock()
	rec := &scriptedRecommender{label: models.SignalBuy}
	s := NewSession(SessionConfig{}, nil, WithSessionClock(clk.Now), WithRecommender(rec))

	_, err := s.Ingest(context.Background(), payload("BTC", 100, 1, 1))
	require.NoError(t, err)

	rec.set(models.SignalSell)
	clk.Advance(10 * time.Second)
	held, err := s.Recommendation("BTC", models.TF120m, false, true)
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, held.Recommendation)
	assert.True(t, held.CooldownHeld)

	raw, err := s.Recommendation("BTC", models.TF120m, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, raw.Recommendation)
	assert.False(t, raw.CooldownHeld)

	clk.Advance(25 * time.Second)
	flipped, err := s.Recommendation("BTC", models.TF120m, false, true)
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, flipped.Recommendation)
	assert.False(t, flipped.CooldownHeld)

	other, err := s.Recommendation("BTC", models.TF5m, false, true)
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, other.Recommendation, "cooldown is per timeframe")

	assert.Len(t, s.RecommendationLog("BTC"), 4, "only cooldown-applied recommendations are logged")
}

func TestRules(t *testing.T) {
	store := &memRuleStore{}
	s := NewSession(SessionConfig{}, nil, WithRuleStore(store))
	ctx := context.Background()

	require.NoError(t, s.LoadRules(ctx))
	assert.Len(t, s.Rules(), 3)
	assert.Equal(t, 1, store.saves, "defaults are seeded")

	_, err := s.SetRules(ctx, []models.AlertRule{{ID: "x", Metric: "riskScore", Comparator: "between"}})
	assert.Error(t, err)
	assert.Len(t, s.Rules(), 3)

	got, err := s.SetRules(ctx, []models.AlertRule{{ID: "risk", Metric: "riskScore", Comparator: "gte", Threshold: 50, Enabled: true}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.CompGreaterEqual, got[0].Comparator)
	assert.Equal(t, models.SeverityWarning, got[0].Severity)
	assert.Len(t, store.rules, 1)
}

func TestHistoryLoadedAndFlushed(t *testing.T) {
	p := &memPersister{stored: map[string][]models.HistoryPoint{
		"BTC": {{TS: 1, Price: 90}, {TS: 2, Price: 95}},
	}}
	store := history.New(history.WithPersister(p))
	s := NewSession(SessionConfig{}, store)
	ctx := context.Background()

	_, err := s.Ingest(ctx, payload("BTC", 100, 1, 1))
	require.NoError(t, err)
	_, err = s.Ingest(ctx, payload("BTC", 101, 1, 1))
	require.NoError(t, err)
	require.Len(t, s.History("BTC", 0), 4)

	require.NoError(t, s.Close(ctx))
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Len(t, p.stored["BTC"], 4)
}

func TestConcurrentIngestPerAsset(t *testing.T) {
	s := NewSession(SessionConfig{}, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, coin := range []string{"BTC", "ETH", "SOL"} {
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(coin string, i int) {
				defer wg.Done()
				_, err := s.Ingest(ctx, payload(coin, float64(100+i), 10, 5))
				assert.NoError(t, err)
			}(coin, i)
		}
	}
	wg.Wait()
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, s.Coins())
	for _, coin := range s.Coins() {
		assert.Len(t, s.History(coin, 0), 40)
	}
}

func TestReports(t *testing.T) {
	clk := newClock()
	s := NewSession(SessionConfig{}, nil, WithSessionClock(clk.Now))
	ctx := context.Background()

	_, err := s.RiskReport("BTC", 0)
	assert.ErrorIs(t, err, ErrUnknownCoin)

	_, err = s.Ingest(ctx, payload("BTC", 100, 10, 5))
	require.NoError(t, err)
	_, err = s.RiskReport("BTC", 0)
	assert.Error(t, err, "one point is not enough")

	for _, p := range []float64{102, 99, 104, 101} {
		clk.Advance(time.Minute)
		_, err = s.Ingest(ctx, payload("BTC", p, 10, 5))
		require.NoError(t, err)
	}
	risk, err := s.RiskReport("BTC", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, risk.Samples)
	assert.Equal(t, 200.0, risk.VolRatio)

	bt, err := s.Backtest("BTC")
	require.NoError(t, err)
	assert.Len(t, bt.Horizons, 4)

	lab, err := s.SignalLab("BTC", models.TF120m)
	require.NoError(t, err)
	assert.Len(t, lab.Factors, 8)
	assert.Equal(t, models.TF120m, lab.Timeframe)
}
