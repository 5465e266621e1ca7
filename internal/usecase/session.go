package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"FlowScope/internal/domain/models"
	drepo "FlowScope/internal/domain/repository"
	dsvc "FlowScope/internal/domain/service"
	"FlowScope/internal/services/alerting"
	"FlowScope/internal/services/analytics"
	"FlowScope/internal/services/feed"
	"FlowScope/internal/services/history"
	"FlowScope/internal/services/recommend"
	applogger "FlowScope/pkg/logger"
)

var (
	// ErrUnknownCoin is returned by read methods for an asset never ingested.
	ErrUnknownCoin = errors.New("unknown coin")
)

const (
	defaultMaxEvents       = 200
	defaultMaxFirings      = 300
	defaultMaxRecLog       = 200
	defaultInsightCooldown = 60 * time.Second
	defaultRecCooldown     = 30 * time.Second
	insightsPerEvent       = 3
	publishTimeout         = 5 * time.Second
)

// SessionConfig tunes the session buffers and cooldowns.
type SessionConfig struct {
	RecommendationCooldown time.Duration
	InsightCooldown        time.Duration
	UseATRSizing           bool
	MaxEvents              int
	MaxFirings             int
	MaxRecLog              int
	// InitialRules seed the rule set when the store has none. Empty means the built-in defaults.
	InitialRules []models.AlertRule
}

func (c *SessionConfig) withDefaults() SessionConfig {
	out := *c
	if out.RecommendationCooldown <= 0 {
		out.RecommendationCooldown = defaultRecCooldown
	}
	if out.InsightCooldown <= 0 {
		out.InsightCooldown = defaultInsightCooldown
	}
	if out.MaxEvents <= 0 {
		out.MaxEvents = defaultMaxEvents
	}
	if out.MaxFirings <= 0 {
		out.MaxFirings = defaultMaxFirings
	}
	if out.MaxRecLog <= 0 {
		out.MaxRecLog = defaultMaxRecLog
	}
	return out
}

type heldLabel struct {
	label      models.Signal
	confidence int
	since      int64
}

// Session owns all mutable analytics state for one process.
type Session struct {
	cfg         SessionConfig
	analyzer    dsvc.Analyzer
	recommender dsvc.Recommender
	evaluator   dsvc.RuleEvaluator
	history     *history.Store
	ruleStore   drepo.RuleStore
	publisher   drepo.FiringPublisher
	metrics     drepo.Metrics
	logger      *applogger.Logger
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stateMu   sync.RWMutex
	snapshots map[string]*models.Snapshot
	records   map[string]*models.AnalyticsRecord
	loaded    map[string]bool

	cooldown *alerting.CooldownState

	rulesMu sync.RWMutex
	rules   []models.AlertRule

	bufMu       sync.Mutex
	events      []models.InsightEvent
	firings     []models.Firing
	insightLast map[string]int64

	recMu  sync.Mutex
	held   map[string]heldLabel
	recLog map[string][]models.RecommendationLogEntry

	wg sync.WaitGroup
}

type SessionOption func(*Session)

func WithRuleStore(rs drepo.RuleStore) SessionOption {
	return func(s *Session) { s.ruleStore = rs }
}

func WithFiringPublisher(p drepo.FiringPublisher) SessionOption {
	return func(s *Session) { s.publisher = p }
}

func WithMetrics(m drepo.Metrics) SessionOption {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithSessionLogger(l *applogger.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func WithAnalyzer(a dsvc.Analyzer) SessionOption {
	return func(s *Session) { s.analyzer = a }
}

func WithRecommender(r dsvc.Recommender) SessionOption {
	return func(s *Session) { s.recommender = r }
}

func WithRuleEvaluator(e dsvc.RuleEvaluator) SessionOption {
	return func(s *Session) { s.evaluator = e }
}

// NewSession wires the engines around store. Engines default to the built-in ones.
func NewSession(cfg SessionConfig, store *history.Store, opts ...SessionOption) *Session {
	if store == nil {
		store = history.New()
	}
	s := &Session{
		cfg:         cfg.withDefaults(),
		analyzer:    analytics.NewEngine(),
		recommender: recommend.New(),
		evaluator:   alerting.NewEvaluator(),
		history:     store,
		metrics:     noopMetrics{},
		logger:      applogger.Nop(),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
		snapshots:   make(map[string]*models.Snapshot),
		records:     make(map[string]*models.AnalyticsRecord),
		loaded:      make(map[string]bool),
		cooldown:    alerting.NewCooldownState(),
		insightLast: make(map[string]int64),
		held:        make(map[string]heldLabel),
		recLog:      make(map[string][]models.RecommendationLogEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rules = s.seedRules()
	return s
}

func (s *Session) seedRules() []models.AlertRule {
	if len(s.cfg.InitialRules) > 0 {
		return alerting.NormalizeRules(s.cfg.InitialRules)
	}
	return alerting.DefaultRules()
}

func (s *Session) coinLock(coin string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[coin]
	if !ok {
		m = &sync.Mutex{}
		s.locks[coin] = m
	}
	return m
}

// LoadRules replaces the rule set with the persisted one, seeding defaults when none exist.
func (s *Session) LoadRules(ctx context.Context) error {
	if s.ruleStore == nil {
		return nil
	}
	rules, err := s.ruleStore.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if len(rules) == 0 {
		seeded := s.seedRules()
		if err := s.ruleStore.SaveRules(ctx, seeded); err != nil {
			return fmt.Errorf("seed rules: %w", err)
		}
		rules = seeded
	}
	s.rulesMu.Lock()
	s.rules = alerting.NormalizeRules(rules)
	s.rulesMu.Unlock()
	return nil
}

func (s *Session) Rules() []models.AlertRule {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()
	return append([]models.AlertRule(nil), s.rules...)
}

// SetRules normalises and persists the rule set.
func (s *Session) SetRules(ctx context.Context, rules []models.AlertRule) ([]models.AlertRule, error) {
	norm := alerting.NormalizeRules(rules)
	if len(norm) != len(rules) {
		return nil, fmt.Errorf("rules: %d rule(s) with unknown comparator", len(rules)-len(norm))
	}
	if s.ruleStore != nil {
		if err := s.ruleStore.SaveRules(ctx, norm); err != nil {
			return nil, fmt.Errorf("save rules: %w", err)
		}
	}
	s.rulesMu.Lock()
	s.rules = norm
	s.rulesMu.Unlock()
	return append([]models.AlertRule(nil), norm...), nil
}

// Ingest sanitises one raw payload and runs it through the pipeline.
func (s *Session) Ingest(ctx context.Context, raw []byte) (*models.AnalyticsRecord, error) {
	snap, err := feed.Sanitize(raw)
	if err != nil {
		s.metrics.RecordError("malformed_snapshot")
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return s.IngestSnapshot(ctx, snap)
}

// IngestSnapshot processes one snapshot. Same-asset calls are serialised in arrival order.
func (s *Session) IngestSnapshot(ctx context.Context, snap *models.Snapshot) (*models.AnalyticsRecord, error) {
	if snap == nil || snap.Coin == "" {
		s.metrics.RecordError("malformed_snapshot")
		return nil, feed.ErrMissingCoin
	}
	coin := snap.Coin
	mu := s.coinLock(coin)
	mu.Lock()
	defer mu.Unlock()

	start := s.now()
	s.ensureLoaded(ctx, coin)

	s.stateMu.RLock()
	prior := s.records[coin]
	s.stateMu.RUnlock()

	nowMs := start.UnixMilli()
	in := dsvc.AnalyticsInput{
		Snapshot: snap.Clone(),
		History:  s.history.Series(coin),
		Prior:    prior,
		Now:      nowMs,
	}
	res, err := s.compute(in)
	if err != nil {
		s.metrics.RecordError("compute_fault")
		s.logger.Error("analytics computation failed",
			applogger.Coin(coin), applogger.Error(err))
	}

	s.history.Append(coin, res.Point)
	s.history.SaveAsync(coin)

	s.stateMu.Lock()
	s.snapshots[coin] = snap.Clone()
	s.records[coin] = res.Record
	s.stateMu.Unlock()

	s.metrics.RecordProcessed("session", coin)
	s.metrics.RecordLastPrice(coin, feed.Price(snap, feed.KeyLast))
	s.metrics.RecordRiskScore(coin, res.Record.RiskScore)

	s.recordInsights(coin, res.Record, nowMs)
	s.evaluateRules(snap, res.Record, nowMs)
	// live recommendation for the default timeframe feeds the backtest log
	s.recommend(coin, snap, res.Record, models.DefaultTimeframe(), s.cfg.UseATRSizing, true, nowMs)

	s.metrics.RecordLatency("ingest", s.now().Sub(start).Seconds())
	return res.Record, nil
}

func (s *Session) compute(in dsvc.AnalyticsInput) (res dsvc.AnalyticsResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = dsvc.AnalyticsResult{Record: analytics.Neutral(), Point: analytics.Point(in)}
			err = fmt.Errorf("%w: %v", analytics.ErrComputeFault, r)
		}
	}()
	res = s.analyzer.Compute(in)
	if res.Record == nil {
		return dsvc.AnalyticsResult{Record: analytics.Neutral(), Point: analytics.Point(in)},
			fmt.Errorf("%w: nil record", analytics.ErrComputeFault)
	}
	return res, nil
}

func (s *Session) ensureLoaded(ctx context.Context, coin string) {
	s.stateMu.RLock()
	done := s.loaded[coin]
	s.stateMu.RUnlock()
	if done {
		return
	}
	if s.history.Enabled() {
		if _, err := s.history.Load(ctx, coin); err != nil {
			s.metrics.RecordError("history_load")
			s.logger.Warn("history load failed", applogger.Coin(coin), applogger.Error(err))
		}
	}
	s.stateMu.Lock()
	s.loaded[coin] = true
	s.stateMu.Unlock()
}

func (s *Session) recordInsights(coin string, rec *models.AnalyticsRecord, now int64) {
	msgs := analytics.MeaningfulInsights(rec.SharpInsights)
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > insightsPerEvent {
		msgs = msgs[:insightsPerEvent]
	}
	ev := models.InsightEvent{TS: now, Coin: coin, Type: "insight", Messages: msgs}
	s.bufMu.Lock()
	s.events = appendCapped(s.events, ev, s.cfg.MaxEvents)
	// the cooldown only throttles the outbound notification
	last, seen := s.insightLast[coin]
	notify := !seen || now-last >= s.cfg.InsightCooldown.Milliseconds()
	if notify {
		s.insightLast[coin] = now
	}
	s.bufMu.Unlock()

	if notify {
		s.publish(func(ctx context.Context) error { return s.publisher.PublishInsight(ctx, ev) })
	}
}

func (s *Session) evaluateRules(snap *models.Snapshot, rec *models.AnalyticsRecord, now int64) {
	fired := s.evaluator.Evaluate(snap, rec, s.Rules(), s.cooldown, now)
	if len(fired) == 0 {
		return
	}
	s.bufMu.Lock()
	for _, f := range fired {
		s.firings = appendCapped(s.firings, f, s.cfg.MaxFirings)
		s.metrics.RecordFiring(f.RuleID, string(f.Severity))
	}
	s.bufMu.Unlock()

	s.publish(func(ctx context.Context) error { return s.publisher.PublishFirings(ctx, fired) })
}

func (s *Session) publish(fn func(ctx context.Context) error) {
	if s.publisher == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.metrics.RecordError("publish")
			s.logger.Warn("publish failed", applogger.Error(err))
		}
	}()
}

func appendCapped[T any](buf []T, v T, max int) []T {
	buf = append(buf, v)
	if over := len(buf) - max; over > 0 {
		buf = append(buf[:0:0], buf[over:]...)
	}
	return buf
}

// Coins lists every asset seen, sorted.
func (s *Session) Coins() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make([]string, 0, len(s.snapshots))
	for c := range s.snapshots {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Snapshot(coin string) (*models.Snapshot, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	snap, ok := s.snapshots[coin]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

func (s *Session) Analytics(coin string) (*models.AnalyticsRecord, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	rec, ok := s.records[coin]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// History returns up to limit of the most recent points.
func (s *Session) History(coin string, limit int) []models.HistoryPoint {
	return s.history.Tail(coin, limit)
}

// Recommendation scores the asset for tf. With applyCooldown the session keeps a
// directional label sticky for the cooldown window and logs the result.
func (s *Session) Recommendation(coin string, tf models.Timeframe, useATR, applyCooldown bool) (models.Recommendation, error) {
	snap, ok := s.Snapshot(coin)
	if !ok {
		return models.Recommendation{}, ErrUnknownCoin
	}
	rec, _ := s.Analytics(coin)
	return s.recommend(coin, snap, rec, tf, useATR || s.cfg.UseATRSizing, applyCooldown, s.now().UnixMilli()), nil
}

func (s *Session) recommend(coin string, snap *models.Snapshot, a *models.AnalyticsRecord, tf models.Timeframe, useATR, applyCooldown bool, now int64) models.Recommendation {
	out := s.recommender.Recommend(dsvc.RecommendInput{
		Snapshot:      snap,
		Analytics:     a,
		PricePosition: recommend.SnapshotPricePosition(snap),
		Timeframe:     tf,
		UseATR:        useATR,
	})
	if !applyCooldown {
		return out
	}

	s.recMu.Lock()
	defer s.recMu.Unlock()
	key := coin + "::" + string(out.Timeframe)
	prev, seen := s.held[key]
	inWindow := seen && now-prev.since < s.cfg.RecommendationCooldown.Milliseconds()
	switch {
	case inWindow && prev.label != models.SignalHold && out.Recommendation != prev.label:
		out.Recommendation = prev.label
		out.Confidence = prev.confidence
		out.CooldownHeld = true
		out.TPSL = nil
		if rs, ok := s.recommender.(*recommend.Engine); ok {
			out.TPSL = rs.SizeTPSL(out.Recommendation, out.Confidence, feed.Price(snap, feed.KeyLast), atrOf(a), useATR)
		}
	case !seen || out.Recommendation != prev.label || !inWindow:
		s.held[key] = heldLabel{label: out.Recommendation, confidence: out.Confidence, since: now}
	}

	entry := models.RecommendationLogEntry{
		TS:             now,
		Timeframe:      out.Timeframe,
		Recommendation: out.Recommendation,
		Confidence:     out.Confidence,
		Score:          out.Score,
		Price:          feed.Price(snap, feed.KeyLast),
	}
	s.recLog[coin] = appendCapped(s.recLog[coin], entry, s.cfg.MaxRecLog)
	return out
}

func atrOf(a *models.AnalyticsRecord) float64 {
	if a == nil {
		return 0
	}
	return a.ATR14
}

// RecommendationLog returns a copy of the asset's logged recommendations, oldest first.
func (s *Session) RecommendationLog(coin string) []models.RecommendationLogEntry {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return append([]models.RecommendationLogEntry(nil), s.recLog[coin]...)
}

// Firings returns up to limit of the newest firings, newest first.
func (s *Session) Firings(limit int) []models.Firing {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return newestFirst(s.firings, limit)
}

// Events returns up to limit of the newest insight events, newest first.
func (s *Session) Events(limit int) []models.InsightEvent {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return newestFirst(s.events, limit)
}

func newestFirst[T any](buf []T, limit int) []T {
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]T, 0, limit)
	for i := len(buf) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, buf[i])
	}
	return out
}

// Close waits for pending publishes and flushes history.
func (s *Session) Close(ctx context.Context) error {
	s.wg.Wait()
	if err := s.history.Flush(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

type noopMetrics struct{}

func (noopMetrics) RecordProcessed(string, string)   {}
func (noopMetrics) RecordError(string)               {}
func (noopMetrics) RecordLastPrice(string, float64)  {}
func (noopMetrics) RecordRiskScore(string, float64)  {}
func (noopMetrics) RecordFiring(string, string)      {}
func (noopMetrics) RecordLatency(string, float64)    {}
