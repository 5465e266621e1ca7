// Package alerting evaluates threshold rules against each snapshot's analytics.
package alerting

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/domain/service"
	"FlowScope/internal/services/feed"
)

const (
	DefaultCooldown = 60 * time.Second
	tolerance       = 1e-9
)

// Metric keys with bespoke fallbacks.
const (
	MetricVolRatio2h    = "vol_ratio_2h"
	MetricFreqVsAvgBuy  = "freq_vs_avg_buy_percent"
	MetricFreqRatio2h   = "freq_ratio_2h"
	cooldownKeySep      = "::"
	defaultMessageValue = "%s (value: %.2f)"
)

// DefaultRules are seeded when no rules have been saved.
func DefaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			ID: "vol_ratio_buy_high", Name: "Vol Ratio Buy High", Metric: MetricVolRatio2h,
			Comparator: models.CompGreater, Threshold: 200, Severity: models.SeverityWarning, Enabled: true,
			Message: "Vol Ratio % (2h) > 200% (strong buy pressure)",
		},
		{
			ID: "vol_ratio_sell_low", Name: "Vol Ratio Sell Low", Metric: MetricVolRatio2h,
			Comparator: models.CompLess, Threshold: 30, Severity: models.SeverityDanger, Enabled: true,
			Message: "Vol Ratio % (2h) < 30% (strong sell pressure)",
		},
		{
			ID: "freq_vs_avg_buy", Name: "Freq Buy vs Avg", Metric: MetricFreqVsAvgBuy,
			Comparator: models.CompGreater, Threshold: 200, Severity: models.SeverityWarning, Enabled: true,
			Message: "Freq Buy vs Avg (2h) > 200%",
		},
	}
}

// NormalizeComparator accepts the symbolic and the gt/lt/gte/lte spellings.
func NormalizeComparator(s string) (models.Comparator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt":
		return models.CompGreater, true
	case "<", "lt":
		return models.CompLess, true
	case ">=", "gte":
		return models.CompGreaterEqual, true
	case "<=", "lte":
		return models.CompLessEqual, true
	case "=", "==", "eq":
		return models.CompEqual, true
	}
	return "", false
}

// NormalizeRules fixes comparator spellings and severities in place and drops rules with an unknown comparator.
func NormalizeRules(rules []models.AlertRule) []models.AlertRule {
	out := make([]models.AlertRule, 0, len(rules))
	for _, r := range rules {
		c, ok := NormalizeComparator(string(r.Comparator))
		if !ok {
			continue
		}
		r.Comparator = c
		if r.Severity != models.SeverityDanger {
			r.Severity = models.SeverityWarning
		}
		out = append(out, r)
	}
	return out
}

func compare(c models.Comparator, v, threshold float64) bool {
	switch c {
	case models.CompGreater:
		return v > threshold
	case models.CompLess:
		return v < threshold
	case models.CompGreaterEqual:
		return v >= threshold-tolerance
	case models.CompLessEqual:
		return v <= threshold+tolerance
	case models.CompEqual:
		return math.Abs(v-threshold) <= tolerance
	}
	return false
}

// ResolveMetric finds the value a rule targets. ok is false when it cannot be resolved.
func ResolveMetric(s *models.Snapshot, a *models.AnalyticsRecord, metric string) (float64, bool) {
	switch metric {
	case MetricVolRatio2h:
		if a != nil && !a.Neutral {
			return a.VolRatioBuySell, true
		}
		buy, _ := feed.Lookup(s, "count_VOL_minute_120_buy")
		sell, _ := feed.Lookup(s, "count_VOL_minute_120_sell")
		return buy / math.Max(sell, 1) * 100, true
	case MetricFreqVsAvgBuy:
		if a != nil && a.FreqBuyVsAvg != nil {
			return *a.FreqBuyVsAvg, true
		}
		var afb, aavg float64
		if a != nil {
			afb, aavg = a.FreqBuy2h, a.AvgFreqBuy2h
		}
		freq := orElse(feed.Price(s, "count_FREQ_minute_120_buy"), afb)
		avg := orElse(orElse(feed.Price(s, "avg_FREQCOIN_buy_2JAM"), aavg), 1)
		return freq / math.Max(avg, 1) * 100, true
	case MetricFreqRatio2h:
		if a == nil {
			return 0, false
		}
		return a.FreqBuy2h / math.Max(a.FreqSell2h, 1) * 100, true
	}
	if v, ok := a.Metric(metric); ok {
		return v, true
	}
	return feed.Lookup(s, metric)
}

func orElse(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

// CooldownKey identifies one (asset, rule) pair.
func CooldownKey(coin, ruleID string) string {
	return coin + cooldownKeySep + ruleID
}

// CooldownState is a concurrency-safe in-memory CooldownTracker.
type CooldownState struct {
	mu   sync.Mutex
	last map[string]int64
}

var _ service.CooldownTracker = (*CooldownState)(nil)

func NewCooldownState() *CooldownState {
	return &CooldownState{last: make(map[string]int64)}
}

func (c *CooldownState) LastFired(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[key]
	return ts, ok
}

func (c *CooldownState) MarkFired(key string, ts int64) {
	c.mu.Lock()
	c.last[key] = ts
	c.mu.Unlock()
}

type Evaluator struct {
	cooldownMs int64
	newID      func() string
}

var _ service.RuleEvaluator = (*Evaluator)(nil)

type Option func(*Evaluator)

func WithCooldown(d time.Duration) Option {
	return func(e *Evaluator) {
		if d >= 0 {
			e.cooldownMs = d.Milliseconds()
		}
	}
}

// WithIDGenerator replaces uuid firing ids, mostly for tests.
func WithIDGenerator(f func() string) Option {
	return func(e *Evaluator) { e.newID = f }
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{cooldownMs: DefaultCooldown.Milliseconds(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the firings for one snapshot and marks their cooldowns.
func (e *Evaluator) Evaluate(s *models.Snapshot, a *models.AnalyticsRecord, rules []models.AlertRule, cd service.CooldownTracker, now int64) []models.Firing {
	if s == nil {
		return nil
	}
	var out []models.Firing
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cmp, ok := NormalizeComparator(string(r.Comparator))
		if !ok {
			continue
		}
		v, ok := ResolveMetric(s, a, r.Metric)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !compare(cmp, v, r.Threshold) {
			continue
		}
		key := CooldownKey(s.Coin, r.ID)
		if last, seen := cd.LastFired(key); seen && now-last < e.cooldownMs {
			continue
		}
		cd.MarkFired(key, now)
		msg := r.Message
		if msg == "" {
			msg = r.Name
		}
		if msg == "" {
			msg = r.Metric
		}
		out = append(out, models.Firing{
			ID:        e.newID(),
			Coin:      s.Coin,
			RuleID:    r.ID,
			RuleName:  r.Name,
			Metric:    r.Metric,
			Value:     v,
			Severity:  r.Severity,
			Message:   fmt.Sprintf(defaultMessageValue, msg, v),
			Timestamp: now,
		})
	}
	return out
}
