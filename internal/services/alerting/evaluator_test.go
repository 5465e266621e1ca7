package alerting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowScope/internal/domain/models"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("f-%d", n)
	}
}

func TestNormalizeComparator(t *testing.T) {
	tests := []struct {
		in   string
		want models.Comparator
		ok   bool
	}{
		{">", models.CompGreater, true},
		{"gt", models.CompGreater, true},
		{"LT", models.CompLess, true},
		{"gte", models.CompGreaterEqual, true},
		{"<=", models.CompLessEqual, true},
		{"==", models.CompEqual, true},
		{"between", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeComparator(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareTolerance(t *testing.T) {
	assert.True(t, compare(models.CompGreaterEqual, 200-1e-12, 200))
	assert.False(t, compare(models.CompGreater, 200, 200))
	assert.True(t, compare(models.CompLessEqual, 30+1e-12, 30))
	assert.True(t, compare(models.CompEqual, 1+1e-10, 1))
}

func TestEvaluateCooldown(t *testing.T) {
	ev := NewEvaluator(WithIDGenerator(seqIDs()))
	cd := NewCooldownState()
	s := &models.Snapshot{Coin: "BTC", Fields: map[string]float64{}}
	a := &models.AnalyticsRecord{VolRatioBuySell: 250}
	rules := DefaultRules()

	first := ev.Evaluate(s, a, rules, cd, 1_000_000)
	require.Len(t, first, 1)
	assert.Equal(t, "vol_ratio_buy_high", first[0].RuleID)
	assert.Equal(t, "f-1", first[0].ID)
	assert.Equal(t, "Vol Ratio % (2h) > 200% (strong buy pressure) (value: 250.00)", first[0].Message)
	assert.Equal(t, models.SeverityWarning, first[0].Severity)

	assert.Empty(t, ev.Evaluate(s, a, rules, cd, 1_000_000+59_999), "inside the window")
	again := ev.Evaluate(s, a, rules, cd, 1_000_000+60_000)
	require.Len(t, again, 1)

	other := &models.Snapshot{Coin: "ETH", Fields: map[string]float64{}}
	assert.Len(t, ev.Evaluate(other, a, rules, cd, 1_000_000+60_001), 1, "cooldown is per asset")
}

func TestEvaluateSkipsDisabledAndUnresolved(t *testing.T) {
	ev := NewEvaluator()
	cd := NewCooldownState()
	s := &models.Snapshot{Coin: "BTC", Fields: map[string]float64{"total_vol": 5}}
	a := &models.AnalyticsRecord{RiskScore: 90}
	rules := []models.AlertRule{
		{ID: "off", Metric: "riskScore", Comparator: ">", Threshold: 10, Enabled: false},
		{ID: "missing", Metric: "zScoreBuy2h", Comparator: "<", Threshold: 100, Enabled: true},
		{ID: "unknown", Metric: "no_such_metric", Comparator: "<", Threshold: 100, Enabled: true},
		{ID: "freq_ratio", Metric: MetricFreqRatio2h, Comparator: "<", Threshold: 100, Enabled: true},
		{ID: "risk", Metric: "riskScore", Comparator: "gte", Threshold: 90, Enabled: true, Severity: models.SeverityDanger},
		{ID: "snapshot_field", Metric: "total_vol", Comparator: "gt", Threshold: 1, Enabled: true},
	}
	got := ev.Evaluate(s, a, rules, cd, 0)
	ids := make([]string, 0, len(got))
	for _, f := range got {
		ids = append(ids, f.RuleID)
	}
	assert.Equal(t, []string{"freq_ratio", "risk", "snapshot_field"}, ids, "freq ratio without flow is 0, not unresolved")
}

func TestResolveMetricFallbacks(t *testing.T) {
	s := &models.Snapshot{Coin: "BTC", Fields: map[string]float64{
		"count_VOL_minute_120_buy":  300,
		"count_VOL_minute_120_sell": 0,
		"count_FREQ_minute_120_buy": 50,
		"avg_FREQCOIN_buy_2JAM":     20,
	}}
	v, ok := ResolveMetric(s, nil, MetricVolRatio2h)
	require.True(t, ok)
	assert.Equal(t, 30000.0, v, "sell floors at 1")

	v, ok = ResolveMetric(s, nil, MetricFreqVsAvgBuy)
	require.True(t, ok)
	assert.Equal(t, 250.0, v)

	withAvg := 180.0
	v, ok = ResolveMetric(s, &models.AnalyticsRecord{FreqBuyVsAvg: &withAvg}, MetricFreqVsAvgBuy)
	require.True(t, ok)
	assert.Equal(t, 180.0, v)

	v, ok = ResolveMetric(s, &models.AnalyticsRecord{FreqBuy2h: 30, FreqSell2h: 10}, MetricFreqRatio2h)
	require.True(t, ok)
	assert.Equal(t, 300.0, v)

	v, ok = ResolveMetric(s, &models.AnalyticsRecord{}, MetricFreqRatio2h)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = ResolveMetric(s, nil, MetricFreqRatio2h)
	assert.False(t, ok)
}

func TestNormalizeRules(t *testing.T) {
	got := NormalizeRules([]models.AlertRule{
		{ID: "a", Comparator: "gt", Severity: "loud"},
		{ID: "b", Comparator: "??"},
		{ID: "c", Comparator: "lte", Severity: models.SeverityDanger},
	})
	require.Len(t, got, 2)
	assert.Equal(t, models.CompGreater, got[0].Comparator)
	assert.Equal(t, models.SeverityWarning, got[0].Severity)
	assert.Equal(t, models.CompLessEqual, got[1].Comparator)
	assert.Equal(t, models.SeverityDanger, got[1].Severity)
}
