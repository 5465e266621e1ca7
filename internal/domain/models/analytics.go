package models

import (
	"reflect"
	"strings"
	"sync"
)

// AnalyticsRecord is the derived metric set for one snapshot. It is recomputed from scratch
// on every snapshot; only tradeImbalanceMomentum and cumulativePressure read the prior record.
// Pointer fields are statistics that need a minimum sample count and are nil until computable.
type AnalyticsRecord struct {
	VolBuy2h          float64               `json:"volBuy2h"`
	VolSell2h         float64               `json:"volSell2h"`
	VolBuy24h         float64               `json:"volBuy24h"`
	VolSell24h        float64               `json:"volSell24h"`
	VolRatioBuySell   float64               `json:"volRatioBuySell_percent"`
	VolDurability2h   float64               `json:"volDurability2h_percent"`
	VolDurability24h  float64               `json:"volDurability24h_percent"`
	VolDurabilityByTf map[Timeframe]float64 `json:"volDurabilityByTf,omitempty"`
	FreqBuy2h         float64               `json:"freqBuy2h"`
	FreqSell2h        float64               `json:"freqSell2h"`
	AvgFreqBuy2h      float64               `json:"avgFreqBuy2h"`
	FreqBuyVsAvg      *float64              `json:"freqBuy_vs_avg_percent,omitempty"`
	FreqRatio2h       float64               `json:"freqRatio2h_percent"`
	VolImbalance2h    float64               `json:"volImbalance2h"`
	LiquidityAvgTrade float64               `json:"liquidity_avg_trade_value"`
	PriceRange24h     float64               `json:"priceRange24h"`
	RiskScore         float64               `json:"riskScore"`

	ZScoreBuy2h         *float64 `json:"zScoreBuy2h,omitempty"`
	ZScoreSell2h        *float64 `json:"zScoreSell2h,omitempty"`
	ZScoreFreqBuy2h     *float64 `json:"zScoreFreqBuy2h,omitempty"`
	ZScoreFreqSell2h    *float64 `json:"zScoreFreqSell2h,omitempty"`
	PersistenceBuy3     *int     `json:"persistenceBuy3,omitempty"`
	PersistenceFreqBuy3 *int     `json:"persistenceFreqBuy3,omitempty"`
	Divergence          *string  `json:"divergence,omitempty"`
	SharpInsights       []string `json:"sharpInsights"`

	MultiTfCohesion              float64 `json:"multiTfCohesion"`
	VolumeAcceleration           float64 `json:"volumeAcceleration"`
	FreqBurstBuy                 float64 `json:"freqBurstBuy"`
	OrderFlowStabilityIndex      float64 `json:"orderFlowStabilityIndex"`
	OrderFlowStabilityIndexSell  float64 `json:"orderFlowStabilityIndexSell"`
	FlowStrengthIndex            float64 `json:"flowStrengthIndex"`
	ImpactAdjustedOrderFlow      float64 `json:"impactAdjustedOrderFlow"`
	FlowVolatilityRatio          float64 `json:"flowVolatilityRatio"`
	LiquidityHeatRisk            float64 `json:"liquidityHeatRisk"`
	PersistenceBuySmooth         float64 `json:"persistenceBuySmooth"`
	PersistenceFreqSmooth        float64 `json:"persistenceFreqSmooth"`
	ZWeightedPressure            float64 `json:"zWeightedPressure"`
	TradeImbalanceMomentum       float64 `json:"tradeImbalanceMomentum"`
	CumulativePressure           float64 `json:"cumulativePressure"`
	PriceFlowConflictIndex       float64 `json:"priceFlowConflictIndex"`
	PriceEfficiencyIndex         float64 `json:"priceEfficiencyIndex"`
	VolumeFlowDivergence         float64 `json:"volumeFlowDivergence"`
	SmartMoneyDivergence         float64 `json:"smartMoneyDivergence"`
	TrendVelocityVol             float64 `json:"trendVelocityVol"`
	TrendVelocityFreq            float64 `json:"trendVelocityFreq"`
	CompositeInstitutionalSignal float64 `json:"compositeInstitutionalSignal"`
	DirectionalStabilityScore    float64 `json:"directionalStabilityScore"`
	LiquidityShockIndex          float64 `json:"liquidityShockIndex"`
	RangeCompressionIndex        float64 `json:"rangeCompressionIndex"`
	FlowToVolatilityRatio        float64 `json:"flowToVolatilityRatio"`
	ATR14                        float64 `json:"atr14"`
	VWAP                         float64 `json:"vwap"`
	PriceVsVWAP                  float64 `json:"priceVsVwap_percent"`
	PriceZScore                  float64 `json:"priceZScore"`

	// Neutral marks a record substituted after a computation fault.
	Neutral bool `json:"neutral,omitempty"`
}

// Clone returns a deep copy; nothing in the result aliases a.
func (a *AnalyticsRecord) Clone() *AnalyticsRecord {
	if a == nil {
		return nil
	}
	out := *a
	if a.VolDurabilityByTf != nil {
		out.VolDurabilityByTf = make(map[Timeframe]float64, len(a.VolDurabilityByTf))
		for k, v := range a.VolDurabilityByTf {
			out.VolDurabilityByTf[k] = v
		}
	}
	if a.SharpInsights != nil {
		out.SharpInsights = append([]string(nil), a.SharpInsights...)
	}
	out.FreqBuyVsAvg = clonePtr(a.FreqBuyVsAvg)
	out.ZScoreBuy2h = clonePtr(a.ZScoreBuy2h)
	out.ZScoreSell2h = clonePtr(a.ZScoreSell2h)
	out.ZScoreFreqBuy2h = clonePtr(a.ZScoreFreqBuy2h)
	out.ZScoreFreqSell2h = clonePtr(a.ZScoreFreqSell2h)
	out.PersistenceBuy3 = clonePtr(a.PersistenceBuy3)
	out.PersistenceFreqBuy3 = clonePtr(a.PersistenceFreqBuy3)
	out.Divergence = clonePtr(a.Divergence)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var (
	metricIndexOnce sync.Once
	metricIndex     map[string]int
)

func buildMetricIndex() {
	t := reflect.TypeOf(AnalyticsRecord{})
	metricIndex = make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			metricIndex[name] = i
		}
	}
}

// Metric resolves a numeric field by its JSON name. Nil statistics and
// non-numeric fields report false.
func (a *AnalyticsRecord) Metric(name string) (float64, bool) {
	if a == nil {
		return 0, false
	}
	metricIndexOnce.Do(buildMetricIndex)
	idx, ok := metricIndex[name]
	if !ok {
		return 0, false
	}
	f := reflect.ValueOf(a).Elem().Field(idx)
	if f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return 0, false
		}
		f = f.Elem()
	}
	switch f.Kind() {
	case reflect.Float64:
		return f.Float(), true
	case reflect.Int:
		return float64(f.Int()), true
	}
	return 0, false
}
