// Package analytics derives the per-snapshot metric set from a snapshot and
// the asset's retained history.
package analytics

import (
	"errors"
	"math"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/domain/service"
	"FlowScope/internal/services/feed"
	"FlowScope/internal/services/stats"
)

const (
	// MinZSamples is the series length below which z-scores stay nil.
	MinZSamples = 6
	// PersistenceWindow is how many recent samples the persistence count inspects.
	PersistenceWindow = 3

	smoothWindow      = 5
	directionalWindow = 10
	liquidityLookback = 5
)

// Fixed divergence thresholds.
const (
	bullishPriceDrop  = -0.5
	bullishDurability = 60.0
	bearishPriceRise  = 0.5
	bearishDurability = 40.0
	divergenceZ       = 1.0
)

const (
	DivergenceBullish = "Bullish divergence: price down while buy durability & volume surge"
	DivergenceBearish = "Bearish divergence: price up but sell pressure increasing"

	InsightBuyMomentum  = "Strong buy momentum (z>=2 & persistent)"
	InsightFreqSurge    = "Strong trade-frequency surge (freq z>=2 & persistent)"
	InsightElevatedBuy  = "Elevated buy interest vs history"
	InsightNoAnomalies  = "No strong anomalies detected"
	volRatioNoSellValue = 999
)

// ErrComputeFault marks a recovered panic during computation.
var ErrComputeFault = errors.New("analytics: computation fault")

// RiskWeights are the tunable weights of riskScore. They should sum to 1.
type RiskWeights struct {
	Volatility    float64
	VolImbalance  float64
	FreqImbalance float64
	Liquidity     float64
	// RangeSaturation is the 24h range, in percent of price, at which the volatility term saturates.
	RangeSaturation float64
}

func DefaultRiskWeights() RiskWeights {
	return RiskWeights{Volatility: 0.40, VolImbalance: 0.25, FreqImbalance: 0.15, Liquidity: 0.20, RangeSaturation: 20}
}

// CompositeWeights feed compositeInstitutionalSignal. Tunable.
type CompositeWeights struct {
	Cohesion     float64
	Acceleration float64
	FreqBurst    float64
	ZPressure    float64
	FlowVol      float64
	Velocity     float64
	Persistence  float64
}

func DefaultCompositeWeights() CompositeWeights {
	return CompositeWeights{Cohesion: .25, Acceleration: .20, FreqBurst: .15, ZPressure: .15, FlowVol: .10, Velocity: .07, Persistence: .08}
}

type Engine struct {
	maxHistory int
	risk       RiskWeights
	composite  CompositeWeights
}

var _ service.Analyzer = (*Engine)(nil)

type Option func(*Engine)

func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

func WithRiskWeights(w RiskWeights) Option { return func(e *Engine) { e.risk = w } }

func WithCompositeWeights(w CompositeWeights) Option { return func(e *Engine) { e.composite = w } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{maxHistory: 500, risk: DefaultRiskWeights(), composite: DefaultCompositeWeights()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Neutral is the record substituted for an asset whose computation failed.
func Neutral() *models.AnalyticsRecord {
	return &models.AnalyticsRecord{Neutral: true, SharpInsights: []string{}}
}

// IsSentinel reports whether insights only carry the no-anomaly placeholder.
func IsSentinel(insights []string) bool {
	return len(insights) == 1 && insights[0] == InsightNoAnomalies
}

// MeaningfulInsights drops the placeholder.
func MeaningfulInsights(insights []string) []string {
	out := make([]string, 0, len(insights))
	for _, s := range insights {
		if s != InsightNoAnomalies {
			out = append(out, s)
		}
	}
	return out
}

// base holds the values read straight from the snapshot.
type base struct {
	price, high, low, previous, pctChange float64
	volBuy2h, volSell2h                   float64
	volBuy24h, volSell24h                 float64
	freqBuy2h, freqSell2h                 float64
	avgFreqBuy2h                          float64
	liquidity                             float64
}

func readBase(s *models.Snapshot) base {
	b := base{
		price:      feed.Price(s, feed.KeyLast),
		previous:   feed.Price(s, feed.KeyPrevious),
		volBuy2h:   feed.Resolve(s, feed.ConceptVolume, feed.SideBuy, models.TF120m),
		volSell2h:  feed.Resolve(s, feed.ConceptVolume, feed.SideSell, models.TF120m),
		volBuy24h:  feed.Resolve(s, feed.ConceptVolume, feed.SideBuy, models.TF1440m),
		volSell24h: feed.Resolve(s, feed.ConceptVolume, feed.SideSell, models.TF1440m),
		freqBuy2h:  feed.Resolve(s, feed.ConceptFrequency, feed.SideBuy, models.TF120m),
		freqSell2h: feed.Resolve(s, feed.ConceptFrequency, feed.SideSell, models.TF120m),
		// avg frequency is only reported for the buy side
		avgFreqBuy2h: feed.Resolve(s, feed.ConceptAvgFreq, feed.SideBuy, models.TF120m),
	}
	b.high = feed.Price(s, feed.KeyHigh)
	if b.high == 0 {
		b.high = b.price
	}
	b.low = feed.Price(s, feed.KeyLow)
	if b.low == 0 {
		b.low = b.price
	}
	b.pctChange = feed.Price(s, feed.KeyPercentChange)
	if b.pctChange == 0 && b.previous > 0 {
		b.pctChange = stats.Finite((b.price-b.previous)/b.previous*100, 0)
	}
	if f := b.freqBuy2h + b.freqSell2h; f > 0 {
		b.liquidity = (b.volBuy2h + b.volSell2h) / f
	}
	return b
}

// Point is the history point Compute would append, used when Compute itself failed.
func Point(in service.AnalyticsInput) models.HistoryPoint {
	return pointFrom(readBase(in.Snapshot), in.Now)
}

func pointFrom(b base, now int64) models.HistoryPoint {
	return models.HistoryPoint{
		TS:         now,
		Price:      b.price,
		VolBuy2h:   b.volBuy2h,
		VolSell2h:  b.volSell2h,
		FreqBuy2h:  b.freqBuy2h,
		FreqSell2h: b.freqSell2h,
		High:       b.high,
		Low:        b.low,
		Liquidity:  b.liquidity,
	}
}

// Compute is pure: it never mutates the snapshot, history or prior record.
func (e *Engine) Compute(in service.AnalyticsInput) service.AnalyticsResult {
	s := in.Snapshot
	b := readBase(s)
	rec := &models.AnalyticsRecord{
		VolBuy2h:          b.volBuy2h,
		VolSell2h:         b.volSell2h,
		VolBuy24h:         b.volBuy24h,
		VolSell24h:        b.volSell24h,
		VolRatioBuySell:   volRatio(b.volBuy2h, b.volSell2h),
		VolDurability2h:   Durability(s, models.TF120m),
		VolDurability24h:  Durability(s, models.TF1440m),
		VolDurabilityByTf: make(map[models.Timeframe]float64, 9),
		FreqBuy2h:         b.freqBuy2h,
		FreqSell2h:        b.freqSell2h,
		AvgFreqBuy2h:      b.avgFreqBuy2h,
		LiquidityAvgTrade: b.liquidity,
		PriceRange24h:     b.high - b.low,
	}
	for _, tf := range models.Timeframes() {
		rec.VolDurabilityByTf[tf] = Durability(s, tf)
	}
	if b.avgFreqBuy2h > 0 {
		v := b.freqBuy2h / b.avgFreqBuy2h * 100
		rec.FreqBuyVsAvg = &v
	}
	if f := b.freqBuy2h + b.freqSell2h; f > 0 {
		rec.FreqRatio2h = b.freqBuy2h / f * 100
	}
	if t := b.volBuy2h + b.volSell2h; t > 0 {
		rec.VolImbalance2h = (b.volBuy2h - b.volSell2h) / t
	}
	rec.RiskScore = e.riskScore(b, rec.VolImbalance2h)

	point := pointFrom(b, in.Now)
	series := e.updatedSeries(in.History, point)

	buys, sells, fbuys, fsells, prices := split(series)
	zB, okB := stats.ZScore(b.volBuy2h, buys, MinZSamples)
	zS, okS := stats.ZScore(b.volSell2h, sells, MinZSamples)
	zFB, okFB := stats.ZScore(b.freqBuy2h, fbuys, MinZSamples)
	zFS, okFS := stats.ZScore(b.freqSell2h, fsells, MinZSamples)
	rec.ZScoreBuy2h = roundedPtr(zB, okB)
	rec.ZScoreSell2h = roundedPtr(zS, okS)
	rec.ZScoreFreqBuy2h = roundedPtr(zFB, okFB)
	rec.ZScoreFreqSell2h = roundedPtr(zFS, okFS)

	persB, okPB := stats.Persistence(buys, PersistenceWindow)
	persFB, okPFB := stats.Persistence(fbuys, PersistenceWindow)
	if okPB {
		rec.PersistenceBuy3 = &persB
	}
	if okPFB {
		rec.PersistenceFreqBuy3 = &persFB
	}

	priceZ := 0.0
	if b.price > 0 {
		if z, ok := stats.ZScore(b.price, prices, MinZSamples); ok {
			priceZ = z
		}
	}
	rec.PriceZScore = stats.Round2(priceZ)

	if d := classifyDivergence(b.pctChange, rec.VolDurability2h, zB, okB, zS, okS); d != "" {
		rec.Divergence = &d
	}
	rec.SharpInsights = sharpInsights(zB, okB, persB, okPB, zFB, okFB, persFB, okPFB, rec.VolDurability2h, rec.Divergence)

	e.composites(rec, in, b, series, zvals{zB, zS, zFB, zFS, priceZ}, buys, fbuys)
	return service.AnalyticsResult{Record: rec, Point: point}
}

func (e *Engine) updatedSeries(history []models.HistoryPoint, p models.HistoryPoint) []models.HistoryPoint {
	out := make([]models.HistoryPoint, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, p)
	if over := len(out) - e.maxHistory; over > 0 {
		out = out[over:]
	}
	return out
}

func split(series []models.HistoryPoint) (buys, sells, fbuys, fsells, prices []float64) {
	n := len(series)
	buys, sells = make([]float64, n), make([]float64, n)
	fbuys, fsells = make([]float64, n), make([]float64, n)
	prices = make([]float64, 0, n)
	for i, p := range series {
		buys[i], sells[i] = p.VolBuy2h, p.VolSell2h
		fbuys[i], fsells[i] = p.FreqBuy2h, p.FreqSell2h
		if p.Price > 0 {
			prices = append(prices, p.Price)
		}
	}
	return
}

// Durability is the buy share of volume for tf in percent. A feed-supplied
// share wins over the computed one.
func Durability(s *models.Snapshot, tf models.Timeframe) float64 {
	if v, ok := feed.ResolveOK(s, feed.ConceptDurability, feed.SideBuy, tf); ok {
		return v
	}
	buy := feed.Resolve(s, feed.ConceptVolume, feed.SideBuy, tf)
	sell := feed.Resolve(s, feed.ConceptVolume, feed.SideSell, tf)
	if t := buy + sell; t > 0 {
		return buy / t * 100
	}
	return 0
}

func volRatio(buy, sell float64) float64 {
	if sell > 0 {
		return buy / sell * 100
	}
	if buy > 0 {
		return volRatioNoSellValue
	}
	return 0
}

func (e *Engine) riskScore(b base, volImb float64) float64 {
	w := e.risk
	rangeTerm := 0.0
	if b.price > 0 && w.RangeSaturation > 0 {
		rangePct := (b.high - b.low) / b.price * 100
		rangeTerm = stats.Clamp(rangePct/w.RangeSaturation, 0, 1)
	}
	freqImb := 0.0
	if f := b.freqBuy2h + b.freqSell2h; f > 0 {
		freqImb = math.Abs(b.freqBuy2h-b.freqSell2h) / f
	}
	// thin trading counts as a liquidity risk: 1 with no trades, decaying with trade count
	liqPenalty := 1 / (1 + math.Log10(1+b.freqBuy2h+b.freqSell2h))
	raw := w.Volatility*rangeTerm + w.VolImbalance*math.Abs(volImb) + w.FreqImbalance*freqImb + w.Liquidity*liqPenalty
	return math.Round(100 * stats.Clamp(raw, 0, 1))
}

func classifyDivergence(pct, durability, zB float64, okB bool, zS float64, okS bool) string {
	switch {
	case pct < bullishPriceDrop && durability >= bullishDurability && okB && zB > divergenceZ:
		return DivergenceBullish
	case pct > bearishPriceRise && durability <= bearishDurability && okS && zS > divergenceZ:
		return DivergenceBearish
	}
	return ""
}

func sharpInsights(zB float64, okB bool, persB int, okPB bool, zFB float64, okFB bool, persFB int, okPFB bool, durability float64, divergence *string) []string {
	var out []string
	if okB && okPB && zB >= 2 && persB >= 2 {
		out = append(out, InsightBuyMomentum)
	}
	if okFB && okPFB && zFB >= 2 && persFB >= 2 {
		out = append(out, InsightFreqSurge)
	}
	if okB && zB >= 1.5 && durability >= 60 {
		out = append(out, InsightElevatedBuy)
	}
	if divergence != nil {
		out = append(out, *divergence)
	}
	if len(out) == 0 {
		out = []string{InsightNoAnomalies}
	}
	return out
}

func roundedPtr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	r := stats.Round2(v)
	return &r
}
