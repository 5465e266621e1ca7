// Package recommend scores snapshots into BUY/SELL/HOLD with a confidence and
// sizes take-profit and stop-loss levels.
package recommend

import (
	"math"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/domain/service"
	"FlowScope/internal/services/analytics"
	"FlowScope/internal/services/feed"
	"FlowScope/internal/services/stats"
)

// Threshold on |score| for a directional label, shared by single and "all" modes.
const Threshold = 0.2

// Weights are tunable; their relative order is what matters.
type Weights struct {
	PriceBias   float64
	VolDur      float64
	Vol24       float64
	ZImbalance  float64
	FreqImb     float64
	Persistence float64
	Divergence  float64
	RiskPenalty float64
}

func DefaultWeights() Weights {
	return Weights{
		PriceBias:   0.20,
		VolDur:      0.25,
		Vol24:       0.10,
		ZImbalance:  0.15,
		FreqImb:     0.10,
		Persistence: 0.10,
		Divergence:  0.10,
		RiskPenalty: -0.10,
	}
}

// Sizing bounds are percents, as configured.
type Sizing struct {
	TPMinPct    float64
	TPMaxPct    float64
	SLMaxPct    float64
	Sensitivity float64
}

func DefaultSizing() Sizing {
	return Sizing{TPMinPct: 2, TPMaxPct: 10, SLMaxPct: 5, Sensitivity: 1}
}

type Engine struct {
	weights Weights
	sizing  Sizing
}

var _ service.Recommender = (*Engine)(nil)

type Option func(*Engine)

func WithWeights(w Weights) Option { return func(e *Engine) { e.weights = w } }

func WithSizing(s Sizing) Option { return func(e *Engine) { e.sizing = s } }

func New(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights(), sizing: DefaultSizing()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PricePosition is where last sits in [low, high], in percent. 50 for an empty range.
func PricePosition(last, high, low float64) float64 {
	if high == 0 {
		high = last
	}
	if low == 0 {
		low = last
	}
	rng := high - low
	if rng <= 0 {
		return 50
	}
	return stats.Clamp(math.Round((last-low)/rng*100), 0, 100)
}

// SnapshotPricePosition reads last/high/low from the snapshot.
func SnapshotPricePosition(s *models.Snapshot) float64 {
	return PricePosition(feed.Price(s, feed.KeyLast), feed.Price(s, feed.KeyHigh), feed.Price(s, feed.KeyLow))
}

// Label maps a score to a signal with the shared threshold.
func Label(score float64) models.Signal {
	switch {
	case score >= Threshold:
		return models.SignalBuy
	case score <= -Threshold:
		return models.SignalSell
	}
	return models.SignalHold
}

func confidence(score float64) int {
	return int(math.Round(math.Min(100, math.Abs(score)*100)))
}

// Recommend is pure. TFAll runs the confidence-weighted aggregate.
func (e *Engine) Recommend(in service.RecommendInput) models.Recommendation {
	tf := in.Timeframe
	if tf == "" {
		tf = models.DefaultTimeframe()
	}
	if tf == models.TFAll {
		return e.RecommendAll(in)
	}
	rec := e.score(in.Analytics, in.PricePosition, tf)
	rec.TPSL = e.SizeTPSL(rec.Recommendation, rec.Confidence, feed.Price(in.Snapshot, feed.KeyLast), atrOf(in.Analytics), in.UseATR)
	return rec
}

// RecommendAll scores every timeframe and combines scores weighted by confidence/100.
func (e *Engine) RecommendAll(in service.RecommendInput) models.Recommendation {
	var sumWeighted, sumWeight float64
	tfs := models.Timeframes()
	breakdown := make([]models.TimeframeScore, 0, len(tfs))
	for _, tf := range tfs {
		r := e.score(in.Analytics, in.PricePosition, tf)
		w := float64(r.Confidence) / 100
		sumWeighted += r.Score * w
		sumWeight += w
		breakdown = append(breakdown, models.TimeframeScore{
			Timeframe: tf, Recommendation: r.Recommendation, Score: r.Score, Confidence: r.Confidence,
		})
	}
	score := 0.0
	if sumWeight > 0 {
		score = sumWeighted / sumWeight
	}
	base := e.score(in.Analytics, in.PricePosition, models.TF120m)
	out := models.Recommendation{
		Recommendation: Label(score),
		Score:          score,
		Confidence:     confidence(score),
		Factors:        base.Factors,
		Timeframe:      models.TFAll,
		Breakdown:      breakdown,
	}
	out.TPSL = e.SizeTPSL(out.Recommendation, out.Confidence, feed.Price(in.Snapshot, feed.KeyLast), atrOf(in.Analytics), in.UseATR)
	return out
}

func (e *Engine) score(a *models.AnalyticsRecord, pricePos float64, tf models.Timeframe) models.Recommendation {
	if a == nil || a.Neutral {
		return models.Recommendation{Recommendation: models.SignalHold, Timeframe: tf}
	}
	f := Factors(a, pricePos, tf)
	w := e.weights
	score := w.PriceBias*f.PriceBias +
		w.VolDur*f.VolDurNorm +
		w.Vol24*f.Vol24Norm +
		w.ZImbalance*f.ZImbalance +
		w.FreqImb*f.FreqImbalance +
		w.Persistence*f.PersistenceNorm +
		w.Divergence*f.DivergenceNorm +
		w.RiskPenalty*f.RiskPenalty
	score = stats.Finite(score, 0)
	return models.Recommendation{
		Recommendation: Label(score),
		Score:          score,
		Confidence:     confidence(score),
		Factors:        f,
		Timeframe:      tf,
	}
}

// Factors normalises every input to [-1, 1].
func Factors(a *models.AnalyticsRecord, pricePos float64, tf models.Timeframe) models.Factors {
	clamp := func(v float64) float64 { return stats.Clamp(stats.Finite(v, 0), -1, 1) }

	dur := a.VolDurability2h
	if v, ok := a.VolDurabilityByTf[tf]; ok && v > 0 {
		dur = v
	}
	f := models.Factors{PriceBias: clamp((50 - pricePos) / 50)}
	if dur > 0 {
		f.VolDurNorm = clamp((dur - 50) / 50)
	}
	if a.VolDurability24h > 0 {
		f.Vol24Norm = clamp((a.VolDurability24h - 50) / 50)
	}
	f.ZImbalance = clamp((deref(a.ZScoreBuy2h) - deref(a.ZScoreSell2h)) / 3)
	if t := a.FreqBuy2h + a.FreqSell2h; t > 0 {
		f.FreqImbalance = clamp((a.FreqBuy2h - a.FreqSell2h) / t)
	}
	if a.PersistenceBuy3 != nil {
		f.PersistenceNorm = clamp(float64(*a.PersistenceBuy3) / 3)
	}
	if a.Divergence != nil {
		switch *a.Divergence {
		case analytics.DivergenceBullish:
			f.DivergenceNorm = 1
		case analytics.DivergenceBearish:
			f.DivergenceNorm = -1
		}
	}
	f.RiskPenalty = clamp(a.RiskScore / 100)
	return f
}

// SizeTPSL returns nil for HOLD or a non-positive price.
func (e *Engine) SizeTPSL(label models.Signal, conf int, price, atr float64, useATR bool) *models.TPSL {
	if label == models.SignalHold || price <= 0 {
		return nil
	}
	sz := e.sizing
	sens := sz.Sensitivity
	if sens <= 0 {
		sens = 1
	}
	tpMin := math.Max(0, sz.TPMinPct) / 100
	tpMax := math.Max(sz.TPMinPct, sz.TPMaxPct) / 100
	slMax := math.Max(0, sz.SLMaxPct) / 100

	out := &models.TPSL{}
	rf := math.Min(tpMax, tpMin+float64(conf)/100*(tpMax-tpMin)*sens)
	if useATR && atr > 0 {
		rf = math.Min(tpMax, math.Max(tpMin, atr/price*sens))
		out.ATRSized = true
	}
	slDist := math.Min(slMax, math.Max(0.005, rf/2))
	out.RangeFactor = rf
	if label == models.SignalBuy {
		out.TakeProfit = price * (1 + rf)
		out.StopLoss = price * (1 - slDist)
	} else {
		out.TakeProfit = price * (1 - rf)
		out.StopLoss = price * (1 + slDist)
	}
	return out
}

func atrOf(a *models.AnalyticsRecord) float64 {
	if a == nil {
		return 0
	}
	return a.ATR14
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
