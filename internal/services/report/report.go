// Package report builds the descriptive views over an asset's history:
// the recommendation backtest replay, the risk monitor and the signal lab.
package report

import (
	"errors"
	"math"
	"time"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/services/stats"
)

var ErrInsufficientHistory = errors.New("insufficient history")

const (
	MinRiskLookback     = 20
	DefaultRiskLookback = 100
	tailQuantile        = 0.05
	volRatioNoSell      = 999

	StressDanger  = "danger"
	StressWarning = "warning"
	StressOK      = "ok"
)

// Horizon is one look-ahead window of the backtest replay.
type Horizon struct {
	Label    string
	Duration time.Duration
}

func DefaultHorizons() []Horizon {
	return []Horizon{
		{"5m", 5 * time.Minute},
		{"15m", 15 * time.Minute},
		{"60m", 60 * time.Minute},
		{"120m", 120 * time.Minute},
	}
}

// Backtest replays logged directional recommendations against the history.
// It is descriptive only: no fees, slippage or position sizing.
func Backtest(coin string, log []models.RecommendationLogEntry, series []models.HistoryPoint, horizons []Horizon) models.BacktestReport {
	if len(horizons) == 0 {
		horizons = DefaultHorizons()
	}
	out := models.BacktestReport{Coin: coin, Horizons: make([]models.HorizonStats, 0, len(horizons))}
	entries := make([]models.RecommendationLogEntry, 0, len(log))
	for _, e := range log {
		if e.Recommendation != models.SignalHold {
			entries = append(entries, e)
		}
	}
	out.Entries = len(entries)

	for _, h := range horizons {
		var moves []float64
		for _, e := range entries {
			entry := e.Price
			if entry <= 0 {
				entry = priceAtOrAfter(series, e.TS)
			}
			if entry <= 0 {
				continue
			}
			future := priceAtOrAfter(series, e.TS+h.Duration.Milliseconds())
			if future <= 0 {
				continue
			}
			move := (future - entry) / entry * 100
			if e.Recommendation == models.SignalSell {
				move = -move
			}
			moves = append(moves, move)
		}
		out.Horizons = append(out.Horizons, horizonStats(h.Label, moves))
	}
	return out
}

// priceAtOrAfter returns the first price at or after ts, else the last price.
func priceAtOrAfter(series []models.HistoryPoint, ts int64) float64 {
	if len(series) == 0 {
		return 0
	}
	for _, p := range series {
		if p.TS >= ts && p.Price > 0 {
			return p.Price
		}
	}
	return series[len(series)-1].Price
}

func horizonStats(label string, moves []float64) models.HorizonStats {
	st := models.HorizonStats{Horizon: label, Samples: len(moves)}
	if len(moves) == 0 {
		return st
	}
	wins := 0
	worst := math.Inf(1)
	for _, m := range moves {
		if m >= 0 {
			wins++
		}
		worst = math.Min(worst, m)
	}
	st.WinRate = stats.Round2(float64(wins) / float64(len(moves)) * 100)
	st.Avg = stats.Round2(stats.Mean(moves))
	st.Median = stats.Round2(stats.Median(moves))
	st.Worst = stats.Round2(worst)
	return st
}

// StressIndex combines tail risk, realized volatility and the risk score into [0,100].
func StressIndex(tail, realizedVol, riskScore float64) int {
	v := math.Min(100, math.Abs(tail)*1.5+realizedVol*0.8+riskScore*0.5)
	return int(math.Round(stats.Finite(v, 0)))
}

func StressClass(idx int) string {
	switch {
	case idx >= 70:
		return StressDanger
	case idx >= 50:
		return StressWarning
	}
	return StressOK
}

// RiskInput carries what the risk monitor reads besides the history.
type RiskInput struct {
	Coin          string
	History       []models.HistoryPoint
	Analytics     *models.AnalyticsRecord
	PricePosition float64
	Lookback      int
}

// Risk summarises the last max(20, lookback) points.
func Risk(in RiskInput) (models.RiskReport, error) {
	lookback := in.Lookback
	if lookback <= 0 {
		lookback = DefaultRiskLookback
	}
	lookback = int(math.Max(MinRiskLookback, float64(lookback)))
	series := in.History
	if len(series) > lookback {
		series = series[len(series)-lookback:]
	}
	prices := make([]float64, 0, len(series))
	for _, p := range series {
		prices = append(prices, p.Price)
	}
	returns := stats.PercentReturns(prices)
	if returns == nil {
		return models.RiskReport{}, ErrInsufficientHistory
	}

	ms := stats.MeanStd(returns)
	realized := ms.Std * math.Sqrt(60)
	tail := stats.TailQuantile(returns, tailQuantile)

	r := models.RiskReport{
		Coin:          in.Coin,
		Samples:       len(returns),
		MeanReturn:    stats.Round2(ms.Mean),
		StdReturn:     stats.Round2(ms.Std),
		RealizedVol:   stats.Round2(realized),
		TailRisk:      stats.Round2(tail),
		MaxDrawdown:   stats.Round2(stats.MaxDrawdown(prices)),
		ATR14:         stats.ComputeATR(series, stats.DefaultATRPeriod),
		PricePosition: in.PricePosition,
	}
	last := series[len(series)-1]
	volBuy, volSell := last.VolBuy2h, last.VolSell2h
	freqBuy, freqSell := last.FreqBuy2h, last.FreqSell2h
	if a := in.Analytics; a != nil && !a.Neutral {
		volBuy, volSell = a.VolBuy2h, a.VolSell2h
		freqBuy, freqSell = a.FreqBuy2h, a.FreqSell2h
		r.RiskScore = a.RiskScore
	}
	r.VolRatio = stats.Round2(ratio(volBuy, volSell))
	r.FreqRatio = stats.Round2(ratio(freqBuy, freqSell))
	r.StressIndex = StressIndex(tail, realized, r.RiskScore)
	r.StressClass = StressClass(r.StressIndex)
	return r, nil
}

func ratio(buy, sell float64) float64 {
	if sell > 0 {
		return buy / sell * 100
	}
	if buy > 0 {
		return volRatioNoSell
	}
	return 0
}

type labFactor struct {
	name   string
	invert bool
	value  func(f models.Factors) float64
}

var labFactors = []labFactor{
	{"Price Bias", false, func(f models.Factors) float64 { return f.PriceBias }},
	{"Vol Durability (2h)", false, func(f models.Factors) float64 { return f.VolDurNorm }},
	{"Vol Durability (24h)", false, func(f models.Factors) float64 { return f.Vol24Norm }},
	{"Volume Z-Imbalance", false, func(f models.Factors) float64 { return f.ZImbalance }},
	{"Frequency Imbalance", false, func(f models.Factors) float64 { return f.FreqImbalance }},
	{"Persistence", false, func(f models.Factors) float64 { return f.PersistenceNorm }},
	{"Divergence", false, func(f models.Factors) float64 { return f.DivergenceNorm }},
	{"Risk Penalty", true, func(f models.Factors) float64 { return f.RiskPenalty }},
}

// SignalLab renders a recommendation's factors as 0-100 bars.
func SignalLab(coin string, rec models.Recommendation) models.SignalLab {
	out := models.SignalLab{
		Coin:           coin,
		Timeframe:      rec.Timeframe,
		Recommendation: rec.Recommendation,
		Confidence:     rec.Confidence,
		Factors:        make([]models.SignalLabFactor, 0, len(labFactors)),
	}
	for _, lf := range labFactors {
		v := lf.value(rec.Factors)
		good := v >= 0
		if lf.invert {
			good = v <= 0
		}
		out.Factors = append(out.Factors, models.SignalLabFactor{
			Name:  lf.name,
			Value: stats.Round2(v),
			Bar:   int(stats.Clamp(math.Round((v+1)*50), 0, 100)),
			Good:  good,
		})
	}
	return out
}
