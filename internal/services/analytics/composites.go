package analytics

import (
	"math"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/domain/service"
	"FlowScope/internal/services/feed"
	"FlowScope/internal/services/stats"
)

// zvals are raw z-scores with nil treated as 0.
type zvals struct {
	buy, sell, freqBuy, freqSell, price float64
}

func (e *Engine) composites(rec *models.AnalyticsRecord, in service.AnalyticsInput, b base, series []models.HistoryPoint, z zvals, buys, fbuys []float64) {
	s := in.Snapshot
	fin := func(v float64) float64 { return stats.Finite(v, 0) }

	atr := stats.ComputeATR(series, stats.DefaultATRPeriod)
	vwap := stats.ComputeVWAP(series)
	rec.ATR14 = fin(atr)
	rec.VWAP = fin(vwap)
	if vwap > 0 && b.price > 0 {
		rec.PriceVsVWAP = fin((b.price - vwap) / vwap * 100)
	}

	volDiff := b.volBuy2h - b.volSell2h
	totalVol := b.volBuy2h + b.volSell2h
	pricePrev := b.previous
	if pricePrev == 0 {
		pricePrev = b.price
	}

	rec.LiquidityShockIndex = liquidityShock(series, b.liquidity)
	if atr > 0 && rec.PriceRange24h > 0 {
		rec.RangeCompressionIndex = fin(atr / rec.PriceRange24h)
	}
	if atr > 0 && b.price > 0 {
		rec.FlowStrengthIndex = fin(volDiff / (atr * b.price))
		rec.FlowVolatilityRatio = fin(math.Abs(volDiff) / (atr * b.price))
	}
	if atr > 0 {
		rec.ImpactAdjustedOrderFlow = fin(volDiff * ((b.price - pricePrev) / math.Max(atr, 1e-6)))
	}
	if totalVol > 0 {
		rec.LiquidityHeatRisk = fin(atr / totalVol)
	} else {
		rec.LiquidityHeatRisk = rec.ATR14
	}
	rec.FlowToVolatilityRatio = rec.FlowVolatilityRatio

	rec.OrderFlowStabilityIndex = stats.Tanh((z.buy + z.freqBuy) / 2)
	rec.OrderFlowStabilityIndexSell = stats.Tanh((z.sell + z.freqSell) / 2)
	rec.PersistenceBuySmooth = stats.SmoothAboveMean(buys, smoothWindow)
	rec.PersistenceFreqSmooth = stats.SmoothAboveMean(fbuys, smoothWindow)
	rec.ZWeightedPressure = stats.Tanh(((z.buy + z.freqBuy) - (z.sell + z.freqSell)) / 4)

	var priorImb, priorCum float64
	if in.Prior != nil {
		priorImb, priorCum = in.Prior.VolImbalance2h, in.Prior.CumulativePressure
	}
	rec.TradeImbalanceMomentum = fin(rec.VolImbalance2h - priorImb)
	rec.CumulativePressure = fin(priorCum + volDiff)

	rec.PriceFlowConflictIndex = conflict(b.pctChange, volDiff)
	if totalVol > 0 {
		rec.PriceEfficiencyIndex = fin(math.Abs(b.pctChange) / math.Max(totalVol, 1))
	}
	rec.VolumeFlowDivergence = fin((z.buy - z.sell) / math.Max(math.Abs(z.price), 0.25))
	rec.SmartMoneyDivergence = fin(rec.ZWeightedPressure - z.price)

	if rec.ZScoreBuy2h != nil {
		rec.TrendVelocityVol = stats.Round2(z.buy - previousZ(buys))
	}
	if rec.ZScoreFreqBuy2h != nil {
		rec.TrendVelocityFreq = stats.Round2(z.freqBuy - previousZ(fbuys))
	}

	rec.MultiTfCohesion = multiTfCohesion(s)
	rec.VolumeAcceleration = volumeAcceleration(s, totalVol)
	rec.FreqBurstBuy = freqBurst(s, b.freqBuy2h)
	rec.DirectionalStabilityScore = directionalStability(series)

	w := e.composite
	velocity := (rec.TrendVelocityVol + rec.TrendVelocityFreq) / 2
	rec.CompositeInstitutionalSignal = fin(w.Cohesion*rec.MultiTfCohesion +
		w.Acceleration*rec.VolumeAcceleration +
		w.FreqBurst*rec.FreqBurstBuy +
		w.ZPressure*rec.ZWeightedPressure +
		w.FlowVol*rec.FlowVolatilityRatio +
		w.Velocity*velocity +
		w.Persistence*rec.PersistenceBuySmooth)
}

// liquidityShock compares current liquidity with the positive mean of the
// preceding points; 1 means no shock or no reference.
func liquidityShock(series []models.HistoryPoint, current float64) float64 {
	n := len(series)
	start := n - 1 - liquidityLookback
	if start < 0 {
		start = 0
	}
	var ref []float64
	for i := start; i < n-1; i++ {
		if l := series[i].Liquidity; l > 0 {
			ref = append(ref, l)
		}
	}
	if len(ref) == 0 {
		return 1
	}
	mean := stats.Mean(ref)
	return stats.SafeDiv(current, mean, 1)
}

func conflict(pct, volDiff float64) float64 {
	ps, fs := stats.Sign(pct), stats.Sign(volDiff)
	if ps == 0 || fs == 0 {
		return 0
	}
	return ps * -fs
}

// previousZ is the z of the second-to-last value against the whole series.
func previousZ(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	z, ok := stats.ZScore(series[len(series)-2], series, MinZSamples)
	if !ok {
		return 0
	}
	return z
}

func multiTfCohesion(s *models.Snapshot) float64 {
	sum, n := 0.0, 0
	for _, tf := range models.Timeframes() {
		buy := feed.Resolve(s, feed.ConceptVolume, feed.SideBuy, tf)
		sell := feed.Resolve(s, feed.ConceptVolume, feed.SideSell, tf)
		if t := buy + sell; t > 0 {
			sum += (buy - sell) / t
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// volumeAcceleration compares the 5m net flow rate with the 2h average rate.
func volumeAcceleration(s *models.Snapshot, total2h float64) float64 {
	if total2h <= 0 {
		return 0
	}
	b5 := feed.Resolve(s, feed.ConceptVolume, feed.SideBuy, models.TF5m)
	s5 := feed.Resolve(s, feed.ConceptVolume, feed.SideSell, models.TF5m)
	return stats.Tanh(stats.Finite(((b5-s5)/5)/(total2h/120), 0))
}

func freqBurst(s *models.Snapshot, freqBuy2h float64) float64 {
	if freqBuy2h <= 0 {
		return 0
	}
	f1 := feed.Resolve(s, feed.ConceptFrequency, feed.SideBuy, models.TF1m)
	f5 := feed.Resolve(s, feed.ConceptFrequency, feed.SideBuy, models.TF5m)
	return stats.Finite(((f1+f5/5)/2)/(freqBuy2h/120), 0)
}

func directionalStability(series []models.HistoryPoint) float64 {
	start := len(series) - directionalWindow
	if start < 0 {
		start = 0
	}
	sum, n := 0.0, 0
	for _, p := range series[start:] {
		if p.VolBuy2h+p.VolSell2h > 0 {
			sum += stats.Sign(p.VolBuy2h - p.VolSell2h)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
