// Package stats holds the pure numeric primitives the analytics engine builds on.
// Every function returns a neutral value on thin or degenerate input instead of NaN.
package stats

import (
	"math"
	"sort"

	"FlowScope/internal/domain/models"
)

// DefaultATRPeriod is the window used for atr14.
const DefaultATRPeriod = 14

// MeanStdResult is a population mean and standard deviation.
type MeanStdResult struct {
	Mean float64
	Std  float64
}

// MeanStd computes population statistics (divide by N). Empty input yields {0,0}.
func MeanStd(values []float64) MeanStdResult {
	n := len(values)
	if n == 0 {
		return MeanStdResult{}
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return MeanStdResult{Mean: mean, Std: math.Sqrt(sq / float64(n))}
}

// ComputeATR averages |p[i]-p[i-1]| over the last max(period,2) points,
// skipping pairs where either price is not positive.
func ComputeATR(points []models.HistoryPoint, period int) float64 {
	if len(points) < 2 {
		return 0
	}
	if period < 2 {
		period = 2
	}
	start := len(points) - period
	if start < 0 {
		start = 0
	}
	window := points[start:]
	sum := 0.0
	pairs := 0
	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1].Price, window[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		sum += math.Abs(cur - prev)
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// ComputeVWAP weights price by combined 2h volume over points with positive price and volume.
func ComputeVWAP(points []models.HistoryPoint) float64 {
	num, den := 0.0, 0.0
	for _, p := range points {
		vol := p.VolBuy2h + p.VolSell2h
		if p.Price <= 0 || vol <= 0 {
			continue
		}
		num += p.Price * vol
		den += vol
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Tanh squashes x into [-1,1].
func Tanh(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Tanh(x)
}

// Sign returns -1, 0 or 1.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Round2 rounds half away from zero to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// SafeDiv returns a/b, or fallback when b is zero or the result is not finite.
func SafeDiv(a, b, fallback float64) float64 {
	if b == 0 {
		return fallback
	}
	return Finite(a/b, fallback)
}

// Finite returns x unless it is NaN or ±Inf.
func Finite(x, fallback float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fallback
	}
	return x
}

// ZScore is the unrounded z of current against series. ok is false with fewer
// than minSamples values or zero spread.
func ZScore(current float64, series []float64, minSamples int) (z float64, ok bool) {
	if len(series) < minSamples {
		return 0, false
	}
	ms := MeanStd(series)
	if ms.Std <= 0 {
		return 0, false
	}
	return (current - ms.Mean) / ms.Std, true
}

// Persistence counts how many of the last n values exceed mean+std of the whole series.
func Persistence(series []float64, n int) (count int, ok bool) {
	if len(series) < n || n <= 0 {
		return 0, false
	}
	ms := MeanStd(series)
	if ms.Std <= 0 {
		return 0, false
	}
	limit := ms.Mean + ms.Std
	for _, v := range series[len(series)-n:] {
		if v > limit {
			count++
		}
	}
	return count, true
}

// SmoothAboveMean is the fraction of the last window values whose z against the
// series exceeds 1.
func SmoothAboveMean(series []float64, window int) float64 {
	if len(series) == 0 || window <= 0 {
		return 0
	}
	ms := MeanStd(series)
	if ms.Std <= 0 {
		return 0
	}
	if window > len(series) {
		window = len(series)
	}
	hits := 0
	for _, v := range series[len(series)-window:] {
		if (v-ms.Mean)/ms.Std > 1 {
			hits++
		}
	}
	return float64(hits) / float64(window)
}

// PercentReturns returns (p[i]-p[i-1])/p[i-1]*100 over positive prices only.
func PercentReturns(prices []float64) []float64 {
	clean := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			clean = append(clean, p)
		}
	}
	if len(clean) < 2 {
		return nil
	}
	out := make([]float64, 0, len(clean)-1)
	for i := 1; i < len(clean); i++ {
		out = append(out, (clean[i]-clean[i-1])/clean[i-1]*100)
	}
	return out
}

// MaxDrawdown returns the deepest peak-to-trough drop in percent (a value <= 0).
func MaxDrawdown(prices []float64) float64 {
	peak := 0.0
	worst := 0.0
	for _, p := range prices {
		if p <= 0 {
			continue
		}
		if p > peak {
			peak = p
		}
		dd := (p - peak) / peak * 100
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// TailQuantile returns the ascending-sorted element at max(0, floor(n*q)-1).
func TailQuantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Floor(float64(len(sorted))*q)) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Median returns the element at floor(n/2) of the sorted values, 0 when empty.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// Mean of values, 0 when empty.
func Mean(values []float64) float64 {
	return MeanStd(values).Mean
}
