package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowScope/internal/domain/models"
)

func pricePoints(ts []int64, prices []float64) []models.HistoryPoint {
	out := make([]models.HistoryPoint, len(prices))
	for i := range prices {
		out[i] = models.HistoryPoint{TS: ts[i], Price: prices[i]}
	}
	return out
}

func TestBacktest(t *testing.T) {
	series := pricePoints(
		[]int64{0, 300_000, 900_000, 3_600_000, 7_200_000},
		[]float64{100, 101, 102, 105, 110},
	)
	log := []models.RecommendationLogEntry{
		{TS: 0, Recommendation: models.SignalBuy, Price: 100},
		{TS: 0, Recommendation: models.SignalSell, Price: 100},
		{TS: 0, Recommendation: models.SignalHold, Price: 100},
	}
	rep := Backtest("BTC", log, series, nil)
	assert.Equal(t, "BTC", rep.Coin)
	assert.Equal(t, 2, rep.Entries, "HOLD is skipped")
	require.Len(t, rep.Horizons, 4)

	five := rep.Horizons[0]
	assert.Equal(t, "5m", five.Horizon)
	assert.Equal(t, 2, five.Samples)
	assert.Equal(t, 50.0, five.WinRate)
	assert.Equal(t, 0.0, five.Avg)
	assert.Equal(t, 1.0, five.Median)
	assert.Equal(t, -1.0, five.Worst)

	long := rep.Horizons[3]
	assert.Equal(t, "120m", long.Horizon)
	assert.Equal(t, -10.0, long.Worst)
}

func TestBacktestEntryFromHistory(t *testing.T) {
	series := pricePoints([]int64{1000, 2000}, []float64{50, 55})
	log := []models.RecommendationLogEntry{{TS: 1500, Recommendation: models.SignalBuy}}
	rep := Backtest("ETH", log, series, []Horizon{{"1m", 60_000}})
	require.Len(t, rep.Horizons, 1)
	// entry resolves to 55 and the horizon runs past the history, so future is the last price
	assert.Equal(t, 1, rep.Horizons[0].Samples)
	assert.Equal(t, 0.0, rep.Horizons[0].Avg)
	assert.Equal(t, 100.0, rep.Horizons[0].WinRate)
}

func TestBacktestEmpty(t *testing.T) {
	rep := Backtest("BTC", nil, nil, nil)
	assert.Zero(t, rep.Entries)
	for _, h := range rep.Horizons {
		assert.Zero(t, h.Samples)
	}
}

func TestStressIndex(t *testing.T) {
	tests := []struct {
		name            string
		tail, vol, risk float64
		want            int
		class           string
	}{
		{"calm", -2, 10, 40, 31, StressOK},
		{"capped", -10, 50, 80, 95, StressDanger},
		{"saturated", -50, 100, 100, 100, StressDanger},
		{"warning band", -10, 25, 30, 50, StressWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StressIndex(tt.tail, tt.vol, tt.risk)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.class, StressClass(got))
		})
	}
	assert.Equal(t, StressDanger, StressClass(70))
	assert.Equal(t, StressWarning, StressClass(69))
}

func TestRisk(t *testing.T) {
	series := []models.HistoryPoint{
		{TS: 1, Price: 100, VolBuy2h: 10, VolSell2h: 0},
		{TS: 2, Price: 110, VolBuy2h: 10, VolSell2h: 0},
		{TS: 3, Price: 99, VolBuy2h: 10, VolSell2h: 0, FreqBuy2h: 30, FreqSell2h: 10},
	}
	rep, err := Risk(RiskInput{Coin: "BTC", History: series, Lookback: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Samples)
	assert.Equal(t, 0.0, rep.MeanReturn)
	assert.Equal(t, 10.0, rep.StdReturn)
	assert.Equal(t, 77.46, rep.RealizedVol)
	assert.Equal(t, -10.0, rep.TailRisk)
	assert.Equal(t, -10.0, rep.MaxDrawdown)
	assert.Equal(t, 999.0, rep.VolRatio)
	assert.Equal(t, 300.0, rep.FreqRatio)
	assert.Equal(t, 77, rep.StressIndex)
	assert.Equal(t, StressDanger, rep.StressClass)

	rep, err = Risk(RiskInput{Coin: "BTC", History: series, Analytics: &models.AnalyticsRecord{RiskScore: 40, VolBuy2h: 5, VolSell2h: 10}})
	require.NoError(t, err)
	assert.Equal(t, 97, rep.StressIndex)
	assert.Equal(t, 50.0, rep.VolRatio)
}

func TestRiskInsufficientHistory(t *testing.T) {
	_, err := Risk(RiskInput{Coin: "BTC", History: []models.HistoryPoint{{Price: 100}, {Price: 0}}})
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestSignalLab(t *testing.T) {
	rec := models.Recommendation{
		Recommendation: models.SignalBuy,
		Confidence:     60,
		Timeframe:      models.TF120m,
		Factors:        models.Factors{PriceBias: -1, VolDurNorm: 1, ZImbalance: 0.25, RiskPenalty: 0.4},
	}
	lab := SignalLab("BTC", rec)
	require.Len(t, lab.Factors, 8)
	assert.Equal(t, "Price Bias", lab.Factors[0].Name)
	assert.Equal(t, 0, lab.Factors[0].Bar)
	assert.False(t, lab.Factors[0].Good)
	assert.Equal(t, 100, lab.Factors[1].Bar)
	assert.Equal(t, 63, lab.Factors[3].Bar)
	assert.True(t, lab.Factors[5].Good, "zero counts as good")

	risk := lab.Factors[7]
	assert.Equal(t, "Risk Penalty", risk.Name)
	assert.Equal(t, 70, risk.Bar)
	assert.False(t, risk.Good, "risk penalty is inverted")
}
