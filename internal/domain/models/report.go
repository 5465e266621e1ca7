package models

// HorizonStats summarises replayed recommendations for one look-ahead horizon.
type HorizonStats struct {
	Horizon string  `json:"horizon"`
	Samples int     `json:"samples"`
	WinRate float64 `json:"winRate"`
	Avg     float64 `json:"avg"`
	Median  float64 `json:"median"`
	Worst   float64 `json:"worst"`
}

type BacktestReport struct {
	Coin     string         `json:"coin"`
	Entries  int            `json:"entries"`
	Horizons []HorizonStats `json:"horizons"`
}

type RiskReport struct {
	Coin          string  `json:"coin"`
	Samples       int     `json:"samples"`
	MeanReturn    float64 `json:"meanReturn"`
	StdReturn     float64 `json:"stdReturn"`
	RealizedVol   float64 `json:"realizedVol"`
	TailRisk      float64 `json:"tailRisk"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
	ATR14         float64 `json:"atr14"`
	VolRatio      float64 `json:"volRatio"`
	FreqRatio     float64 `json:"freqRatio"`
	RiskScore     float64 `json:"riskScore"`
	StressIndex   int     `json:"stressIndex"`
	StressClass   string  `json:"stressClass"`
	PricePosition float64 `json:"pricePosition"`
}

// SignalLabFactor is one bar of the factor breakdown view.
type SignalLabFactor struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Bar   int     `json:"bar"`
	Good  bool    `json:"good"`
}

type SignalLab struct {
	Coin           string            `json:"coin"`
	Timeframe      Timeframe         `json:"timeframe"`
	Recommendation Signal            `json:"recommendation"`
	Confidence     int               `json:"confidence"`
	Factors        []SignalLabFactor `json:"factors"`
}
