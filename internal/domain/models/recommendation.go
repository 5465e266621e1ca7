package models

// Signal is the recommendation label.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Factors is the explainability breakdown of a recommendation score.
// Each factor is clamped to [-1, 1] before weighting.
type Factors struct {
	PriceBias       float64 `json:"priceBias"`
	VolDurNorm      float64 `json:"volDurNorm"`
	Vol24Norm       float64 `json:"vol24Norm"`
	ZImbalance      float64 `json:"zImbalance"`
	FreqImbalance   float64 `json:"freqImbalance"`
	PersistenceNorm float64 `json:"persistenceNorm"`
	DivergenceNorm  float64 `json:"divergenceNorm"`
	RiskPenalty     float64 `json:"riskPenalty"`
}

// TPSL holds take-profit and stop-loss levels for a directional recommendation.
type TPSL struct {
	TakeProfit  float64 `json:"takeProfit"`
	StopLoss    float64 `json:"stopLoss"`
	RangeFactor float64 `json:"rangeFactor"`
	ATRSized    bool    `json:"atrSized"`
}

// TimeframeScore is one entry of the aggregate breakdown.
type TimeframeScore struct {
	Timeframe      Timeframe `json:"timeframe"`
	Recommendation Signal    `json:"recommendation"`
	Score          float64   `json:"score"`
	Confidence     int       `json:"confidence"`
}

type Recommendation struct {
	Recommendation Signal           `json:"recommendation"`
	Score          float64          `json:"score"`
	Confidence     int              `json:"confidence"`
	Factors        Factors          `json:"factors"`
	Timeframe      Timeframe        `json:"timeframe"`
	TPSL           *TPSL            `json:"tpsl,omitempty"`
	Breakdown      []TimeframeScore `json:"breakdown,omitempty"`
	// CooldownHeld is set when the session kept the previous label inside its cooldown window.
	CooldownHeld bool `json:"cooldownHeld,omitempty"`
}

// RecommendationLogEntry is what the session remembers for the backtest replay.
type RecommendationLogEntry struct {
	TS             int64     `json:"ts"`
	Timeframe      Timeframe `json:"timeframe"`
	Recommendation Signal    `json:"recommendation"`
	Confidence     int       `json:"confidence"`
	Score          float64   `json:"score"`
	Price          float64   `json:"price"`
}
