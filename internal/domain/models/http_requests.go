package models

// Requests for the read API. Defined in domain for consistency and reuse.

type CoinRequest struct {
	Coin string `query:"coin" json:"coin" validate:"required"`
}

type HistoryRequest struct {
	Coin  string `query:"coin" json:"coin" validate:"required"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=500"`
}

type RecommendationRequest struct {
	Coin     string `query:"coin" json:"coin" validate:"required"`
	TF       string `query:"tf" json:"tf" default:"120m" validate:"oneof=1m 5m 10m 15m 20m 30m 60m 120m 1440m 1h 2h 24h all All"`
	ATR      bool   `query:"atr" json:"atr"`
	Cooldown bool   `query:"cooldown" json:"cooldown"`
}

type ListRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=300"`
}

type RiskRequest struct {
	Coin     string `query:"coin" json:"coin" validate:"required"`
	Lookback int    `query:"lookback" json:"lookback" default:"100" validate:"gte=20,lte=500"`
}

type SignalLabRequest struct {
	Coin string `query:"coin" json:"coin" validate:"required"`
	TF   string `query:"tf" json:"tf" default:"120m" validate:"oneof=1m 5m 10m 15m 20m 30m 60m 120m 1440m 1h 2h 24h all All"`
}

type RulesRequest struct {
	Rules []AlertRule `json:"rules" validate:"required,dive"`
}
