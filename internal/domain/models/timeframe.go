package models

// Timeframe is one of the fixed feed windows.
type Timeframe string

const (
	TF1m    Timeframe = "1m"
	TF5m    Timeframe = "5m"
	TF10m   Timeframe = "10m"
	TF15m   Timeframe = "15m"
	TF20m   Timeframe = "20m"
	TF30m   Timeframe = "30m"
	TF60m   Timeframe = "60m"
	TF120m  Timeframe = "120m"
	TF1440m Timeframe = "1440m"

	// TFAll requests the confidence-weighted aggregate over every timeframe.
	TFAll Timeframe = "all"
)

var timeframes = []Timeframe{TF1m, TF5m, TF10m, TF15m, TF20m, TF30m, TF60m, TF120m, TF1440m}

var timeframeAliases = map[string]Timeframe{
	"1h":  TF60m,
	"2h":  TF120m,
	"24h": TF1440m,
	"1d":  TF1440m,
	"All": TFAll,
	"ALL": TFAll,
}

// Timeframes returns the fixed timeframe set, shortest first.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

// Minutes returns the window length in minutes, 0 for TFAll or unknown values.
func (tf Timeframe) Minutes() int {
	switch tf {
	case TF1m:
		return 1
	case TF5m:
		return 5
	case TF10m:
		return 10
	case TF15m:
		return 15
	case TF20m:
		return 20
	case TF30m:
		return 30
	case TF60m:
		return 60
	case TF120m:
		return 120
	case TF1440m:
		return 1440
	}
	return 0
}

// IsValidTimeframe returns true if tf is a supported timeframe or TFAll.
func IsValidTimeframe(tf Timeframe) bool {
	return tf == TFAll || tf.Minutes() > 0
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF120m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	if tf, ok := timeframeAliases[s]; ok {
		return tf
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}
