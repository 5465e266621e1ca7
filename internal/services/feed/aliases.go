// Package feed turns raw feed payloads into snapshots and resolves the feed's
// inconsistent field names through one declarative alias table.
package feed

import (
	"math"
	"strings"

	"FlowScope/internal/domain/models"
)

// Concept is a quantity the feed reports per timeframe.
type Concept string

const (
	ConceptVolume     Concept = "vol"
	ConceptFrequency  Concept = "freq"
	ConceptAvgVolume  Concept = "avg_vol"
	ConceptAvgFreq    Concept = "avg_freq"
	ConceptDurability Concept = "durability"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// AliasKey addresses one ordered alias list.
type AliasKey struct {
	Concept   Concept
	Side      Side
	Timeframe models.Timeframe
}

// Buy-side alias lists in priority order. Sell lists are derived by swapping
// the side token, so both sides always share the same priority.
var buyAliases = map[Concept]map[models.Timeframe][]string{
	ConceptVolume: {
		models.TF1m:    {"count_VOL_minute1_buy", "vol_buy_1MENIT", "vol_buy_1menit", "vol_buy_1m", "vol_buy_1min"},
		models.TF5m:    {"count_VOL_minute_5_buy", "vol_buy_5MENIT", "vol_buy_5menit", "vol_buy_5m", "vol_buy_5min"},
		models.TF10m:   {"count_VOL_minute_10_buy", "vol_buy_10MENIT", "vol_buy_10menit", "vol_buy_10m", "vol_buy_10min"},
		models.TF15m:   {"count_VOL_minute_15_buy", "vol_buy_15MENIT", "vol_buy_15m"},
		models.TF20m:   {"count_VOL_minute_20_buy", "vol_buy_20MENIT", "vol_buy_20m"},
		models.TF30m:   {"count_VOL_minute_30_buy", "vol_buy_30MENIT", "vol_buy_30m"},
		models.TF60m:   {"count_VOL_minute_60_buy", "vol_buy_1JAM", "vol_buy_60MENIT", "vol_buy_60menit", "vol_buy_60m"},
		models.TF120m:  {"count_VOL_minute_120_buy", "vol_buy_2JAM", "vol_buy_120MENIT", "vol_buy_2jam"},
		models.TF1440m: {"count_VOL_minute_1440_buy", "vol_buy_24JAM", "vol_buy_24jam", "vol_buy_24h", "vol_buy_24H"},
	},
	ConceptFrequency: {
		models.TF1m:    {"count_FREQ_minute1_buy", "sum_minute1_buy", "freq_buy_1MENIT"},
		models.TF5m:    {"count_FREQ_minute_5_buy", "sum_minute_5_buy", "freq_buy_5MENIT"},
		models.TF10m:   {"count_FREQ_minute_10_buy", "sum_minute_10_buy", "freq_buy_10MENIT"},
		models.TF15m:   {"count_FREQ_minute_15_buy", "sum_minute_15_buy", "freq_buy_15MENIT"},
		models.TF20m:   {"count_FREQ_minute_20_buy", "sum_minute_20_buy", "freq_buy_20MENIT"},
		models.TF30m:   {"count_FREQ_minute_30_buy", "sum_minute_30_buy", "freq_buy_30MENIT"},
		models.TF60m:   {"count_FREQ_minute_60_buy", "sum_minute_60_buy", "freq_buy_1JAM", "freq_buy_60MENIT"},
		models.TF120m:  {"count_FREQ_minute_120_buy", "sum_minute_120_buy", "freq_buy_2JAM", "freq_buy_120MENIT"},
		models.TF1440m: {"count_FREQ_minute_1440_buy", "sum_minute_1440_buy", "freq_buy_24JAM"},
	},
	ConceptAvgVolume: {
		models.TF1m:    {"avg_VOLCOIN_buy_1MENIT"},
		models.TF5m:    {"avg_VOLCOIN_buy_5MENIT"},
		models.TF10m:   {"avg_VOLCOIN_buy_10MENIT"},
		models.TF15m:   {"avg_VOLCOIN_buy_15MENIT"},
		models.TF20m:   {"avg_VOLCOIN_buy_20MENIT"},
		models.TF30m:   {"avg_VOLCOIN_buy_30MENIT"},
		models.TF60m:   {"avg_VOLCOIN_buy_1JAM", "avg_VOLCOIN_buy_60MENIT"},
		models.TF120m:  {"avg_VOLCOIN_buy_2JAM", "avg_VOLCOIN_buy_120MENIT"},
		models.TF1440m: {"avg_VOLCOIN_buy_24JAM"},
	},
	ConceptAvgFreq: {
		models.TF1m:    {"avg_FREQCOIN_buy_1MENIT"},
		models.TF5m:    {"avg_FREQCOIN_buy_5MENIT"},
		models.TF10m:   {"avg_FREQCOIN_buy_10MENIT"},
		models.TF15m:   {"avg_FREQCOIN_buy_15MENIT"},
		models.TF20m:   {"avg_FREQCOIN_buy_20MENIT"},
		models.TF30m:   {"avg_FREQCOIN_buy_30MENIT"},
		models.TF60m:   {"avg_FREQCOIN_buy_1JAM", "avg_FREQCOIN_buy_60MENIT"},
		models.TF120m:  {"avg_FREQCOIN_buy_2JAM", "avg_FREQCOIN_buy_120MENIT"},
		models.TF1440m: {"avg_FREQCOIN_buy_24JAM"},
	},
	// Feed-supplied buy share in percent.
	ConceptDurability: {
		models.TF1m:    {"percent_vol_buy_1min"},
		models.TF5m:    {"percent_vol_buy_5min"},
		models.TF10m:   {"percent_vol_buy_10min"},
		models.TF15m:   {"percent_vol_buy_15min"},
		models.TF20m:   {"percent_vol_buy_20min"},
		models.TF30m:   {"percent_vol_buy_30min"},
		models.TF60m:   {"percent_vol_buy_60min"},
		models.TF120m:  {"percent_vol_buy_120min", "percent_vol_buy_2jam"},
		models.TF1440m: {"percent_vol_buy_1440min", "percent_vol_buy_24jam"},
	},
}

// Price and metadata fields resolved by plain key.
const (
	KeyLast          = "last"
	KeyHigh          = "high"
	KeyLow           = "low"
	KeyOpen          = "open"
	KeyPrevious      = "previous"
	KeyPercentChange = "percent_change"
)

var aliasTable = buildAliasTable()

func buildAliasTable() map[AliasKey][]string {
	out := make(map[AliasKey][]string)
	for concept, byTf := range buyAliases {
		for tf, list := range byTf {
			out[AliasKey{concept, SideBuy, tf}] = list
			sell := make([]string, len(list))
			for i, k := range list {
				sell[i] = strings.Replace(k, "buy", "sell", 1)
			}
			out[AliasKey{concept, SideSell, tf}] = sell
		}
	}
	return out
}

// Aliases returns a copy of the ordered alias list, nil when the key is unknown.
func Aliases(concept Concept, side Side, tf models.Timeframe) []string {
	list, ok := aliasTable[AliasKey{concept, side, tf}]
	if !ok {
		return nil
	}
	return append([]string(nil), list...)
}

// AllAliasKeys lists every field name the alias table can resolve.
func AllAliasKeys() []string {
	var keys []string
	for _, list := range aliasTable {
		keys = append(keys, list...)
	}
	return keys
}

// Lookup returns the first alias holding a finite number.
func Lookup(s *models.Snapshot, aliases ...string) (float64, bool) {
	for _, k := range aliases {
		v, ok := s.Num(k)
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return 0, false
}

// ResolveOK resolves a concept through the alias table.
func ResolveOK(s *models.Snapshot, concept Concept, side Side, tf models.Timeframe) (float64, bool) {
	return Lookup(s, aliasTable[AliasKey{concept, side, tf}]...)
}

// Resolve is ResolveOK with missing values defaulting to 0.
func Resolve(s *models.Snapshot, concept Concept, side Side, tf models.Timeframe) float64 {
	v, _ := ResolveOK(s, concept, side, tf)
	return v
}

// Price returns the named price field, 0 when absent.
func Price(s *models.Snapshot, key string) float64 {
	v, _ := Lookup(s, key)
	return v
}
