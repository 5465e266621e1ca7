package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"FlowScope/internal/domain/models"
	"FlowScope/pkg/util"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object.
	ErrMalformed = errors.New("feed: malformed snapshot")
	// ErrMissingCoin is returned when the payload has no asset identifier.
	ErrMissingCoin = errors.New("feed: snapshot has no coin")
)

var baseKeep = []string{
	"last", "percent_change", "open", "previous", "high", "low",
	"update_time_VOLCOIN", "update_time_FREQCOIN",
	"percent_sum_VOL_minute_120_buy", "percent_sum_VOL_overall_buy",
	"total_vol", "total_vol_fiat",
}

var autoKeep = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^count_freq_`),
	regexp.MustCompile(`(?i)^freq_`),
	regexp.MustCompile(`(?i)^avg_freqcoin_`),
	regexp.MustCompile(`(?i)^update_time_(?:freq|vol)_`),
}

// keepSet is every canonical field we retain, with its lowercase variant.
var keepSet = buildKeepSet()

func buildKeepSet() map[string]string {
	canon := append([]string(nil), baseKeep...)
	canon = append(canon, AllAliasKeys()...)
	for _, ps := range percentSums {
		canon = append(canon, ps.Key)
	}
	for _, tf := range []string{"1min", "5min", "10min", "15min", "20min", "30min", "60min", "120min"} {
		canon = append(canon, "percent_vol_buy_"+tf, "percent_vol_sell_"+tf)
	}
	out := make(map[string]string, len(canon)*2)
	for _, k := range canon {
		out[k] = k
	}
	// lowercase variants map back to the canonical name unless they are canonical themselves
	for _, k := range canon {
		lk := strings.ToLower(k)
		if _, ok := out[lk]; !ok {
			out[lk] = k
		}
	}
	return out
}

// Sanitize parses one raw payload into a snapshot. It keeps only known fields,
// coerces numeric strings, and fills the derived percent_sum fields.
func Sanitize(raw []byte) (*models.Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, ErrMalformed
	}
	return FromMap(obj)
}

// FromMap builds a snapshot from an already decoded payload.
func FromMap(obj map[string]interface{}) (*models.Snapshot, error) {
	coin, _ := obj["coin"].(string)
	coin = strings.TrimSpace(coin)
	if coin == "" {
		return nil, ErrMissingCoin
	}
	snap := &models.Snapshot{Coin: coin, Fields: make(map[string]float64, len(obj))}

	// canonical names first so they win over a lowercase duplicate
	for key, val := range obj {
		if canon, ok := keepSet[key]; ok && canon == key {
			if f, ok := toFloat(val); ok {
				snap.Fields[key] = f
			}
		}
	}
	for key, val := range obj {
		canon, ok := keepSet[key]
		if ok && canon != key {
			if _, exists := snap.Fields[canon]; !exists {
				if f, ok := toFloat(val); ok {
					snap.Fields[canon] = f
				}
			}
			continue
		}
		if ok {
			continue
		}
		if matchesAutoKeep(key) {
			if f, ok := toFloat(val); ok {
				snap.Fields[key] = f
			}
		}
	}

	if ts, ok := parseUpdateTime(obj["update_time"]); ok {
		snap.UpdateTime = ts
	} else if f, ok := snap.Num("update_time_VOLCOIN"); ok {
		snap.UpdateTime = util.NormalizeEpochMillis(int64(f))
	}

	DerivePercentSums(snap)
	return snap, nil
}

func matchesAutoKeep(key string) bool {
	for _, rx := range autoKeep {
		if rx.MatchString(key) {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = x
	case string:
		return util.ParseFloat(x)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseUpdateTime(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return util.NormalizeEpochMillis(i), i > 0
		}
		if f, err := x.Float64(); err == nil && f > 0 {
			return util.NormalizeEpochMillis(int64(f)), true
		}
	case float64:
		if x > 0 {
			return util.NormalizeEpochMillis(int64(x)), true
		}
	case string:
		if x == "" {
			return 0, false
		}
		t, ok := util.ParseTime(x)
		if !ok {
			return 0, false
		}
		return t.UnixMilli(), true
	}
	return 0, false
}

// PercentSum describes one derived percent_sum_VOL field.
type PercentSum struct {
	Key     string
	VolKeys []string
	AvgKeys []string
}

var percentSums = []PercentSum{
	{"percent_sum_VOL_minute1_buy", []string{"count_VOL_minute1_buy", "vol_buy_1MENIT", "vol_buy_1m"}, []string{"avg_VOLCOIN_buy_1MENIT"}},
	{"percent_sum_VOL_minute_5_buy", []string{"count_VOL_minute_5_buy", "vol_buy_5MENIT", "vol_buy_5m"}, []string{"avg_VOLCOIN_buy_5MENIT"}},
	{"percent_sum_VOL_minute_10_buy", []string{"count_VOL_minute_10_buy", "vol_buy_10MENIT", "vol_buy_10m"}, []string{"avg_VOLCOIN_buy_10MENIT"}},
	{"percent_sum_VOL_minute_15_buy", []string{"count_VOL_minute_15_buy", "vol_buy_15MENIT", "vol_buy_15m"}, []string{"avg_VOLCOIN_buy_15MENIT"}},
	{"percent_sum_VOL_minute_20_buy", []string{"count_VOL_minute_20_buy", "vol_buy_20MENIT", "vol_buy_20m"}, []string{"avg_VOLCOIN_buy_20MENIT"}},
	{"percent_sum_VOL_minute_30_buy", []string{"count_VOL_minute_30_buy", "vol_buy_30MENIT", "vol_buy_30m"}, []string{"avg_VOLCOIN_buy_30MENIT"}},
	{"percent_sum_VOL_minute_60_buy", []string{"count_VOL_minute_60_buy", "vol_buy_1JAM", "vol_buy_60MENIT"}, []string{"avg_VOLCOIN_buy_1JAM", "avg_VOLCOIN_buy_60MENIT"}},
	{"percent_sum_VOL_minute_120_buy", []string{"count_VOL_minute_120_buy", "vol_buy_2JAM", "vol_buy_120MENIT"}, []string{"avg_VOLCOIN_buy_2JAM", "avg_VOLCOIN_buy_120MENIT"}},
	{"percent_sum_VOL_overall_buy", []string{"count_VOL_minute_1440_buy", "vol_buy_24JAM", "vol_buy_24h"}, []string{"avg_VOLCOIN_buy_24JAM"}},
}

// PercentSums returns the derivation table.
func PercentSums() []PercentSum {
	return append([]PercentSum(nil), percentSums...)
}

// DerivePercentSums fills any percent_sum_VOL field the feed did not send:
// round(vol/avg*100) when an average exists, otherwise the rounded buy share.
func DerivePercentSums(s *models.Snapshot) {
	for _, ps := range percentSums {
		if _, ok := s.Num(ps.Key); ok {
			continue
		}
		buy, _ := Lookup(s, ps.VolKeys...)
		avg, _ := Lookup(s, ps.AvgKeys...)
		if avg > 0 {
			s.Fields[ps.Key] = math.Round(buy / avg * 100)
			continue
		}
		sellKeys := make([]string, 0, len(ps.VolKeys)+1)
		for _, k := range ps.VolKeys {
			sellKeys = append(sellKeys, strings.Replace(k, "buy", "sell", 1))
		}
		sellKeys = append(sellKeys, "count_VOL_minute_120_sell")
		sell, _ := Lookup(s, sellKeys...)
		pct := 0.0
		if total := buy + sell; total > 0 {
			pct = math.Round(buy / total * 100)
		}
		s.Fields[ps.Key] = pct
	}
}

// Describe is a short human label used in logs.
func Describe(s *models.Snapshot) string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%d fields)", s.Coin, len(s.Fields))
}
