package models

import (
	"encoding/json"
	"sort"
)

// Snapshot is one asset's latest feed payload after sanitising.
// Fields holds every numeric value the feed supplied, keyed by the feed's own name.
type Snapshot struct {
	Coin       string
	Fields     map[string]float64
	UpdateTime int64 // epoch millis, 0 when the feed sent none
}

// Num returns the named field and whether it was present.
func (s *Snapshot) Num(key string) (float64, bool) {
	if s == nil || s.Fields == nil {
		return 0, false
	}
	v, ok := s.Fields[key]
	return v, ok
}

// Value returns the named field or 0.
func (s *Snapshot) Value(key string) float64 {
	v, _ := s.Num(key)
	return v
}

// Clone returns a deep copy so callers can derive fields without touching the original.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Coin: s.Coin, UpdateTime: s.UpdateTime, Fields: make(map[string]float64, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	return out
}

// Keys returns field names in sorted order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(s.Fields)+2)
	for k, v := range s.Fields {
		m[k] = v
	}
	m["coin"] = s.Coin
	if s.UpdateTime > 0 {
		m["update_time"] = s.UpdateTime
	}
	return json.Marshal(m)
}

// HistoryPoint is one retained observation for an asset.
type HistoryPoint struct {
	TS         int64   `json:"ts"`
	Price      float64 `json:"price"`
	VolBuy2h   float64 `json:"volBuy2h"`
	VolSell2h  float64 `json:"volSell2h"`
	FreqBuy2h  float64 `json:"freqBuy2h"`
	FreqSell2h float64 `json:"freqSell2h"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Liquidity  float64 `json:"liquidity"`
}
