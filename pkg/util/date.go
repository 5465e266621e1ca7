package util

import (
	"strconv"
	"time"
)

// epochMillisCutoff separates second-resolution epochs from millisecond ones.
// Anything below it is treated as seconds.
const epochMillisCutoff = 1e12

// NormalizeEpochMillis converts a feed timestamp to epoch milliseconds.
func NormalizeEpochMillis(ts int64) int64 {
	if ts <= 0 {
		return 0
	}
	if ts < epochMillisCutoff {
		return ts * 1000
	}
	return ts
}

// FromEpoch returns the instant for a seconds-or-millis epoch value.
func FromEpoch(ts int64) time.Time {
	return time.UnixMilli(NormalizeEpochMillis(ts)).UTC()
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds or millis. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return FromEpoch(ts), true
	}
	return time.Time{}, false
}
