package util

import (
	"strconv"
	"time"
)

// ParseEpochMs tries RFC3339, unix seconds, and unix milliseconds. Returns
// (ms, true) if any worked.
func ParseEpochMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false
	}
	// Heuristic: values this large are already milliseconds.
	if ts > 1_000_000_000_000 {
		return ts, true
	}
	return ts * 1000, true
}

// AlignMs truncates an epoch-ms timestamp down to an interval boundary.
func AlignMs(ts, intervalMs int64) int64 {
	if intervalMs <= 0 {
		return ts
	}
	return ts - ts%intervalMs
}
