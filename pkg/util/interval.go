package util

import (
	"fmt"
	"strconv"
)

// IntervalMs converts a candle interval string ("1m", "15m", "4h", "1d",
// "1w") to its duration in milliseconds.
func IntervalMs(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	var unit int64
	switch interval[len(interval)-1] {
	case 'm':
		unit = 60_000
	case 'h':
		unit = 3_600_000
	case 'd':
		unit = 86_400_000
	case 'w':
		unit = 7 * 86_400_000
	default:
		return 0, fmt.Errorf("invalid interval unit %q", interval)
	}
	return n * unit, nil
}

// IsValidInterval reports whether interval parses as a supported candle
// interval.
func IsValidInterval(interval string) bool {
	_, err := IntervalMs(interval)
	return err == nil
}
