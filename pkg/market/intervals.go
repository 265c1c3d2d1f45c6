package market

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnsupportedInterval = errors.New("unsupported interval")

// AllIntervals are the intervals every symbol is synced for, shortest first.
var AllIntervals = []string{"1m", "15m", "30m", "1h", "4h", "1d", "3d"}

// PatternTimeframes are the intervals the open-price pattern is evaluated on.
var PatternTimeframes = []string{"15m", "30m", "1h", "4h", "1d", "3d"}

var intervalMinutes = map[string]int{
	"1m":  1,
	"3m":  3,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"2h":  120,
	"4h":  240,
	"6h":  360,
	"8h":  480,
	"12h": 720,
	"1d":  1440,
	"3d":  4320,
	"1w":  10080,
	"1M":  43200,
}

// maxInitialDays caps how far back a first sync reaches per interval.
var maxInitialDays = map[string]int{
	"1m":  1,
	"15m": 7,
	"30m": 15,
	"1h":  30,
	"4h":  60,
	"1d":  90,
	"3d":  90,
}

// Retention is how many days of candles are kept per interval.
var Retention = map[string]int{
	"1m":  1,
	"15m": 30,
	"30m": 30,
	"1h":  30,
	"4h":  90,
	"1d":  90,
	"3d":  90,
}

// IntervalMinutes returns the length of interval in minutes.
func IntervalMinutes(interval string) (int, error) {
	m, ok := intervalMinutes[interval]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedInterval, interval)
	}
	return m, nil
}

func IntervalDuration(interval string) (time.Duration, error) {
	m, err := IntervalMinutes(interval)
	if err != nil {
		return 0, err
	}
	return time.Duration(m) * time.Minute, nil
}

// InitialDays clamps the requested backfill depth to the interval's cap.
func InitialDays(interval string, requested int) int {
	days := requested
	if limit, ok := maxInitialDays[interval]; ok && (days <= 0 || days > limit) {
		days = limit
	}
	if days <= 0 {
		days = 1
	}
	return days
}
