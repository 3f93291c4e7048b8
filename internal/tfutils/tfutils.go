package tfutils

import (
	"errors"
	"time"
)

// ParseTimeframe parses timeframe string (e.g., "1s", "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, errors.New("unsupported timeframe")
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1s":
		return time.Second
	case "5s":
		return 5 * time.Second
	case "15s":
		return 15 * time.Second
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// GetSupportedTimeframes returns all supported timeframes, finest first
func GetSupportedTimeframes() []string {
	return []string{"1s", "5s", "15s", "1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// AlignToTimeframe floors t to the start of the window containing it.
// Alignment is wall-clock based, not session-relative.
func AlignToTimeframe(t time.Time, timeframe string) time.Time {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return t
	}
	return t.UTC().Truncate(d)
}
