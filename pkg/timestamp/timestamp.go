// Package timestamp provides Unix timestamp helpers.
//
// Message metadata carries int64 milliseconds since the Unix epoch (UTC);
// the liveness roster carries float Unix seconds. A value of 0 means "not set".
package timestamp

import (
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Seconds converts t to fractional Unix seconds. Zero time maps to 0.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// Format renders ms as RFC3339 with millisecond precision, or "" when unset.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).Format("2006-01-02T15:04:05.000Z07:00")
}

// Since returns the duration elapsed since ms. Unset timestamps yield 0.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(FromUnixMs(ms))
}
