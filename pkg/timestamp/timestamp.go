// Package timestamp formats and parses the timestamps carried in device
// records.
//
// Devices write UTC with second resolution ("2006-01-02T15:04:05Z"). Readers
// are lenient: they also accept full RFC3339 with fractions or offsets and
// bare Unix seconds or milliseconds, since devices without a synced clock
// sometimes report epoch counters instead.
//
// Zero Value Semantics:
//   - A zero time.Time formats as ""
//   - An empty string parses to the zero time without error
//
// Usage Examples:
//
//	rec.TS = timestamp.Format(now)
//
//	reported, err := timestamp.Parse(rec.TS)
package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
)

// Layout is the wire format written by devices.
const Layout = "2006-01-02T15:04:05Z"

// Format renders t in the wire layout. Returns "" for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(Layout)
}

// Parse reads a wire timestamp. Numeric input above 1e12 is taken as Unix
// milliseconds, otherwise as Unix seconds.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromNumber(n), nil
	}

	return time.Time{}, fmt.Errorf("%w: timestamp %q", errors.ErrInvalidData, s)
}

// FromNumber converts an epoch counter to a time. Values above 1e12 are
// milliseconds, smaller ones seconds. Zero yields the zero time.
func FromNumber(n int64) time.Time {
	switch {
	case n == 0:
		return time.Time{}
	case n > 1e12:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

// Skew returns how far reported lags behind observed. It is zero when either
// side is unknown.
func Skew(reported, observed time.Time) time.Duration {
	if reported.IsZero() || observed.IsZero() {
		return 0
	}
	return observed.Sub(reported)
}
