package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05 -0700",
	time.RubyDate, // Twitter API: Mon Jan 02 15:04:05 -0700 2006
}

// Sort keys are unix nanoseconds, so parsed times must fit an int64 of them
var (
	minTimestamp = time.Unix(0, math.MinInt64).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// ParseTimestamp parses a created_at cell. Numeric values are epoch seconds,
// or epoch milliseconds when they are too large to be seconds. Zone-less
// text is read as UTC and ambiguous slash dates as mm/dd.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := parseTimestamp(raw)
	if err != nil {
		return time.Time{}, err
	}
	if t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, fmt.Errorf("%w: %q is outside %d-%d", ErrInvalidTimestamp, raw, minTimestamp.Year(), maxTimestamp.Year())
	}
	return t, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if IsNull(s) {
		return time.Time{}, ErrInvalidTimestamp
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		if f >= 1e11 {
			if f > math.MaxInt64/1e6 {
				return time.Time{}, fmt.Errorf("%w: %q is out of range", ErrInvalidTimestamp, raw)
			}
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, raw, err)
	}
	return t.UTC(), nil
}
