package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"market-data-automation/internal/quote"
)

var errEmptyTimestamp = errors.New("empty timestamp")

// layouts without an explicit zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp normalises an ISO-8601 style value to UTC with microsecond
// precision. time.Time values are accepted as-is.
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, errEmptyTimestamp
		}
		return quote.NormalizeTimestamp(val), nil
	case *time.Time:
		if val == nil || val.IsZero() {
			return time.Time{}, errEmptyTimestamp
		}
		return quote.NormalizeTimestamp(*val), nil
	case string:
		return parseTimestampString(val)
	case []byte:
		return parseTimestampString(string(val))
	case nil:
		return time.Time{}, errEmptyTimestamp
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyTimestamp
	}
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return quote.NormalizeTimestamp(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
