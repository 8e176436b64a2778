package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// dateLayouts are tried in order. Day-first layouts come before any
// month-first reading because statements in the supported locales are
// day-first.
var dateLayouts = []string{
	"2006-1-2",
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
	"2.1.06",
	"2/1/06",
	"2006/1/2",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var errEmptyDate = errors.New("empty date")

// ParseDate parses a calendar date and anchors it to UTC midnight.
// Timestamps keep the calendar day of their own offset.
func ParseDate(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return midnightUTC(val), nil
	case string:
		return parseDateString(val)
	case nil:
		return time.Time{}, errEmptyDate
	default:
		return parseDateString(fmt.Sprint(val))
	}
}

func parseDateString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyDate
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnightUTC(t), nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date format %q", raw)
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
