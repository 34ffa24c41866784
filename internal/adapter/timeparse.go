package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLocalTime parses raw with layout in day's location. Layouts without
// a date part (e.g. "3:04 PM") take their date from day. An empty layout
// means RFC 3339. Purely numeric input is read as Unix seconds.
func ParseLocalTime(raw, layout string, day time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	loc := day.Location()
	if layout == "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(secs, 0).In(loc), nil
		}
		layout = time.RFC3339
	}

	t, err := time.ParseInLocation(layout, raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if t.Year() == 0 {
		// Time-only layouts parse as January 1st of year 0.
		y, m, d := day.Year(), day.Month(), day.Day()
		if t.Month() != time.January || t.Day() != 1 {
			m, d = t.Month(), t.Day()
		}
		t = time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	return t.In(loc), nil
}

// SameDay reports whether t falls on day's calendar date in day's location.
func SameDay(t, day time.Time) bool {
	t = t.In(day.Location())
	return t.Year() == day.Year() && t.YearDay() == day.YearDay()
}
