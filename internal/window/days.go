// Package window computes the calendar days a windowed source is queried for
// and expands date placeholders in source URLs.
package window

import (
	"time"

	"eventripper/internal/model"
)

// Day is a civil date with no time-of-day or zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the civil date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// In returns midnight of the day in loc.
func (d Day) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the day n calendar days later.
func (d Day) AddDays(n int) Day {
	return DayOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Day) Before(o Day) bool {
	return d.In(time.UTC).Before(o.In(time.UTC))
}

// Format formats the day with a Go reference layout.
func (d Day) Format(layout string) string {
	return d.In(time.UTC).Format(layout)
}

func (d Day) String() string {
	return d.Format("2006-01-02")
}

// Days returns every calendar day in [today, today+lookahead), where today is
// the date of now in now's location. A zero lookahead means one day.
func Days(now time.Time, lookahead model.Period) []Day {
	if lookahead.IsZero() {
		lookahead = model.Period{Days: 1}
	}
	start := DayOf(now)
	end := DayOf(lookahead.AddTo(start.In(time.UTC)))

	days := make([]Day, 0, 8)
	for d := start; d.Before(end); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
