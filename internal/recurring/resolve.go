package recurring

import (
	"time"
)

const (
	// candidateMonths is how many allowed months an ordinal schedule scans.
	candidateMonths = 3
	// maxMonthScan bounds the walk past disallowed months.
	maxMonthScan = 12
)

// NextDate returns the first date on or after from's calendar date, in
// from's location, that satisfies the schedule and the month restriction.
// Weekly schedules take the soonest matching weekday. Ordinal schedules
// scan up to three allowed months and take the first whose matching day is
// not before from.
func (s Schedule) NextDate(from time.Time, months []time.Month) (time.Time, bool) {
	loc := from.Location()
	today := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	allowed := func(m time.Month) bool {
		if len(months) == 0 {
			return true
		}
		for _, a := range months {
			if a == m {
				return true
			}
		}
		return false
	}

	if s.Weekly() {
		cur := today
		for i := 0; i <= maxMonthScan; i++ {
			if allowed(cur.Month()) {
				diff := (int(s.Weekday) - int(cur.Weekday()) + 7) % 7
				date := cur.AddDate(0, 0, diff)
				if allowed(date.Month()) {
					return date, true
				}
			}
			cur = time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, loc)
		}
		return time.Time{}, false
	}

	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
	scanned := 0
	for i := 0; i <= maxMonthScan && scanned < candidateMonths; i++ {
		month := first.AddDate(0, i, 0)
		if !allowed(month.Month()) {
			continue
		}
		scanned++
		date, ok := s.inMonth(month)
		if ok && !date.Before(today) {
			return date, true
		}
	}
	return time.Time{}, false
}

// inMonth returns the schedule's day within the month starting at first.
// A fifth weekday that does not exist yields false.
func (s Schedule) inMonth(first time.Time) (time.Time, bool) {
	if s.Ordinal < 0 {
		last := first.AddDate(0, 1, -1)
		back := (int(last.Weekday()) - int(s.Weekday) + 7) % 7
		return last.AddDate(0, 0, -back), true
	}
	diff := (int(s.Weekday) - int(first.Weekday()) + 7) % 7
	date := first.AddDate(0, 0, diff+7*(s.Ordinal-1))
	if date.Month() != first.Month() {
		return time.Time{}, false
	}
	return date, true
}
