// Package recurring turns declaratively scheduled events ("2nd Thursday",
// "every Sunday") into a first concrete occurrence plus an RRULE.
package recurring

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed schedule expression. Ordinal 0 means weekly,
// -1 the last weekday of the month, 1..5 the Nth weekday of the month.
type Schedule struct {
	Ordinal int
	Weekday time.Weekday
}

var (
	everyRe = regexp.MustCompile(`^every\s+([a-z]+)$`)
	lastRe  = regexp.MustCompile(`^last\s+([a-z]+)$`)
	nthRe   = regexp.MustCompile(`^([1-5])(st|nd|rd|th)\s+([a-z]+)$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var byDay = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// ParseSchedule recognizes, in order, "every <weekday>", "last <weekday>"
// and "<N>(st|nd|rd|th) <weekday>". ok is false for any other shape.
func ParseSchedule(s string) (Schedule, bool) {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")

	if m := everyRe.FindStringSubmatch(s); m != nil {
		wd, ok := weekdays[m[1]]
		return Schedule{Ordinal: 0, Weekday: wd}, ok
	}
	if m := lastRe.FindStringSubmatch(s); m != nil {
		wd, ok := weekdays[m[1]]
		return Schedule{Ordinal: -1, Weekday: wd}, ok
	}
	if m := nthRe.FindStringSubmatch(s); m != nil {
		if !ordinalSuffixOK(m[1], m[2]) {
			return Schedule{}, false
		}
		n, _ := strconv.Atoi(m[1])
		wd, ok := weekdays[m[3]]
		return Schedule{Ordinal: n, Weekday: wd}, ok
	}
	return Schedule{}, false
}

func ordinalSuffixOK(n, suffix string) bool {
	switch n {
	case "1":
		return suffix == "st"
	case "2":
		return suffix == "nd"
	case "3":
		return suffix == "rd"
	default:
		return suffix == "th"
	}
}

func (s Schedule) Weekly() bool {
	return s.Ordinal == 0
}

// RRule renders the schedule as an RRULE value, restricted to months when
// any are given.
func (s Schedule) RRule(months []time.Month) string {
	var b strings.Builder
	if s.Weekly() {
		b.WriteString("FREQ=WEEKLY;BYDAY=")
	} else {
		fmt.Fprintf(&b, "FREQ=MONTHLY;BYDAY=%d", s.Ordinal)
	}
	b.WriteString(byDay[s.Weekday])
	if len(months) > 0 {
		b.WriteString(";BYMONTH=")
		for i, m := range months {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(int(m)))
		}
	}
	return b.String()
}

func (s Schedule) String() string {
	day := s.Weekday.String()
	switch {
	case s.Weekly():
		return "every " + day
	case s.Ordinal < 0:
		return "last " + day
	default:
		return ordinal(s.Ordinal) + " " + day
	}
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return strconv.Itoa(n) + "th"
	}
}

var seasons = map[string][]time.Month{
	"summer": {time.June, time.July, time.August, time.September},
	"winter": {time.December, time.January, time.February},
	"spring": {time.March, time.April, time.May},
	"fall":   {time.September, time.October, time.November},
	"autumn": {time.September, time.October, time.November},
}

// SeasonMonths returns the months of a named season.
func SeasonMonths(name string) ([]time.Month, bool) {
	m, ok := seasons[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// AllowedMonths resolves the month restriction: explicit months win over a
// season. The result is sorted and deduplicated; nil means unrestricted.
func AllowedMonths(explicit []int, season string) []time.Month {
	var months []time.Month
	if len(explicit) > 0 {
		for _, m := range explicit {
			months = append(months, time.Month(m))
		}
	} else if season != "" {
		months, _ = SeasonMonths(season)
	}
	if len(months) == 0 {
		return nil
	}
	out := append([]time.Month(nil), months...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	uniq := out[:1]
	for _, m := range out[1:] {
		if m != uniq[len(uniq)-1] {
			uniq = append(uniq, m)
		}
	}
	return uniq
}
