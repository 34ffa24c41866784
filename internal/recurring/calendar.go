package recurring

import (
	"sort"
	"time"

	appLog "eventripper/internal/log"
	"eventripper/internal/model"
)

// CalendarName is the key of the calendar built from the recurring file.
const CalendarName = "recurring"

// Resolve computes the first occurrence of d on or after from, carrying an
// RRULE for the rest of the series. Definitions with an unrecognized
// schedule, or with no qualifying date in range, resolve to nothing.
func Resolve(d Def, from time.Time) (model.Occurrence, bool) {
	sched, ok := ParseSchedule(d.Schedule)
	if !ok {
		appLog.Debug("recurring schedule not recognized; skipping", "name", d.Name, "schedule", d.Schedule)
		return model.Occurrence{}, false
	}
	loc, err := d.location()
	if err != nil {
		return model.Occurrence{}, false
	}
	hour, minute, err := d.clock()
	if err != nil {
		return model.Occurrence{}, false
	}
	dur, err := d.duration()
	if err != nil {
		return model.Occurrence{}, false
	}

	months := AllowedMonths(d.Months, d.Season)
	date, ok := sched.NextDate(from.In(loc), months)
	if !ok {
		return model.Occurrence{}, false
	}

	return model.Occurrence{
		ID:          d.UID(),
		CapturedAt:  from,
		Start:       time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc),
		Duration:    dur,
		Summary:     d.Name,
		Description: d.Description,
		Location:    d.Location,
		URL:         d.URL,
		RRule:       sched.RRule(months),
	}, true
}

// Calendar resolves every definition into one calendar. Its tags are the
// union of the definitions' tags.
func Calendar(defs []Def, from time.Time) model.Calendar {
	cal := model.Calendar{Name: CalendarName, FriendlyName: "Recurring events"}
	tags := make(map[string]struct{})
	seen := make(map[string]struct{})

	for _, d := range defs {
		for _, t := range d.Tags {
			tags[t] = struct{}{}
		}
		o, ok := Resolve(d, from)
		if !ok {
			continue
		}
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		cal.Events = append(cal.Events, o)
	}

	for t := range tags {
		cal.Tags = append(cal.Tags, t)
	}
	sort.Strings(cal.Tags)
	return cal
}
