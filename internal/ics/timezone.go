package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventripper/internal/model"
)

// maxTransitions bounds the observances written per zone.
const maxTransitions = 16

// addTimezones writes one VTIMEZONE per distinct named zone used by a
// DTSTART in events, in first-use order. Observances cover the year of the
// earliest start through the year after the latest one, so weekly rules
// starting late in the year still resolve.
func addTimezones(cal *ical.Calendar, events []model.Occurrence) {
	type span struct {
		loc      *time.Location
		from, to int
	}
	var order []string
	spans := make(map[string]*span)
	for _, o := range events {
		loc := o.Start.Location()
		if !zoned(loc) {
			continue
		}
		y := o.Start.Year()
		s, ok := spans[loc.String()]
		if !ok {
			spans[loc.String()] = &span{loc: loc, from: y, to: y}
			order = append(order, loc.String())
			continue
		}
		s.from = min(s.from, y)
		s.to = max(s.to, y)
	}
	for _, id := range order {
		s := spans[id]
		cal.AddVTimezone(newVTimezone(s.loc, s.from, s.to+1))
	}
}

// newVTimezone describes loc between January 1st of fromYear and the end of
// toYear using the zone's own transitions.
func newVTimezone(loc *time.Location, fromYear, toYear int) *ical.VTimezone {
	tz := ical.NewTimezone(loc.String())

	t := time.Date(fromYear, time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(toYear+1, time.January, 1, 0, 0, 0, 0, loc)

	// The first observance starts at the transition that opened the zone
	// period in effect on January 1st, when there is one.
	_, prev := t.Zone()
	if start, _ := t.ZoneBounds(); !start.IsZero() {
		_, prev = start.Add(-time.Second).Zone()
		addObservance(tz, start, prev)
	} else {
		addObservance(tz, t, prev)
	}

	for i := 0; i < maxTransitions; i++ {
		_, next := t.ZoneBounds()
		if next.IsZero() || !next.Before(end) {
			break
		}
		_, prev = t.Zone()
		t = next
		addObservance(tz, t, prev)
	}
	return tz
}

// addObservance appends a STANDARD or DAYLIGHT block for the zone in effect
// at t. DTSTART is the local wall time before the change, per RFC 5545.
func addObservance(tz *ical.VTimezone, t time.Time, fromOffset int) {
	name, offset := t.Zone()

	var comp *ical.ComponentBase
	if t.IsDST() {
		d := &ical.Daylight{}
		tz.Components = append(tz.Components, d)
		comp = &d.ComponentBase
	} else {
		comp = &tz.AddStandard().ComponentBase
	}

	local := t.UTC().Add(time.Duration(fromOffset) * time.Second)
	comp.SetProperty(ical.ComponentPropertyDtStart, local.Format("20060102T150405"))
	comp.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), formatOffset(fromOffset))
	comp.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), formatOffset(offset))
	if name != "" {
		comp.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
	}
}

// formatOffset renders a UTC offset in seconds as ±HHMM, or ±HHMMSS when
// the offset has a seconds part.
func formatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	h, m, s := secs/3600, secs/60%60, secs%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}

// zoned reports whether times in loc are written with a TZID.
func zoned(loc *time.Location) bool {
	return loc != time.UTC && loc.String() != "UTC" && loc != time.Local
}
