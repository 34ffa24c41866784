package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventripper/internal/model"
)

// ProductID is the PRODID of every document this package writes.
const ProductID = "-//eventripper//eventripper calendar//EN"

// SourceProperty marks a VEVENT that already carries provenance.
const SourceProperty = "X-RIPPER-SOURCE"

// newCalendar returns an empty VCALENDAR with the standard header.
func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	if name != "" {
		cal.SetXWRCalName(name)
	}
	return cal
}

func serialize(cal *ical.Calendar) string {
	return cal.Serialize(ical.WithNewLineWindows)
}

// Render converts one calendar into an ICS document. Occurrences sharing an
// ID keep the first. stamp is used as DTSTAMP for occurrences without a
// capture time. A calendar without events still renders a valid document.
func Render(c model.Calendar, stamp time.Time) string {
	return RenderEvents(c.DisplayName(), c.Events, stamp)
}

// RenderEvents renders occurrences under the given calendar name.
func RenderEvents(name string, events []model.Occurrence, stamp time.Time) string {
	cal := newCalendar(name)
	seen := make(map[string]struct{}, len(events))
	kept := make([]model.Occurrence, 0, len(events))
	for _, o := range events {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		kept = append(kept, o)
	}
	addTimezones(cal, kept)
	for _, o := range kept {
		addOccurrence(cal, o, stamp)
	}
	return serialize(cal)
}

func addOccurrence(cal *ical.Calendar, o model.Occurrence, stamp time.Time) {
	ev := cal.AddEvent(o.ID)

	captured := o.CapturedAt
	if captured.IsZero() {
		captured = stamp
	}
	ev.SetDtStampTime(captured)
	setStart(ev, o.Start)
	if o.Duration > 0 {
		ev.SetProperty(ical.ComponentPropertyDuration, FormatDuration(o.Duration))
	}

	ev.SetSummary(o.Summary)
	if o.Location != "" {
		ev.SetLocation(o.Location)
	}
	if o.URL != "" {
		ev.SetURL(o.URL)
	}
	if o.Image != "" {
		ev.SetProperty(ical.ComponentProperty("IMAGE"), o.Image,
			ical.WithValue(string(ical.ValueDataTypeUri)), &ical.KeyValues{Key: "DISPLAY", Value: []string{"BADGE"}})
	}
	if o.RRule != "" {
		ev.AddRrule(strings.TrimPrefix(o.RRule, "RRULE:"))
	}

	desc := o.Description
	if o.SourceCalendar != "" {
		desc = ProvenanceDescription(o.Description, o.URL, o.SourceCalendar)
		ev.SetProperty(ical.ComponentProperty(SourceProperty), o.SourceCalendar)
		ev.AddCategory(o.SourceCalendar)
	}
	if desc != "" {
		ev.SetDescription(desc)
	}
}

// setStart writes DTSTART in UTC for UTC times and as local time with a
// TZID parameter otherwise. The matching VTIMEZONE comes from addTimezones.
func setStart(ev *ical.VEvent, t time.Time) {
	loc := t.Location()
	if !zoned(loc) {
		ev.SetStartAt(t)
		return
	}
	ev.SetProperty(ical.ComponentPropertyDtStart, t.Format("20060102T150405"), ical.WithTZID(loc.String()))
}

// ProvenanceDescription appends the event URL and a "From <source>" line to
// an existing description, in that order, separated by blank lines.
func ProvenanceDescription(desc, url, source string) string {
	parts := make([]string, 0, 3)
	if d := strings.TrimSpace(desc); d != "" {
		parts = append(parts, d)
	}
	if url != "" && !strings.Contains(desc, url) {
		parts = append(parts, url)
	}
	parts = append(parts, "From "+source)
	return strings.Join(parts, "\n\n")
}
