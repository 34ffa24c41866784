package model

import (
	"fmt"
	"time"
)

// EventKind discriminates the two Event variants.
type EventKind int

const (
	KindOccurrence EventKind = iota + 1
	KindParseError
)

func (k EventKind) String() string {
	switch k {
	case KindOccurrence:
		return "occurrence"
	case KindParseError:
		return "parse_error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the value adapters emit: exactly one of Occurrence or ParseError
// is set, selected by Kind. Build it with NewOccurrence or NewParseError.
type Event struct {
	Kind       EventKind
	Occurrence *Occurrence
	ParseError *ParseError
}

// Occurrence represents a single concrete dated event derived from a source.
type Occurrence struct {
	// ID is stable within its source and becomes the ICS UID.
	ID string

	// CapturedAt is when the adapter observed this event.
	CapturedAt time.Time

	// Start carries the event's own timezone.
	Start    time.Time
	Duration time.Duration

	Summary     string
	Description string
	Location    string
	URL         string
	Image       string

	// RRule is a recurrence rule without the "RRULE:" prefix.
	RRule string

	// SourceCalendar is set only when the event is merged from several calendars.
	SourceCalendar string
}

// End returns Start plus Duration.
func (o Occurrence) End() time.Time {
	return o.Start.Add(o.Duration)
}

// ParseError is a recoverable per-record problem reported inline with valid
// occurrences.
type ParseError struct {
	Reason string
	// Context is the offending identifier, raw fragment or filename.
	Context string
}

func (p ParseError) String() string {
	if p.Context == "" {
		return p.Reason
	}
	return p.Reason + ": " + p.Context
}

func NewOccurrence(o Occurrence) Event {
	return Event{Kind: KindOccurrence, Occurrence: &o}
}

func NewParseError(reason, context string) Event {
	return Event{Kind: KindParseError, ParseError: &ParseError{Reason: reason, Context: context}}
}

// Partition splits events into occurrences and parse errors, preserving order.
func Partition(events []Event) ([]Occurrence, []ParseError) {
	occs := make([]Occurrence, 0, len(events))
	errs := make([]ParseError, 0)
	for _, ev := range events {
		switch ev.Kind {
		case KindOccurrence:
			occs = append(occs, *ev.Occurrence)
		case KindParseError:
			errs = append(errs, *ev.ParseError)
		default:
			panic(fmt.Sprintf("model: unhandled event kind %v", ev.Kind))
		}
	}
	return occs, errs
}
