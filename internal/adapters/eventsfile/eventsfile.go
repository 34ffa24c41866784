// Package eventsfile is a custom adapter reading hand-maintained one-off
// events from a YAML file kept in the source's directory.
package eventsfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"eventripper/internal/adapter"
	"eventripper/internal/model"
	"eventripper/internal/window"
)

const Name = "eventsfile"

// DefaultFile is read from the source directory unless the source's first
// calendar sets config "file".
const DefaultFile = "events.yaml"

const startLayout = "2006-01-02 15:04"

// Entry is one event in the file.
type Entry struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Start       string   `yaml:"start"`
	Duration    string   `yaml:"duration"`
	Location    string   `yaml:"location"`
	URL         string   `yaml:"url"`
	Description string   `yaml:"description"`
	Image       string   `yaml:"image"`
	RRule       string   `yaml:"rrule"`
	Calendars   []string `yaml:"calendars"`
}

type Adapter struct {
	deps adapter.Deps
}

func New(deps adapter.Deps) (adapter.Adapter, error) {
	return &Adapter{deps: deps}, nil
}

// Rip emits every entry that has not ended before today. Entries naming
// calendars go only to those; the rest go to every calendar.
func (a *Adapter) Rip(_ context.Context, src *model.SourceConfig, seen *adapter.Seen) ([]model.Calendar, error) {
	if seen == nil {
		seen = adapter.NewSeen()
	}
	name := DefaultFile
	if len(src.Calendars) > 0 {
		name = src.Calendars[0].StringOr("file", DefaultFile)
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(src.Dir, name)
	}
	entries, err := Load(path)
	if err != nil {
		return nil, err
	}

	now := a.deps.Clock()
	today := window.DayOf(now)
	captured := now

	out := make([]model.Calendar, 0, len(src.Calendars))
	for i := range src.Calendars {
		cal := &src.Calendars[i]
		loc, err := cal.Location()
		if err != nil {
			return nil, &model.ConfigError{Source: src.Name, Calendar: cal.Name, Reason: err.Error()}
		}
		ids := seen.Scope(cal.Name)
		cutoff := today.In(loc)

		var events []model.Event
		for n, e := range entries {
			if !e.targets(cal.Name) {
				continue
			}
			ev := e.event(loc, captured)
			if ev.Kind == model.KindParseError {
				ev.ParseError.Context = fmt.Sprintf("%s entry %d", filepath.Base(path), n+1)
				events = append(events, ev)
				continue
			}
			if ev.Occurrence.RRule == "" && ev.Occurrence.End().Before(cutoff) {
				continue
			}
			if !ids.Add(ev.Occurrence.ID) {
				continue
			}
			events = append(events, ev)
		}
		out = append(out, adapter.Assemble(src, cal, events))
	}
	return out, nil
}

// Load reads and decodes an events file.
func Load(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.FileParseError{Path: path, Err: err}
	}
	var entries []Entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, &model.FileParseError{Path: path, Err: err}
	}
	return entries, nil
}

func (e Entry) targets(calendar string) bool {
	if len(e.Calendars) == 0 {
		return true
	}
	for _, c := range e.Calendars {
		if c == calendar {
			return true
		}
	}
	return false
}

func (e Entry) event(loc *time.Location, captured time.Time) model.Event {
	if e.ID == "" || e.Title == "" {
		return model.NewParseError("entry needs id and title", "")
	}
	start, err := time.ParseInLocation(startLayout, e.Start, loc)
	if err != nil {
		return model.NewParseError(fmt.Sprintf("start %q is not %q", e.Start, startLayout), "")
	}
	duration := time.Hour
	if e.Duration != "" {
		d, err := time.ParseDuration(e.Duration)
		if err != nil || d < 0 {
			return model.NewParseError("invalid duration "+e.Duration, "")
		}
		duration = d
	}
	return model.NewOccurrence(model.Occurrence{
		ID:          e.ID,
		CapturedAt:  captured,
		Start:       start,
		Duration:    duration,
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		URL:         e.URL,
		Image:       e.Image,
		RRule:       e.RRule,
	})
}
