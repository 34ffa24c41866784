// Package adapter defines the source adapter contract, the registry that
// resolves a source's declared type to an adapter, and the generic scrape
// strategies concrete adapters build on.
package adapter

import (
	"context"
	"time"

	"eventripper/internal/fetch"
	"eventripper/internal/model"
)

// Adapter produces calendars for one source.
type Adapter interface {
	// Rip runs the adapter once. seen is the dedup context for this run;
	// a nil seen gets a fresh one.
	Rip(ctx context.Context, src *model.SourceConfig, seen *Seen) ([]model.Calendar, error)
}

// Constructor builds a fresh adapter instance.
type Constructor func(deps Deps) (Adapter, error)

// Deps is everything an adapter may depend on, resolved once per run.
type Deps struct {
	Fetcher fetch.Fetcher
	// Now defaults to time.Now.
	Now func() time.Time
	// Keys holds API keys by adapter name.
	Keys map[string]string
}

// Clock returns the current time per Deps.Now.
func (d Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Key returns the API key registered under name.
func (d Deps) Key(name string) string {
	return d.Keys[name]
}

// IDSet is a set of upstream identifiers.
type IDSet struct {
	ids map[string]struct{}
}

// Add records id and reports whether it was new.
func (s *IDSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *IDSet) Len() int {
	return len(s.ids)
}

// Seen is the caller-owned dedup context for one source run. It keeps one
// IDSet per calendar so an event may appear in several calendars of the same
// source but only once within each. It is not safe for concurrent use; do not
// share one Seen between parallel runs.
type Seen struct {
	scopes map[string]*IDSet
}

func NewSeen() *Seen {
	return &Seen{scopes: make(map[string]*IDSet)}
}

// Scope returns the IDSet for a calendar, creating it on first use.
func (s *Seen) Scope(calendar string) *IDSet {
	set, ok := s.scopes[calendar]
	if !ok {
		set = &IDSet{ids: make(map[string]struct{})}
		s.scopes[calendar] = set
	}
	return set
}

func ensureSeen(seen *Seen) *Seen {
	if seen == nil {
		return NewSeen()
	}
	return seen
}

// MissingConfig is the single ParseError a calendar yields when a required
// adapter config field is absent.
func MissingConfig(cal *model.CalendarSpec, key string) model.Event {
	return model.NewParseError("missing required config "+key, "calendar "+cal.Name)
}
