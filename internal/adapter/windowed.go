package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"eventripper/internal/fetch"
	appLog "eventripper/internal/log"
	"eventripper/internal/model"
	"eventripper/internal/window"
)

// ParseFunc turns one day's decoded payload into events for one calendar.
// day is midnight of the queried day in the calendar's timezone. ids is the
// calendar's dedup set for this run.
type ParseFunc[P any] func(payload P, day time.Time, cal *model.CalendarSpec, ids *IDSet) []model.Event

// DecodeFunc decodes a fetched body into the payload type. pageURL is the
// URL the body was fetched from.
type DecodeFunc[P any] func(body []byte, pageURL string) (P, error)

// Windowed is the day-windowed scrape strategy: for every day in the
// source's lookahead it fetches one payload, then parses it once per
// calendar. N calendars never cause N fetches per day.
//
// Transport and HTTP errors are fatal to the source run and returned as-is;
// payloads that fail to decode become one ParseError per calendar.
type Windowed[P any] struct {
	deps   Deps
	decode DecodeFunc[P]
	parse  ParseFunc[P]
}

func NewWindowed[P any](deps Deps, decode DecodeFunc[P], parse ParseFunc[P]) *Windowed[P] {
	return &Windowed[P]{deps: deps, decode: decode, parse: parse}
}

// NewHTMLWindowed decodes each day's payload as an HTML document.
func NewHTMLWindowed(deps Deps, parse ParseFunc[*goquery.Document]) *Windowed[*goquery.Document] {
	return NewWindowed[*goquery.Document](deps, DecodeHTML, parse)
}

// NewJSONWindowed decodes each day's payload into a generic JSON value.
func NewJSONWindowed(deps Deps, parse ParseFunc[any]) *Windowed[any] {
	return NewWindowed[any](deps, DecodeJSON, parse)
}

// DecodeHTML parses body and records pageURL as the document URL so
// relative links can be resolved.
func DecodeHTML(body []byte, pageURL string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if u, err := neturl.Parse(pageURL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

func DecodeJSON(body []byte, _ string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (w *Windowed[P]) Rip(ctx context.Context, src *model.SourceConfig, seen *Seen) ([]model.Calendar, error) {
	if w.deps.Fetcher == nil {
		return nil, fmt.Errorf("adapter: source %s has no fetcher", src.Name)
	}
	seen = ensureSeen(seen)

	tmpl, err := window.Compile(src.URL)
	if err != nil {
		return nil, &model.ConfigError{Source: src.Name, Reason: err.Error()}
	}

	locs := make([]*time.Location, len(src.Calendars))
	for i := range src.Calendars {
		loc, err := src.Calendars[i].Location()
		if err != nil {
			return nil, &model.ConfigError{Source: src.Name, Calendar: src.Calendars[i].Name, Reason: err.Error()}
		}
		locs[i] = loc
	}

	captured := w.deps.Clock()
	days := window.Days(captured, src.LookaheadOrDefault())
	acc := make([][]model.Event, len(src.Calendars))

	for _, day := range days {
		url := tmpl.URL(day)
		resp, err := fetch.Get(ctx, w.deps.Fetcher, url)
		if err != nil {
			return nil, fmt.Errorf("adapter: fetch %s for %s: %w", fetch.RedactURL(url), day, err)
		}
		if err := fetch.CheckStatus(resp); err != nil {
			return nil, err
		}

		payload, err := w.decode(resp.Body, url)
		if err != nil {
			appLog.Warn("payload decode failed", "source", src.Name, "day", day.String(), "err", err)
			for i := range src.Calendars {
				acc[i] = append(acc[i], model.NewParseError("decode payload: "+err.Error(), url))
			}
			continue
		}

		for i := range src.Calendars {
			cal := &src.Calendars[i]
			events := w.parse(payload, day.In(locs[i]), cal, seen.Scope(cal.Name))
			stampCaptured(events, captured)
			acc[i] = append(acc[i], events...)
		}
		appLog.Debug("windowed day done", "source", src.Name, "day", day.String())
	}

	out := make([]model.Calendar, 0, len(src.Calendars))
	for i := range src.Calendars {
		name := src.Calendars[i].Name
		appLog.Debug("windowed calendar done", "source", src.Name, "calendar", name, "distinct_ids", seen.Scope(name).Len())
		out = append(out, Assemble(src, &src.Calendars[i], acc[i]))
	}
	return out, nil
}

// stampCaptured sets the capture time on occurrences the parser left unset.
func stampCaptured(events []model.Event, at time.Time) {
	for _, e := range events {
		if e.Kind == model.KindOccurrence && e.Occurrence.CapturedAt.IsZero() {
			e.Occurrence.CapturedAt = at
		}
	}
}
