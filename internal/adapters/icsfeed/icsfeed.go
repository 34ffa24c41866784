// Package icsfeed imports upstream iCalendar feeds and expands their
// recurrences into occurrences inside the source's lookahead window.
package icsfeed

import (
	"context"
	"errors"

	"eventripper/internal/adapter"
	"eventripper/internal/fetch"
	"eventripper/internal/ics"
	appLog "eventripper/internal/log"
	"eventripper/internal/model"
	"eventripper/internal/window"
)

const Type = "icsfeed"

// Adapter fetches one feed per calendar. Calendar config "url" overrides the
// source URL. Fetch failures degrade to a single ParseError for the calendar.
type Adapter struct {
	deps adapter.Deps
}

func New(deps adapter.Deps) (adapter.Adapter, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("icsfeed: no fetcher")
	}
	return &Adapter{deps: deps}, nil
}

func (a *Adapter) Rip(ctx context.Context, src *model.SourceConfig, seen *adapter.Seen) ([]model.Calendar, error) {
	if seen == nil {
		seen = adapter.NewSeen()
	}
	now := a.deps.Clock()
	days := window.Days(now, src.LookaheadOrDefault())
	first, end := days[0], days[len(days)-1].AddDays(1)

	// Calendars sharing a feed URL share one fetch.
	bodies := make(map[string][]byte)
	failures := make(map[string]error)

	out := make([]model.Calendar, 0, len(src.Calendars))
	for i := range src.Calendars {
		cal := &src.Calendars[i]
		url := cal.StringOr("url", src.URL)
		if url == "" {
			out = append(out, adapter.Assemble(src, cal, []model.Event{adapter.MissingConfig(cal, "url")}))
			continue
		}
		loc, err := cal.Location()
		if err != nil {
			return nil, &model.ConfigError{Source: src.Name, Calendar: cal.Name, Reason: err.Error()}
		}

		body, ok := bodies[url]
		if !ok && failures[url] == nil {
			body, err = a.fetch(ctx, url)
			if err != nil {
				appLog.Warn("feed fetch failed", "source", src.Name, "calendar", cal.Name, "url", fetch.RedactURL(url), "err", err)
				failures[url] = err
			} else {
				bodies[url] = body
			}
		}
		if ferr := failures[url]; ferr != nil {
			out = append(out, adapter.Assemble(src, cal, []model.Event{
				model.NewParseError("fetch feed: "+ferr.Error(), fetch.RedactURL(url)),
			}))
			continue
		}

		events := a.parse(src, cal, body, ics.ExpandConfig{
			DisplayLocation: loc,
			RangeStart:      first.In(loc),
			RangeEnd:        end.In(loc),
		}, seen.Scope(cal.Name))
		out = append(out, adapter.Assemble(src, cal, events))
	}
	return out, nil
}

func (a *Adapter) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := fetch.Get(ctx, a.deps.Fetcher, url)
	if err != nil {
		return nil, err
	}
	if err := fetch.CheckStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *Adapter) parse(src *model.SourceConfig, cal *model.CalendarSpec, body []byte, cfg ics.ExpandConfig, ids *adapter.IDSet) []model.Event {
	parsed, bad, err := ics.ParseICS(src.Name+"-"+cal.Name, body)
	if err != nil {
		return []model.Event{model.NewParseError(err.Error(), "calendar "+cal.Name)}
	}

	events := make([]model.Event, 0, len(parsed)+len(bad))
	for _, b := range bad {
		events = append(events, model.NewParseError(b.Err.Error(), "vevent "+b.UID))
	}

	res, err := ics.ExpandOccurrences(parsed, cfg)
	if err != nil {
		return append(events, model.NewParseError(err.Error(), "calendar "+cal.Name))
	}
	for _, uid := range res.TruncatedEvents {
		events = append(events, model.NewParseError("recurrence truncated", "vevent "+uid))
	}

	captured := a.deps.Clock()
	for _, in := range res.Instances {
		if !ids.Add(in.Key) {
			continue
		}
		events = append(events, model.NewOccurrence(model.Occurrence{
			ID:          in.Key,
			CapturedAt:  captured,
			Start:       in.Start,
			Duration:    in.End.Sub(in.Start),
			Summary:     in.Event.Summary,
			Description: in.Event.Description,
			Location:    in.Event.Location,
			URL:         in.Event.URL,
		}))
	}
	return events
}
