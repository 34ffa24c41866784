// Package ticketapi reads venue listings from a Discovery-style ticketing
// API. It pages through a date-range query instead of scraping day by day.
package ticketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"eventripper/internal/adapter"
	"eventripper/internal/fetch"
	appLog "eventripper/internal/log"
	"eventripper/internal/model"
	"eventripper/internal/window"
)

const Type = "ticketapi"

// DefaultURL is used when the source declares no URL.
const DefaultURL = "https://app.ticketmaster.com/discovery/v2/events.json"

const (
	pageSize        = 100
	defaultDuration = 3 * time.Hour
	keyVenue        = "venue_id"
	keyDuration     = "duration"
)

// Adapter pages per calendar, keyed by the calendar's venue_id. Records are
// deduplicated by upstream ID through the caller's Seen. Fetch failures
// degrade to a ParseError alongside whatever pages were read.
type Adapter struct {
	deps     adapter.Deps
	apiKey   string
	limiter  *rate.Limiter
	maxPages int
}

func New(deps adapter.Deps) (adapter.Adapter, error) {
	return newAdapter(deps, rate.NewLimiter(rate.Every(250*time.Millisecond), 1))
}

func newAdapter(deps adapter.Deps, limiter *rate.Limiter) (*Adapter, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("ticketapi: no fetcher")
	}
	key := deps.Key(Type)
	if key == "" {
		return nil, errors.New("ticketapi: api key not configured")
	}
	return &Adapter{
		deps:     deps,
		apiKey:   key,
		limiter:  limiter,
		maxPages: adapter.DefaultMaxPages,
	}, nil
}

type eventRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Info  string `json:"info"`
	Dates struct {
		Start struct {
			LocalDate string `json:"localDate"`
			LocalTime string `json:"localTime"`
			DateTime  string `json:"dateTime"`
		} `json:"start"`
		Timezone string `json:"timezone"`
	} `json:"dates"`
	Images []struct {
		URL   string `json:"url"`
		Width int    `json:"width"`
	} `json:"images"`
	Embedded struct {
		Venues []struct {
			Name    string `json:"name"`
			Address struct {
				Line1 string `json:"line1"`
			} `json:"address"`
			City struct {
				Name string `json:"name"`
			} `json:"city"`
		} `json:"venues"`
	} `json:"_embedded"`
}

type searchResponse struct {
	Embedded struct {
		Events []eventRecord `json:"events"`
	} `json:"_embedded"`
	Page struct {
		Number     int `json:"number"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

func (a *Adapter) Rip(ctx context.Context, src *model.SourceConfig, seen *adapter.Seen) ([]model.Calendar, error) {
	if seen == nil {
		seen = adapter.NewSeen()
	}
	base := src.URL
	if base == "" {
		base = DefaultURL
	}
	now := a.deps.Clock()
	days := window.Days(now, src.LookaheadOrDefault())
	from, to := days[0].In(time.UTC), days[len(days)-1].AddDays(1).In(time.UTC)

	out := make([]model.Calendar, 0, len(src.Calendars))
	for i := range src.Calendars {
		cal := &src.Calendars[i]
		venue, ok := cal.String(keyVenue)
		if !ok {
			out = append(out, adapter.Assemble(src, cal, []model.Event{adapter.MissingConfig(cal, keyVenue)}))
			continue
		}
		loc, err := cal.Location()
		if err != nil {
			return nil, &model.ConfigError{Source: src.Name, Calendar: cal.Name, Reason: err.Error()}
		}
		duration := defaultDuration
		if raw, ok := cal.String(keyDuration); ok {
			if d, err := time.ParseDuration(raw); err == nil {
				duration = d
			}
		}

		var events []model.Event
		records, err := adapter.Paginate(ctx, a.maxPages, func(ctx context.Context, page int) ([]eventRecord, bool, error) {
			return a.page(ctx, base, venue, from, to, page)
		})
		if err != nil {
			appLog.Warn("ticketapi fetch failed", "source", src.Name, "calendar", cal.Name, "venue", venue, "err", err)
			events = append(events, model.NewParseError("fetch events: "+err.Error(), "venue "+venue))
		}

		ids := seen.Scope(cal.Name)
		for _, rec := range records {
			if rec.ID != "" && !ids.Add(rec.ID) {
				continue
			}
			events = append(events, toEvent(rec, loc, duration, now))
		}
		out = append(out, adapter.Assemble(src, cal, events))
	}
	return out, nil
}

func (a *Adapter) page(ctx context.Context, base, venue string, from, to time.Time, page int) ([]eventRecord, bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("rate limiter: %w", err)
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, false, err
	}
	q := u.Query()
	q.Set("apikey", a.apiKey)
	q.Set("venueId", venue)
	q.Set("startDateTime", from.Format("2006-01-02T15:04:05Z"))
	q.Set("endDateTime", to.Format("2006-01-02T15:04:05Z"))
	q.Set("size", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sort", "date,asc")
	u.RawQuery = q.Encode()

	resp, err := fetch.Get(ctx, a.deps.Fetcher, u.String())
	if err != nil {
		return nil, false, err
	}
	if err := fetch.CheckStatus(resp); err != nil {
		return nil, false, err
	}

	var sr searchResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, false, fmt.Errorf("decode page: %w", err)
	}
	more := sr.Page.Number+1 < sr.Page.TotalPages
	return sr.Embedded.Events, more, nil
}

func toEvent(rec eventRecord, loc *time.Location, duration time.Duration, captured time.Time) model.Event {
	if rec.ID == "" {
		return model.NewParseError("event without id", rec.Name)
	}
	start, err := recordStart(rec, loc)
	if err != nil {
		return model.NewParseError(err.Error(), rec.ID)
	}

	o := model.Occurrence{
		ID:          rec.ID,
		CapturedAt:  captured,
		Start:       start,
		Duration:    duration,
		Summary:     rec.Name,
		Description: rec.Info,
		URL:         rec.URL,
	}
	if len(rec.Embedded.Venues) > 0 {
		v := rec.Embedded.Venues[0]
		o.Location = joinNonEmpty(v.Name, v.Address.Line1, v.City.Name)
	}
	best := 0
	for _, img := range rec.Images {
		if img.Width > best {
			best = img.Width
			o.Image = img.URL
		}
	}
	return model.NewOccurrence(o)
}

// recordStart prefers the UTC dateTime; otherwise the venue-local date and
// time are read in loc. Date-only records (time TBA) are rejected.
func recordStart(rec eventRecord, loc *time.Location) (time.Time, error) {
	s := rec.Dates.Start
	if s.DateTime != "" {
		t, err := time.Parse(time.RFC3339, s.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("unreadable dateTime %q", s.DateTime)
		}
		return t.In(loc), nil
	}
	if s.LocalDate == "" || s.LocalTime == "" {
		return time.Time{}, errors.New("event has no start time")
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s.LocalDate+" "+s.LocalTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unreadable local start %q %q", s.LocalDate, s.LocalTime)
	}
	return t, nil
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}
