package adapter

import (
	"context"
	"fmt"

	"eventripper/internal/model"
)

// RequireConfig wraps inner so that calendars missing any of keys are not
// ripped: each yields exactly one ParseError and no occurrences, while the
// source's other calendars run normally. inner must return one calendar per
// input calendar, in order.
func RequireConfig(inner Adapter, keys ...string) Adapter {
	return &requireConfig{inner: inner, keys: keys}
}

type requireConfig struct {
	inner Adapter
	keys  []string
}

func (r *requireConfig) Rip(ctx context.Context, src *model.SourceConfig, seen *Seen) ([]model.Calendar, error) {
	sub := *src
	sub.Calendars = make([]model.CalendarSpec, 0, len(src.Calendars))
	missing := make(map[int]string)

	for i := range src.Calendars {
		cal := &src.Calendars[i]
		if key := firstMissing(cal, r.keys); key != "" {
			missing[i] = key
			continue
		}
		sub.Calendars = append(sub.Calendars, *cal)
	}

	var ripped []model.Calendar
	if len(sub.Calendars) > 0 {
		var err error
		ripped, err = r.inner.Rip(ctx, &sub, seen)
		if err != nil {
			return nil, err
		}
		if len(ripped) != len(sub.Calendars) {
			return nil, fmt.Errorf("adapter: source %s returned %d calendars for %d specs", src.Name, len(ripped), len(sub.Calendars))
		}
	}

	out := make([]model.Calendar, 0, len(src.Calendars))
	j := 0
	for i := range src.Calendars {
		if key, ok := missing[i]; ok {
			cal := &src.Calendars[i]
			out = append(out, Assemble(src, cal, []model.Event{MissingConfig(cal, key)}))
			continue
		}
		c := ripped[j]
		j++
		c.Parent = src
		out = append(out, c)
	}
	return out, nil
}

func firstMissing(cal *model.CalendarSpec, keys []string) string {
	for _, k := range keys {
		if _, ok := cal.String(k); !ok {
			return k
		}
	}
	return ""
}
