// Package jsonlist reads day-parameterized JSON endpoints. Each calendar
// maps fields of the listed records onto occurrences.
package jsonlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"eventripper/internal/adapter"
	"eventripper/internal/model"
)

const Type = "jsonlist"

const defaultDuration = 2 * time.Hour

// Calendar config keys. id_field, title_field and start_field are required.
const (
	keyItems       = "items"
	keyID          = "id_field"
	keyTitle       = "title_field"
	keyStart       = "start_field"
	keyStartFormat = "start_format"
	keyURL         = "url_field"
	keyLocation    = "location_field"
	keyDescription = "description_field"
	keyImage       = "image_field"
	keyDuration    = "duration_field"
	keyFilterField = "filter_field"
	keyFilterValue = "filter_value"
	keySameDay     = "same_day"
)

func New(deps adapter.Deps) (adapter.Adapter, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("jsonlist: no fetcher")
	}
	w := adapter.NewJSONWindowed(deps, Parse)
	return adapter.RequireConfig(w, keyID, keyTitle, keyStart), nil
}

// Parse maps the records found at the calendar's items path to events.
func Parse(payload any, day time.Time, cal *model.CalendarSpec, ids *adapter.IDSet) []model.Event {
	path := cal.StringOr(keyItems, "")
	node, ok := Lookup(payload, path)
	if !ok {
		return []model.Event{model.NewParseError("items path not found", path)}
	}
	records, ok := node.([]any)
	if !ok {
		return []model.Event{model.NewParseError("items is not a list", path)}
	}

	filterField, filtered := cal.String(keyFilterField)
	filterValue := cal.StringOr(keyFilterValue, "")
	sameDay := cal.Bool(keySameDay)

	var out []model.Event
	for i, rec := range records {
		if filtered && field(rec, filterField) != filterValue {
			continue
		}
		ev, ok := parseRecord(rec, day, cal)
		if !ok {
			where := fmt.Sprintf("%s[%d]", path, i)
			if ev.ParseError.Context != "" {
				where += " " + ev.ParseError.Context
			}
			ev.ParseError.Context = where
			out = append(out, ev)
			continue
		}
		if sameDay && !adapter.SameDay(ev.Occurrence.Start, day) {
			continue
		}
		if !ids.Add(ev.Occurrence.ID) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func parseRecord(rec any, day time.Time, cal *model.CalendarSpec) (model.Event, bool) {
	get := func(key string) string {
		f, ok := cal.String(key)
		if !ok {
			return ""
		}
		return field(rec, f)
	}

	id := get(keyID)
	if id == "" {
		return model.NewParseError("record without id", ""), false
	}
	title := get(keyTitle)
	if title == "" {
		return model.NewParseError("record without title", id), false
	}
	rawStart := get(keyStart)
	start, err := adapter.ParseLocalTime(rawStart, cal.StringOr(keyStartFormat, ""), day)
	if err != nil {
		return model.NewParseError(fmt.Sprintf("unreadable start %q", rawStart), id), false
	}

	duration := defaultDuration
	if raw := get(keyDuration); raw != "" {
		mins, err := strconv.ParseFloat(raw, 64)
		if err != nil || mins < 0 {
			return model.NewParseError(fmt.Sprintf("unreadable duration %q", raw), id), false
		}
		duration = time.Duration(mins * float64(time.Minute))
	}

	return model.NewOccurrence(model.Occurrence{
		ID:          id,
		Start:       start,
		Duration:    duration,
		Summary:     title,
		URL:         get(keyURL),
		Location:    get(keyLocation),
		Description: get(keyDescription),
		Image:       get(keyImage),
	}), true
}

// Lookup walks a dot-separated path through decoded JSON. Numeric segments
// index into lists. An empty path returns v itself.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// field renders the scalar at path as a trimmed string; missing values,
// nulls and containers are empty.
func field(rec any, path string) string {
	v, ok := Lookup(rec, path)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
