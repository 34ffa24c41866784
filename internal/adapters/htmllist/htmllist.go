// Package htmllist scrapes day-parameterized HTML listing pages using CSS
// selectors declared per calendar.
package htmllist

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"eventripper/internal/adapter"
	"eventripper/internal/model"
)

const Type = "htmllist"

const defaultDuration = 2 * time.Hour

// Calendar config keys. item and title are required.
const (
	keyItem        = "item"
	keyTitle       = "title"
	keyStart       = "start"
	keyStartAttr   = "start_attr"
	keyStartFormat = "start_format"
	keyID          = "id"
	keyIDAttr      = "id_attr"
	keyLink        = "link"
	keyLocation    = "location"
	keyImage       = "image"
	keyDescription = "description"
	keyDuration    = "duration"
	keyMatch       = "match"
	keySameDay     = "same_day"
)

func New(deps adapter.Deps) (adapter.Adapter, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("htmllist: no fetcher")
	}
	w := adapter.NewHTMLWindowed(deps, Parse)
	return adapter.RequireConfig(w, keyItem, keyTitle), nil
}

// Parse extracts one occurrence per item matched by the calendar's item
// selector. Items that cannot be read become ParseErrors.
func Parse(doc *goquery.Document, day time.Time, cal *model.CalendarSpec, ids *adapter.IDSet) []model.Event {
	itemSel, _ := cal.String(keyItem)
	match := cal.StringOr(keyMatch, "")
	sameDay := cal.Bool(keySameDay)

	duration := defaultDuration
	if raw, ok := cal.String(keyDuration); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return []model.Event{model.NewParseError("invalid duration "+raw, "calendar "+cal.Name)}
		}
		duration = d
	}

	base := doc.Url
	var out []model.Event
	doc.Find(itemSel).Each(func(i int, s *goquery.Selection) {
		if match != "" && !strings.Contains(s.Text(), match) {
			return
		}
		ev, ok := parseItem(s, day, cal, base)
		if !ok {
			out = append(out, ev)
			return
		}
		o := ev.Occurrence
		if sameDay && !adapter.SameDay(o.Start, day) {
			return
		}
		if !ids.Add(o.ID) {
			return
		}
		o.Duration = duration
		out = append(out, ev)
	})
	return out
}

func parseItem(s *goquery.Selection, day time.Time, cal *model.CalendarSpec, base *url.URL) (model.Event, bool) {
	title := text(s, cal.StringOr(keyTitle, ""))
	if title == "" {
		return model.NewParseError("listing without title", snippet(s)), false
	}

	rawStart := ""
	startSel := cal.StringOr(keyStart, "")
	if attr, ok := cal.String(keyStartAttr); ok {
		rawStart = strings.TrimSpace(find(s, startSel).AttrOr(attr, ""))
	} else {
		rawStart = text(s, startSel)
	}
	start, err := adapter.ParseLocalTime(rawStart, cal.StringOr(keyStartFormat, ""), day)
	if err != nil {
		return model.NewParseError("unreadable start "+quote(rawStart), title), false
	}

	link := absolute(base, strings.TrimSpace(find(s, cal.StringOr(keyLink, "a")).AttrOr("href", "")))

	id := ""
	if attr, ok := cal.String(keyIDAttr); ok {
		id = strings.TrimSpace(find(s, cal.StringOr(keyID, "")).AttrOr(attr, ""))
	} else if sel, ok := cal.String(keyID); ok {
		id = text(s, sel)
	}
	if id == "" {
		id = link
	}
	if id == "" {
		id = title + "@" + start.Format(time.RFC3339)
	}

	o := model.Occurrence{
		ID:      id,
		Start:   start,
		Summary: title,
		URL:     link,
	}
	if sel, ok := cal.String(keyLocation); ok {
		o.Location = text(s, sel)
	}
	if sel, ok := cal.String(keyDescription); ok {
		o.Description = text(s, sel)
	}
	if sel, ok := cal.String(keyImage); ok {
		o.Image = absolute(base, strings.TrimSpace(find(s, sel).AttrOr("src", "")))
	}
	return model.NewOccurrence(o), true
}

// find returns the first match of sel inside s, or s itself for an empty
// selector.
func find(s *goquery.Selection, sel string) *goquery.Selection {
	if sel == "" {
		return s
	}
	return s.Find(sel).First()
}

func text(s *goquery.Selection, sel string) string {
	return strings.Join(strings.Fields(find(s, sel).Text()), " ")
}

func absolute(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func snippet(s *goquery.Selection) string {
	t := []rune(strings.Join(strings.Fields(s.Text()), " "))
	if len(t) > 80 {
		return string(t[:80]) + "..."
	}
	return string(t)
}

func quote(s string) string {
	return `"` + s + `"`
}
