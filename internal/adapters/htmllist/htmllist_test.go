package htmllist

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventripper/internal/adapter"
	"eventripper/internal/fetch"
	"eventripper/internal/model"
)

var pages = map[string]string{
	"2026-10-14": `<html><body>
<article class="event">
  <h2>Late Show</h2><time datetime="2026-10-14T22:00:00-05:00">10pm</time>
  <a href="/e/42">Tickets</a><span class="venue">Back room</span>
  <img src="/img/42.png"><p class="blurb">  Two
  sets </p>
</article>
<article class="event"><h2>Matinee</h2><time datetime="2026-10-14T14:00:00-05:00"></time><a href="/e/43">x</a></article>
<article class="event"><h2></h2><time datetime="2026-10-14T18:00:00-05:00"></time></article>
<article class="event"><h2>Mystery</h2><time datetime="soon"></time><a href="/e/44"></a></article>
</body></html>`,
	"2026-10-15": `<html><body>
<article class="event"><h2>Late Show</h2><time datetime="2026-10-14T22:00:00-05:00"></time><a href="/e/42"></a></article>
<article class="event"><h2>Next Day</h2><time datetime="2026-10-16T20:00:00-05:00"></time><a href="/e/50"></a></article>
</body></html>`,
}

func TestRip(t *testing.T) {
	var calls atomic.Int32
	f := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
		calls.Add(1)
		u, err := url.Parse(req.URL)
		require.NoError(t, err)
		return &fetch.Response{URL: req.URL, StatusCode: 200, Body: []byte(pages[u.Query().Get("date")])}, nil
	})
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	a, err := New(adapter.Deps{Fetcher: f, Now: func() time.Time { return now }})
	require.NoError(t, err)

	selectors := map[string]any{
		"item":        "article.event",
		"title":       "h2",
		"start":       "time",
		"start_attr":  "datetime",
		"location":    ".venue",
		"image":       "img",
		"description": ".blurb",
		"same_day":    true,
	}
	src := &model.SourceConfig{
		Name:      "venue",
		Type:      Type,
		URL:       "https://venue.example.com/calendar?date={yyyy-MM-dd}",
		Lookahead: model.Period{Days: 2},
		Calendars: []model.CalendarSpec{
			{Name: "shows", Timezone: "America/Chicago", Config: selectors},
			{Name: "broken", Timezone: "America/Chicago", Config: map[string]any{"title": "h2"}},
			{Name: "late", Timezone: "America/Chicago", Config: map[string]any{
				"item": "article.event", "title": "h2", "start": "time", "start_attr": "datetime",
				"match": "Late", "duration": "90m",
			}},
		},
	}

	cals, err := a.Rip(context.Background(), src, nil)
	require.NoError(t, err)
	require.Len(t, cals, 3)
	assert.Equal(t, int32(2), calls.Load())

	shows := cals[0]
	assert.Equal(t, "shows", shows.Name)
	assert.Same(t, src, shows.Parent)
	require.Len(t, shows.Events, 2)
	late := shows.Events[0]
	assert.Equal(t, "https://venue.example.com/e/42", late.ID)
	assert.Equal(t, "Late Show", late.Summary)
	assert.Equal(t, "Back room", late.Location)
	assert.Equal(t, "Two sets", late.Description)
	assert.Equal(t, "https://venue.example.com/img/42.png", late.Image)
	assert.Equal(t, "https://venue.example.com/e/42", late.URL)
	assert.Equal(t, 22, late.Start.Hour())
	assert.Equal(t, "America/Chicago", late.Start.Location().String())
	assert.Equal(t, 2*time.Hour, late.Duration)
	assert.Equal(t, "Matinee", shows.Events[1].Summary)

	require.Len(t, shows.Errors, 2)
	assert.Equal(t, "listing without title", shows.Errors[0].Reason)
	assert.Equal(t, `unreadable start "soon"`, shows.Errors[1].Reason)
	assert.Equal(t, "Mystery", shows.Errors[1].Context)

	broken := cals[1]
	assert.Empty(t, broken.Events)
	require.Len(t, broken.Errors, 1)
	assert.Equal(t, "missing required config item", broken.Errors[0].Reason)
	assert.Same(t, src, broken.Parent)

	filtered := cals[2]
	require.Len(t, filtered.Events, 1)
	assert.Equal(t, "Late Show", filtered.Events[0].Summary)
	assert.Equal(t, 90*time.Minute, filtered.Events[0].Duration)
	assert.Empty(t, filtered.Errors)
}

func TestRipHTTPErrorIsFatal(t *testing.T) {
	f := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
		return &fetch.Response{URL: req.URL, StatusCode: 503, Status: "503 Service Unavailable"}, nil
	})
	a, err := New(adapter.Deps{Fetcher: f})
	require.NoError(t, err)

	_, err = a.Rip(context.Background(), &model.SourceConfig{
		Name:      "venue",
		Type:      Type,
		URL:       "https://venue.example.com/{yyyy-MM-dd}",
		Calendars: []model.CalendarSpec{{Name: "shows", Config: map[string]any{"item": "li", "title": "b"}}},
	}, nil)
	require.Error(t, err)
}

func TestParseTimeOnlyLayout(t *testing.T) {
	f := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
		body := `<ul><li><b>Trivia</b> <i>7:30 PM</i></li><li><b>Karaoke</b> <i>late</i></li></ul>`
		return &fetch.Response{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
	})
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	a, err := New(adapter.Deps{Fetcher: f, Now: func() time.Time { return now }})
	require.NoError(t, err)

	cals, err := a.Rip(context.Background(), &model.SourceConfig{
		Name: "bar",
		Type: Type,
		URL:  "https://bar.example.com/{yyyy-MM-dd}",
		Calendars: []model.CalendarSpec{{Name: "nights", Timezone: "America/New_York", Config: map[string]any{
			"item": "li", "title": "b", "start": "i", "start_format": "3:04 PM",
		}}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, cals[0].Events, 1)
	start := cals[0].Events[0].Start
	assert.Equal(t, "2026-10-14 19:30", start.Format("2006-01-02 15:04"))
	assert.Equal(t, "Trivia@2026-10-14T19:30:00-04:00", cals[0].Events[0].ID)
	require.Len(t, cals[0].Errors, 1)
}
