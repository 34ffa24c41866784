package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventripper/internal/adapter"
	"eventripper/internal/adapters/builtin"
	"eventripper/internal/config"
	"eventripper/internal/fetch"
	"eventripper/internal/ics"
	"eventripper/internal/model"
	"eventripper/internal/store"
)

var fixedNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:feed-1\r\nDTSTAMP:20261001T000000Z\r\nDTSTART:20261015T200000Z\r\nSUMMARY:Feed show\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:main-1\r\nDTSTAMP:20261001T000000Z\r\nDTSTART:20261016T200000Z\r\nSUMMARY:Feed copy\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// staticAdapter emits one event per calendar plus one shared by all of them.
type staticAdapter struct{}

func (staticAdapter) Rip(_ context.Context, src *model.SourceConfig, _ *adapter.Seen) ([]model.Calendar, error) {
	var out []model.Calendar
	for i := range src.Calendars {
		spec := &src.Calendars[i]
		events := []model.Event{
			model.NewOccurrence(model.Occurrence{ID: spec.Name + "-1", Start: fixedNow, Duration: time.Hour, Summary: spec.Name}),
			model.NewOccurrence(model.Occurrence{ID: "shared", Start: fixedNow, Duration: time.Hour, Summary: "Shared " + spec.Name}),
		}
		if spec.Name == "side" {
			events = append(events, model.NewParseError("listing without title", "<li></li>"))
		}
		out = append(out, adapter.Assemble(src, spec, events))
	}
	return out, nil
}

type failingAdapter struct{ panics bool }

func (a failingAdapter) Rip(context.Context, *model.SourceConfig, *adapter.Seen) ([]model.Calendar, error) {
	if a.panics {
		panic("nil map")
	}
	return nil, &fetch.HTTPError{URL: "https://beta.example.com/x", StatusCode: 502, Status: "Bad Gateway"}
}

type fetchers struct{ f fetch.Fetcher }

func (s fetchers) For(mode string) (fetch.Fetcher, error) {
	if mode == model.ProxyRelay {
		return nil, errors.New("relay mode unavailable")
	}
	return s.f, nil
}

type recorder struct{ runs []store.Run }

func (r *recorder) RecordRun(_ context.Context, run store.Run) (int64, error) {
	r.runs = append(r.runs, run)
	return int64(len(r.runs)), nil
}

func writeSource(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.yaml"), []byte(body), 0o644))
}

func newTestRunner(t *testing.T, feedURL string, rec Recorder) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	sources := filepath.Join(root, "sources")

	writeSource(t, sources, "alpha", `
type: static
calendars:
  - name: main
    tags: [music]
  - name: side
    friendly_name: Side room
    tags: [music, late]
`)
	writeSource(t, sources, "beta", "type: boom\ncalendars:\n  - name: main\n")
	writeSource(t, sources, "gamma", "type: explode\ncalendars:\n  - name: main\n")
	writeSource(t, sources, "delta", "url: https://nothing.example.com\n")
	writeSource(t, sources, "epsilon", "type: static\nproxy: relay\ncalendars:\n  - name: main\n")
	writeSource(t, sources, "omega", `
type: icsfeed
lookahead: P3D
url: `+feedURL+`/feed.ics
calendars:
  - name: main
    tags: [feeds]
`)

	recurringFile := filepath.Join(root, "recurring.yaml")
	require.NoError(t, os.WriteFile(recurringFile, []byte(`
- name: Sunday jam
  schedule: every Sunday
  start_time: "10:00"
  tags: [music]
`), 0o644))

	reg := builtin.NewRegistry()
	reg.Register("static", func(adapter.Deps) (adapter.Adapter, error) { return staticAdapter{}, nil })
	reg.Register("boom", func(adapter.Deps) (adapter.Adapter, error) { return failingAdapter{}, nil })
	reg.Register("explode", func(adapter.Deps) (adapter.Adapter, error) { return failingAdapter{panics: true}, nil })

	out := filepath.Join(root, "out")
	r, err := New(Options{
		Registry:      reg,
		Fetchers:      fetchers{f: fetch.NewDirect()},
		Now:           func() time.Time { return fixedNow },
		SourcesDir:    sources,
		RecurringFile: recurringFile,
		OutputDir:     out,
		Aggregates: []config.AggregateConfig{{
			Name:      "weekend",
			Calendars: []string{"alpha-main", "nope-main"},
			Feeds: []config.FeedConfig{
				{URL: feedURL + "/feed.ics", Name: "Friends"},
				{URL: feedURL + "/missing.ics"},
			},
		}},
		History: rec,
	})
	require.NoError(t, err)
	return r, out
}

func feedServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/feed.ics" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readOutput(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestRunIsolatesSourcesAndWritesOutputs(t *testing.T) {
	srv := feedServer(t)
	rec := &recorder{}
	r, out := newTestRunner(t, srv.URL, rec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	// alpha (2 calendars), omega, recurring
	require.Len(t, res.Calendars, 4)
	require.Len(t, res.Sources, 5, "every loadable source is attempted")

	main := readOutput(t, out, "alpha-main.ics")
	assert.Equal(t, []string{"main-1", "shared"}, ics.UIDs(main))
	assert.Contains(t, readOutput(t, out, "alpha-side.ics"), "X-WR-CALNAME:Side room")

	feed := readOutput(t, out, "omega-main.ics")
	assert.ElementsMatch(t, []string{"feed-1", "main-1"}, ics.UIDs(feed))

	recurringDoc := readOutput(t, out, "recurring.ics")
	assert.Contains(t, recurringDoc, "RRULE:FREQ=WEEKLY;BYDAY=SU")

	music := readOutput(t, out, "tag-music.ics")
	uids := ics.UIDs(music)
	assert.Len(t, uids, 4, "shared appears once")
	assert.Equal(t, []string{"main-1", "shared", "side-1"}, uids[:3])
	assert.Contains(t, music, ics.SourceProperty+":")
	assert.Contains(t, readOutput(t, out, "tag-late.ics"), "side-1")

	weekend := readOutput(t, out, "weekend.ics")
	assert.Equal(t, []string{"main-1", "shared", "feed-1"}, ics.UIDs(weekend),
		"local calendars win over the feed copy and the missing feed is omitted")
	assert.Contains(t, weekend, "From Friends")

	report := readOutput(t, out, ReportFile)
	assert.Equal(t, 1, res.Report.Count(KindFile), report)
	assert.Equal(t, 2, res.Report.Count(KindConfig), report)
	assert.Equal(t, 1, res.Report.Count(KindTransport), report)
	assert.Equal(t, 1, res.Report.Count(KindFailure), report)
	assert.Equal(t, 1, res.Report.Count(KindParse), report)
	assert.Contains(t, report, "[parse] alpha/side: listing without title (<li></li>)")
	assert.Contains(t, report, "nope-main")
	assert.Contains(t, report, "adapter panic")

	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(readOutput(t, out, ManifestFile)), &m))
	assert.Equal(t, len(res.Report.Entries), m.Errors)
	kinds := map[string]int{}
	for _, e := range m.Calendars {
		kinds[e.Kind]++
		_, err := os.Stat(filepath.Join(out, e.File))
		assert.NoError(t, err, e.File)
	}
	assert.Equal(t, map[string]int{KindCalendar: 3, KindRecurring: 1, KindTag: 3, KindAggregate: 1}, kinds)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, 5, rec.runs[0].Sources)
	assert.Equal(t, 7, rec.runs[0].Events)
}

func TestRunOnlyOneSource(t *testing.T) {
	srv := feedServer(t)
	r, out := newTestRunner(t, srv.URL, nil)
	r.opts.Only = "alpha"
	r.opts.Aggregates = nil

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Len(t, res.Calendars, 2)
	_, err = os.Stat(filepath.Join(out, "recurring.ics"))
	assert.True(t, os.IsNotExist(err))
}

func TestEmptyCalendarStillRendered(t *testing.T) {
	root := t.TempDir()
	writeSource(t, filepath.Join(root, "sources"), "quiet", "type: static\ncalendars: []\n")
	reg := adapter.NewRegistry()
	reg.Register("static", func(adapter.Deps) (adapter.Adapter, error) {
		return adapter.RequireConfig(staticAdapter{}, "never"), nil
	})
	writeSource(t, filepath.Join(root, "sources"), "picky", "type: static\ncalendars:\n  - name: main\n")

	r, err := New(Options{
		Registry:   reg,
		Fetchers:   fetchers{f: fetch.NewDirect()},
		Now:        func() time.Time { return fixedNow },
		SourcesDir: filepath.Join(root, "sources"),
		OutputDir:  filepath.Join(root, "out"),
	})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	doc := readOutput(t, filepath.Join(root, "out"), "picky-main.ics")
	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR"))
	assert.Zero(t, ics.CountEvents(doc))
	assert.Equal(t, 1, res.Report.Count(KindParse))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "club-main.ics", FileName("club-main"))
	assert.Equal(t, "tag-live_music.ics", FileName("tag-live music"))
	assert.Equal(t, "a_b.ics", FileName("a/../b"))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
