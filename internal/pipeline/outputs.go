package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	neturl "net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"eventripper/internal/config"
	"eventripper/internal/fetch"
	"eventripper/internal/ics"
	appLog "eventripper/internal/log"
	"eventripper/internal/model"
)

// Fixed output file names.
const (
	ManifestFile = "manifest.json"
	ReportFile   = "errors.txt"
)

// Manifest kinds.
const (
	KindCalendar  = "calendar"
	KindRecurring = "recurring"
	KindTag       = "tag"
	KindAggregate = "aggregate"
)

// feedConcurrency bounds concurrent aggregate feed fetches.
const feedConcurrency = 4

// Manifest describes every calendar file of the last run.
type Manifest struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Errors      int             `json:"errors"`
	Calendars   []ManifestEntry `json:"calendars"`
}

type ManifestEntry struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Events int      `json:"events"`
	Errors int      `json:"errors"`
	File   string   `json:"file"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName maps an output key to its ICS file name.
func FileName(key string) string {
	return unsafeName.ReplaceAllString(key, "_") + ".ics"
}

func (r *Runner) writeOutputs(ctx context.Context, res *Result) error {
	dir := r.opts.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: create output dir: %w", err)
	}
	stamp := res.StartedAt
	m := Manifest{GeneratedAt: stamp}
	rendered := make(map[string]ics.Document, len(res.Calendars))

	for i := range res.Calendars {
		c := &res.Calendars[i]
		text := ics.Render(*c, stamp)
		entry := ManifestEntry{
			Key:    c.Key(),
			Name:   c.DisplayName(),
			Kind:   KindCalendar,
			Tags:   c.Tags,
			Events: len(c.Events),
			Errors: len(c.Errors),
			File:   FileName(c.Key()),
		}
		if c.Parent != nil {
			entry.Source = c.Parent.Name
		} else {
			entry.Kind = KindRecurring
		}
		if err := writeFile(filepath.Join(dir, entry.File), []byte(text)); err != nil {
			return err
		}
		rendered[entry.Key] = ics.Document{Source: c.DisplayName(), Text: text}
		m.Calendars = append(m.Calendars, entry)
	}

	for _, tag := range tags(res.Calendars) {
		var docs []ics.Document
		for i := range res.Calendars {
			if hasTag(res.Calendars[i].Tags, tag) {
				docs = append(docs, rendered[res.Calendars[i].Key()])
			}
		}
		key := "tag-" + tag
		text := ics.Merge(tag, docs...)
		entry := ManifestEntry{Key: key, Name: tag, Kind: KindTag, Events: ics.CountEvents(text), File: FileName(key)}
		if err := writeFile(filepath.Join(dir, entry.File), []byte(text)); err != nil {
			return err
		}
		m.Calendars = append(m.Calendars, entry)
	}

	for _, agg := range r.opts.Aggregates {
		text := r.aggregate(ctx, agg, rendered, &res.Report)
		name := agg.FriendlyName
		if name == "" {
			name = agg.Name
		}
		entry := ManifestEntry{Key: agg.Name, Name: name, Kind: KindAggregate, Events: ics.CountEvents(text), File: FileName(agg.Name)}
		if err := writeFile(filepath.Join(dir, entry.File), []byte(text)); err != nil {
			return err
		}
		m.Calendars = append(m.Calendars, entry)
	}

	if err := writeFile(filepath.Join(dir, ReportFile), []byte(res.Report.Text(stamp))); err != nil {
		return err
	}
	m.Errors = len(res.Report.Entries)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, ManifestFile), data); err != nil {
		return err
	}
	res.Manifest = m
	return nil
}

// aggregate merges the named local calendars, in order, followed by the
// external feeds. Feeds that cannot be fetched are omitted.
func (r *Runner) aggregate(ctx context.Context, agg config.AggregateConfig, rendered map[string]ics.Document, report *Report) string {
	docs := make([]ics.Document, 0, len(agg.Calendars)+len(agg.Feeds))
	for _, key := range agg.Calendars {
		d, ok := rendered[key]
		if !ok {
			report.Entries = append(report.Entries, Entry{Kind: KindConfig, Source: agg.Name, Reason: "unknown calendar " + key})
			continue
		}
		docs = append(docs, d)
	}
	docs = append(docs, r.fetchFeeds(ctx, agg)...)

	name := agg.FriendlyName
	if name == "" {
		name = agg.Name
	}
	return ics.Merge(name, docs...)
}

func (r *Runner) fetchFeeds(ctx context.Context, agg config.AggregateConfig) []ics.Document {
	if len(agg.Feeds) == 0 {
		return nil
	}
	fetcher, err := r.opts.Fetchers.For(model.ProxyDirect)
	if err != nil {
		appLog.Error("aggregate feeds skipped", err, "aggregate", agg.Name)
		return nil
	}

	results := make([]*ics.Document, len(agg.Feeds))
	var g errgroup.Group
	g.SetLimit(feedConcurrency)
	for i, feed := range agg.Feeds {
		g.Go(func() error {
			text, err := fetchFeed(ctx, fetcher, feed.URL)
			if err != nil {
				appLog.Warn("aggregate feed omitted", "aggregate", agg.Name, "url", fetch.RedactURL(feed.URL), "err", err)
				return nil
			}
			results[i] = &ics.Document{Source: feedName(feed), Text: text}
			return nil
		})
	}
	_ = g.Wait()

	docs := make([]ics.Document, 0, len(results))
	for _, d := range results {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs
}

func fetchFeed(ctx context.Context, f fetch.Fetcher, url string) (string, error) {
	resp, err := fetch.Get(ctx, f, url)
	if err != nil {
		return "", err
	}
	if err := fetch.CheckStatus(resp); err != nil {
		return "", err
	}
	text := resp.Text()
	if !strings.Contains(text, "BEGIN:VCALENDAR") {
		return "", errors.New("not an ICS document")
	}
	return text, nil
}

func feedName(feed config.FeedConfig) string {
	if feed.Name != "" {
		return feed.Name
	}
	if u, err := neturl.Parse(feed.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return feed.URL
}

// tags returns every calendar tag in first-seen order.
func tags(cals []model.Calendar) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range cals {
		for _, t := range c.Tags {
			if t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func hasTag(list []string, tag string) bool {
	for _, t := range list {
		if t == tag {
			return true
		}
	}
	return false
}

// writeFile replaces path atomically via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".eventripper-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
