// Package pipeline is the top-level driver: it loads every source, runs each
// adapter in isolation, resolves recurring events and writes the ICS outputs,
// the error report and the manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventripper/internal/adapter"
	"eventripper/internal/config"
	"eventripper/internal/fetch"
	appLog "eventripper/internal/log"
	"eventripper/internal/model"
	"eventripper/internal/recurring"
	"eventripper/internal/source"
	"eventripper/internal/store"
)

// Fetchers hands out a fetcher per proxy mode.
type Fetchers interface {
	For(mode string) (fetch.Fetcher, error)
}

// Recorder persists run summaries.
type Recorder interface {
	RecordRun(ctx context.Context, run store.Run) (int64, error)
}

// Options configures a Runner. Registry, Fetchers, SourcesDir and OutputDir
// are required.
type Options struct {
	Registry *adapter.Registry
	Fetchers Fetchers
	Keys     map[string]string
	Now      func() time.Time

	SourcesDir    string
	RecurringFile string
	OutputDir     string
	Aggregates    []config.AggregateConfig

	// Only restricts the run to one source name.
	Only string

	History Recorder
}

// Runner executes pipeline runs. Each run builds fresh adapters and dedup
// contexts; Runner itself holds no per-run state.
type Runner struct {
	opts Options
}

func New(opts Options) (*Runner, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case opts.Fetchers == nil:
		return nil, errors.New("pipeline: fetchers are required")
	case opts.SourcesDir == "":
		return nil, errors.New("pipeline: sources dir is required")
	case opts.OutputDir == "":
		return nil, errors.New("pipeline: output dir is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}, nil
}

// Result is the outcome of one run.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceResult
	Calendars  []model.Calendar
	Report     Report
	Manifest   Manifest
}

// SourceResult is one source's outcome.
type SourceResult struct {
	Source    string
	Calendars int
	Events    int
	Errors    int
	Err       error
}

// Run executes one full pipeline pass. Only failures that prevent any
// output (unreadable sources dir, unwritable output dir) are returned;
// everything else lands in the report.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{StartedAt: r.opts.Now()}
	appLog.Info("pipeline run started", "sources_dir", r.opts.SourcesDir)

	sources, loadErrs, err := source.LoadDir(r.opts.SourcesDir)
	if err != nil {
		return nil, err
	}
	for _, lerr := range loadErrs {
		res.Report.AddError("", lerr)
	}

	for _, src := range sources {
		if r.opts.Only != "" && src.Name != r.opts.Only {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cals, sr := r.ripSource(ctx, src)
		if sr.Err != nil {
			res.Report.AddError(src.Name, sr.Err)
		}
		for i := range cals {
			res.Report.AddCalendar(&cals[i])
		}
		res.Sources = append(res.Sources, sr)
		res.Calendars = append(res.Calendars, cals...)
	}

	if r.opts.RecurringFile != "" && r.opts.Only == "" {
		defs, err := recurring.Load(r.opts.RecurringFile)
		if err != nil {
			res.Report.AddError(recurring.CalendarName, err)
		} else {
			cal := recurring.Calendar(defs, res.StartedAt)
			appLog.Info("recurring events resolved", "definitions", len(defs), "events", len(cal.Events))
			res.Calendars = append(res.Calendars, cal)
		}
	}

	if err := r.writeOutputs(ctx, res); err != nil {
		return nil, err
	}
	res.FinishedAt = r.opts.Now()

	if r.opts.History != nil {
		if _, err := r.opts.History.RecordRun(ctx, res.summary()); err != nil {
			appLog.Error("record run history failed", err)
		}
	}

	appLog.Info("pipeline run finished",
		"sources", len(res.Sources),
		"calendars", len(res.Calendars),
		"errors", res.Report.Count(""),
		"parse_errors", res.Report.Count(KindParse),
		"failed_sources", res.Report.Count(KindTransport)+res.Report.Count(KindFailure),
		"duration", res.FinishedAt.Sub(res.StartedAt).String(),
	)
	return res, nil
}

// ripSource runs one source in isolation. Errors and panics are returned in
// the SourceResult and never reach other sources.
func (r *Runner) ripSource(ctx context.Context, src *model.SourceConfig) (cals []model.Calendar, sr SourceResult) {
	sr.Source = src.Name
	defer func() {
		if p := recover(); p != nil {
			appLog.Error("adapter panicked", fmt.Errorf("%v", p), "source", src.Name)
			cals = nil
			sr.Err = fmt.Errorf("adapter panic: %v", p)
		}
	}()

	fetcher, err := r.opts.Fetchers.For(src.Proxy)
	if err != nil {
		sr.Err = &model.ConfigError{Source: src.Name, Reason: err.Error()}
		return nil, sr
	}
	deps := adapter.Deps{Fetcher: fetcher, Now: r.opts.Now, Keys: r.opts.Keys}

	a, err := r.opts.Registry.Resolve(src, deps)
	if err != nil {
		sr.Err = err
		return nil, sr
	}

	appLog.Debug("source run started", "source", src.Name, "calendars", len(src.Calendars))
	cals, err = a.Rip(ctx, src, adapter.NewSeen())
	if err != nil {
		appLog.Error("source run failed", err, "source", src.Name)
		sr.Err = err
		return nil, sr
	}

	sr.Calendars = len(cals)
	for _, c := range cals {
		sr.Events += len(c.Events)
		sr.Errors += len(c.Errors)
	}
	appLog.Info("source run finished", "source", src.Name, "calendars", sr.Calendars, "events", sr.Events, "errors", sr.Errors)
	return cals, sr
}

func (res *Result) summary() store.Run {
	run := store.Run{
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Sources:    len(res.Sources),
		Calendars:  len(res.Calendars),
		Errors:     len(res.Report.Entries),
	}
	for _, c := range res.Calendars {
		run.Events += len(c.Events)
	}
	for _, sr := range res.Sources {
		out := store.SourceResult{Source: sr.Source, Events: sr.Events, Errors: sr.Errors}
		if sr.Err != nil {
			out.Failure = sr.Err.Error()
		}
		run.Results = append(run.Results, out)
	}
	return run
}
