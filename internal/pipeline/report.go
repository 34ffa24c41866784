package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"eventripper/internal/fetch"
	"eventripper/internal/model"
)

// Entry kinds in the error report.
const (
	KindConfig    = "config"
	KindImport    = "import"
	KindFile      = "file"
	KindTransport = "transport"
	KindParse     = "parse"
	KindFailure   = "failure"
)

// Entry is one line of the error report.
type Entry struct {
	Kind     string `json:"kind"`
	Source   string `json:"source,omitempty"`
	Calendar string `json:"calendar,omitempty"`
	Reason   string `json:"reason"`
	Context  string `json:"context,omitempty"`
}

func (e Entry) String() string {
	where := e.Source
	if e.Calendar != "" {
		where += "/" + e.Calendar
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if where != "" {
		b.WriteString(" " + where + ":")
	}
	b.WriteString(" " + e.Reason)
	if e.Context != "" {
		b.WriteString(" (" + e.Context + ")")
	}
	return b.String()
}

// Report aggregates every per-source and per-event problem of a run.
type Report struct {
	Entries []Entry
}

// AddError classifies err and records it against source.
func (r *Report) AddError(source string, err error) {
	var (
		cfgErr  *model.ConfigError
		impErr  *model.ImportError
		fileErr *model.FileParseError
		httpErr *fetch.HTTPError
	)
	switch {
	case errors.As(err, &cfgErr):
		r.Entries = append(r.Entries, Entry{Kind: KindConfig, Source: cfgErr.Source, Calendar: cfgErr.Calendar, Reason: cfgErr.Reason})
	case errors.As(err, &impErr):
		r.Entries = append(r.Entries, Entry{Kind: KindImport, Source: impErr.Source, Reason: impErr.Err.Error()})
	case errors.As(err, &fileErr):
		r.Entries = append(r.Entries, Entry{Kind: KindFile, Source: source, Reason: fileErr.Err.Error(), Context: fileErr.Path})
	case errors.As(err, &httpErr):
		r.Entries = append(r.Entries, Entry{Kind: KindTransport, Source: source, Reason: httpErr.Error()})
	default:
		r.Entries = append(r.Entries, Entry{Kind: KindFailure, Source: source, Reason: err.Error()})
	}
}

// AddCalendar records the parse errors of one calendar.
func (r *Report) AddCalendar(c *model.Calendar) {
	source := ""
	if c.Parent != nil {
		source = c.Parent.Name
	}
	for _, pe := range c.Errors {
		r.Entries = append(r.Entries, Entry{
			Kind:     KindParse,
			Source:   source,
			Calendar: c.Name,
			Reason:   pe.Reason,
			Context:  pe.Context,
		})
	}
}

// Count returns the number of entries of kind, or all entries for "".
func (r *Report) Count(kind string) int {
	if kind == "" {
		return len(r.Entries)
	}
	n := 0
	for _, e := range r.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Text renders the report as the errors.txt document.
func (r *Report) Text(generated time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# eventripper error report, generated %s\n", generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "# %d problem(s)\n", len(r.Entries))
	for _, e := range r.Entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
