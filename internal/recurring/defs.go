package recurring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"eventripper/internal/model"
)

const defaultDuration = time.Hour

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("recurring.eventripper"))

// Def is one declaratively scheduled event.
type Def struct {
	Name        string   `yaml:"name"`
	Schedule    string   `yaml:"schedule"`
	StartTime   string   `yaml:"start_time"`
	Duration    string   `yaml:"duration"`
	Timezone    string   `yaml:"timezone"`
	Location    string   `yaml:"location"`
	URL         string   `yaml:"url"`
	Description string   `yaml:"description"`
	Season      string   `yaml:"season"`
	Months      []int    `yaml:"months"`
	Tags        []string `yaml:"tags"`
}

// Load reads a recurring-events file. The file is all-or-nothing: any
// malformed record fails the whole load with a *model.FileParseError.
// Unrecognized schedule shapes are not load errors; Resolve skips them.
func Load(path string) ([]Def, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.FileParseError{Path: path, Err: err}
	}
	defs, err := Decode(raw)
	if err != nil {
		return nil, &model.FileParseError{Path: path, Err: err}
	}
	return defs, nil
}

// Decode parses and validates YAML-encoded definitions.
func Decode(raw []byte) ([]Def, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var defs []Def
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var errs []error
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i+1, defs[i].Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return defs, nil
}

// Validate checks the record's shape.
func (d *Def) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(d.Schedule) == "" {
		return errors.New("schedule is required")
	}
	if _, _, err := d.clock(); err != nil {
		return err
	}
	if _, err := d.duration(); err != nil {
		return err
	}
	if _, err := d.location(); err != nil {
		return fmt.Errorf("timezone %q: %w", d.Timezone, err)
	}
	for _, m := range d.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("month %d out of range", m)
		}
	}
	if d.Season != "" {
		if _, ok := SeasonMonths(d.Season); !ok {
			return fmt.Errorf("unknown season %q", d.Season)
		}
	}
	return nil
}

// UID is stable across runs for the same name and schedule.
func (d *Def) UID() string {
	return uuid.NewSHA1(uidNamespace, []byte(d.Name+"\x00"+d.Schedule)).String()
}

func (d *Def) location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(d.Timezone)
}

func (d *Def) duration() (time.Duration, error) {
	if d.Duration == "" {
		return defaultDuration, nil
	}
	dur, err := time.ParseDuration(d.Duration)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid duration %q", d.Duration)
	}
	return dur, nil
}

// clock parses start_time as "19:30", "7:30pm" or "7pm".
func (d *Def) clock() (hour, minute int, err error) {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(d.StartTime)), " ", "")
	if s == "" {
		return 0, 0, errors.New("start_time is required")
	}
	for _, layout := range []string{"15:04", "3:04pm", "3pm"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("invalid start_time %q", d.StartTime)
}
