package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a calendar-granular span (years, months, days) such as "P2W".
type Period struct {
	Years  int
	Months int
	Days   int
}

var periodRe = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?$`)

// ParsePeriod parses the date part of an ISO-8601 duration ("P1D", "P2W",
// "P1M", "P1Y2M10D"). Time components are not supported.
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	m := periodRe.FindStringSubmatch(s)
	if m == nil || s == "P" {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	atoi := func(v string) int {
		if v == "" {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	return Period{
		Years:  atoi(m[1]),
		Months: atoi(m[2]),
		Days:   atoi(m[3])*7 + atoi(m[4]),
	}, nil
}

func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0
}

// AddTo returns t advanced by the period using calendar arithmetic.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.Years, p.Months, p.Days)
}

func (p Period) String() string {
	if p.IsZero() {
		return "P0D"
	}
	var b strings.Builder
	b.WriteString("P")
	if p.Years > 0 {
		b.WriteString(strconv.Itoa(p.Years) + "Y")
	}
	if p.Months > 0 {
		b.WriteString(strconv.Itoa(p.Months) + "M")
	}
	if p.Days > 0 {
		b.WriteString(strconv.Itoa(p.Days) + "D")
	}
	return b.String()
}

func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Proxy modes accepted by SourceConfig.Proxy.
const (
	ProxyDirect  = "direct"
	ProxyRelay   = "relay"
	ProxyBrowser = "browser"
)

// CalendarSpec is one named output stream within a source.
type CalendarSpec struct {
	// Name is unique per source and used as the output key.
	Name         string         `yaml:"name" json:"name"`
	FriendlyName string         `yaml:"friendly_name" json:"friendly_name"`
	Timezone     string         `yaml:"timezone" json:"timezone"`
	Tags         []string       `yaml:"tags" json:"tags"`
	Config       map[string]any `yaml:"config" json:"config,omitempty"`
}

// Location resolves the calendar's IANA timezone. An empty timezone is UTC.
func (c *CalendarSpec) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// String returns config[key] when it is a non-empty string.
func (c *CalendarSpec) String(key string) (string, bool) {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case int:
		return strconv.Itoa(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// StringOr returns config[key] or def when the key is absent.
func (c *CalendarSpec) StringOr(key, def string) string {
	if v, ok := c.String(key); ok {
		return v
	}
	return def
}

// Bool returns config[key] when it is a bool.
func (c *CalendarSpec) Bool(key string) bool {
	b, _ := c.Config[key].(bool)
	return b
}

// SourceConfig identifies one source and the calendars it feeds.
type SourceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	// Type names a built-in adapter; Custom names a statically linked custom
	// adapter. Exactly one must be set.
	Type   string `yaml:"type" json:"type,omitempty"`
	Custom string `yaml:"custom" json:"custom,omitempty"`

	Lookahead Period         `yaml:"lookahead" json:"lookahead"`
	URL       string         `yaml:"url" json:"url"`
	Calendars []CalendarSpec `yaml:"calendars" json:"calendars"`
	Disabled  bool           `yaml:"disabled" json:"disabled"`
	Proxy     string         `yaml:"proxy" json:"proxy"`

	// Dir is the directory the config was loaded from.
	Dir string `yaml:"-" json:"-"`
}

// LookaheadOrDefault returns the lookahead, defaulting to one day.
func (s *SourceConfig) LookaheadOrDefault() Period {
	if s.Lookahead.IsZero() {
		return Period{Days: 1}
	}
	return s.Lookahead
}

// Validate checks the invariants that do not depend on the adapter registry.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return &ConfigError{Source: s.Dir, Reason: "source name is empty"}
	}
	switch {
	case s.Type != "" && s.Custom != "":
		return &ConfigError{Source: s.Name, Reason: "both type and custom adapter declared"}
	case s.Type == "" && s.Custom == "":
		return &ConfigError{Source: s.Name, Reason: "neither type nor custom adapter declared"}
	}
	switch s.Proxy {
	case "", ProxyDirect, ProxyRelay, ProxyBrowser:
	default:
		return &ConfigError{Source: s.Name, Reason: fmt.Sprintf("unknown proxy mode %q", s.Proxy)}
	}
	seen := make(map[string]bool, len(s.Calendars))
	for i := range s.Calendars {
		c := &s.Calendars[i]
		if c.Name == "" {
			return &ConfigError{Source: s.Name, Reason: fmt.Sprintf("calendar #%d has no name", i)}
		}
		if seen[c.Name] {
			return &ConfigError{Source: s.Name, Calendar: c.Name, Reason: "duplicate calendar name"}
		}
		seen[c.Name] = true
		if _, err := c.Location(); err != nil {
			return &ConfigError{Source: s.Name, Calendar: c.Name, Reason: "invalid timezone " + c.Timezone}
		}
	}
	return nil
}

// Calendar is the output of one adapter run for one CalendarSpec.
type Calendar struct {
	Name         string
	FriendlyName string
	Events       []Occurrence
	Errors       []ParseError
	Parent       *SourceConfig
	Tags         []string
}

// Key is the output key: "<source>-<calendar>", or the bare name when the
// calendar has no parent source.
func (c *Calendar) Key() string {
	if c.Parent == nil || c.Parent.Name == "" {
		return c.Name
	}
	return c.Parent.Name + "-" + c.Name
}

// DisplayName prefers the friendly name.
func (c *Calendar) DisplayName() string {
	if c.FriendlyName != "" {
		return c.FriendlyName
	}
	return c.Name
}
