package window

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsupportedPlaceholder is returned by Compile for placeholders outside
// the allow-list.
var ErrUnsupportedPlaceholder = errors.New("unsupported url placeholder")

// datePatterns maps allowed placeholder patterns to Go layouts.
var datePatterns = map[string]string{
	"yyyy-MM-dd": "2006-01-02",
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// Template is a URL with date placeholders, validated at compile time.
type Template struct {
	raw          string
	placeholders []string
}

// Compile validates every {pattern} placeholder in raw.
func Compile(raw string) (*Template, error) {
	t := &Template{raw: raw}
	for _, m := range placeholderRe.FindAllStringSubmatch(raw, -1) {
		if _, ok := datePatterns[m[1]]; !ok {
			return nil, fmt.Errorf("window: %w {%s} in %q", ErrUnsupportedPlaceholder, m[1], raw)
		}
		t.placeholders = append(t.placeholders, m[1])
	}
	return t, nil
}

// URL substitutes every placeholder with day formatted per its pattern. All
// placeholders resolve from the same day.
func (t *Template) URL(day Day) string {
	out := t.raw
	for _, p := range t.placeholders {
		out = strings.ReplaceAll(out, "{"+p+"}", day.Format(datePatterns[p]))
	}
	return out
}

// HasPlaceholders reports whether the template varies by day.
func (t *Template) HasPlaceholders() bool {
	return len(t.placeholders) > 0
}

func (t *Template) String() string {
	return t.raw
}
