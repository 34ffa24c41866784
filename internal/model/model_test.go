package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPartitionKeepsOrder(t *testing.T) {
	start := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	events := []Event{
		NewOccurrence(Occurrence{ID: "a", Start: start}),
		NewParseError("bad date", "row-2"),
		NewOccurrence(Occurrence{ID: "b", Start: start}),
	}

	occs, errs := Partition(events)
	require.Len(t, occs, 2)
	require.Len(t, errs, 1)
	assert.Equal(t, "a", occs[0].ID)
	assert.Equal(t, "b", occs[1].ID)
	assert.Equal(t, "bad date: row-2", errs[0].String())
}

func TestPartitionPanicsOnZeroEvent(t *testing.T) {
	assert.Panics(t, func() { Partition([]Event{{}}) })
}

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in   string
		want Period
	}{
		{"P1D", Period{Days: 1}},
		{"P2W", Period{Days: 14}},
		{"P1M", Period{Months: 1}},
		{"p1y2m3d", Period{Years: 1, Months: 2, Days: 3}},
	}
	for _, tc := range cases {
		got, err := ParsePeriod(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "P", "1D", "PT1H", "P1H"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestPeriodAddToUsesCalendarDays(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// Crosses the November DST change; calendar arithmetic keeps midnight.
	start := time.Date(2026, 10, 31, 0, 0, 0, 0, loc)
	end := Period{Days: 2}.AddTo(start)
	assert.True(t, end.Equal(time.Date(2026, 11, 2, 0, 0, 0, 0, loc)), end)
	assert.Equal(t, 0, end.Hour())
}

func TestSourceConfigYAML(t *testing.T) {
	doc := `
name: jazz-club
description: Downtown jazz listings
type: htmllist
lookahead: P2W
url: https://example.com/{yyyy-MM-dd}
calendars:
  - name: main
    friendly_name: Main Stage
    timezone: America/Los_Angeles
    tags: [music, jazz]
    config:
      venue_id: 42
`
	var src SourceConfig
	require.NoError(t, yaml.Unmarshal([]byte(doc), &src))
	require.NoError(t, src.Validate())

	assert.Equal(t, Period{Days: 14}, src.Lookahead)
	require.Len(t, src.Calendars, 1)
	cal := src.Calendars[0]
	id, ok := cal.String("venue_id")
	assert.True(t, ok)
	assert.Equal(t, "42", id)
	assert.Equal(t, []string{"music", "jazz"}, cal.Tags)
}

func TestSourceConfigValidate(t *testing.T) {
	base := func() SourceConfig {
		return SourceConfig{
			Name:      "s",
			Type:      "htmllist",
			Calendars: []CalendarSpec{{Name: "a", Timezone: "UTC"}},
		}
	}

	both := base()
	both.Custom = "mine"
	neither := base()
	neither.Type = ""
	dup := base()
	dup.Calendars = append(dup.Calendars, CalendarSpec{Name: "a"})
	badTZ := base()
	badTZ.Calendars[0].Timezone = "Mars/Olympus"
	badProxy := base()
	badProxy.Proxy = "carrier-pigeon"

	for name, src := range map[string]SourceConfig{
		"both": both, "neither": neither, "dup": dup, "tz": badTZ, "proxy": badProxy,
	} {
		err := src.Validate()
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr), name)
	}

	ok := base()
	assert.NoError(t, ok.Validate())
	assert.Equal(t, Period{Days: 1}, ok.LookaheadOrDefault())
}

func TestCalendarKey(t *testing.T) {
	src := &SourceConfig{Name: "club"}
	c := Calendar{Name: "main", Parent: src}
	assert.Equal(t, "club-main", c.Key())
	assert.Equal(t, "main", c.DisplayName())

	orphan := Calendar{Name: "recurring", FriendlyName: "Recurring"}
	assert.Equal(t, "recurring", orphan.Key())
	assert.Equal(t, "Recurring", orphan.DisplayName())
}
