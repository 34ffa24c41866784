package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventripper/internal/model"
)

var stamp = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func occ(id, summary string, start time.Time) model.Occurrence {
	return model.Occurrence{ID: id, Summary: summary, Start: start, Duration: 2 * time.Hour}
}

func TestRenderEmptyCalendarIsValid(t *testing.T) {
	doc := Render(model.Calendar{Name: "empty"}, stamp)

	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(doc, "END:VCALENDAR\r\n"))
	assert.Contains(t, doc, "PRODID:"+ProductID)
	assert.Contains(t, doc, "X-WR-CALNAME:empty")
	assert.NotContains(t, doc, "BEGIN:VEVENT")

	_, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)
}

func TestRenderWritesZonedStart(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")
	o := occ("evt-1", "Brunch", time.Date(2026, 10, 18, 10, 0, 0, 0, la))
	o.RRule = "FREQ=WEEKLY;BYDAY=SU"
	o.Location = "Main St, Suite 4"
	o.URL = "https://example.com/e/1"
	o.Image = "https://example.com/i.png"

	doc := Render(model.Calendar{Name: "brunch", FriendlyName: "Brunch Club"}, stamp)
	assert.Contains(t, doc, "X-WR-CALNAME:Brunch Club")

	doc = RenderEvents("brunch", []model.Occurrence{o}, stamp)
	assert.Contains(t, doc, "DTSTART;TZID=America/Los_Angeles:20261018T100000\r\n")
	assert.Contains(t, doc, "DURATION:PT2H\r\n")
	assert.Contains(t, doc, "RRULE:FREQ=WEEKLY;BYDAY=SU\r\n")
	assert.Contains(t, doc, `LOCATION:Main St\, Suite 4`)
	assert.Contains(t, doc, "UID:evt-1\r\n")
	assert.Contains(t, doc, "DTSTAMP:20261014T090000Z\r\n")

	parsed, bad, err := ParseICS("brunch", []byte(doc))
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, parsed, 1)
	assert.True(t, parsed[0].Start.Equal(o.Start))
	assert.Equal(t, "America/Los_Angeles", parsed[0].StartTZ)
	assert.Equal(t, 2*time.Hour, parsed[0].End.Sub(parsed[0].Start))
	assert.Equal(t, "Main St, Suite 4", parsed[0].Location)
	assert.Equal(t, "https://example.com/e/1", parsed[0].URL)
}

func TestRenderWritesTimezoneForEachZone(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")
	tokyo := mustLoc(t, "Asia/Tokyo")
	doc := RenderEvents("x", []model.Occurrence{
		occ("a", "A", time.Date(2026, 10, 18, 10, 0, 0, 0, la)),
		occ("b", "B", time.Date(2026, 12, 1, 10, 0, 0, 0, la)),
		occ("c", "C", time.Date(2026, 10, 20, 19, 0, 0, 0, tokyo)),
		occ("d", "D", time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)),
	}, stamp)

	assert.Equal(t, 1, strings.Count(doc, "TZID:America/Los_Angeles\r\n"))
	assert.Equal(t, 1, strings.Count(doc, "TZID:Asia/Tokyo\r\n"))
	assert.Equal(t, 2, strings.Count(doc, "BEGIN:VTIMEZONE"))
	assert.Less(t, strings.Index(doc, "BEGIN:VTIMEZONE"), strings.Index(doc, "BEGIN:VEVENT"))

	assert.Contains(t, doc, "BEGIN:DAYLIGHT\r\nDTSTART:20260308T020000\r\nTZOFFSETFROM:-0800\r\nTZOFFSETTO:-0700\r\nTZNAME:PDT\r\nEND:DAYLIGHT\r\n")
	assert.Contains(t, doc, "BEGIN:STANDARD\r\nDTSTART:20261101T020000\r\nTZOFFSETFROM:-0700\r\nTZOFFSETTO:-0800\r\nTZNAME:PST\r\nEND:STANDARD\r\n")
	assert.Contains(t, doc, "TZOFFSETTO:+0900\r\n")

	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Len(t, cal.Timezones(), 2)

	merged := Merge("all", Document{Text: doc}, Document{Text: doc})
	assert.Equal(t, 2, strings.Count(merged, "BEGIN:VTIMEZONE"))
}

func TestRenderUTCOnlyHasNoTimezone(t *testing.T) {
	doc := RenderEvents("x", []model.Occurrence{occ("a", "A", stamp)}, stamp)
	assert.NotContains(t, doc, "BEGIN:VTIMEZONE")
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "+0000", formatOffset(0))
	assert.Equal(t, "-0800", formatOffset(-8*3600))
	assert.Equal(t, "+0530", formatOffset(5*3600+30*60))
	assert.Equal(t, "-003640", formatOffset(-(36*60 + 40)))
}

func TestRenderRoundTripUIDs(t *testing.T) {
	start := time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)

	distinct := []model.Occurrence{occ("a", "A", start), occ("b", "B", start), occ("c", "C", start)}
	assert.Equal(t, []string{"a", "b", "c"}, UIDs(RenderEvents("x", distinct, stamp)))

	colliding := []model.Occurrence{occ("a", "first", start), occ("b", "B", start), occ("a", "second", start)}
	doc := RenderEvents("x", colliding, stamp)
	assert.Equal(t, []string{"a", "b"}, UIDs(doc))
	assert.Contains(t, doc, "SUMMARY:first")
	assert.NotContains(t, doc, "SUMMARY:second")
}

func TestRenderProvenanceFromSourceCalendar(t *testing.T) {
	o := occ("a", "Show", stamp)
	o.Description = "Doors at 7"
	o.URL = "https://example.com/a"
	o.SourceCalendar = "club-main"

	parsed, _, err := ParseICS("x", []byte(RenderEvents("x", []model.Occurrence{o}, stamp)))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "Doors at 7\n\nhttps://example.com/a\n\nFrom club-main", parsed[0].Description)
}

func TestMergeDuplicateUIDFirstWins(t *testing.T) {
	start := time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)
	a := RenderEvents("a", []model.Occurrence{occ("evt-1", "Summary from A", start)}, stamp)
	b := RenderEvents("b", []model.Occurrence{occ("evt-1", "Summary from B", start)}, stamp)

	merged := Merge("all", Document{Text: a}, Document{Text: b})
	assert.Equal(t, 1, CountEvents(merged))
	assert.Contains(t, merged, "SUMMARY:Summary from A")
	assert.NotContains(t, merged, "Summary from B")

	reversed := Merge("all", Document{Text: b}, Document{Text: a})
	assert.Contains(t, reversed, "SUMMARY:Summary from B")
}

func TestMergeZeroInputs(t *testing.T) {
	merged := Merge("nothing")
	assert.Equal(t, 0, CountEvents(merged))
	assert.True(t, strings.HasPrefix(merged, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(merged, "END:VCALENDAR\r\n"))

	_, err := ical.ParseCalendar(strings.NewReader(merged))
	require.NoError(t, err)
}

func TestMergeProvenanceOrdering(t *testing.T) {
	o := occ("evt-1", "Jazz", stamp)
	o.Description = "Live music"
	o.URL = "https://club.example.com/e/1"
	bare := occ("evt-2", "Quiz", stamp)

	doc := RenderEvents("upstairs", []model.Occurrence{o, bare}, stamp)
	merged := Merge("music", Document{Source: "club-upstairs", Text: doc})

	parsed, bad, err := ParseICS("music", []byte(merged))
	require.NoError(t, err)
	require.Empty(t, bad)
	require.Len(t, parsed, 2)
	assert.Equal(t, "Live music\n\nhttps://club.example.com/e/1\n\nFrom club-upstairs", parsed[0].Description)
	assert.Equal(t, "From club-upstairs", parsed[1].Description)
	assert.Equal(t, 2, strings.Count(merged, SourceProperty+":club-upstairs"))
	assert.Equal(t, 2, strings.Count(merged, "CATEGORIES:club-upstairs"))
}

func TestMergeLeavesTaggedBlocksAlone(t *testing.T) {
	o := occ("evt-1", "Jazz", stamp)
	o.Description = "Live music"
	once := Merge("music", Document{Source: "club-upstairs", Text: RenderEvents("u", []model.Occurrence{o}, stamp)})
	twice := Merge("music", Document{Source: "aggregate", Text: once})

	assert.Equal(t, 1, strings.Count(twice, SourceProperty))
	assert.NotContains(t, twice, "From aggregate")
}

func TestMergeIsIdempotent(t *testing.T) {
	start := time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)
	a := RenderEvents("a", []model.Occurrence{occ("1", "one", start), occ("2", "two", start)}, stamp)
	b := RenderEvents("b", []model.Occurrence{occ("2", "dup", start), occ("3", "three", start)}, stamp)

	merged := Merge("all", Document{Source: "a", Text: a}, Document{Source: "b", Text: b})
	again := Merge("all", Document{Source: "x", Text: merged}, Document{Source: "y", Text: merged})

	assert.Equal(t, []string{"1", "2", "3"}, UIDs(merged))
	assert.Equal(t, UIDs(merged), UIDs(again))
	assert.Equal(t, CountEvents(merged), CountEvents(again))
	assert.Equal(t, merged, again)
}

func TestMergeKeepsOneTimezonePerTZID(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//upstream//EN",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"TZOFFSETFROM:+0200",
		"TZOFFSETTO:+0100",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:up-1",
		"DTSTAMP:20261001T000000Z",
		"DTSTART;TZID=Europe/Berlin:20261020T190000",
		"SUMMARY:Upstream",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:alarm text",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\n")

	merged := Merge("x", Document{Source: "feed", Text: feed}, Document{Source: "feed", Text: feed})
	assert.Equal(t, 1, strings.Count(merged, "BEGIN:VTIMEZONE"))
	assert.Equal(t, 1, CountEvents(merged))
	assert.Contains(t, merged, "DESCRIPTION:alarm text", "nested components are kept as-is")
	assert.Contains(t, merged, "DESCRIPTION:From feed")
}

func TestFoldKeepsLinesShortAndRoundTrips(t *testing.T) {
	line := "DESCRIPTION:" + strings.Repeat("café au lait ", 20)
	folded := fold(line)
	for _, l := range strings.Split(folded, "\r\n") {
		assert.LessOrEqual(t, len(l), maxLineOctets)
	}
	assert.Equal(t, []string{line}, unfold(folded))
}

func TestFoldCutsRunsWithoutRuneStart(t *testing.T) {
	line := "DESCRIPTION:" + strings.Repeat("\x80", 100)
	folded := fold(line)
	for _, l := range strings.Split(folded, "\r\n") {
		assert.LessOrEqual(t, len(l), maxLineOctets)
	}
	assert.Equal(t, []string{line}, unfold(folded))
}

func TestMergeFeedWithInvalidUTF8(t *testing.T) {
	summary := "SUMMARY:" + strings.Repeat("\xbf", 90)
	feed := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:bad-bytes",
		"DTSTART:20261020T190000Z",
		summary,
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	merged := Merge("agg", Document{Source: "feed", Text: feed})
	assert.Equal(t, []string{"bad-bytes"}, UIDs(merged))
	assert.Contains(t, unfold(merged), summary)
}

func TestMergeKeepsDescriptionParameters(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:de-1",
		"DTSTART:20261020T190000Z",
		"DESCRIPTION;LANGUAGE=de:Einlass um 19 Uhr",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	merged := Merge("agg", Document{Source: "berlin", Text: feed})
	assert.Contains(t, unfold(merged), `DESCRIPTION;LANGUAGE=de:Einlass um 19 Uhr\n\nFrom berlin`)
	assert.NotContains(t, merged, "\r\nDESCRIPTION:")
}

func TestSplitLine(t *testing.T) {
	name, value := splitLine(`ATTENDEE;CN="Doe: Jane":mailto:jane@example.com`)
	assert.Equal(t, "ATTENDEE", name)
	assert.Equal(t, "mailto:jane@example.com", value)

	name, value = splitLine("uid:abc")
	assert.Equal(t, "UID", name)
	assert.Equal(t, "abc", value)
}

func TestDurations(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT2H", 2 * time.Hour},
		{"PT90M", 90 * time.Minute},
		{"P1D", 24 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"P1DT2H30M15S", 26*time.Hour + 30*time.Minute + 15*time.Second},
		{"-PT15M", -15 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "P", "PT", "2H", "P1DT"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, "PT2H", FormatDuration(2*time.Hour))
	assert.Equal(t, "PT1H30M", FormatDuration(90*time.Minute))
	assert.Equal(t, "P1D", FormatDuration(24*time.Hour))
	assert.Equal(t, "P1DT1S", FormatDuration(24*time.Hour+time.Second))
	assert.Equal(t, "PT0S", FormatDuration(0))
}

const upstreamFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//upstream//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"DTSTART:20261005T190000Z\r\n" +
	"DTEND:20261005T200000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=10\r\n" +
	"EXDATE:20261019T190000Z\r\n" +
	"SUMMARY:Trivia\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"RECURRENCE-ID:20261026T190000Z\r\n" +
	"DTSTART:20261026T210000Z\r\n" +
	"DURATION:PT90M\r\n" +
	"SUMMARY:Trivia (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:once\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20261015\r\n" +
	"SUMMARY:Festival\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken\r\n" +
	"SUMMARY:no start\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICSCollectsBadEvents(t *testing.T) {
	events, bad, err := ParseICS("feed", []byte(upstreamFeed))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Len(t, bad, 1)
	assert.Equal(t, "broken", bad[0].UID)

	once := events[2]
	assert.True(t, once.AllDay)
	assert.Equal(t, 24*time.Hour, once.End.Sub(once.Start))

	moved := events[1]
	assert.True(t, moved.IsOverride)
	assert.Equal(t, 90*time.Minute, moved.End.Sub(moved.Start))

	_, _, err = ParseICS("feed", nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, _, err := ParseICS("feed", []byte(upstreamFeed))
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		RangeStart: time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	var got []string
	for _, in := range res.Instances {
		got = append(got, in.Key+" "+in.Event.Summary+" "+in.Start.Format("01-02T15"))
	}
	assert.Equal(t, []string{
		"weekly@20261012T190000Z Trivia 10-12T19",
		"once Festival 10-15T00",
		"weekly@20261026T190000Z Trivia (moved) 10-26T21",
		"weekly@20261102T190000Z Trivia 11-02T19",
	}, got)

	_, err = ExpandOccurrences(events, ExpandConfig{
		RangeStart: time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestExpandCap(t *testing.T) {
	ev := ParsedEvent{
		UID:      "daily",
		Start:    time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		RangeStart:             ev.Start,
		RangeEnd:               ev.Start.AddDate(0, 1, 0),
		MaxOccurrencesPerEvent: 5,
	})
	require.NoError(t, err)
	assert.Len(t, res.Instances, 5)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
}

func TestUIDsIgnoresNonEvents(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\nBEGIN:VTODO\nUID:todo\nEND:VTODO\nBEGIN:VEVENT\nUID:e\nEND:VEVENT\nEND:VCALENDAR\n")
	assert.Equal(t, []string{"e"}, UIDs(buf.String()))
}
