package ics

import (
	"strings"
)

// Document is one already-rendered ICS input to Merge.
type Document struct {
	// Source names the calendar the document came from. When set, merged
	// events that carry no provenance yet are tagged with it.
	Source string
	Text   string
}

// component is one top-level VEVENT or VTIMEZONE block as unfolded lines,
// BEGIN and END included.
type component struct {
	kind  string
	lines []string
}

// Merge combines documents into a single VCALENDAR named name. VEVENTs are
// deduplicated by UID with the first occurrence in argument order kept, so
// callers list primary documents first. VTIMEZONE blocks are deduplicated
// by TZID. Merging no documents yields a valid empty calendar.
func Merge(name string, docs ...Document) string {
	var zones, events []string
	uids := make(map[string]struct{})
	tzids := make(map[string]struct{})

	for _, d := range docs {
		for _, c := range components(d.Text) {
			switch c.kind {
			case "VTIMEZONE":
				id := c.prop("TZID")
				if _, dup := tzids[id]; dup {
					continue
				}
				tzids[id] = struct{}{}
				zones = append(zones, c.text())
			case "VEVENT":
				if uid := c.prop("UID"); uid != "" {
					if _, dup := uids[uid]; dup {
						continue
					}
					uids[uid] = struct{}{}
				}
				if d.Source != "" && !c.has(SourceProperty) {
					c = c.withProvenance(d.Source)
				}
				events = append(events, c.text())
			}
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimSuffix(serialize(newCalendar(name)), "END:VCALENDAR\r\n"))
	for _, z := range zones {
		b.WriteString(z)
	}
	for _, e := range events {
		b.WriteString(e)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

// UIDs returns the distinct VEVENT UIDs of doc in document order.
func UIDs(doc string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range components(doc) {
		if c.kind != "VEVENT" {
			continue
		}
		uid := c.prop("UID")
		if _, dup := seen[uid]; dup || uid == "" {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}

// CountEvents returns the number of VEVENT blocks in doc.
func CountEvents(doc string) int {
	n := 0
	for _, c := range components(doc) {
		if c.kind == "VEVENT" {
			n++
		}
	}
	return n
}

func components(doc string) []component {
	var (
		out   []component
		cur   *component
		depth int
	)
	for _, l := range unfold(doc) {
		name, value := splitLine(l)
		if cur == nil {
			v := strings.ToUpper(value)
			if name == "BEGIN" && (v == "VEVENT" || v == "VTIMEZONE") {
				cur = &component{kind: v, lines: []string{l}}
				depth = 1
			}
			continue
		}
		cur.lines = append(cur.lines, l)
		switch name {
		case "BEGIN":
			depth++
		case "END":
			depth--
		}
		if depth == 0 {
			out = append(out, *cur)
			cur = nil
		}
	}
	return out
}

// props calls fn for every property line directly inside the component,
// skipping nested components such as VALARM.
func (c component) props(fn func(i int, name, value string)) {
	depth := 0
	for i, l := range c.lines {
		name, value := splitLine(l)
		switch name {
		case "BEGIN":
			depth++
			continue
		case "END":
			depth--
			continue
		}
		if depth == 1 {
			fn(i, name, value)
		}
	}
}

func (c component) prop(name string) string {
	found := ""
	c.props(func(_ int, n, v string) {
		if n == name && found == "" {
			found = v
		}
	})
	return found
}

func (c component) has(name string) bool {
	found := false
	c.props(func(_ int, n, _ string) {
		if n == name {
			found = true
		}
	})
	return found
}

// withProvenance returns a copy tagged with source: a source marker, a
// category and a description ending in "From <source>".
func (c component) withProvenance(source string) component {
	descAt := -1
	descPrefix := "DESCRIPTION:"
	var desc, url string
	c.props(func(i int, n, v string) {
		switch n {
		case "DESCRIPTION":
			if descAt < 0 {
				descAt = i
				desc = unescapeText(v)
				// keep parameters such as LANGUAGE
				descPrefix = c.lines[i][:len(c.lines[i])-len(v)]
			}
		case "URL":
			if url == "" {
				url = v
			}
		}
	})

	descLine := descPrefix + escapeText(ProvenanceDescription(desc, url, source))
	lines := make([]string, 0, len(c.lines)+3)
	for i, l := range c.lines[:len(c.lines)-1] {
		if i == descAt {
			lines = append(lines, descLine)
			continue
		}
		lines = append(lines, l)
	}
	if descAt < 0 {
		lines = append(lines, descLine)
	}
	lines = append(lines,
		SourceProperty+":"+escapeText(source),
		"CATEGORIES:"+escapeText(source),
		c.lines[len(c.lines)-1],
	)
	return component{kind: c.kind, lines: lines}
}

func (c component) text() string {
	var b strings.Builder
	for _, l := range c.lines {
		b.WriteString(fold(l))
		b.WriteString("\r\n")
	}
	return b.String()
}
