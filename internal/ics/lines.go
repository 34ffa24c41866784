package ics

import (
	"strings"
	"unicode/utf8"
)

const maxLineOctets = 75

// unfold splits a document into logical content lines, joining RFC 5545
// continuation lines and accepting either CRLF or LF endings.
func unfold(doc string) []string {
	raw := strings.Split(doc, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(out) > 0 {
			out[len(out)-1] += l[1:]
			continue
		}
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// fold breaks a content line into chunks of at most 75 octets without
// splitting a UTF-8 sequence. Continuation chunks start with a space. A run
// of bytes with no rune start in reach is cut at the octet limit.
func fold(line string) string {
	if len(line) <= maxLineOctets {
		return line
	}
	var b strings.Builder
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLineOctets - 1
	}
	b.WriteString(line)
	return b.String()
}

// splitLine returns the upper-cased property name and the raw value of a
// content line. Colons inside quoted parameter values are skipped.
func splitLine(line string) (name, value string) {
	end := strings.IndexAny(line, ";:")
	if end < 0 {
		return strings.ToUpper(line), ""
	}
	name = strings.ToUpper(line[:end])
	quoted := false
	for i := end; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ':':
			if !quoted {
				return name, line[i+1:]
			}
		}
	}
	return name, ""
}

var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `;`, `\;`, `,`, `\,`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\;`, `;`, `\,`, `,`)
)

func escapeText(s string) string   { return textEscaper.Replace(s) }
func unescapeText(s string) string { return textUnescaper.Replace(s) }
