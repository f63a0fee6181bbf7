package ingest

import (
	"strings"
)

// Section is a run of text under one markdown heading. Text before the
// first heading forms a section with an empty Heading.
type Section struct {
	// Heading is the heading text without the leading hashes. May be empty.
	Heading string
	// Body is the section text, trimmed of surrounding whitespace.
	Body string
}

// SplitSections splits markdown text at ATX headings (lines starting with
// one or more '#'). Sections with empty bodies are dropped, so a heading
// directly followed by another heading contributes nothing. Plain text
// without any headings yields a single heading-less section.
func SplitSections(text string) []Section {
	lines := strings.Split(text, "\n")

	var out []Section
	current := Section{}
	var body []string

	flush := func() {
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Body != "" {
			out = append(out, current)
		}
		body = body[:0]
	}

	for _, line := range lines {
		if heading, ok := parseHeading(line); ok {
			flush()
			current = Section{Heading: heading}
			continue
		}
		body = append(body, line)
	}
	flush()

	return out
}

// parseHeading reports whether line is an ATX markdown heading and returns
// its text. A heading is 1-6 '#' characters followed by a space.
func parseHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}

	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return "", false
	}

	return strings.TrimSpace(trimmed[level:]), true
}
