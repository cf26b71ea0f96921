// Package markdown parses the constrained Markdown dialect produced by the
// instruction generator into typed lines.
package markdown

import (
	"strings"
)

// Kind classifies a rendered line.
type Kind string

const (
	KindHeading Kind = "heading"
	KindBold    Kind = "bold"
	KindPlain   Kind = "plain"
)

// DisclaimerHeading is the section every set of instructions must end with.
const DisclaimerHeading = "Disclaimer"

// Line is one non-blank line of instructions.
type Line struct {
	Kind  Kind   `json:"kind"`
	Level int    `json:"level,omitempty"`
	Text  string `json:"text"`
}

// Parse splits text into lines, dropping blank ones. A line is a heading when
// it starts with one to six '#' followed by a space, and bold when it starts
// with "**" or "* **" (asterisks are removed from bold text).
func Parse(text string) []Line {
	var lines []Line
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines = append(lines, parseLine(raw))
	}
	return lines
}

func parseLine(s string) Line {
	if level := headingLevel(s); level > 0 {
		return Line{Kind: KindHeading, Level: level, Text: strings.TrimSpace(s[level+1:])}
	}
	if strings.HasPrefix(s, "* **") || strings.HasPrefix(s, "**") {
		return Line{Kind: KindBold, Text: strings.TrimSpace(strings.ReplaceAll(s, "*", ""))}
	}
	return Line{Kind: KindPlain, Text: s}
}

func headingLevel(s string) int {
	n := 0
	for n < len(s) && s[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(s) || s[n] != ' ' {
		return 0
	}
	return n
}

// MaxHeadingLevel returns the deepest heading level in lines, or 0.
func MaxHeadingLevel(lines []Line) int {
	deepest := 0
	for _, l := range lines {
		if l.Kind == KindHeading && l.Level > deepest {
			deepest = l.Level
		}
	}
	return deepest
}

// DisclaimerCount counts "## Disclaimer" headings.
func DisclaimerCount(lines []Line) int {
	n := 0
	for _, l := range lines {
		if l.Kind == KindHeading && l.Level == 2 && strings.EqualFold(l.Text, DisclaimerHeading) {
			n++
		}
	}
	return n
}

// WellFormed reports whether lines use only level 2 and 3 headings and carry
// exactly one disclaimer section.
func WellFormed(lines []Line) bool {
	for _, l := range lines {
		if l.Kind == KindHeading && (l.Level < 2 || l.Level > 3) {
			return false
		}
	}
	return DisclaimerCount(lines) == 1
}
