// Package ddinput turns text into delta-debugging circumstances and back.
//
// A circumstance is one unit of the input (a character, a line, or a word
// with its trailing whitespace) tagged with its position in the original
// text. Rendering orders circumstances by position, so configurations built
// by unions in any order render as a subsequence of the input.
package ddinput

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unit selects how text is split into circumstances.
type Unit string

const (
	UnitChar Unit = "char"
	UnitLine Unit = "line"
	UnitWord Unit = "word"
)

// ParseUnit validates a unit name.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(s))); u {
	case UnitChar, UnitLine, UnitWord:
		return u, nil
	default:
		return "", fmt.Errorf("unknown unit %q (want char, line or word)", s)
	}
}

// Units lists the supported units.
func Units() []Unit {
	return []Unit{UnitChar, UnitLine, UnitWord}
}

// Circumstance is one unit of input text. Index is its position among the
// circumstances of the original text, not a byte offset.
type Circumstance struct {
	Index int
	Text  string
}

// Split cuts text into circumstances. Concatenating the Text of all of them
// in order reproduces text exactly.
//
// char yields one circumstance per rune. line yields one per line including
// its newline. word yields each run of non-space runes together with the
// whitespace that follows it; leading whitespace is its own circumstance.
func Split(text string, unit Unit) ([]Circumstance, error) {
	var parts []string
	switch unit {
	case UnitChar:
		parts = splitChars(text)
	case UnitLine:
		parts = strings.SplitAfter(text, "\n")
	case UnitWord:
		parts = splitWords(text)
	default:
		return nil, fmt.Errorf("unknown unit %q", unit)
	}
	out := make([]Circumstance, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, Circumstance{Index: len(out), Text: p})
	}
	return out, nil
}

func splitChars(text string) []string {
	parts := make([]string, 0, utf8.RuneCountInString(text))
	for len(text) > 0 {
		_, size := utf8.DecodeRuneInString(text)
		parts = append(parts, text[:size])
		text = text[size:]
	}
	return parts
}

func splitWords(text string) []string {
	var parts []string
	start := 0
	inSpace := true
	for i, r := range text {
		space := unicode.IsSpace(r)
		// A word starts on the first non-space rune after whitespace.
		if !space && inSpace && i > start {
			parts = append(parts, text[start:i])
			start = i
		}
		inSpace = space
	}
	return append(parts, text[start:])
}

// Render concatenates the circumstances ordered by Index.
func Render(c []Circumstance) string {
	sorted := sortedByIndex(c)
	var b strings.Builder
	for _, e := range sorted {
		b.WriteString(e.Text)
	}
	return b.String()
}

// Mask renders all, replacing every rune of a circumstance absent from
// subset with placeholder. Newlines are kept so line-oriented input stays
// readable.
func Mask(all, subset []Circumstance, placeholder rune) string {
	present := make(map[int]bool, len(subset))
	for _, e := range subset {
		present[e.Index] = true
	}
	var b strings.Builder
	for _, e := range sortedByIndex(all) {
		if present[e.Index] {
			b.WriteString(e.Text)
			continue
		}
		for _, r := range e.Text {
			if r == '\n' {
				b.WriteRune(r)
				continue
			}
			b.WriteRune(placeholder)
		}
	}
	return b.String()
}

func sortedByIndex(c []Circumstance) []Circumstance {
	sorted := make([]Circumstance, len(c))
	copy(sorted, c)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}
