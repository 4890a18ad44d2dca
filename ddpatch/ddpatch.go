// Package ddpatch exposes the hunks of a unified diff as delta-debugging
// circumstances.
//
// Isolating failure-inducing changes starts from the unpatched base (no
// hunks, passing) and the fully patched file (all hunks, failing). Any subset
// of hunks can be applied independently because hunks of one file diff never
// overlap in the original.
package ddpatch

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Change is one hunk of a patch, identified by its position in the patch.
type Change struct {
	Index int
}

// Patch is a parsed single-file unified diff.
type Patch struct {
	file *diff.FileDiff
}

// Parse reads a unified diff that touches exactly one file.
func Parse(data []byte) (*Patch, error) {
	files, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("parse patch: want exactly one file diff, got %d", len(files))
	}
	fd := files[0]
	if len(fd.Hunks) == 0 {
		return nil, fmt.Errorf("parse patch: %s has no hunks", fd.OrigName)
	}
	prevEnd := 0
	for i, h := range fd.Hunks {
		start := origStart(h)
		if start < prevEnd {
			return nil, fmt.Errorf("parse patch: hunk %d overlaps or precedes hunk %d", i, i-1)
		}
		prevEnd = start + int(h.OrigLines)
	}
	return &Patch{file: fd}, nil
}

// origStart is the zero-based index of the first original line a hunk
// consumes. A hunk with no original lines inserts after OrigStartLine.
func origStart(h *diff.Hunk) int {
	if h.OrigLines == 0 {
		return int(h.OrigStartLine)
	}
	return int(h.OrigStartLine) - 1
}

// Changes returns one circumstance per hunk, in patch order.
func (p *Patch) Changes() []Change {
	out := make([]Change, len(p.file.Hunks))
	for i := range out {
		out[i] = Change{Index: i}
	}
	return out
}

// Names returns the original and new file names from the diff header.
func (p *Patch) Names() (orig, updated string) {
	return p.file.OrigName, p.file.NewName
}

// Apply patches base with the selected hunks. The order and multiplicity of
// changes do not matter. Context and removed lines must match base.
func (p *Patch) Apply(base []byte, changes []Change) ([]byte, error) {
	selected, err := p.selected(changes)
	if err != nil {
		return nil, err
	}
	lines := splitLines(base)
	var out bytes.Buffer
	out.Grow(len(base))
	next := 0
	for _, idx := range selected {
		h := p.file.Hunks[idx]
		start := origStart(h)
		if start > len(lines) {
			return nil, fmt.Errorf("apply hunk %d: starts at line %d, base has %d lines", idx, start+1, len(lines))
		}
		for ; next < start; next++ {
			out.WriteString(lines[next])
		}
		for _, hl := range hunkLines(h) {
			switch hl.op {
			case '+':
				out.WriteString(hl.text)
				if hl.newEOL {
					out.WriteByte('\n')
				}
			case '-', ' ':
				want := hl.text
				if hl.origEOL {
					want += "\n"
				}
				if next >= len(lines) || lines[next] != want {
					return nil, fmt.Errorf("apply hunk %d: line %d does not match %q", idx, next+1, want)
				}
				if hl.op == ' ' {
					out.WriteString(lines[next])
				}
				next++
			}
		}
	}
	for ; next < len(lines); next++ {
		out.WriteString(lines[next])
	}
	return out.Bytes(), nil
}

// Format renders the selected hunks as a unified diff with the original
// header, for reporting a failure-inducing subset.
func (p *Patch) Format(changes []Change) ([]byte, error) {
	selected, err := p.selected(changes)
	if err != nil {
		return nil, err
	}
	fd := *p.file
	fd.Hunks = make([]*diff.Hunk, 0, len(selected))
	for _, idx := range selected {
		fd.Hunks = append(fd.Hunks, p.file.Hunks[idx])
	}
	return diff.PrintFileDiff(&fd)
}

func (p *Patch) selected(changes []Change) ([]int, error) {
	seen := make(map[int]bool, len(changes))
	out := make([]int, 0, len(changes))
	for _, c := range changes {
		if c.Index < 0 || c.Index >= len(p.file.Hunks) {
			return nil, fmt.Errorf("change %d out of range [0,%d)", c.Index, len(p.file.Hunks))
		}
		if seen[c.Index] {
			continue
		}
		seen[c.Index] = true
		out = append(out, c.Index)
	}
	sort.Ints(out)
	return out, nil
}

// splitLines keeps line terminators so an unterminated last line survives.
func splitLines(b []byte) []string {
	lines := strings.SplitAfter(string(b), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

type hunkLine struct {
	op   byte
	text string
	// origEOL and newEOL report whether the line ends with a newline in the
	// original and the new file.
	origEOL bool
	newEOL  bool
}

// hunkLines decodes a hunk body. The parser drops "\ No newline at end of
// file" markers: after a new-side line it strips the preceding newline from
// the body, after a removed line it records the offset in OrigNoNewlineAt.
func hunkLines(h *diff.Hunk) []hunkLine {
	var out []hunkLine
	body := string(h.Body)
	offset := 0
	for body != "" {
		line, rest, terminated := strings.Cut(body, "\n")
		body = rest
		offset += len(line)
		if terminated {
			offset++
		}
		if strings.HasPrefix(line, `\`) {
			continue
		}
		hl := hunkLine{op: ' ', origEOL: terminated, newEOL: terminated}
		if line != "" {
			hl.op, hl.text = line[0], line[1:]
		}
		if hl.op == '-' && h.OrigNoNewlineAt > 0 && offset == int(h.OrigNoNewlineAt) {
			hl.origEOL = false
		}
		out = append(out, hl)
	}
	return out
}
