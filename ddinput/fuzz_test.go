package ddinput_test

import (
	"strings"
	"testing"

	"github.com/lattice-substrate/delta-debug/ddinput"
)

// FuzzSplitRenderRoundTrip: for every unit, rendering the split input gives
// the input back, indices are dense, and masking with every circumstance
// present is the identity.
func FuzzSplitRenderRoundTrip(f *testing.F) {
	seeds := []string{
		"",
		`<SELECT NAME="priority" MULTIPLE SIZE=7>`,
		"line one\nline two\nno newline",
		"  leading\tand trailing  \n",
		"\xff\xfe invalid utf-8",
		"héllo wörld\r\n",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, in string) {
		if len(in) > 1<<16 {
			return
		}
		for _, unit := range ddinput.Units() {
			all, err := ddinput.Split(in, unit)
			if err != nil {
				t.Fatalf("Split(%s): %v", unit, err)
			}
			for i, c := range all {
				if c.Index != i {
					t.Fatalf("Split(%s): circumstance %d has index %d", unit, i, c.Index)
				}
				if c.Text == "" {
					t.Fatalf("Split(%s): circumstance %d is empty", unit, i)
				}
			}
			if got := ddinput.Render(all); got != in {
				t.Fatalf("Render(Split(%s)) = %q, want %q", unit, got, in)
			}
			if got := ddinput.Mask(all, all, '.'); got != in {
				t.Fatalf("Mask(%s) with all present = %q, want %q", unit, got, in)
			}
			if got := ddinput.Mask(all, nil, '.'); strings.Count(got, "\n") != strings.Count(in, "\n") {
				t.Fatalf("Mask(%s) with none present dropped newlines: %q", unit, got)
			}
		}
	})
}
