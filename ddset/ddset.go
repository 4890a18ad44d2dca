// Package ddset implements the configuration algebra used by delta debugging.
//
// A configuration is an ordered slice of comparable circumstances. All
// functions return freshly allocated slices: a result never shares a backing
// array with an argument, so mutating one derived configuration cannot
// corrupt another.
package ddset

// Split partitions c into n contiguous, non-empty subsets whose concatenation
// is c. Starting at offset 0, subset i takes ceil((len(c)-start)/(n-i))
// elements, so remainder elements go to the earlier subsets.
//
// n is clamped to [1, len(c)]; an empty c yields no subsets.
func Split[T comparable](c []T, n int) [][]T {
	if len(c) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > len(c) {
		n = len(c)
	}
	subsets := make([][]T, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		rest := n - i
		size := (len(c) - start + rest - 1) / rest
		subsets = append(subsets, Clone(c[start:start+size]))
		start += size
	}
	return subsets
}

// Minus returns the elements of a not present in b, preserving a's order.
func Minus[T comparable](a, b []T) []T {
	drop := make(map[T]struct{}, len(b))
	for _, e := range b {
		drop[e] = struct{}{}
	}
	out := make([]T, 0, len(a))
	for _, e := range a {
		if _, ok := drop[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// Union concatenates a then b without deduplication.
func Union[T comparable](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// UnionUnique concatenates a then b, keeping only the first occurrence of
// each element. The result is duplicate-free even when a is not.
func UnionUnique[T comparable](a, b []T) []T {
	seen := make(map[T]struct{}, len(a)+len(b))
	out := make([]T, 0, len(a)+len(b))
	for _, c := range [][]T{a, b} {
		for _, e := range c {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// Unique returns the distinct elements of c in first-occurrence order.
func Unique[T comparable](c []T) []T {
	return UnionUnique(c, nil)
}

// Contains reports whether every element of sub occurs in c.
func Contains[T comparable](c, sub []T) bool {
	have := make(map[T]struct{}, len(c))
	for _, e := range c {
		have[e] = struct{}{}
	}
	for _, e := range sub {
		if _, ok := have[e]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a copy of c with its own backing array. Clone(nil) is an
// empty, non-nil slice.
func Clone[T any](c []T) []T {
	out := make([]T, len(c))
	copy(out, c)
	return out
}
