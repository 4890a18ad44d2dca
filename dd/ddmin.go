package dd

import (
	"context"

	"go.uber.org/zap"

	"github.com/lattice-substrate/delta-debug/ddset"
)

// Minimize returns a 1-minimal failing subset of circumstances: testing it
// yields Fail, and removing any single circumstance no longer does.
//
// It requires test(∅) = Pass and test(circumstances) = Fail and reports a
// PRECONDITION error otherwise. The input slice is not modified.
func (d *Debugger[T]) Minimize(ctx context.Context, circumstances []T) ([]T, error) {
	s, err := newSearch(ctx, d, "ddmin")
	if err != nil {
		return nil, err
	}
	s.log.Info("ddmin started", zap.Int("circumstances", len(circumstances)))

	if err := s.expect([]T{}, Pass, checkPrecondition, "empty", 0); err != nil {
		return nil, err
	}
	if err := s.expect(circumstances, Fail, checkPrecondition, "circumstances", 0); err != nil {
		return nil, err
	}

	c := ddset.Clone(circumstances)
	n := 2
	round := 0
	for len(c) >= 2 {
		round++
		if n > len(c) {
			n = len(c)
		}
		subsets := ddset.Split(c, n)
		s.log.Debug("ddmin: testing subsets", zap.Int("round", round), zap.Int("granularity", n), zap.Int("size", len(c)))

		candidates := make([]*candidate[T], len(subsets))
		for i, subset := range subsets {
			candidates[i] = &candidate[T]{config: ddset.Minus(c, subset), index: i}
		}
		s.prefetch(candidates, round, n)

		reduced := false
		for _, p := range candidates {
			out, err := s.outcome(p, round, n)
			if err != nil {
				return nil, err
			}
			if out == Fail {
				c = p.config
				n = max(n-1, 2)
				reduced = true
				s.log.Debug("ddmin: reduced", zap.Int("size", len(c)), zap.Int("granularity", n))
				s.observe(Event[T]{Kind: EventReduce, Round: round, Granularity: n, Index: p.index, Circumstances: c})
				break
			}
		}
		if reduced {
			continue
		}

		if n == len(c) {
			break
		}
		n = min(n*2, len(c))
		s.log.Debug("ddmin: increasing granularity", zap.Int("granularity", n))
		s.observe(Event[T]{Kind: EventRefine, Round: round, Granularity: n, Circumstances: c})
	}

	s.observe(Event[T]{Kind: EventDone, Round: round, Granularity: n, Circumstances: c})
	s.log.Info("ddmin finished",
		zap.Int("circumstances", len(circumstances)),
		zap.Int("result", len(c)),
		zap.Int("rounds", round),
		zap.Int64("tests", s.tests.Load()))
	return c, nil
}
