package dd

import (
	"context"

	"go.uber.org/zap"

	"github.com/lattice-substrate/delta-debug/ddset"
)

// Isolation is the fixed point of ddiso.
type Isolation[T comparable] struct {
	// Delta is Fail - Pass, a 1-minimal failure-relevant difference.
	Delta []T
	// Pass is the narrowed passing configuration.
	Pass []T
	// Fail is the narrowed failing configuration.
	Fail []T
}

// Isolate narrows pass and fail until their difference is 1-minimal: moving
// any single circumstance of Delta across no longer changes either outcome.
// The result satisfies pass ⊆ Pass ⊆ Fail ⊆ fail, test(Pass) = Pass and
// test(Fail) = Fail.
//
// test(pass) = Pass and test(fail) = Fail are preconditions (PRECONDITION
// error). Unless Options.SkipInvariantRecheck is set, both are re-tested at
// the top of every later round, and a changed outcome is reported as
// NONDETERMINISM.
func (d *Debugger[T]) Isolate(ctx context.Context, pass, fail []T) (Isolation[T], error) {
	s, err := newSearch(ctx, d, "ddiso")
	if err != nil {
		return Isolation[T]{}, err
	}
	s.log.Info("ddiso started", zap.Int("pass", len(pass)), zap.Int("fail", len(fail)))

	union := ddset.Union[T]
	if d.Options.Union == UnionUnique {
		union = ddset.UnionUnique[T]
	}

	cPass := ddset.Clone(pass)
	cFail := ddset.Clone(fail)
	n, offset := 2, 0
	for round := 0; ; round++ {
		if round == 0 || !d.Options.SkipInvariantRecheck {
			kind := checkPrecondition
			if round > 0 {
				kind = checkInvariant
			}
			if err := s.expect(cPass, Pass, kind, "c_pass", round); err != nil {
				return Isolation[T]{}, err
			}
			if err := s.expect(cFail, Fail, kind, "c_fail", round); err != nil {
				return Isolation[T]{}, err
			}
		}

		delta := ddset.Minus(cFail, cPass)
		// Minus removes every copy of a circumstance, so the delta is
		// partitioned by identity. Repeated circumstances would otherwise
		// land in several subsets and a move could leave the state unchanged.
		ids := ddset.Unique(delta)
		if n > len(ids) {
			return s.isolated(delta, cPass, cFail, round, n, offset), nil
		}

		deltas := ddset.Split(ids, n)
		s.log.Debug("ddiso: testing subsets", zap.Int("round", round), zap.Int("granularity", n),
			zap.Int("offset", offset), zap.Int("delta", len(delta)))

		// Candidates in scan order, starting at offset and wrapping modulo n.
		shrink := make([]*candidate[T], n)
		grow := make([]*candidate[T], n)
		all := make([]*candidate[T], 0, 2*n)
		for j := 0; j < n; j++ {
			i := (j + offset) % n
			shrink[j] = &candidate[T]{config: ddset.Minus(cFail, deltas[i]), index: i}
			grow[j] = &candidate[T]{config: union(cPass, deltas[i]), index: i}
			all = append(all, shrink[j], grow[j])
		}
		s.prefetch(all, round, n)

		moved := false
		for j := 0; j < n && !moved; j++ {
			i := shrink[j].index
			nextFail, nextPass := shrink[j], grow[j]

			f, err := s.outcome(nextFail, round, n)
			if err != nil {
				return Isolation[T]{}, err
			}
			switch {
			case f == Fail && n == 2:
				cFail = nextFail.config
				n, offset = 2, 0
				moved = true
			case f == Pass:
				cPass = nextFail.config
				n, offset = 2, 0
				moved = true
			default:
				p, err := s.outcome(nextPass, round, n)
				if err != nil {
					return Isolation[T]{}, err
				}
				switch {
				case p == Fail:
					cFail = nextPass.config
					n, offset = 2, 0
					moved = true
				case f == Fail:
					cFail = nextFail.config
					n, offset = max(n-1, 2), i
					moved = true
				case p == Pass:
					cPass = nextPass.config
					n, offset = max(n-1, 2), i
					moved = true
				}
			}
			if moved {
				s.log.Debug("ddiso: moved", zap.Int("index", i), zap.Int("pass", len(cPass)),
					zap.Int("fail", len(cFail)), zap.Int("granularity", n))
				s.observe(Event[T]{Kind: EventReduce, Round: round, Granularity: n, Offset: offset,
					Index: i, Pass: cPass, Fail: cFail})
			}
		}
		if moved {
			continue
		}

		if n >= len(ids) {
			return s.isolated(delta, cPass, cFail, round, n, offset), nil
		}
		n = min(n*2, len(ids))
		s.log.Debug("ddiso: increasing granularity", zap.Int("granularity", n))
		s.observe(Event[T]{Kind: EventRefine, Round: round, Granularity: n, Offset: offset, Pass: cPass, Fail: cFail})
	}
}

func (s *search[T]) isolated(delta, cPass, cFail []T, round, n, offset int) Isolation[T] {
	s.observe(Event[T]{Kind: EventDone, Round: round, Granularity: n, Offset: offset, Pass: cPass, Fail: cFail})
	s.log.Info("ddiso finished",
		zap.Int("delta", len(delta)),
		zap.Int("pass", len(cPass)),
		zap.Int("fail", len(cFail)),
		zap.Int("rounds", round),
		zap.Int64("tests", s.tests.Load()))
	return Isolation[T]{Delta: delta, Pass: cPass, Fail: cFail}
}
