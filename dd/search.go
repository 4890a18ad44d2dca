package dd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-substrate/delta-debug/dderr"
)

// Debugger binds an oracle to search options. Its zero value is not usable;
// Oracle must be set.
type Debugger[T comparable] struct {
	Oracle  Oracle[T]
	Options Options

	// Observer, if set, is called for every search event. Calls are
	// serialized even when candidates are evaluated in parallel.
	Observer func(Event[T])
}

// Minimize runs ddmin with a one-off Debugger.
func Minimize[T comparable](ctx context.Context, oracle Oracle[T], circumstances []T, opts Options) ([]T, error) {
	d := &Debugger[T]{Oracle: oracle, Options: opts}
	return d.Minimize(ctx, circumstances)
}

// Isolate runs ddiso with a one-off Debugger.
func Isolate[T comparable](ctx context.Context, oracle Oracle[T], pass, fail []T, opts Options) (Isolation[T], error) {
	d := &Debugger[T]{Oracle: oracle, Options: opts}
	return d.Isolate(ctx, pass, fail)
}

// search holds the per-invocation state shared by ddmin and ddiso.
type search[T comparable] struct {
	ctx       context.Context
	d         *Debugger[T]
	algorithm string
	log       *zap.Logger
	tests     atomic.Int64
	observeMu sync.Mutex
}

func newSearch[T comparable](ctx context.Context, d *Debugger[T], algorithm string) (*search[T], error) {
	if d.Oracle == nil {
		return nil, dderr.New(dderr.InternalError, algorithm, "oracle is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &search[T]{
		ctx:       ctx,
		d:         d,
		algorithm: algorithm,
		log:       d.Options.logger().With(zap.String("algorithm", algorithm)),
	}, nil
}

func (s *search[T]) observe(ev Event[T]) {
	if s.d.Observer == nil {
		return
	}
	ev.Algorithm = s.algorithm
	s.observeMu.Lock()
	defer s.observeMu.Unlock()
	s.d.Observer(ev)
}

// test consults the oracle once. Oracle errors become ORACLE_FAILURE and a
// done context becomes CANCELED.
func (s *search[T]) test(c []T, round, n, index int) (Outcome, error) {
	if err := s.ctx.Err(); err != nil {
		return Unresolved, dderr.Wrap(dderr.Canceled, s.algorithm, "search aborted", err)
	}
	out, err := s.d.Oracle.Test(s.ctx, c)
	s.tests.Add(1)
	if err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return Unresolved, dderr.Wrap(dderr.Canceled, s.algorithm, "search aborted", ctxErr)
		}
		return Unresolved, dderr.Wrap(dderr.OracleFailure, s.algorithm,
			fmt.Sprintf("testing %d circumstances", len(c)), err)
	}
	if !out.Valid() {
		return Unresolved, dderr.New(dderr.OracleFailure, s.algorithm, fmt.Sprintf("oracle returned %v", out))
	}
	s.log.Debug("test", zap.Int("round", round), zap.Int("granularity", n),
		zap.Int("size", len(c)), zap.Stringer("outcome", out))
	s.observe(Event[T]{Kind: EventTest, Round: round, Granularity: n, Index: index, Config: c, Outcome: out})
	return out, nil
}

// candidate is one configuration whose outcome is computed at most once.
type candidate[T comparable] struct {
	config []T
	index  int
	done   bool
	out    Outcome
	err    error
}

func (s *search[T]) outcome(p *candidate[T], round, n int) (Outcome, error) {
	if !p.done {
		p.out, p.err = s.test(p.config, round, n, p.index)
		p.done = true
	}
	return p.out, p.err
}

// prefetch evaluates every pending candidate concurrently when parallelism is
// enabled. Errors are recorded on the candidate and surface when the sequential
// decision order reaches it.
func (s *search[T]) prefetch(candidates []*candidate[T], round, n int) {
	limit := s.d.Options.Parallelism
	if limit <= 1 || len(candidates) < 2 {
		return
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, p := range candidates {
		if p.done {
			continue
		}
		p := p
		g.Go(func() error {
			p.out, p.err = s.test(p.config, round, n, p.index)
			p.done = true
			return nil
		})
	}
	_ = g.Wait()
}

func (s *search[T]) expect(c []T, want Outcome, kind checkKind, what string, round int) error {
	got, err := s.test(c, round, 0, -1)
	if err != nil {
		return err
	}
	if got != want {
		return dderr.New(kind.class(), s.algorithm, fmt.Sprintf("test(%s) = %v, want %v", what, got, want))
	}
	return nil
}

// checkKind distinguishes a broken precondition from an invariant that held
// earlier in the same search.
type checkKind int

const (
	checkPrecondition checkKind = iota
	checkInvariant
)

func (k checkKind) class() dderr.FailureClass {
	if k == checkInvariant {
		return dderr.Nondeterminism
	}
	return dderr.Precondition
}
