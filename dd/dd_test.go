package dd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/lattice-substrate/delta-debug/dderr"
	"github.com/lattice-substrate/delta-debug/ddset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// requires fails iff every element of want is present.
func requires(want ...int) OracleFunc[int] {
	return func(_ context.Context, c []int) (Outcome, error) {
		if len(want) > 0 && ddset.Contains(c, want) {
			return Fail, nil
		}
		return Pass, nil
	}
}

type countingOracle struct {
	inner Oracle[int]
	calls atomic.Int64
}

func (o *countingOracle) Test(ctx context.Context, c []int) (Outcome, error) {
	o.calls.Add(1)
	return o.inner.Test(ctx, c)
}

func seq(n int) []int {
	c := make([]int, n)
	for i := range c {
		c[i] = i + 1
	}
	return c
}

// Contract: the canonical example minimizes to exactly {1, 3}.
func TestMinimizeCanonicalExample(t *testing.T) {
	got, err := Minimize(context.Background(), requires(1, 3), []int{1, 2, 3, 4}, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 3}, got)
}

func TestMinimizeCallCount(t *testing.T) {
	o := &countingOracle{inner: requires(1, 3)}
	_, err := Minimize[int](context.Background(), o, []int{1, 2, 3, 4}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 11, o.calls.Load())
}

// Contract: running ddmin on its own output returns it unchanged.
func TestMinimizeIdempotent(t *testing.T) {
	ctx := context.Background()
	oracle := requires(2, 7, 11)
	first, err := Minimize(ctx, oracle, seq(16), Options{})
	require.NoError(t, err)
	second, err := Minimize(ctx, oracle, first, Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second run changed the result (-first +second):\n%s", diff)
	}
}

func TestMinimizeDoesNotModifyInput(t *testing.T) {
	in := seq(8)
	_, err := Minimize(context.Background(), requires(3), in, Options{})
	require.NoError(t, err)
	assert.Equal(t, seq(8), in)
}

func TestMinimizeSingleCircumstance(t *testing.T) {
	got, err := Minimize(context.Background(), requires(1), []int{1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

// randomOracle fails iff all of want are present and reports Unresolved
// whenever noise is present without want being complete.
func randomOracle(want []int, noise int) OracleFunc[int] {
	return func(_ context.Context, c []int) (Outcome, error) {
		if ddset.Contains(c, want) {
			return Fail, nil
		}
		if noise > 0 && ddset.Contains(c, []int{noise}) {
			return Unresolved, nil
		}
		return Pass, nil
	}
}

func isOneMinimal(t *testing.T, oracle Oracle[int], c []int) {
	t.Helper()
	ctx := context.Background()
	out, err := oracle.Test(ctx, c)
	require.NoError(t, err)
	require.Equal(t, Fail, out, "result %v must fail", c)
	for i := range c {
		without := append(append([]int{}, c[:i]...), c[i+1:]...)
		out, err := oracle.Test(ctx, without)
		require.NoError(t, err)
		require.NotEqual(t, Fail, out, "result %v is not 1-minimal: %v still fails", c, without)
	}
}

// Contract: ddmin results fail and lose the failure when any single element
// is removed; the number of rounds stays linear in the input size.
func TestMinimizeOneMinimalAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for k := 2; k <= 48; k++ {
		perm := rng.Perm(k)
		want := make([]int, 0, 3)
		for _, p := range perm[:1+rng.Intn(min(3, k))] {
			want = append(want, p+1)
		}
		noise := 0
		if k > 4 {
			noise = perm[k-1] + 1
		}
		oracle := randomOracle(want, noise)

		rounds := 0
		d := &Debugger[int]{
			Oracle: oracle,
			Observer: func(ev Event[int]) {
				if ev.Kind == EventDone {
					rounds = ev.Round
				}
			},
		}
		got, err := d.Minimize(context.Background(), seq(k))
		require.NoError(t, err, "k=%d want=%v", k, want)
		isOneMinimal(t, oracle, got)
		assert.ElementsMatch(t, want, got, "k=%d", k)
		assert.LessOrEqual(t, rounds, 3*k+2, "k=%d", k)
	}
}

// Contract: granularity stays within [2, |circumstances|] whenever a round
// can run.
func TestMinimizeGranularityBounds(t *testing.T) {
	d := &Debugger[int]{
		Oracle: randomOracle([]int{4, 9, 30}, 0),
		Observer: func(ev Event[int]) {
			switch ev.Kind {
			case EventRefine:
				assert.GreaterOrEqual(t, ev.Granularity, 2)
				assert.LessOrEqual(t, ev.Granularity, len(ev.Circumstances))
			case EventReduce:
				assert.GreaterOrEqual(t, ev.Granularity, 2)
				if len(ev.Circumstances) >= 2 {
					assert.LessOrEqual(t, ev.Granularity, len(ev.Circumstances))
				}
			case EventTest:
				if ev.Index >= 0 {
					assert.GreaterOrEqual(t, ev.Granularity, 2)
				}
			}
		},
	}
	_, err := d.Minimize(context.Background(), seq(37))
	require.NoError(t, err)
}

func TestMinimizePreconditions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		oracle OracleFunc[int]
		want   string
	}{
		{
			name:   "empty_fails",
			oracle: func(context.Context, []int) (Outcome, error) { return Fail, nil },
			want:   "test(empty) = FAIL, want PASS",
		},
		{
			name:   "full_passes",
			oracle: func(context.Context, []int) (Outcome, error) { return Pass, nil },
			want:   "test(circumstances) = PASS, want FAIL",
		},
		{
			name: "full_unresolved",
			oracle: func(_ context.Context, c []int) (Outcome, error) {
				if len(c) == 0 {
					return Pass, nil
				}
				return Unresolved, nil
			},
			want: "test(circumstances) = UNRESOLVED, want FAIL",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Minimize[int](ctx, tc.oracle, seq(4), Options{})
			require.Error(t, err)
			assert.Equal(t, dderr.Precondition, dderr.ClassOf(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestMinimizeEmptyInputViolatesPreconditions(t *testing.T) {
	_, err := Minimize[int](context.Background(), requires(1), nil, Options{})
	assert.True(t, dderr.Is(err, dderr.Precondition), "got %v", err)
}

// Contract: an oracle that cannot execute aborts the search with
// ORACLE_FAILURE instead of being read as UNRESOLVED.
func TestMinimizePropagatesOracleFailure(t *testing.T) {
	boom := errors.New("harness crashed")
	oracle := OracleFunc[int](func(_ context.Context, c []int) (Outcome, error) {
		switch {
		case len(c) == 0:
			return Pass, nil
		case len(c) == 4:
			return Fail, nil
		default:
			return Unresolved, boom
		}
	})
	_, err := Minimize[int](context.Background(), oracle, seq(4), Options{})
	require.Error(t, err)
	assert.Equal(t, dderr.OracleFailure, dderr.ClassOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestMinimizeRejectsInvalidOutcome(t *testing.T) {
	oracle := OracleFunc[int](func(context.Context, []int) (Outcome, error) { return Outcome(42), nil })
	_, err := Minimize[int](context.Background(), oracle, seq(2), Options{})
	assert.Equal(t, dderr.OracleFailure, dderr.ClassOf(err))
}

func TestMinimizeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oracle := OracleFunc[int](func(_ context.Context, c []int) (Outcome, error) {
		if len(c) == 0 {
			return Pass, nil
		}
		if len(c) < 8 {
			cancel()
		}
		if ddset.Contains(c, []int{1}) {
			return Fail, nil
		}
		return Pass, nil
	})
	_, err := Minimize[int](ctx, oracle, seq(8), Options{})
	require.Error(t, err)
	assert.Equal(t, dderr.Canceled, dderr.ClassOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMinimizeNilOracle(t *testing.T) {
	_, err := Minimize[int](context.Background(), nil, seq(2), Options{})
	assert.Equal(t, dderr.InternalError, dderr.ClassOf(err))
}

// Contract: parallel evaluation takes the decisions the sequential scan takes.
func TestMinimizeParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		k := 8 + rng.Intn(40)
		want := []int{1 + rng.Intn(k), 1 + rng.Intn(k)}
		oracle := randomOracle(want, 1+rng.Intn(k))
		seqRes, seqErr := Minimize[int](context.Background(), oracle, seq(k), Options{})
		parRes, parErr := Minimize[int](context.Background(), oracle, seq(k), Options{Parallelism: 4})
		if seqErr != nil {
			assert.Equal(t, dderr.ClassOf(seqErr), dderr.ClassOf(parErr))
			continue
		}
		require.NoError(t, parErr)
		assert.Equal(t, seqRes, parRes, "trial %d k=%d want=%v", trial, k, want)
	}
}

func TestParallelOracleErrorNotReachedByScan(t *testing.T) {
	boom := errors.New("late failure")
	// The first complement fails; the second errors. The sequential scan
	// never reaches the second, so the search must not report its error.
	oracle := OracleFunc[int](func(_ context.Context, c []int) (Outcome, error) {
		switch {
		case len(c) == 0:
			return Pass, nil
		case ddset.Contains(c, []int{3, 4}):
			return Fail, nil
		case ddset.Contains(c, []int{1, 2}) && len(c) == 2:
			return Unresolved, boom
		default:
			return Pass, nil
		}
	})
	got, err := Minimize[int](context.Background(), oracle, seq(4), Options{Parallelism: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, got)
}

// Contract: ddiso on the canonical example brackets the failure with a
// single-element difference taken from {1, 3}.
func TestIsolateCanonicalExample(t *testing.T) {
	res, err := Isolate(context.Background(), requires(1, 3), nil, []int{1, 2, 3, 4}, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Delta)
	assert.Equal(t, []int{2, 3, 4}, res.Pass)
	assert.Equal(t, []int{1, 2, 3, 4}, res.Fail)
	assert.False(t, ddset.Contains(res.Pass, []int{1, 3}))
	assert.True(t, ddset.Contains(res.Fail, []int{1, 3}))
}

func TestIsolateRecheckCost(t *testing.T) {
	o := &countingOracle{inner: requires(1, 3)}
	_, err := Isolate[int](context.Background(), o, nil, seq(4), Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 8, o.calls.Load())

	o = &countingOracle{inner: requires(1, 3)}
	_, err = Isolate[int](context.Background(), o, nil, seq(4), Options{SkipInvariantRecheck: true})
	require.NoError(t, err)
	assert.EqualValues(t, 4, o.calls.Load())
}

// Contract: every adopted state keeps pass ⊆ Pass ⊆ Fail ⊆ fail with the
// expected outcomes, and the fixed point is 1-minimal.
func TestIsolateBracketingAndMinimality(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ctx := context.Background()
	for trial := 0; trial < 40; trial++ {
		k := 4 + rng.Intn(36)
		perm := rng.Perm(k)
		want := []int{perm[0] + 1, perm[1] + 1}
		oracle := randomOracle(want, perm[2]+1)
		pass := []int{}
		if rng.Intn(2) == 0 {
			pass = []int{want[0]}
		}
		fail := seq(k)

		d := &Debugger[int]{
			Oracle: oracle,
			Observer: func(ev Event[int]) {
				if ev.Kind != EventReduce && ev.Kind != EventRefine && ev.Kind != EventDone {
					return
				}
				require.True(t, ddset.Contains(ev.Pass, pass), "pass lost circumstances")
				require.True(t, ddset.Contains(ev.Fail, ev.Pass), "Pass ⊄ Fail")
				require.True(t, ddset.Contains(fail, ev.Fail), "Fail ⊄ fail")
				p, _ := oracle.Test(ctx, ev.Pass)
				f, _ := oracle.Test(ctx, ev.Fail)
				require.Equal(t, Pass, p)
				require.Equal(t, Fail, f)
				if ev.Kind == EventRefine {
					require.GreaterOrEqual(t, ev.Granularity, 2)
					require.LessOrEqual(t, ev.Granularity, len(ddset.Minus(ev.Fail, ev.Pass)))
				}
			},
		}
		res, err := d.Isolate(ctx, pass, fail)
		require.NoError(t, err, "trial %d", trial)
		require.Equal(t, ddset.Minus(res.Fail, res.Pass), res.Delta)
		require.NotEmpty(t, res.Delta)
		for _, e := range res.Delta {
			grown, _ := oracle.Test(ctx, ddset.Union(res.Pass, []int{e}))
			shrunk, _ := oracle.Test(ctx, ddset.Minus(res.Fail, []int{e}))
			assert.NotEqual(t, Pass, grown, "trial %d: moving %d into Pass still passes", trial, e)
			assert.NotEqual(t, Fail, shrunk, "trial %d: removing %d from Fail still fails", trial, e)
		}
	}
}

func TestIsolatePreconditions(t *testing.T) {
	ctx := context.Background()
	_, err := Isolate(ctx, requires(1), []int{1}, []int{1, 2}, Options{})
	require.Error(t, err)
	assert.Equal(t, dderr.Precondition, dderr.ClassOf(err))
	assert.Contains(t, err.Error(), "test(c_pass) = FAIL, want PASS")

	_, err = Isolate(ctx, requires(9), nil, []int{1, 2}, Options{})
	assert.Equal(t, dderr.Precondition, dderr.ClassOf(err))
	assert.Contains(t, err.Error(), "test(c_fail) = PASS, want FAIL")
}

// Contract: a failing configuration that later passes is reported as
// NONDETERMINISM, not as a precondition violation.
func TestIsolateDetectsNondeterminism(t *testing.T) {
	var full atomic.Int64
	oracle := OracleFunc[int](func(_ context.Context, c []int) (Outcome, error) {
		if len(c) == 4 && full.Add(1) > 1 {
			return Pass, nil
		}
		if ddset.Contains(c, []int{1, 3}) {
			return Fail, nil
		}
		return Pass, nil
	})
	_, err := Isolate[int](context.Background(), oracle, nil, seq(4), Options{})
	require.Error(t, err)
	assert.Equal(t, dderr.Nondeterminism, dderr.ClassOf(err))
}

func TestIsolateIdenticalConfigurations(t *testing.T) {
	oracle := OracleFunc[int](func(_ context.Context, c []int) (Outcome, error) {
		return Pass, nil
	})
	_, err := Isolate[int](context.Background(), oracle, seq(3), seq(3), Options{})
	assert.Equal(t, dderr.Precondition, dderr.ClassOf(err))
}

// Contract: repeated circumstances are moved by identity, so the search
// terminates and the delta never keeps a copy of a Pass element.
func TestIsolateRepeatedCircumstances(t *testing.T) {
	fail := []int{1, 2, 2, 3, 2, 4}
	for _, policy := range []UnionPolicy{UnionConcat, UnionUnique} {
		res, err := Isolate(context.Background(), requires(1, 3), nil, fail, Options{Union: policy})
		require.NoError(t, err, policy.String())
		assert.Len(t, ddset.Unique(res.Delta), 1, policy.String())
		assert.True(t, ddset.Contains(res.Fail, []int{1, 3}))
	}
}

func TestIsolateParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 20; trial++ {
		k := 6 + rng.Intn(30)
		perm := rng.Perm(k)
		oracle := randomOracle([]int{perm[0] + 1, perm[1] + 1}, perm[2]+1)
		seqRes, err := Isolate[int](context.Background(), oracle, nil, seq(k), Options{})
		require.NoError(t, err)
		parRes, err := Isolate[int](context.Background(), oracle, nil, seq(k), Options{Parallelism: 8})
		require.NoError(t, err)
		if diff := cmp.Diff(seqRes, parRes); diff != "" {
			t.Fatalf("trial %d: parallel diverged (-seq +par):\n%s", trial, diff)
		}
	}
}

func TestMemoize(t *testing.T) {
	inner := &countingOracle{inner: requires(1, 3)}
	o, err := Memoize[int](inner, nil, 128)
	require.NoError(t, err)

	res, err := Isolate(context.Background(), o, nil, seq(4), Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Delta)
	// The per-round re-checks are answered from the cache.
	assert.EqualValues(t, 4, inner.calls.Load())
}

func TestMemoizeDoesNotCacheErrors(t *testing.T) {
	var calls atomic.Int64
	inner := OracleFunc[int](func(context.Context, []int) (Outcome, error) {
		if calls.Add(1) == 1 {
			return Unresolved, errors.New("transient")
		}
		return Pass, nil
	})
	o, err := Memoize[int](inner, func(c []int) string { return fmt.Sprint(len(c)) }, 4)
	require.NoError(t, err)
	_, err = o.Test(context.Background(), seq(2))
	require.Error(t, err)
	out, err := o.Test(context.Background(), seq(2))
	require.NoError(t, err)
	assert.Equal(t, Pass, out)
	_, _ = o.Test(context.Background(), seq(2))
	assert.EqualValues(t, 2, calls.Load())
}

func TestMemoizeValidation(t *testing.T) {
	_, err := Memoize[int](requires(1), nil, 0)
	assert.Error(t, err)
	_, err = Memoize[int](nil, nil, 8)
	assert.Error(t, err)
}

func TestOutcomeStrings(t *testing.T) {
	for _, o := range Outcomes() {
		parsed, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
	}
	got, err := ParseOutcome(" fail ")
	require.NoError(t, err)
	assert.Equal(t, Fail, got)
	_, err = ParseOutcome("crash")
	assert.Error(t, err)
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
	assert.False(t, Outcome(9).Valid())
	assert.Equal(t, Unresolved, Outcome(0))
}
