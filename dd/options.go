package dd

import (
	"go.uber.org/zap"
)

// UnionPolicy selects how ddiso grows the passing configuration.
type UnionPolicy int

const (
	// UnionConcat appends the moved circumstances without deduplication.
	UnionConcat UnionPolicy = iota
	// UnionUnique skips circumstances already present in the passing
	// configuration. Use it when the oracle is sensitive to repetitions.
	UnionUnique
)

// String returns "concat" or "unique".
func (p UnionPolicy) String() string {
	if p == UnionUnique {
		return "unique"
	}
	return "concat"
}

// Options tunes a search. The zero value is a sequential search with no
// logging, concatenating unions, and a per-round invariant re-check in ddiso.
type Options struct {
	// Logger receives progress at Debug and a summary at Info.
	// Nil disables logging.
	Logger *zap.Logger

	// Parallelism > 1 evaluates every candidate of a scan step concurrently,
	// with at most Parallelism oracle calls in flight, then decides in
	// sequential scan order. The oracle must be safe for concurrent use.
	Parallelism int

	// Union is the ddiso union policy.
	Union UnionPolicy

	// SkipInvariantRecheck disables re-testing c_pass and c_fail at the top
	// of every ddiso round after the first. The first round always checks
	// them, since they are the algorithm's preconditions.
	SkipInvariantRecheck bool
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// EventKind classifies observer events.
type EventKind string

const (
	// EventTest reports one oracle call.
	EventTest EventKind = "test"
	// EventReduce reports an adopted state transition.
	EventReduce EventKind = "reduce"
	// EventRefine reports a granularity increase.
	EventRefine EventKind = "refine"
	// EventDone reports the fixed point.
	EventDone EventKind = "done"
)

// Event is one step of a search, delivered to a Debugger's Observer.
//
// For ddmin, Circumstances is the current working set. For ddiso, Pass and
// Fail are the current bracketing configurations. Config and Outcome are set
// for EventTest only. Slices are owned by the search; observers must not
// modify them.
type Event[T comparable] struct {
	Algorithm   string
	Kind        EventKind
	Round       int
	Granularity int
	Offset      int
	Index       int

	Config  []T
	Outcome Outcome

	Circumstances []T
	Pass          []T
	Fail          []T
}
