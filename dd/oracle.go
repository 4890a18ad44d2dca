package dd

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Oracle tests a configuration.
//
// Implementations are assumed deterministic for a fixed configuration within
// one search. A non-nil error means the test could not be executed at all; it
// aborts the search and is never treated as Unresolved. Anything that ran but
// was neither a clean pass nor the target failure (a different crash, a
// timeout, an inapplicable configuration) must be reported as Unresolved.
//
// Oracles used with Options.Parallelism > 1 must be safe for concurrent use.
type Oracle[T comparable] interface {
	Test(ctx context.Context, c []T) (Outcome, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc[T comparable] func(ctx context.Context, c []T) (Outcome, error)

// Test calls f(ctx, c).
func (f OracleFunc[T]) Test(ctx context.Context, c []T) (Outcome, error) {
	return f(ctx, c)
}

// KeyFunc maps a configuration to a memoisation key. Two configurations with
// the same key must produce the same outcome.
type KeyFunc[T comparable] func(c []T) string

// DefaultKey renders c with %#v, which distinguishes element order, element
// type and quoting.
func DefaultKey[T comparable](c []T) string {
	return fmt.Sprintf("%#v", c)
}

type memo[T comparable] struct {
	oracle Oracle[T]
	key    KeyFunc[T]
	cache  *lru.Cache
}

// Memoize wraps o with an LRU cache of at most size outcomes. Errors are
// never cached. A nil key uses DefaultKey.
func Memoize[T comparable](o Oracle[T], key KeyFunc[T], size int) (Oracle[T], error) {
	if o == nil {
		return nil, fmt.Errorf("memoize: oracle is nil")
	}
	if key == nil {
		key = DefaultKey[T]
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("memoize: %w", err)
	}
	return &memo[T]{oracle: o, key: key, cache: cache}, nil
}

func (m *memo[T]) Test(ctx context.Context, c []T) (Outcome, error) {
	k := m.key(c)
	if v, ok := m.cache.Get(k); ok {
		return v.(Outcome), nil
	}
	out, err := m.oracle.Test(ctx, c)
	if err != nil {
		return out, err
	}
	m.cache.Add(k, out)
	return out, nil
}
