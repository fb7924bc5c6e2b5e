package cppmemo

import (
	"errors"
	"fmt"
)

// ErrNotMemoized is returned by Memoizer.Value when the key has no
// memoized entry and no compute function was supplied to produce one.
var ErrNotMemoized = errors.New("cppmemo: key is not memoized")

// ErrCapacityExceeded is returned when the underlying CMap cannot grow
// any further (its submap count has reached the configured maximum).
var ErrCapacityExceeded = errors.New("cppmemo: map capacity exceeded")

// InvalidConfigError reports a rejected Memoizer configuration: a bad
// constructor argument or a bad setter call.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("cppmemo: invalid config for %s: %s", e.Field, e.Reason)
}

// CircularDependencyError reports a dependency cycle discovered while
// walking the per-thread stack with cycle detection enabled. Stack holds
// the keys from the root to the offending repeat, bottom to top; the
// cycle's own members appear consecutively at the top, ending on the
// repeated key.
type CircularDependencyError[K any] struct {
	stack []K
}

func (e *CircularDependencyError[K]) Error() string {
	return fmt.Sprintf("cppmemo: circular dependency detected, stack depth %d", len(e.stack))
}

// Stack returns the key stack at the moment the cycle was detected,
// root-to-offender (bottom to top), as a fresh copy.
func (e *CircularDependencyError[K]) Stack() []K {
	out := make([]K, len(e.stack))
	copy(out, e.stack)
	return out
}
