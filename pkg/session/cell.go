package session

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadySet is returned by Cell.Set when the cell has already been
// published once. The existing value is left untouched.
var ErrAlreadySet = errors.New("value already set")

// Cell is a publish-once primitive backed by a compare-and-swap, so
// that reads on the forwarding hot path never block on a writer. This
// backs the write-once JoinState/Subscription fields of a Session.
type Cell[T any] struct {
	ptr atomic.Pointer[T]
}

// Set publishes a value. It fails with ErrAlreadySet if a value has
// already been published; the stored value is never overwritten.
func (c *Cell[T]) Set(v T) error {
	if !c.ptr.CompareAndSwap(nil, &v) {
		return ErrAlreadySet
	}

	return nil
}

// Get returns the published value and whether one has been published.
func (c *Cell[T]) Get() (T, bool) {
	p := c.ptr.Load()
	if p == nil {
		var zero T
		return zero, false
	}

	return *p, true
}
