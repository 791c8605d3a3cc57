// Package watch provides a value cell that readers can wait on.
package watch

import (
	"context"
	"sync/atomic"
)

type state[T any] struct {
	val     T
	changed chan struct{}
}

// Cell holds a value of type T. Each logical value has one owner that sets
// it, but Set is safe for concurrent use; any number of goroutines may read
// or wait.
type Cell[T comparable] struct {
	cur atomic.Pointer[state[T]]
}

// New creates a cell holding v.
func New[T comparable](v T) *Cell[T] {
	c := &Cell[T]{}
	c.cur.Store(&state[T]{val: v, changed: make(chan struct{})})
	return c
}

// Load returns the current value.
func (c *Cell[T]) Load() T {
	return c.cur.Load().val
}

// Snapshot returns the current value and a channel that is closed on the
// next change. Both come from the same publication.
func (c *Cell[T]) Snapshot() (T, <-chan struct{}) {
	s := c.cur.Load()
	return s.val, s.changed
}

// Set publishes v and wakes waiters. Setting the current value again is a
// no-op.
func (c *Cell[T]) Set(v T) {
	next := &state[T]{val: v, changed: make(chan struct{})}
	for {
		old := c.cur.Load()
		if old.val == v {
			return
		}
		if c.cur.CompareAndSwap(old, next) {
			close(old.changed)
			return
		}
	}
}

// WaitFor blocks until pred holds for the cell's value or ctx is done. It
// returns the value that satisfied pred.
func (c *Cell[T]) WaitFor(ctx context.Context, pred func(T) bool) (T, error) {
	for {
		v, changed := c.Snapshot()
		if pred(v) {
			return v, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}
