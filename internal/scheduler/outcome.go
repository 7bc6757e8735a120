package scheduler

import (
	"context"
	"sync"
)

// Outcome is the pending result handle for a submitted task. It settles at
// most once, with either a value or an error; later settlement attempts are
// discarded. Value and err are written before done closes and read only
// after it closes, so no further synchronization is needed.
type Outcome struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// NewSettled returns an outcome that has already settled. Callers that can
// answer from a cache use it to keep a single handle type on both paths.
func NewSettled(value any, err error) *Outcome {
	o := newOutcome()
	o.settle(value, err)
	return o
}

// settle records the result exactly once and reports whether this call won.
func (o *Outcome) settle(value any, err error) bool {
	won := false
	o.once.Do(func() {
		o.value = value
		o.err = err
		won = true
		close(o.done)
	})
	return won
}

// Done is closed once the outcome has settled.
func (o *Outcome) Done() <-chan struct{} { return o.done }

// Ready reports whether the outcome has settled, without blocking.
func (o *Outcome) Ready() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the outcome settles or ctx is cancelled. Cancelling ctx
// abandons the wait only; the task itself keeps running.
func (o *Outcome) Wait(ctx context.Context) (any, error) {
	select {
	case <-o.done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
