package execution

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by a Future cancelled before a result arrived.
var ErrCancelled = errors.New("execution cancelled")

// Future is a single-assignment slot for a client tool result.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Resolve sets the result. It reports false if the future was already settled.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil)
}

// Reject fails the future with err.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

// Cancel rejects the future with ErrCancelled.
func (f *Future) Cancel() bool {
	return f.settle(nil, ErrCancelled)
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
