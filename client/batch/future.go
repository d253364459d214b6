package batch

import (
	"context"
	"fmt"
)

// Future is a single in-flight or completed item started with [Go].
type Future[T any] struct {
	done   chan struct{}
	value  T
	err    error
	cancel context.CancelFunc
}

// Go runs fn in its own goroutine once a slot of s is free and returns a
// Future for its outcome. The slot is held until fn returns.
func Go[T any](ctx context.Context, s *Scheduler, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer func() {
			cancel()
			close(f.done)
		}()

		release, err := s.acquire(ctx)
		if err != nil {
			f.err = fmt.Errorf("%w: %w", ErrNotAdmitted, err)
			return
		}
		defer release()

		f.value, f.err = fn(ctx)
	}()

	return f
}

// Done returns a channel that is closed when the item completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the item completes and returns its outcome.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Err blocks until the item completes and returns its error.
func (f *Future[T]) Err() error {
	<-f.done
	return f.err
}

// Cancel cancels the item's context. Waiting is still required to observe
// the outcome.
func (f *Future[T]) Cancel() {
	f.cancel()
}
