package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidConcurrency = errors.New("max concurrency must be at least 1")
	ErrNotAdmitted        = errors.New("item not admitted")
	ErrDeadline           = errors.New("batch deadline exceeded")
)

// Func is the unit of work for item i. It runs while holding a slot, so any
// retries it performs keep that slot.
type Func[T any] func(ctx context.Context, i int) (T, error)

// Result is the outcome of one item, placed at its input position.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Stats are cumulative slot counters.
type Stats struct {
	Admitted int64
	Released int64
	InFlight int64
	Peak     int64
}

// Scheduler bounds how many work items run at once. One Scheduler may serve
// many batches and futures concurrently; the bound is shared.
type Scheduler struct {
	max      int
	deadline time.Duration
	logger   *slog.Logger
	sem      *semaphore.Weighted

	admitted atomic.Int64
	released atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New builds a Scheduler admitting at most maxConcurrent items at a time.
func New(maxConcurrent int, optFns ...Option) (*Scheduler, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent[%d]: %w", maxConcurrent, ErrInvalidConcurrency)
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying scheduler option: %w", err)
		}
	}

	s := &Scheduler{
		max:      maxConcurrent,
		deadline: opts.deadline,
		logger:   opts.logger,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// MaxConcurrent returns the slot bound.
func (s *Scheduler) MaxConcurrent() int { return s.max }

// Stats returns a snapshot of the slot counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Admitted: s.admitted.Load(),
		Released: s.released.Load(),
		InFlight: s.inFlight.Load(),
		Peak:     s.peak.Load(),
	}
}

// Run executes fn for every index in [0, n) with bounded concurrency and
// returns exactly n results in input order. Item failures are recorded in
// their Result and never stop siblings. The returned error is non-nil only
// when the batch as a whole was cut short: by ctx (un-admitted items carry
// [ErrNotAdmitted]) or by the scheduler deadline ([ErrDeadline]).
func Run[T any](ctx context.Context, s *Scheduler, n int, fn Func[T]) ([]Result[T], error) {
	out := make([]Result[T], n)
	for i := range out {
		out[i].Index = i
	}
	if n == 0 {
		return out, ctx.Err()
	}

	parent := ctx
	var cancel context.CancelFunc
	if s.deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	batchID := uuid.NewString()
	s.logger.Debug("batch started", "batch", batchID, "items", n, "max_concurrent", s.max)

	var wg sync.WaitGroup
	for i := range n {
		release, err := s.acquire(ctx)
		if err != nil {
			if cause := s.batchErr(parent, ctx); cause != nil {
				err = cause
			}
			for j := i; j < n; j++ {
				out[j].Err = fmt.Errorf("%w: %w", ErrNotAdmitted, err)
			}
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()

			v, err := fn(ctx, i)
			out[i].Value, out[i].Err = v, err
		}()
	}
	wg.Wait()

	err := s.batchErr(parent, ctx)
	if err != nil {
		s.logger.Warn("batch cut short", "batch", batchID, "error", err)
	} else {
		s.logger.Debug("batch finished", "batch", batchID)
	}

	return out, err
}

func (s *Scheduler) batchErr(parent, ctx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %w", ErrDeadline, s.deadline, context.DeadlineExceeded)
	}
	return nil
}

// acquire blocks for a slot. The returned release func must be called
// exactly once; extra calls are ignored.
func (s *Scheduler) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// Acquire may win a slot even after ctx ended.
	if err := ctx.Err(); err != nil {
		s.sem.Release(1)
		return nil, err
	}

	s.admitted.Add(1)
	cur := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inFlight.Add(-1)
			s.released.Add(1)
			s.sem.Release(1)
		})
	}, nil
}
