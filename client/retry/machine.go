package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrAlreadyRun = errors.New("retry machine already run")

// State is a Machine lifecycle stage.
//
//	Idle -> Attempting -> Succeeded
//	             |  ^
//	             v  |
//	           Waiting -> Failed
type State int

const (
	Idle State = iota
	Attempting
	Waiting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attempting:
		return "attempting"
	case Waiting:
		return "waiting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Attempt is one try of the retried operation. n starts at 1.
type Attempt func(ctx context.Context, n int) error

// Observer is told about every failed attempt that will be retried.
type Observer func(attempt int, err error, delay time.Duration)

// Option configures a [Machine].
type Option func(*Machine)

// WithObserver registers fn to be called before each backoff wait.
func WithObserver(fn Observer) Option {
	return func(m *Machine) {
		m.observe = fn
	}
}

// Machine drives a single retried operation through its states. A Machine
// runs once; its accessors are safe to call from other goroutines while it
// runs.
type Machine struct {
	policy   Policy
	classify Classifier
	observe  Observer
	bo       *backoff.ExponentialBackOff

	mu      sync.Mutex
	state   State
	attempt int
	lastErr error
	next    time.Duration
}

// New validates p and returns an idle Machine. A nil classifier retries
// every error.
func New(p Policy, classify Classifier, opts ...Option) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if classify == nil {
		classify = func(error) Decision { return Retry }
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Backoff.Initial
	bo.Multiplier = p.Backoff.Multiplier
	bo.RandomizationFactor = p.Backoff.Jitter
	bo.MaxInterval = p.Backoff.Max
	bo.MaxElapsedTime = 0
	bo.Reset()

	m := &Machine{
		policy:   p,
		classify: classify,
		bo:       bo,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Run calls fn until it succeeds, a failure is classified Fatal, the attempts
// run out or ctx ends. Cancellation pre-empts both attempts and backoff waits.
func (m *Machine) Run(ctx context.Context, fn Attempt) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrAlreadyRun
	}
	m.state = Attempting
	m.mu.Unlock()

	var prev time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return m.fail(m.aborted(err))
		}

		n := m.begin()
		err := m.try(ctx, fn, n)
		if err == nil {
			m.transition(Succeeded)
			return nil
		}
		m.record(err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return m.fail(m.aborted(ctxErr))
		}
		if m.classify(err) == Fatal {
			return m.fail(err)
		}
		if n >= m.policy.MaxAttempts {
			return m.fail(&ExhaustedError{Attempts: n, Last: err})
		}

		delay := m.delay(prev)
		prev = delay
		m.wait(delay)
		if m.observe != nil {
			m.observe(n, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.fail(m.aborted(ctx.Err()))
		case <-timer.C:
		}
	}
}

func (m *Machine) try(ctx context.Context, fn Attempt, n int) error {
	if m.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.AttemptTimeout)
		defer cancel()
	}
	return fn(ctx, n)
}

// delay is the next backoff, kept monotonic and bounded by Max.
func (m *Machine) delay(prev time.Duration) time.Duration {
	d := m.bo.NextBackOff()
	if d == backoff.Stop || d > m.policy.Backoff.Max {
		d = m.policy.Backoff.Max
	}
	return max(d, prev)
}

// aborted wraps a context error with the last attempt failure, if any.
func (m *Machine) aborted(ctxErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastErr == nil {
		return ctxErr
	}
	return errors.Join(ctxErr, m.lastErr)
}

func (m *Machine) begin() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempt++
	m.state = Attempting
	m.next = 0
	return m.attempt
}

func (m *Machine) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *Machine) wait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Waiting
	m.next = d
}

func (m *Machine) transition(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *Machine) fail(err error) error {
	m.transition(Failed)
	return err
}

// State returns the current lifecycle stage.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns how many attempts have started.
func (m *Machine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastErr returns the most recent attempt failure.
func (m *Machine) LastErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// NextDelay returns the pending backoff while Waiting, zero otherwise.
func (m *Machine) NextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
