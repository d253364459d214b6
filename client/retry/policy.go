package retry

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrExhausted     = errors.New("retry attempts exhausted")
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// Decision is a classifier verdict on a failed attempt.
type Decision int

const (
	Fatal Decision = iota
	Retry
)

func (d Decision) String() string {
	if d == Retry {
		return "retry"
	}
	return "fatal"
}

// Classifier decides whether a failed attempt may be repeated.
type Classifier func(error) Decision

// Backoff shapes the delay between attempts. Each delay is the previous one
// times Multiplier, randomized by +/- Jitter, never shorter than its
// predecessor and never longer than Max.
type Backoff struct {
	Initial    time.Duration `json:"initial" validate:"gte=0"`
	Multiplier float64       `json:"multiplier" validate:"gte=1"`
	Jitter     float64       `json:"jitter" validate:"gte=0,lte=1"`
	Max        time.Duration `json:"max" validate:"gtefield=Initial"`
}

// Policy bounds a retried operation. AttemptTimeout, when positive, is a
// fresh deadline for every attempt.
type Policy struct {
	MaxAttempts    int           `json:"max_attempts" validate:"gte=1"`
	AttemptTimeout time.Duration `json:"attempt_timeout" validate:"gte=0"`
	Backoff        Backoff       `json:"backoff"`
}

// DefaultPolicy is three attempts with 200ms exponential backoff capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: Backoff{
			Initial:    200 * time.Millisecond,
			Multiplier: 2,
			Jitter:     0.5,
			Max:        5 * time.Second,
		},
	}
}

// Validate reports the first problem with p.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts[%d] must be at least 1", ErrInvalidPolicy, p.MaxAttempts)
	case p.AttemptTimeout < 0:
		return fmt.Errorf("%w: attempt timeout[%v] must not be negative", ErrInvalidPolicy, p.AttemptTimeout)
	case p.Backoff.Initial < 0:
		return fmt.Errorf("%w: initial backoff[%v] must not be negative", ErrInvalidPolicy, p.Backoff.Initial)
	case p.Backoff.Multiplier < 1:
		return fmt.Errorf("%w: backoff multiplier[%v] must be at least 1", ErrInvalidPolicy, p.Backoff.Multiplier)
	case p.Backoff.Jitter < 0 || p.Backoff.Jitter > 1:
		return fmt.Errorf("%w: backoff jitter[%v] must be within [0, 1]", ErrInvalidPolicy, p.Backoff.Jitter)
	case p.Backoff.Max < p.Backoff.Initial:
		return fmt.Errorf("%w: max backoff[%v] below initial[%v]", ErrInvalidPolicy, p.Backoff.Max, p.Backoff.Initial)
	}
	return nil
}

// ExhaustedError is returned once every attempt failed. It unwraps to both
// [ErrExhausted] and the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}
