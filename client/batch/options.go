package batch

import (
	"errors"
	"log/slog"
	"time"
)

// Option configures a [Scheduler].
type Option func(*options) error

type options struct {
	deadline time.Duration
	logger   *slog.Logger
}

// WithDeadline bounds every [Run] on the scheduler. Once it passes, queued
// items are not admitted, in-flight items are cancelled, and Run returns
// [ErrDeadline].
func WithDeadline(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("deadline must be positive")
		}
		o.deadline = d
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}
