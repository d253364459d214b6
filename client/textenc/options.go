package textenc

import (
	"errors"
	"log/slog"
)

// Option configures a [Resolver].
type Option func(*options) error

type options struct {
	detector      Detector
	minConfidence float64
	cacheSize     int
	logger        *slog.Logger
}

// WithDetector replaces the chardet-based detector.
func WithDetector(d Detector) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("detector must not be nil")
		}
		o.detector = d
		return nil
	}
}

// WithMinConfidence sets the lowest trusted detector confidence.
func WithMinConfidence(c float64) Option {
	return func(o *options) error {
		if c < 0 || c > 1 {
			return errors.New("confidence must be within [0, 1]")
		}
		o.minConfidence = c
		return nil
	}
}

// WithCacheSize bounds the detection cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("cache size must not be negative")
		}
		o.cacheSize = n
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
