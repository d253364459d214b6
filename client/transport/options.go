package transport

import (
	"errors"
	"log/slog"
	"net/http"
)

// Option configures a [NetHTTP] or [Resty] transport.
type Option func(*options) error

type options struct {
	client            *http.Client
	rt                http.RoundTripper
	middlewares       []Middleware
	noFollowRedirects bool
	cloudflare        bool
	maxBodySize       int64
	logger            *slog.Logger
}

// WithHTTPClient replaces the [http.Client] used by [NetHTTP].
// Its Transport, when set, becomes the base of the middleware chain.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		o.client = hc
		return nil
	}
}

// WithRoundTripper sets the base [http.RoundTripper] beneath any middlewares.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("round tripper must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithMiddlewares appends RoundTripper middlewares. The first one given is outermost.
func WithMiddlewares(mws ...Middleware) Option {
	return func(o *options) error {
		o.middlewares = append(o.middlewares, mws...)
		return nil
	}
}

// WithNoFollowRedirects returns redirect responses as-is instead of following them.
func WithNoFollowRedirects() Option {
	return func(o *options) error {
		o.noFollowRedirects = true
		return nil
	}
}

// WithCloudflareBypass wraps the base transport with browser-like TLS and
// header settings that get past basic Cloudflare bot checks.
func WithCloudflareBypass() Option {
	return func(o *options) error {
		o.cloudflare = true
		return nil
	}
}

// WithMaxBodySize caps the number of response bytes buffered per exchange.
func WithMaxBodySize(n int64) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("max body size must be positive")
		}
		o.maxBodySize = n
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
