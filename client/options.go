package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dario.cat/mergo"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/unihttp/client/dom"
	"github.com/adamwoolhether/unihttp/client/retry"
	"github.com/adamwoolhether/unihttp/client/textenc"
	"github.com/adamwoolhether/unihttp/client/throttle"
	"github.com/adamwoolhether/unihttp/client/transport"
	"github.com/adamwoolhether/unihttp/client/useragent"
)

// Config holds the validated, defaulted settings of a client.
type Config struct {
	Timeout         transport.Timeout `json:"timeout"`
	Retry           retry.Policy      `json:"retry"`
	RetryableStatus []int             `json:"retryable_status" validate:"dive,gte=100,lte=599"`
	Encoding        string            `json:"encoding"`
	MinConfidence   float64           `json:"min_confidence" validate:"gte=0,lte=1"`
	MaxBodySize     int64             `json:"max_body_size" validate:"gte=0"`
	BatchDeadline   time.Duration     `json:"batch_deadline" validate:"gte=0"`
	Throttle        *throttle.Config  `json:"throttle"`
}

// DefaultConfig returns the settings used for anything not overridden.
func DefaultConfig() Config {
	return Config{
		Timeout: transport.Timeout{
			Connect: 8 * time.Second,
			Read:    30 * time.Second,
		},
		Retry:           retry.DefaultPolicy(),
		RetryableStatus: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		MinConfidence:   textenc.DefaultMinConfidence,
		MaxBodySize:     transport.DefaultMaxBodySize,
	}
}

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error

type options struct {
	cfg Config

	transport   transport.Transport
	httpClient  *http.Client
	rt          http.RoundTripper
	resty       *resty.Client
	middlewares []transport.Middleware
	noFollow    bool
	cloudflare  bool

	headers   http.Header
	uaSource  useragent.Source
	noSession bool

	detector textenc.Detector
	parser   dom.Parser
	logger   *slog.Logger
	tracer   trace.Tracer
}

func (o *options) builtTransport() bool {
	return o.httpClient != nil || o.rt != nil || o.resty != nil || len(o.middlewares) > 0 ||
		o.noFollow || o.cloudflare || o.cfg.Throttle != nil
}

// WithTransport replaces the transport entirely. Options that shape the
// built-in transport cannot be combined with it.
func WithTransport(t transport.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("transport must not be nil")
		}
		o.transport = t
		return nil
	}
}

// WithHTTPClient sets the [http.Client] of the net/http transport. Its
// Transport, when set, becomes the base RoundTripper.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.httpClient = hc
		return nil
	}
}

// WithRoundTripper sets the base [http.RoundTripper].
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("round tripper must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithResty sends requests through a resty client instead of net/http.
// A nil client gets resty defaults.
func WithResty(rc *resty.Client) Option {
	return func(o *options) error {
		if rc == nil {
			rc = resty.New()
		}
		o.resty = rc
		return nil
	}
}

// WithMiddlewares wraps the base RoundTripper. The first one given is outermost.
func WithMiddlewares(mws ...transport.Middleware) Option {
	return func(o *options) error {
		o.middlewares = append(o.middlewares, mws...)
		return nil
	}
}

// WithTimeout sets the default connect and read timeouts. A zero value
// keeps the default for that phase.
func WithTimeout(connect, read time.Duration) Option {
	return func(o *options) error {
		t := transport.Timeout{Connect: connect, Read: read}
		if err := mergo.Merge(&t, o.cfg.Timeout); err != nil {
			return fmt.Errorf("merging timeout: %w", err)
		}
		o.cfg.Timeout = t
		return nil
	}
}

// WithUserAgent sets a fixed User-Agent header on all outgoing requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		if header == "" {
			return errors.New("user agent must not be empty")
		}
		o.headers.Set("User-Agent", header)
		return nil
	}
}

// WithRandomUserAgent picks a User-Agent from src for every request that
// does not set one itself. A nil src uses the built-in pool.
func WithRandomUserAgent(src useragent.Source) Option {
	return func(o *options) error {
		if src == nil {
			pool, err := useragent.NewPool()
			if err != nil {
				return err
			}
			src = pool
		}
		o.uaSource = src
		return nil
	}
}

// WithDefaultHeaders adds headers sent with every request.
func WithDefaultHeaders(h http.Header) Option {
	return func(o *options) error {
		for k, vs := range h {
			o.headers[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
		}
		return nil
	}
}

// WithoutSession stops the client from storing response cookies.
func WithoutSession() Option {
	return func(o *options) error {
		o.noSession = true
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.cfg.Throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithPerHostThrottle is like [WithThrottle] with one bucket per destination host.
func WithPerHostThrottle(rps, burst int) Option {
	return func(o *options) error {
		if err := WithThrottle(rps, burst)(o); err != nil {
			return err
		}
		o.cfg.Throttle.PerHost = true
		return nil
	}
}

// WithNoFollowRedirects prevents the client from following HTTP redirects.
func WithNoFollowRedirects() Option {
	return func(o *options) error {
		o.noFollow = true
		return nil
	}
}

// WithCloudflareBypass sends browser-like TLS and header fingerprints.
func WithCloudflareBypass() Option {
	return func(o *options) error {
		o.cloudflare = true
		return nil
	}
}

// WithMaxBodySize caps how many response bytes are buffered.
func WithMaxBodySize(n int64) Option {
	return func(o *options) error {
		o.cfg.MaxBodySize = n
		return nil
	}
}

// WithMaxAttempts sets how many times a request is sent at most.
func WithMaxAttempts(n int) Option {
	return func(o *options) error {
		o.cfg.Retry.MaxAttempts = n
		return nil
	}
}

// WithBackoff shapes the delay between attempts. Zero fields keep their
// defaults.
func WithBackoff(b retry.Backoff) Option {
	return func(o *options) error {
		if err := mergo.Merge(&b, o.cfg.Retry.Backoff); err != nil {
			return fmt.Errorf("merging backoff: %w", err)
		}
		o.cfg.Retry.Backoff = b
		return nil
	}
}

// WithRetryableStatus replaces the set of status codes that are retried.
// Without arguments no status is retried.
func WithRetryableStatus(codes ...int) Option {
	return func(o *options) error {
		o.cfg.RetryableStatus = append([]int{}, codes...)
		return nil
	}
}

// WithEncoding forces the character encoding of every response.
func WithEncoding(name string) Option {
	return func(o *options) error {
		canon, ok := textenc.Canonical(name)
		if !ok {
			return fmt.Errorf("unknown encoding %q", name)
		}
		o.cfg.Encoding = canon
		return nil
	}
}

// WithDetector replaces the statistical charset detector.
func WithDetector(d textenc.Detector) Option {
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
		o.cfg.MinConfidence = c
		return nil
	}
}

// WithParser replaces the markup parser behind [Response.Document].
func WithParser(p dom.Parser) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("parser must not be nil")
		}
		o.parser = p
		return nil
	}
}

// WithBatchDeadline bounds every batch run by an [AsyncClient].
func WithBatchDeadline(d time.Duration) Option {
	return func(o *options) error {
		o.cfg.BatchDeadline = d
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for request and attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = t
		return nil
	}
}
