package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/unihttp/client/dom"
	"github.com/adamwoolhether/unihttp/client/retry"
	"github.com/adamwoolhether/unihttp/client/textenc"
	"github.com/adamwoolhether/unihttp/client/throttle"
	"github.com/adamwoolhether/unihttp/client/transport"
	"github.com/adamwoolhether/unihttp/client/useragent"
)

var tracer = otel.Tracer("github.com/adamwoolhether/unihttp/client")

// Client sends requests one at a time, blocking until each request and its
// retries complete. Headers and cookies persist across requests in its
// [State]. A Client is safe for concurrent use.
type Client struct {
	cfg       Config
	tr        transport.Transport
	state     *State
	resolver  *textenc.Resolver
	parser    dom.Parser
	ua        useragent.Source
	retryable map[int]struct{}
	logger    *slog.Logger
	tracer    trace.Tracer
	closed    atomic.Bool
}

// Build creates a Client. Invalid options fail with a [ConfigError].
func Build(optFns ...Option) (*Client, error) {
	opts := options{
		cfg:     DefaultConfig(),
		headers: useragent.DefaultHeaders(),
	}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, configErr(fmt.Errorf("applying client option: %w", err))
		}
	}
	if err := check(opts.cfg); err != nil {
		return nil, configErr(err)
	}

	c := &Client{
		cfg:       opts.cfg,
		parser:    opts.parser,
		ua:        opts.uaSource,
		retryable: make(map[int]struct{}, len(opts.cfg.RetryableStatus)),
		logger:    opts.logger,
		tracer:    opts.tracer,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = tracer
	}
	if c.parser == nil {
		c.parser = dom.HTMLParser{}
	}
	for _, code := range opts.cfg.RetryableStatus {
		c.retryable[code] = struct{}{}
	}

	encOpts := []textenc.Option{
		textenc.WithMinConfidence(opts.cfg.MinConfidence),
		textenc.WithLogger(c.logger),
	}
	if opts.detector != nil {
		encOpts = append(encOpts, textenc.WithDetector(opts.detector))
	}
	resolver, err := textenc.NewResolver(encOpts...)
	if err != nil {
		return nil, configErr(err)
	}
	c.resolver = resolver

	tr, err := c.buildTransport(&opts)
	if err != nil {
		return nil, configErr(err)
	}
	c.tr = tr

	c.state = newState(opts.headers, opts.cfg.Timeout, opts.cfg.Encoding, !opts.noSession, c.logger)

	return c, nil
}

func (c *Client) buildTransport(opts *options) (transport.Transport, error) {
	if opts.transport != nil {
		if opts.builtTransport() {
			return nil, errors.New("custom transport cannot be combined with transport options")
		}
		return opts.transport, nil
	}

	tOpts := []transport.Option{
		transport.WithLogger(c.logger),
	}
	if opts.cfg.MaxBodySize > 0 {
		tOpts = append(tOpts, transport.WithMaxBodySize(opts.cfg.MaxBodySize))
	}
	if opts.rt != nil {
		tOpts = append(tOpts, transport.WithRoundTripper(opts.rt))
	}
	if opts.noFollow {
		tOpts = append(tOpts, transport.WithNoFollowRedirects())
	}
	if opts.cloudflare {
		tOpts = append(tOpts, transport.WithCloudflareBypass())
	}

	mws := opts.middlewares
	if opts.cfg.Throttle != nil {
		mw, err := throttle.Middleware(*opts.cfg.Throttle, func() *slog.Logger { return c.logger })
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		mws = append(mws, mw)
	}
	if len(mws) > 0 {
		tOpts = append(tOpts, transport.WithMiddlewares(mws...))
	}

	if opts.resty != nil {
		if opts.httpClient != nil {
			return nil, errors.New("http client cannot be combined with resty")
		}
		return transport.NewResty(opts.resty, tOpts...)
	}

	if opts.httpClient != nil {
		tOpts = append(tOpts, transport.WithHTTPClient(opts.httpClient))
	}
	return transport.NewNetHTTP(tOpts...)
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// State returns the shared header and cookie state.
func (c *Client) State() *State { return c.state }

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, opts...)
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, url, opts...)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, url, opts...)
}

// Patch sends a PATCH request.
func (c *Client) Patch(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, url, opts...)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, url, opts...)
}

// Head sends a HEAD request.
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodHead, url, opts...)
}

// Options sends an OPTIONS request.
func (c *Client) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodOptions, url, opts...)
}

// Request builds a [RequestSpec] and sends it with [Client.Do].
func (c *Client) Request(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	spec, err := NewRequest(method, url, opts...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, spec)
}

// Do sends spec, retrying transport failures, timeouts and retryable
// statuses according to the client's policy. A 4xx or 5xx final response
// is returned as a [StatusError] carrying the response.
func (c *Client) Do(ctx context.Context, spec *RequestSpec) (*Response, error) {
	return c.do(ctx, spec, originSync)
}

func (c *Client) do(ctx context.Context, spec *RequestSpec, o origin) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if spec == nil {
		return nil, configErr(errors.New("request must not be nil"))
	}
	if err := check(spec); err != nil {
		return nil, configErr(err)
	}

	ctx, span := c.tracer.Start(ctx, "unihttp.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", spec.Method),
			attribute.String("url.full", spec.URL),
			attribute.String("unihttp.mode", o.String()),
		),
	)
	defer span.End()

	eff := c.state.Merge(spec)
	if c.ua != nil && spec.Header.Get("User-Agent") == "" {
		eff.Header.Set("User-Agent", c.ua.UserAgent())
	}

	policy := c.cfg.Retry
	policy.AttemptTimeout = eff.Timeout.Total()
	if eff.MaxAttempts > 0 {
		policy.MaxAttempts = eff.MaxAttempts
	}

	log := c.logger.With("method", eff.Method, "url", eff.URL)
	m, err := retry.New(policy, c.classify, retry.WithObserver(func(attempt int, err error, delay time.Duration) {
		log.Warn("retrying request", "attempt", attempt, "delay", delay, "error", err)
	}))
	if err != nil {
		return nil, configErr(err)
	}

	start := time.Now()
	var resp *Response
	err = m.Run(ctx, func(ctx context.Context, n int) error {
		r, err := c.attempt(ctx, eff, n, o)
		if r != nil {
			resp = r
		}
		return err
	})
	if resp != nil {
		resp.Elapsed = time.Since(start)
		resp.Attempts = m.Attempt()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, retry.ErrExhausted) {
			log.Error("request failed", "attempt", m.Attempt(), "error", err)
		} else {
			log.Debug("request failed", "attempt", m.Attempt(), "error", err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	log.Debug("request complete", "status", resp.StatusCode, "attempt", resp.Attempts, "mode", o)

	return resp, nil
}

func (c *Client) attempt(ctx context.Context, eff *RequestSpec, n int, o origin) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "unihttp.attempt", trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	treq := eff.transportRequest()
	treq.Redirect = c.state.redirectFunc()

	res, err := c.tr.Send(ctx, treq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp := unify(res, eff, o, c.resolver, c.parser, c.state.Encoding())
	c.state.Absorb(resp)

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		return resp, newStatusError(resp)
	}

	return resp, nil
}

// classify retries transport failures, timeouts and the configured
// statuses. Everything else is final.
func (c *Client) classify(err error) retry.Decision {
	var se *StatusError
	switch {
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, transport.ErrTransport):
		return retry.Retry
	case errors.As(err, &se):
		if _, ok := c.retryable[se.StatusCode]; ok {
			return retry.Retry
		}
	}
	return retry.Fatal
}

// SetHeader sets a header sent with every later request.
func (c *Client) SetHeader(key, value string) { c.state.SetHeader(key, value) }

// SetCookie stores a cookie sent to domain and its subdomains.
func (c *Client) SetCookie(domain, name, value string) { c.state.SetCookie(domain, name, value) }

// Cookies returns the cookies stored for domain.
func (c *Client) Cookies(domain string) map[string]string { return c.state.Cookies(domain) }

// Close releases the transport's idle connections and clears the session
// state. Further requests fail with [ErrClosed]. Close is idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.state.Reset()
	if err := c.tr.Close(); err != nil {
		return fmt.Errorf("closing transport: %w", err)
	}
	c.logger.Info("client closed")

	return nil
}
