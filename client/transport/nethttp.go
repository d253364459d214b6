package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
)

// NetHTTP is a [Transport] backed by the standard library client.
type NetHTTP struct {
	c       *http.Client
	maxBody int64
	logger  *slog.Logger
	closed  atomic.Bool
}

// NewNetHTTP builds a [NetHTTP] transport. Options are order independent.
func NewNetHTTP(optFns ...Option) (*NetHTTP, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying transport option: %w", err)
		}
	}

	t := &NetHTTP{
		c:       &http.Client{},
		maxBody: opts.maxBodySize,
		logger:  slog.Default(),
	}
	if opts.logger != nil {
		t.logger = opts.logger
	}
	if opts.client != nil {
		cpy := *opts.client
		t.c = &cpy
	}

	var base http.RoundTripper
	switch {
	case opts.rt != nil:
		base = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		base = opts.client.Transport
	default:
		base = newHTTPTransport()
	}
	if opts.cloudflare {
		base = cloudflarebp.AddCloudFlareByPass(base)
	}
	t.c.Transport = Chain(base, opts.middlewares...)

	// Cookies belong to the client session, not the transport.
	t.c.Jar = nil

	t.c.CheckRedirect = redirectPolicy(opts.noFollowRedirects, t.c.CheckRedirect)

	return t, nil
}

// Send performs one exchange and buffers the whole body.
func (t *NetHTTP) Send(ctx context.Context, req *Request) (*Result, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := attemptContext(ctx, req)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiating request: %w", ErrTransport, err)
	}
	if req.Header != nil {
		hr.Header = req.Header.Clone()
	}
	if host := hr.Header.Get("Host"); host != "" {
		hr.Host = host
	}

	resp, err := t.c.Do(hr)
	if err != nil {
		return nil, classify(err)
	}

	b, err := readAllAndClose(resp.Body, t.maxBody)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			t.logger.Warn("response body exceeds limit", "url", req.URL, "limit", t.maxBody)
		}
		return nil, classify(fmt.Errorf("reading body: %w", err))
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		URL:        finalURL,
		Header:     resp.Header,
		Body:       b,
	}, nil
}

// Close tears down idle connections. Later calls to Send fail with ErrClosed.
func (t *NetHTTP) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.c.CloseIdleConnections()
	return nil
}
