package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

var errHTTPClientOption = errors.New("http client option is not supported; pass a configured resty client instead")

// Resty is a [Transport] backed by a resty client.
type Resty struct {
	rc      *resty.Client
	maxBody int64
	logger  *slog.Logger
	closed  atomic.Bool
}

// NewResty adapts rc into a [Transport]. A nil rc gets a fresh resty client.
// Resty's own cookie jar and retry loop are disabled; both belong to the caller.
func NewResty(rc *resty.Client, optFns ...Option) (*Resty, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying transport option: %w", err)
		}
	}
	if opts.client != nil {
		return nil, fmt.Errorf("resty transport: %w", errHTTPClientOption)
	}

	if rc == nil {
		rc = resty.New()
	}
	rc.SetCookieJar(nil)
	rc.SetRetryCount(0)

	t := &Resty{
		rc:      rc,
		maxBody: opts.maxBodySize,
		logger:  slog.Default(),
	}
	if opts.logger != nil {
		t.logger = opts.logger
	}
	if t.maxBody <= 0 {
		t.maxBody = DefaultMaxBodySize
	}

	hc := rc.GetClient()
	base := hc.Transport
	switch {
	case opts.rt != nil:
		base = opts.rt
	case base == nil:
		base = newHTTPTransport()
	}
	if opts.cloudflare {
		base = cloudflarebp.AddCloudFlareByPass(base)
	}
	hc.Transport = Chain(base, opts.middlewares...)

	hc.CheckRedirect = redirectPolicy(opts.noFollowRedirects, hc.CheckRedirect)

	return t, nil
}

// Send performs one exchange through resty.
func (t *Resty) Send(ctx context.Context, req *Request) (*Result, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := attemptContext(ctx, req)
	defer cancel()

	r := t.rc.R().SetContext(ctx)
	if req.Header != nil {
		r.Header = req.Header.Clone()
	}
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, classify(err)
	}

	body := res.Body()
	if int64(len(body)) > t.maxBody {
		t.logger.Warn("response body exceeds limit", "url", req.URL, "limit", t.maxBody)
		return nil, ErrBodyTooLarge
	}

	finalURL := req.URL
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	return &Result{
		StatusCode: res.StatusCode(),
		Status:     res.Status(),
		Proto:      res.Proto(),
		URL:        finalURL,
		Header:     res.Header(),
		Body:       body,
	}, nil
}

// Close tears down idle connections. Later calls to Send fail with ErrClosed.
func (t *Resty) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.rc.GetClient().CloseIdleConnections()
	return nil
}
