package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	ErrTransport    = errors.New("transport failure")
	ErrTimeout      = errors.New("transport timeout")
	ErrBodyTooLarge = errors.New("response body too large")
	ErrClosed       = errors.New("transport closed")
)

// DefaultMaxBodySize caps how many response bytes a transport buffers.
const DefaultMaxBodySize int64 = 32 << 20

// Transport performs a single HTTP exchange. Implementations own
// connection pooling and must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

// Timeout is the connect/read pair applied to one attempt.
// A zero field means no bound for that phase.
type Timeout struct {
	Connect time.Duration `json:"connect" validate:"gte=0"`
	Read    time.Duration `json:"read" validate:"gte=0"`
}

// Total is the upper bound of a whole attempt. Without a read bound the
// attempt is unbounded.
func (t Timeout) Total() time.Duration {
	if t.Read <= 0 {
		return 0
	}
	return t.Connect + t.Read
}

// Request is the fully merged, materialized request handed to a Transport.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout Timeout
	// Redirect, when set, is called for every redirect the transport
	// follows, before the next hop is sent. It may edit next's headers.
	Redirect RedirectFunc
}

// RedirectFunc observes a redirect response and the request about to
// follow it.
type RedirectFunc func(resp *http.Response, next *http.Request)

const maxRedirects = 10

// Result is the raw outcome of an exchange. Body holds the complete payload;
// a transport that only produces text leaves Body nil and fills Text.
type Result struct {
	StatusCode int
	Status     string
	Proto      string
	URL        string
	Header     http.Header
	Body       []byte
	Text       string
}

// classify maps low-level failures onto ErrTimeout or ErrTransport.
// Cancellation is passed through untouched so callers can tell it apart.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var ne net.Error
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// attemptContext bounds ctx by the request's total timeout and records
// the connect timeout for the dialer and the redirect hook.
func attemptContext(ctx context.Context, req *Request) (context.Context, context.CancelFunc) {
	t := req.Timeout
	if req.Redirect != nil {
		ctx = context.WithValue(ctx, redirectKey{}, req.Redirect)
	}
	if t.Connect > 0 {
		ctx = context.WithValue(ctx, connectTimeoutKey{}, t.Connect)
	}
	if total := t.Total(); total > 0 {
		return context.WithTimeout(ctx, total)
	}
	return context.WithCancel(ctx)
}

type connectTimeoutKey struct{}

type redirectKey struct{}

// redirectPolicy builds a CheckRedirect func that runs the hook of the
// request being redirected, then defers to prev when one was configured.
func redirectPolicy(noFollow bool, prev func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	if noFollow {
		return func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return func(next *http.Request, via []*http.Request) error {
		if prev != nil {
			if err := prev(next, via); err != nil {
				return err
			}
		} else if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}

		if hook, ok := next.Context().Value(redirectKey{}).(RedirectFunc); ok && next.Response != nil {
			hook(next.Response, next)
		}
		return nil
	}
}

// dialContext honours a per-request connect timeout carried on the context.
func dialContext(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if t, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok && t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		return d.DialContext(ctx, network, addr)
	}
}

// newHTTPTransport clones the stdlib default and swaps in the
// timeout-aware dialer.
func newHTTPTransport() *http.Transport {
	var t *http.Transport
	if dt, ok := http.DefaultTransport.(*http.Transport); ok && dt != nil {
		t = dt.Clone()
	} else {
		t = &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	t.DialContext = dialContext(&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	})
	return t
}
