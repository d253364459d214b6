package transport

import (
	"io"
	"math"
	"net/http"
)

// Middleware wraps an http.RoundTripper and returns a new one.
// The returned RoundTripper must be safe for concurrent use.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to an http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Chain applies middlewares to base so that Chain(base, a, b) is a(b(base)).
// A nil base is replaced with a clone of the default transport.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = newHTTPTransport()
	}
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		base = mws[i](base)
	}
	return base
}

// SetHeader returns a Middleware that sets key on every outgoing request
// that does not already carry it.
func SetHeader(key, value string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get(key) != "" {
				return next.RoundTrip(r)
			}
			cpy := r.Clone(r.Context())
			cpy.Header.Set(key, value)
			return next.RoundTrip(cpy)
		})
	}
}

// readAllAndClose reads at most limit bytes from body and always closes it.
// A non-positive limit means DefaultMaxBodySize.
func readAllAndClose(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()

	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	// Read one extra byte so overflow is detectable.
	n := limit
	if limit < math.MaxInt64 {
		n = limit + 1
	}
	b, err := io.ReadAll(&io.LimitedReader{R: body, N: n})
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrBodyTooLarge
	}

	return b, nil
}
