package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adamwoolhether/unihttp/client/transport"
)

// RequestSpec is a fully built request. It is immutable once returned by
// [NewRequest]; retries resend the same bytes. Params of a spec built by
// hand are added to the URL query when it is sent.
type RequestSpec struct {
	Method  string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS TRACE CONNECT"`
	URL     string            `json:"url" validate:"required,http_url"`
	Header  http.Header       `json:"-"`
	Params  url.Values        `json:"-"`
	Body    []byte            `json:"-"`
	Timeout transport.Timeout `json:"timeout"`
	// MaxAttempts overrides the client retry policy when positive.
	MaxAttempts int               `json:"max_attempts" validate:"gte=0"`
	Cookies     map[string]string `json:"-"`
}

// RequestOption is a functional option for [NewRequest].
type RequestOption func(opts *requestOpts) error

type requestOpts struct {
	header      http.Header
	params      url.Values
	body        []byte
	bodyKind    string
	contentType string
	timeout     transport.Timeout
	maxAttempts int
	cookies     map[string]string
}

// NewRequest builds and validates a [RequestSpec]. The method is
// upper-cased and params are merged into the URL query.
func NewRequest(method, rawURL string, opts ...RequestOption) (*RequestSpec, error) {
	settings := requestOpts{header: make(http.Header)}
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, configErr(fmt.Errorf("applying request option: %w", err))
		}
	}

	spec := &RequestSpec{
		Method:      strings.ToUpper(strings.TrimSpace(method)),
		URL:         rawURL,
		Header:      settings.header,
		Params:      settings.params,
		Body:        settings.body,
		Timeout:     settings.timeout,
		MaxAttempts: settings.maxAttempts,
		Cookies:     settings.cookies,
	}
	if err := check(spec); err != nil {
		return nil, configErr(err)
	}

	if err := spec.foldParams(); err != nil {
		return nil, configErr(err)
	}

	if settings.contentType != "" && spec.Header.Get("Content-Type") == "" {
		spec.Header.Set("Content-Type", settings.contentType)
	}

	return spec, nil
}

// Host returns the lower-cased host name of the request URL without port.
func (r *RequestSpec) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// clone returns a deep copy so merging never mutates a caller's spec.
func (r *RequestSpec) clone() *RequestSpec {
	cpy := *r
	cpy.Header = r.Header.Clone()
	if cpy.Header == nil {
		cpy.Header = make(http.Header)
	}
	if r.Params != nil {
		cpy.Params = make(url.Values, len(r.Params))
		for k, v := range r.Params {
			cpy.Params[k] = append([]string(nil), v...)
		}
	}
	if r.Cookies != nil {
		cpy.Cookies = make(map[string]string, len(r.Cookies))
		for k, v := range r.Cookies {
			cpy.Cookies[k] = v
		}
	}
	return &cpy
}

// foldParams moves Params into the URL query.
func (r *RequestSpec) foldParams() error {
	if len(r.Params) == 0 {
		return nil
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	for k, vs := range r.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	r.URL = u.String()
	r.Params = nil

	return nil
}

func (r *RequestSpec) transportRequest() *transport.Request {
	return &transport.Request{
		Method:  r.Method,
		URL:     r.URL,
		Header:  r.Header,
		Body:    r.Body,
		Timeout: r.Timeout,
	}
}

func (o *requestOpts) setBody(kind string, b []byte, contentType string) error {
	if o.bodyKind != "" && o.bodyKind != kind {
		return fmt.Errorf("request body already set as %s, cannot also set %s", o.bodyKind, kind)
	}
	o.bodyKind = kind
	o.body = b
	if o.contentType == "" {
		o.contentType = contentType
	}
	return nil
}

// WithHeaders adds custom headers to the outgoing request. Per-call headers
// win over the client's defaults.
func WithHeaders(headers http.Header) RequestOption {
	return func(opts *requestOpts) error {
		for k, vs := range headers {
			for _, v := range vs {
				opts.header.Add(k, v)
			}
		}
		return nil
	}
}

// WithHeader sets a single header.
func WithHeader(key, value string) RequestOption {
	return func(opts *requestOpts) error {
		if key == "" {
			return errors.New("header key must not be empty")
		}
		opts.header.Set(key, value)
		return nil
	}
}

// WithParams appends query parameters to the URL.
func WithParams(params url.Values) RequestOption {
	return func(opts *requestOpts) error {
		if opts.params == nil {
			opts.params = make(url.Values)
		}
		for k, vs := range params {
			opts.params[k] = append(opts.params[k], vs...)
		}
		return nil
	}
}

// WithBody sets a raw request body.
func WithBody(body []byte) RequestOption {
	return func(opts *requestOpts) error {
		return opts.setBody("raw", bytes.Clone(body), "")
	}
}

// WithForm sets an urlencoded form body.
func WithForm(form url.Values) RequestOption {
	return func(opts *requestOpts) error {
		return opts.setBody("form", []byte(form.Encode()), "application/x-www-form-urlencoded")
	}
}

// WithJSON sets a JSON-encoded request body.
func WithJSON(v any) RequestOption {
	return func(opts *requestOpts) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding request payload: %w", err)
		}
		return opts.setBody("json", b, "application/json")
	}
}

// WithContentType overrides the Content-Type implied by the body option.
func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}
		opts.contentType = contentType
		return nil
	}
}

// WithRequestTimeout overrides the client's connect and read timeouts for
// this request. A zero value keeps the client default for that phase.
func WithRequestTimeout(connect, read time.Duration) RequestOption {
	return func(opts *requestOpts) error {
		if connect < 0 || read < 0 {
			return errors.New("timeouts must not be negative")
		}
		opts.timeout = transport.Timeout{Connect: connect, Read: read}
		return nil
	}
}

// WithMaxRetries overrides how many times a failed request is retried.
// Zero disables retries for this request.
func WithMaxRetries(n int) RequestOption {
	return func(opts *requestOpts) error {
		if n < 0 {
			return errors.New("max retries must not be negative")
		}
		opts.maxAttempts = n + 1
		return nil
	}
}

// WithCookies attaches cookies to this request only. They win over
// session cookies of the same name.
func WithCookies(cookies map[string]string) RequestOption {
	return func(opts *requestOpts) error {
		if opts.cookies == nil {
			opts.cookies = make(map[string]string, len(cookies))
		}
		for k, v := range cookies {
			opts.cookies[k] = v
		}
		return nil
	}
}
