package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/adamwoolhether/unihttp/client/dom"
	"github.com/adamwoolhether/unihttp/client/textenc"
	"github.com/adamwoolhether/unihttp/client/transport"
)

// ErrEncodingResolved is returned by [Response.SetEncoding] once the
// encoding has already been resolved or used to decode text.
var ErrEncodingResolved = errors.New("response encoding already resolved")

type origin uint8

const (
	originSync origin = iota
	originAsync
)

func (o origin) String() string {
	if o == originAsync {
		return "async"
	}
	return "sync"
}

// Response is the unified result of a request, identical whether it came
// from a [Client] or an [AsyncClient]. Body is never modified; the
// decoded and parsed views are computed on first access and cached.
// A Response is safe for concurrent use.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	// URL is the final URL after redirects.
	URL      string
	Header   http.Header
	Body     []byte
	Request  *RequestSpec
	ID       string
	Index    int
	Elapsed  time.Duration
	Attempts int

	origin   origin
	resolver *textenc.Resolver
	parser   dom.Parser
	override string

	encOnce  sync.Once
	encoding string

	textOnce sync.Once
	text     string

	jsonOnce sync.Once
	jsonVal  any
	jsonErr  error

	docOnce sync.Once
	doc     *dom.Document
	docErr  error
}

// unify builds a Response from a raw transport result. Nothing is decoded
// here.
func unify(res *transport.Result, spec *RequestSpec, o origin, resolver *textenc.Resolver, parser dom.Parser, override string) *Response {
	resp := &Response{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Proto:      res.Proto,
		URL:        res.URL,
		Header:     res.Header,
		Body:       res.Body,
		Request:    spec,
		ID:         uuid.NewString(),
		Index:      -1,
		origin:     o,
		resolver:   resolver,
		parser:     parser,
		override:   override,
	}

	if resp.Status == "" {
		resp.Status = fmt.Sprintf("%d %s", res.StatusCode, http.StatusText(res.StatusCode))
	}
	if resp.URL == "" && spec != nil {
		resp.URL = spec.URL
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	if res.Body == nil && res.Text != "" {
		resp.Body = []byte(res.Text)
		resp.encOnce.Do(func() { resp.encoding = textenc.DefaultEncoding })
	}

	return resp
}

// Encoding returns the resolved character encoding of Body.
func (r *Response) Encoding() string {
	r.encOnce.Do(func() {
		if r.resolver == nil {
			r.encoding = textenc.DefaultEncoding
			return
		}
		r.encoding = r.resolver.Resolve(r.Body, r.Header.Get("Content-Type"), r.override)
	})
	return r.encoding
}

// SetEncoding fixes the encoding used by Text. It must be called before
// the first call to Encoding, Text, JSON or Document.
func (r *Response) SetEncoding(name string) error {
	canon, ok := textenc.Canonical(name)
	if !ok {
		return fmt.Errorf("unknown encoding %q", name)
	}

	var applied bool
	r.encOnce.Do(func() {
		r.encoding = canon
		applied = true
	})
	if !applied {
		return ErrEncodingResolved
	}
	return nil
}

// Text returns Body decoded with the resolved encoding. Invalid sequences
// become U+FFFD.
func (r *Response) Text() string {
	r.textOnce.Do(func() {
		r.text = textenc.Decode(r.Body, r.Encoding())
	})
	return r.text
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.jsonBytes(), v); err != nil {
		return &ParseError{Kind: "json", Err: err}
	}
	return nil
}

// JSONValue decodes the body into a generic value once and caches it.
func (r *Response) JSONValue() (any, error) {
	r.jsonOnce.Do(func() {
		var v any
		if err := json.Unmarshal(r.jsonBytes(), &v); err != nil {
			r.jsonErr = &ParseError{Kind: "json", Err: err}
			return
		}
		r.jsonVal = v
	})
	return r.jsonVal, r.jsonErr
}

func (r *Response) jsonBytes() []byte {
	if utf8.Valid(r.Body) {
		return bytes.TrimPrefix(r.Body, []byte{0xEF, 0xBB, 0xBF})
	}
	return []byte(r.Text())
}

// Document parses the text once and caches the tree.
func (r *Response) Document() (*dom.Document, error) {
	r.docOnce.Do(func() {
		parser := r.parser
		if parser == nil {
			parser = dom.HTMLParser{}
		}
		doc, err := parser.Parse(r.Text())
		if err != nil {
			r.docErr = &ParseError{Kind: "markup", Err: err}
			return
		}
		r.doc = doc
	})
	return r.doc, r.docErr
}

// Select evaluates a CSS or XPath expression against the document.
func (r *Response) Select(expr string, kind dom.Kind) ([]*dom.Node, error) {
	doc, err := r.Document()
	if err != nil {
		return nil, err
	}
	return doc.Select(expr, kind)
}

// Find evaluates a CSS selector against the document.
func (r *Response) Find(css string) ([]*dom.Node, error) {
	return r.Select(css, dom.CSS)
}

// XPath evaluates an XPath expression against the document.
func (r *Response) XPath(expr string) ([]*dom.Node, error) {
	return r.Select(expr, dom.XPath)
}

// OK reports whether the status is below 400.
func (r *Response) OK() bool {
	return r.StatusCode < http.StatusBadRequest
}

// RaiseForStatus returns a [StatusError] for 4xx and 5xx responses.
func (r *Response) RaiseForStatus() error {
	if r.OK() {
		return nil
	}
	return newStatusError(r)
}

// Cookies parses the Set-Cookie headers of the response.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// ContentType returns the lower-cased media type without parameters.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
		return strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

func (r *Response) String() string {
	method := http.MethodGet
	if r.Request != nil {
		method = r.Request.Method
	}
	return fmt.Sprintf("%s %s: %s (%d bytes)", method, r.URL, r.Status, len(r.Body))
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
