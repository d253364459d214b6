package client

import (
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"golang.org/x/net/publicsuffix"

	"github.com/adamwoolhether/unihttp/client/textenc"
	"github.com/adamwoolhether/unihttp/client/transport"
)

// State is the header and cookie state shared by every request of one
// client. Merge takes the read lock; Absorb and the setters take the
// write lock.
type State struct {
	mu       sync.RWMutex
	header   http.Header
	jar      map[string]map[string]string
	timeout  transport.Timeout
	encoding string
	session  bool
	logger   *slog.Logger
}

func newState(header http.Header, timeout transport.Timeout, encoding string, session bool, logger *slog.Logger) *State {
	if header == nil {
		header = make(http.Header)
	}
	return &State{
		header:   header,
		jar:      make(map[string]map[string]string),
		timeout:  timeout,
		encoding: encoding,
		session:  session,
		logger:   logger,
	}
}

// Merge returns the effective request for spec: default headers overlaid
// by per-call headers, jar cookies for the request host overlaid by
// per-call cookies, and default timeouts for any zero timeout field.
// spec itself is never modified.
func (s *State) Merge(spec *RequestSpec) *RequestSpec {
	eff := spec.clone()
	if err := eff.foldParams(); err != nil {
		s.logger.Warn("dropping request params", "url", spec.URL, "error", err)
		eff.Params = nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	header := s.header.Clone()
	for k, vs := range spec.Header {
		header[k] = slices.Clone(vs)
	}
	eff.Header = header

	cookies := make(map[string]string)
	host := spec.Host()
	for _, domain := range byLength(s.jar) {
		if domainMatch(host, domain) {
			maps.Copy(cookies, s.jar[domain])
		}
	}

	raw := eff.Header.Get("Cookie")
	perCall, ok := parseCookieHeader(raw)
	maps.Copy(cookies, perCall)
	maps.Copy(cookies, spec.Cookies)
	setCookieHeader(eff.Header, cookies)
	if !ok {
		// Unparseable per-call header: keep it verbatim ahead of the jar.
		if merged := eff.Header.Get("Cookie"); merged != "" {
			raw += "; " + merged
		}
		eff.Header.Set("Cookie", raw)
	}

	if err := mergo.Merge(&eff.Timeout, s.timeout); err != nil {
		s.logger.Error("merging default timeout", "error", err)
	}

	return eff
}

// scopedCookie is a response cookie that passed the domain rules.
type scopedCookie struct {
	domain string
	name   string
	value  string
	remove bool
}

// Absorb stores the Set-Cookie values of resp in the jar when session
// mode is on. Cookies scoped to a public suffix or to a domain the
// response host does not belong to are dropped; expired cookies delete
// any stored value.
func (s *State) Absorb(resp *Response) {
	if resp == nil {
		return
	}

	host := hostOf(resp.URL)
	if host == "" && resp.Request != nil {
		host = resp.Request.Host()
	}
	s.absorb(host, resp.Cookies())
}

// absorb applies the cookie domain rules for host, stores the result when
// session mode is on and returns what was accepted.
func (s *State) absorb(host string, cookies []*http.Cookie) []scopedCookie {
	if host == "" || len(cookies) == 0 {
		return nil
	}

	now := time.Now()
	scoped := make([]scopedCookie, 0, len(cookies))
	for _, ck := range cookies {
		domain := host
		if ck.Domain != "" {
			d := strings.ToLower(strings.TrimPrefix(ck.Domain, "."))
			if !domainMatch(host, d) {
				s.logger.Debug("rejecting cookie for foreign domain", "cookie", ck.Name, "domain", d, "host", host)
				continue
			}
			if ps, _ := publicsuffix.PublicSuffix(d); ps == d && d != host {
				s.logger.Debug("rejecting cookie for public suffix", "cookie", ck.Name, "domain", d)
				continue
			}
			domain = d
		}

		scoped = append(scoped, scopedCookie{
			domain: domain,
			name:   ck.Name,
			value:  ck.Value,
			remove: ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(now)),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session {
		return scoped
	}

	for _, sc := range scoped {
		if sc.remove {
			if jar, ok := s.jar[sc.domain]; ok {
				delete(jar, sc.name)
				if len(jar) == 0 {
					delete(s.jar, sc.domain)
				}
			}
			continue
		}

		if s.jar[sc.domain] == nil {
			s.jar[sc.domain] = make(map[string]string)
		}
		s.jar[sc.domain][sc.name] = sc.value
	}

	return scoped
}

// redirectFunc returns the redirect hook for one attempt. Cookies set by a
// redirect response are absorbed like any other, and the ones in scope
// ride along on every later hop of the same attempt, session mode or not.
func (s *State) redirectFunc() transport.RedirectFunc {
	carried := make(map[string]map[string]scopedCookie)

	return func(resp *http.Response, next *http.Request) {
		var host string
		if resp.Request != nil && resp.Request.URL != nil {
			host = strings.ToLower(resp.Request.URL.Hostname())
		}
		for _, sc := range s.absorb(host, resp.Cookies()) {
			if carried[sc.domain] == nil {
				carried[sc.domain] = make(map[string]scopedCookie)
			}
			carried[sc.domain][sc.name] = sc
		}
		if len(carried) == 0 {
			return
		}

		cookies, ok := parseCookieHeader(next.Header.Get("Cookie"))
		if !ok {
			return
		}
		nextHost := strings.ToLower(next.URL.Hostname())
		for _, domain := range byLength(carried) {
			if !domainMatch(nextHost, domain) {
				continue
			}
			for name, sc := range carried[domain] {
				if sc.remove {
					delete(cookies, name)
				} else {
					cookies[name] = sc.value
				}
			}
		}
		setCookieHeader(next.Header, cookies)
	}
}

// SetHeader replaces a default header.
func (s *State) SetHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Set(key, value)
}

// SetHeaders replaces each given default header.
func (s *State) SetHeaders(h http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, vs := range h {
		s.header[http.CanonicalHeaderKey(k)] = slices.Clone(vs)
	}
}

// DelHeader removes a default header.
func (s *State) DelHeader(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Del(key)
}

// Headers returns a copy of the default headers.
func (s *State) Headers() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.Clone()
}

// SetCookie stores a cookie for domain. It is sent to the domain and its
// subdomains.
func (s *State) SetCookie(domain, name, value string) {
	s.SetCookies(domain, map[string]string{name: value})
}

// SetCookies stores several cookies for domain.
func (s *State) SetCookies(domain string, cookies map[string]string) {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jar[domain] == nil {
		s.jar[domain] = make(map[string]string, len(cookies))
	}
	maps.Copy(s.jar[domain], cookies)
}

// DelCookie removes one cookie stored for domain.
func (s *State) DelCookie(domain, name string) {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jar[domain], name)
	if len(s.jar[domain]) == 0 {
		delete(s.jar, domain)
	}
}

// Cookies returns a copy of the cookies stored for domain exactly.
func (s *State) Cookies(domain string) map[string]string {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))

	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.jar[domain])
}

// SetTimeout replaces the default timeouts. Zero fields are left as they were.
func (s *State) SetTimeout(t transport.Timeout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mergo.Merge(&t, s.timeout); err != nil {
		s.logger.Error("merging timeout", "error", err)
		return
	}
	s.timeout = t
}

// Timeout returns the default timeouts.
func (s *State) Timeout() transport.Timeout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// SetEncoding forces the character encoding of every later response.
// An empty name restores detection.
func (s *State) SetEncoding(name string) error {
	if name != "" {
		canon, ok := textenc.Canonical(name)
		if !ok {
			return configErr(fmt.Errorf("unknown encoding %q", name))
		}
		name = canon
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding = name
	return nil
}

// Encoding returns the forced encoding, if any.
func (s *State) Encoding() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encoding
}

// Session reports whether response cookies are being stored.
func (s *State) Session() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Reset drops all stored cookies and default headers.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar = make(map[string]map[string]string)
	s.header = make(http.Header)
}

// byLength returns the domains of m shortest first, so that copying them in
// order lets the most specific domain win.
func byLength[V any](m map[string]V) []string {
	return slices.SortedFunc(maps.Keys(m), func(a, b string) int {
		if n := len(a) - len(b); n != 0 {
			return n
		}
		return strings.Compare(a, b)
	})
}

// parseCookieHeader splits a Cookie header into name/value pairs. ok is
// false when the header is present but malformed.
func parseCookieHeader(line string) (map[string]string, bool) {
	out := make(map[string]string)
	if strings.TrimSpace(line) == "" {
		return out, true
	}

	cookies, err := http.ParseCookie(line)
	if err != nil {
		return out, false
	}
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, true
}

// setCookieHeader writes cookies as one Cookie header sorted by name.
func setCookieHeader(h http.Header, cookies map[string]string) {
	if len(cookies) == 0 {
		h.Del("Cookie")
		return
	}

	pairs := make([]string, 0, len(cookies))
	for _, name := range slices.Sorted(maps.Keys(cookies)) {
		pairs = append(pairs, name+"="+cookies[name])
	}
	h.Set("Cookie", strings.Join(pairs, "; "))
}

// domainMatch reports whether host equals domain or is a subdomain of it.
// IP addresses only match exactly.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}
