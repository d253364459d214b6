package useragent

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"

	browser "github.com/EDDYCJY/fake-useragent"
)

// Chrome is the User-Agent sent when nothing else is configured.
const Chrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var ErrEmptyPool = errors.New("user agent pool is empty")

// DefaultHeaders returns a fresh copy of the browser-like headers every
// client starts with. Accept-Encoding is left to the transport so that
// compressed bodies are decoded transparently.
func DefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      {Chrome},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7"},
		"Accept-Language": {"zh-CN,zh;q=0.9,en-US;q=0.6,en;q=0.4"},
		"Accept-Charset":  {"UTF-8,GB2312,GBK,GB18030,ISO-8859-1;q=0.7,*;q=0.7"},
	}
}

// Source yields a User-Agent for each outgoing request.
type Source interface {
	UserAgent() string
}

// SourceFunc adapts a function into a [Source].
type SourceFunc func() string

// UserAgent implements Source.
func (f SourceFunc) UserAgent() string { return f() }

// Pool picks uniformly from a fixed list of agents. It is safe for
// concurrent use.
type Pool struct {
	agents []string
}

// NewPool builds a Pool from agents. Blank entries are dropped. Without
// arguments the built-in desktop browser list is used.
func NewPool(agents ...string) (*Pool, error) {
	if len(agents) == 0 {
		agents = desktop
	}

	p := &Pool{agents: make([]string, 0, len(agents))}
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			p.agents = append(p.agents, a)
		}
	}
	if len(p.agents) == 0 {
		return nil, ErrEmptyPool
	}

	return p, nil
}

// UserAgent implements Source.
func (p *Pool) UserAgent() string {
	return p.agents[rand.IntN(len(p.agents))]
}

// Len returns the number of agents in the pool.
func (p *Pool) Len() int { return len(p.agents) }

// Browser returns a Source backed by the fake-useragent database. The
// database may be fetched over the network on first use, so it is opt-in.
func Browser() Source {
	return SourceFunc(browser.Random)
}

var desktop = []string{
	Chrome,
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}
