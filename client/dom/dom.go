package dom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	ErrParse             = errors.New("document parse failed")
	ErrInvalidExpression = errors.New("invalid query expression")
)

// Kind selects the query language of an expression.
type Kind int

const (
	CSS Kind = iota
	XPath
)

func (k Kind) String() string {
	switch k {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Parser turns decoded text into a queryable Document.
type Parser interface {
	Parse(text string) (*Document, error)
}

// ParserFunc adapts a function into a [Parser].
type ParserFunc func(text string) (*Document, error)

// Parse implements Parser.
func (f ParserFunc) Parse(text string) (*Document, error) { return f(text) }

// HTMLParser is the default [Parser], built on golang.org/x/net/html.
type HTMLParser struct{}

// Parse implements Parser. Text without any markup is rejected.
func (HTMLParser) Parse(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}
	if !strings.Contains(text, "<") {
		return nil, fmt.Errorf("%w: no markup found", ErrParse)
	}

	root, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return NewDocument(root), nil
}

// Document is a parsed tree. It is safe for concurrent queries.
type Document struct {
	root *html.Node
	doc  *goquery.Document
}

// NewDocument wraps an already parsed tree.
func NewDocument(root *html.Node) *Document {
	return &Document{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}
}

// Root returns the underlying tree.
func (d *Document) Root() *html.Node { return d.root }

// Selection exposes the document as a goquery selection.
func (d *Document) Selection() *goquery.Selection { return d.doc.Selection }

// Select evaluates expr against the whole document.
func (d *Document) Select(expr string, kind Kind) ([]*Node, error) {
	return query(d.root, expr, kind)
}

// Find evaluates a CSS selector.
func (d *Document) Find(css string) ([]*Node, error) {
	return query(d.root, css, CSS)
}

// XPath evaluates an XPath expression.
func (d *Document) XPath(expr string) ([]*Node, error) {
	return query(d.root, expr, XPath)
}

// Title returns the trimmed text of the first <title> element.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

func query(top *html.Node, expr string, kind Kind) ([]*Node, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: empty %s expression", ErrInvalidExpression, kind)
	}

	var found []*html.Node
	switch kind {
	case CSS:
		sel, err := cascadia.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: css %q: %w", ErrInvalidExpression, expr, err)
		}
		found = goquery.NewDocumentFromNode(top).FindMatcher(sel).Nodes
	case XPath:
		nodes, err := htmlquery.QueryAll(top, expr)
		if err != nil {
			return nil, fmt.Errorf("%w: xpath %q: %w", ErrInvalidExpression, expr, err)
		}
		found = nodes
	default:
		return nil, fmt.Errorf("%w: unknown kind %v", ErrInvalidExpression, kind)
	}

	out := make([]*Node, len(found))
	for i, n := range found {
		out[i] = &Node{n: n}
	}
	return out, nil
}
