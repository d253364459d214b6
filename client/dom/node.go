package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Node is one query match. XPath attribute matches (//a/@href) are nodes
// whose Tag is the attribute name and whose Text is its value.
type Node struct {
	n *html.Node
}

// Raw returns the underlying tree node.
func (n *Node) Raw() *html.Node { return n.n }

// Tag returns the element name.
func (n *Node) Tag() string { return n.n.Data }

// Attr returns the named attribute and whether it is present.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the concatenated text of the node and its descendants.
func (n *Node) Text() string { return htmlquery.InnerText(n.n) }

// HTML returns the node's outer markup.
func (n *Node) HTML() string { return htmlquery.OutputHTML(n.n, true) }

// Select evaluates expr relative to this node.
func (n *Node) Select(expr string, kind Kind) ([]*Node, error) {
	return query(n.n, expr, kind)
}
