// Package dom parses markup and evaluates CSS selectors and XPath
// expressions against it.
//
// CSS selectors are compiled with cascadia and matched through goquery;
// XPath is evaluated by htmlquery. Both return [Node] values that expose the
// tag, attributes, text and outer HTML of each match.
package dom
