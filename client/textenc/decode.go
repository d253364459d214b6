package textenc

import (
	"bytes"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// aliases covers detector output that the WHATWG label table does not know.
var aliases = map[string]string{
	"gb-18030": "gb18030",
	"utf8":     "utf-8",
	"utf8mb4":  "utf-8",
	"ascii":    "utf-8",
	"us-ascii": "utf-8",
}

// Canonical maps a charset label onto its WHATWG name, reporting whether the
// label is known.
func Canonical(label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if a, ok := aliases[label]; ok {
		label = a
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return "", false
	}
	return name, true
}

// Decode converts body from the named encoding to a string. It never fails:
// unknown names are treated as UTF-8 and invalid input becomes U+FFFD.
func Decode(body []byte, name string) string {
	enc, canon := lookup(name)
	if enc == nil || canon == DefaultEncoding {
		return strings.ToValidUTF8(string(bytes.TrimPrefix(body, utf8BOM)), "\uFFFD")
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "\uFFFD")
	}
	return string(out)
}

func lookup(name string) (encoding.Encoding, string) {
	canon, ok := Canonical(name)
	if !ok {
		return nil, ""
	}
	enc, _ := charset.Lookup(canon)
	return enc, canon
}
