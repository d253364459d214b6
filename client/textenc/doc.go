// Package textenc resolves and applies the character encoding of HTTP
// response bodies.
//
// [Resolver.Resolve] settles on an encoding name in four steps: an explicit
// override, a charset declared by the Content-Type header or the document
// itself (only when the body actually decodes under it), statistical
// detection through a [Detector], and finally UTF-8. [Decode] turns bytes
// into text under that name and never fails.
package textenc
