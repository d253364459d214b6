package textenc

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultEncoding is used when nothing better can be established.
	DefaultEncoding = "utf-8"
	// DefaultMinConfidence is the lowest detector confidence that is trusted.
	DefaultMinConfidence = 0.6
	// DefaultCacheSize bounds the number of remembered detection results.
	DefaultCacheSize = 1024

	prescanSize = 2 << 10
	sampleSize  = 64 << 10
)

var (
	utf8BOM     = []byte{0xEF, 0xBB, 0xBF}
	replacement = []byte("\uFFFD")

	metaCharset = regexp.MustCompile(`(?i)charset\s*=\s*["']?\s*([\w.:-]+)`)
	xmlEncoding = regexp.MustCompile(`(?i)<\?xml[^>]*encoding\s*=\s*["']\s*([\w.:-]+)`)
)

// Resolver picks the character encoding of a response body. It is safe for
// concurrent use.
type Resolver struct {
	detector      Detector
	minConfidence float64
	cache         *lru.Cache[[sha256.Size]byte, string]
	logger        *slog.Logger
}

// NewResolver builds a Resolver. Without options it uses chardet for
// statistical detection and an LRU of [DefaultCacheSize] entries.
func NewResolver(optFns ...Option) (*Resolver, error) {
	opts := options{
		minConfidence: DefaultMinConfidence,
		cacheSize:     DefaultCacheSize,
	}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying resolver option: %w", err)
		}
	}

	r := &Resolver{
		detector:      opts.detector,
		minConfidence: opts.minConfidence,
		logger:        opts.logger,
	}
	if r.detector == nil {
		r.detector = NewChardetDetector()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if opts.cacheSize > 0 {
		cache, err := lru.New[[sha256.Size]byte, string](opts.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating detection cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// Resolve returns the canonical name of the encoding to decode body with.
// Precedence: a known override, then a declared charset that survives
// validation, then a confident detection, then [DefaultEncoding].
func (r *Resolver) Resolve(body []byte, contentType, override string) string {
	if override != "" {
		if name, ok := Canonical(override); ok {
			return name
		}
		r.logger.Debug("ignoring unknown encoding override", "encoding", override)
	}

	for _, label := range declared(body, contentType) {
		name, ok := Canonical(label)
		if !ok {
			continue
		}
		if acceptDeclared(body, name) {
			return name
		}
		r.logger.Debug("declared charset rejected", "charset", label)
	}

	// Well-formed UTF-8 (ASCII included) needs no statistics.
	if utf8.Valid(body) {
		return DefaultEncoding
	}

	if name := r.detect(body); name != "" {
		return name
	}

	return DefaultEncoding
}

// detect consults the detector on a bounded sample, memoizing per sample hash.
// An empty result means no trustworthy detection.
func (r *Resolver) detect(body []byte) string {
	sample, truncated := body, false
	if len(sample) > sampleSize {
		sample, truncated = sample[:sampleSize], true
	}

	var key [sha256.Size]byte
	if r.cache != nil {
		key = sha256.Sum256(sample)
		if name, ok := r.cache.Get(key); ok {
			return name
		}
	}

	var name string
	label, confidence, err := r.detector.Detect(sample)
	switch {
	case err != nil:
		r.logger.Debug("charset detection failed", "error", err)
	case confidence < r.minConfidence:
		r.logger.Debug("charset detection below threshold", "charset", label, "confidence", confidence)
	default:
		if canon, ok := Canonical(label); ok && sampleDecodesCleanly(sample, canon, truncated) {
			name = canon
		}
	}

	if r.cache != nil {
		r.cache.Add(key, name)
	}

	return name
}

// declared returns the charset labels claimed by the Content-Type header and
// by an in-document declaration, in that order.
func declared(body []byte, contentType string) []string {
	var labels []string

	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if cs := params["charset"]; cs != "" {
				labels = append(labels, cs)
			}
		} else if m := metaCharset.FindStringSubmatch(contentType); m != nil {
			labels = append(labels, m[1])
		}
	}

	head := body
	if len(head) > prescanSize {
		head = head[:prescanSize]
	}
	for _, re := range []*regexp.Regexp{metaCharset, xmlEncoding} {
		if m := re.FindSubmatch(head); m != nil {
			labels = append(labels, string(m[1]))
		}
	}

	return labels
}

// acceptDeclared reports whether body is plausibly encoded as name.
func acceptDeclared(body []byte, name string) bool {
	if name != DefaultEncoding && (bytes.HasPrefix(body, utf8BOM) || (utf8.Valid(body) && !isASCII(body))) {
		return false
	}
	return decodesCleanly(body, name)
}

func decodesCleanly(body []byte, name string) bool {
	out := Decode(body, name)
	return strings.Count(out, "\uFFFD") <= bytes.Count(body, replacement)
}

// sampleDecodesCleanly is decodesCleanly for a body prefix. A cut sample may
// end inside a multibyte character, so replacements produced by that final
// partial sequence do not count.
func sampleDecodesCleanly(sample []byte, name string, truncated bool) bool {
	if !truncated {
		return decodesCleanly(sample, name)
	}

	out := Decode(sample, name)
	for range utf8.UTFMax {
		trimmed, ok := strings.CutSuffix(out, "\uFFFD")
		if !ok {
			break
		}
		out = trimmed
	}
	return strings.Count(out, "\uFFFD") <= bytes.Count(sample, replacement)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
