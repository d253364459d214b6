package textenc

import (
	"sync"

	"github.com/saintfish/chardet"
)

// Detector guesses the charset of a byte sample. Confidence is in [0, 1].
type Detector interface {
	Detect(sample []byte) (name string, confidence float64, err error)
}

// DetectorFunc adapts a function into a [Detector].
type DetectorFunc func(sample []byte) (string, float64, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(sample []byte) (string, float64, error) {
	return f(sample)
}

// ChardetDetector is a [Detector] backed by github.com/saintfish/chardet.
type ChardetDetector struct {
	mu sync.Mutex
	d  *chardet.Detector
}

// NewChardetDetector returns a detector for plain text and markup.
func NewChardetDetector() *ChardetDetector {
	return &ChardetDetector{d: chardet.NewTextDetector()}
}

// Detect implements Detector.
func (c *ChardetDetector) Detect(sample []byte) (string, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.d.DetectBest(sample)
	if err != nil {
		return "", 0, err
	}
	return res.Charset, float64(res.Confidence) / 100, nil
}
