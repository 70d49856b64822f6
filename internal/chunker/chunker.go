// Package chunker splits a timed transcript into overlapping, time-aligned
// chunks suitable for embedding and retrieval.
//
// The algorithm is greedy: segments are accumulated until the chunk text
// reaches the target length or its duration reaches the cap, the chunk is
// emitted, and the next chunk starts with the trailing segments that fall
// inside the overlap window. A segment is never split.
//
// A Chunker is immutable after construction and safe for concurrent use.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Validation errors. They are wrapped in *SegmentError when they concern a
// single segment.
var (
	ErrEmptyTranscript = errors.New("empty transcript")
	ErrInvalidTiming   = errors.New("segment end must be after start and times must be non-negative")
	ErrOutOfOrder      = errors.New("segments are not ordered by start time")
	ErrNoText          = errors.New("transcript contains no text")
)

// Segment is one caption cue: a time range in seconds and its text.
type Segment struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end"   yaml:"end"`
	Text  string  `json:"text"  yaml:"text"`
}

// Chunk is a contiguous run of segments. Ordinals are 0..n-1 in emission
// order.
type Chunk struct {
	Ordinal int
	Start   float64
	End     float64
	Text    string
}

// Duration returns End-Start in seconds.
func (c Chunk) Duration() float64 { return c.End - c.Start }

// SegmentError reports which segment failed validation.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string { return fmt.Sprintf("segment %d: %v", e.Index, e.Err) }
func (e *SegmentError) Unwrap() error { return e.Err }

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	targetChars int
	maxDuration float64
	overlap     float64
}

// Defaults used when an option is not supplied.
const (
	DefaultTargetChars = 800
	DefaultMaxDuration = 60 * time.Second
	DefaultOverlap     = 10 * time.Second
)

func defaultConfig() config {
	return config{
		targetChars: DefaultTargetChars,
		maxDuration: DefaultMaxDuration.Seconds(),
		overlap:     DefaultOverlap.Seconds(),
	}
}

// WithTargetChars sets the soft maximum number of characters per chunk.
func WithTargetChars(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.targetChars = n
		}
	}
}

// WithMaxDuration caps the duration of one chunk.
func WithMaxDuration(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxDuration = d.Seconds()
		}
	}
}

// WithOverlap sets the trailing window carried into the next chunk. Zero
// disables overlap.
func WithOverlap(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.overlap = d.Seconds()
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

// Chunker turns segments into chunks.
type Chunker struct {
	cfg config
}

// New returns a Chunker configured by opts.
func New(opts ...Option) *Chunker {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Chunker{cfg: cfg}
}

// TargetChars reports the configured soft character limit.
func (c *Chunker) TargetChars() int { return c.cfg.targetChars }

// Overlap reports the configured overlap window.
func (c *Chunker) Overlap() time.Duration {
	return time.Duration(c.cfg.overlap * float64(time.Second))
}

// Validate checks segments without chunking them.
func Validate(segs []Segment) error {
	if len(segs) == 0 {
		return ErrEmptyTranscript
	}
	hasText := false
	for i, s := range segs {
		if s.Start < 0 || s.End <= s.Start {
			return &SegmentError{Index: i, Err: ErrInvalidTiming}
		}
		if i > 0 && s.Start < segs[i-1].Start {
			return &SegmentError{Index: i, Err: ErrOutOfOrder}
		}
		if !hasText && strings.TrimSpace(s.Text) != "" {
			hasText = true
		}
	}
	if !hasText {
		return ErrNoText
	}
	return nil
}

type piece struct {
	start, end float64
	text       string
}

// Chunk validates segs and splits them into chunks.
func (c *Chunker) Chunk(segs []Segment) ([]Chunk, error) {
	if err := Validate(segs); err != nil {
		return nil, err
	}

	pieces := make([]piece, 0, len(segs))
	for _, s := range segs {
		t := normalizeWhitespace(s.Text)
		if t == "" {
			continue
		}
		pieces = append(pieces, piece{start: s.Start, end: s.End, text: t})
	}

	var (
		out   []Chunk
		cur   []piece
		chars int
		fresh int // pieces in cur not carried over from the previous chunk
	)

	emit := func() {
		out = append(out, build(len(out), cur))
		carry := c.carry(cur)
		cur = append([]piece(nil), carry...)
		chars = textLen(cur)
		fresh = 0
	}

	for _, p := range pieces {
		// An oversized segment is emitted alone, unsplit.
		if utf8.RuneCountInString(p.text) >= c.cfg.targetChars {
			if fresh > 0 {
				emit()
			}
			cur = []piece{p}
			out = append(out, build(len(out), cur))
			cur, chars, fresh = nil, 0, 0
			continue
		}

		if len(cur) > 0 {
			chars++ // joining space
		}
		cur = append(cur, p)
		chars += utf8.RuneCountInString(p.text)
		fresh++

		if chars >= c.cfg.targetChars || span(cur) >= c.cfg.maxDuration {
			emit()
		}
	}
	if fresh > 0 {
		out = append(out, build(len(out), cur))
	}
	return out, nil
}

// carry returns the trailing pieces whose start lies within the overlap
// window of the chunk end. It never returns every piece of cur, which keeps
// the loop advancing.
func (c *Chunker) carry(cur []piece) []piece {
	if c.cfg.overlap <= 0 || len(cur) < 2 {
		return nil
	}
	end := maxEnd(cur)
	i := len(cur)
	for i > 1 && cur[i-1].start >= end-c.cfg.overlap {
		i--
	}
	return cur[i:]
}

func build(ordinal int, ps []piece) Chunk {
	texts := make([]string, len(ps))
	for i, p := range ps {
		texts[i] = p.text
	}
	return Chunk{
		Ordinal: ordinal,
		Start:   ps[0].start,
		End:     maxEnd(ps),
		Text:    strings.Join(texts, " "),
	}
}

func span(ps []piece) float64 {
	if len(ps) == 0 {
		return 0
	}
	return maxEnd(ps) - ps[0].start
}

func maxEnd(ps []piece) float64 {
	m := ps[0].end
	for _, p := range ps[1:] {
		if p.end > m {
			m = p.end
		}
	}
	return m
}

func textLen(ps []piece) int {
	n := 0
	for i, p := range ps {
		if i > 0 {
			n++
		}
		n += utf8.RuneCountInString(p.text)
	}
	return n
}

// normalizeWhitespace collapses runs of whitespace (including newlines inside
// caption cues) into single spaces and trims the result.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := true
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n':
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}
