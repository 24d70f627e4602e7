// SPDX-License-Identifier: MPL-2.0

// Package classify turns the incremental output of the downloader into discrete
// signals.
//
// Output is classified a line at a time ('\n' and '\r' both end a line, so
// progress bars redrawn in place are seen). A line split across any number of
// chunks is reassembled before matching, which is what makes a marker split at
// a chunk boundary detectable. The pending partial line is bounded: once it
// grows past the maximum line length it is scanned as-is and only a trailing
// window of len(longest marker)-1 bytes is carried forward.
package classify

import (
	"bytes"
	"regexp"
	"slices"
	"strings"
)

// DefaultMaxLineLength bounds the partial line carried between Feed calls.
const DefaultMaxLineLength = 4096

// ansiEscape matches CSI and OSC terminal escape sequences.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

type (
	// Match is one signal raised by the classifier.
	Match struct {
		Signal Signal
		// Marker is the marker that matched first for this signal.
		Marker Marker
		// Context is the output line containing the match, escape sequences
		// removed and surrounding whitespace trimmed.
		Context string
		// Offset is the stream offset of the start of that line.
		Offset int64
	}

	// Option configures a Classifier.
	Option func(*Classifier)

	// Classifier detects markers in a byte stream fed in arbitrary chunks.
	// Each Signal is reported at most once per stream. A Classifier is not safe
	// for concurrent use; one stream owns one classifier.
	Classifier struct {
		markers []compiledMarker
		maxLine int
		tail    int // bytes kept when an overlong line is cut

		carry  []byte
		offset int64 // stream offset of carry[0]
		seen   map[Signal]bool
	}
)

// WithMaxLineLength bounds the partial line kept between Feed calls.
func WithMaxLineLength(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxLine = n
		}
	}
}

// New builds a classifier for markers. The slice is copied.
func New(markers []Marker, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		maxLine: DefaultMaxLineLength,
		seen:    make(map[Signal]bool),
	}
	longest := 0
	for _, m := range markers {
		cm, err := compile(m)
		if err != nil {
			return nil, err
		}
		c.markers = append(c.markers, cm)
		if !m.Regexp {
			longest = max(longest, len(m.Pattern))
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tail = max(longest-1, 0)
	c.maxLine = max(c.maxLine, longest)
	return c, nil
}

// Feed classifies the next chunk of output and returns the signals first seen in
// the lines it completed, in stream order.
func (c *Classifier) Feed(chunk []byte) []Match {
	var matches []Match
	c.carry = append(c.carry, chunk...)

	start := 0
	for {
		i := bytes.IndexAny(c.carry[start:], "\r\n")
		if i < 0 {
			break
		}
		matches = c.scanLine(c.carry[start:start+i], c.offset+int64(start), matches)
		start += i + 1
	}
	c.advance(start)

	if len(c.carry) > c.maxLine {
		matches = c.scanLine(c.carry, c.offset, matches)
		c.advance(len(c.carry) - c.tail)
	}
	return matches
}

// Flush classifies the pending partial line, for use once the stream has ended.
func (c *Classifier) Flush() []Match {
	if len(c.carry) == 0 {
		return nil
	}
	matches := c.scanLine(c.carry, c.offset, nil)
	c.advance(len(c.carry))
	return matches
}

// Seen reports whether s has already been raised on this stream.
func (c *Classifier) Seen(s Signal) bool {
	return c.seen[s]
}

// Pending returns the number of bytes carried toward the next line.
func (c *Classifier) Pending() int {
	return len(c.carry)
}

// Reset clears all stream state so the classifier can be reused.
func (c *Classifier) Reset() {
	c.carry = c.carry[:0]
	c.offset = 0
	clear(c.seen)
}

// advance drops the first n carried bytes. Feed calls it once per chunk.
func (c *Classifier) advance(n int) {
	if n == 0 {
		return
	}
	c.offset += int64(n)
	c.carry = append(c.carry[:0], c.carry[n:]...)
}

// scanLine appends to dst one Match per unseen signal found in line, ordered by
// position within the line.
func (c *Classifier) scanLine(raw []byte, offset int64, dst []Match) []Match {
	if len(raw) == 0 {
		return dst
	}
	line := ansiEscape.ReplaceAll(raw, nil)

	type hit struct {
		pos    int
		marker compiledMarker
	}
	var hits []hit
	for _, m := range c.markers {
		if c.seen[m.Signal] {
			continue
		}
		pos := m.index(line)
		if pos < 0 {
			continue
		}
		replaced := false
		for k := range hits {
			if hits[k].marker.Signal == m.Signal {
				if pos < hits[k].pos {
					hits[k] = hit{pos, m}
				}
				replaced = true
				break
			}
		}
		if !replaced {
			hits = append(hits, hit{pos, m})
		}
	}
	if len(hits) == 0 {
		return dst
	}

	slices.SortStableFunc(hits, func(a, b hit) int { return a.pos - b.pos })
	context := strings.TrimSpace(strings.ToValidUTF8(string(line), "�"))
	for _, h := range hits {
		c.seen[h.marker.Signal] = true
		dst = append(dst, Match{
			Signal:  h.marker.Signal,
			Marker:  h.marker.Marker,
			Context: context,
			Offset:  offset,
		})
	}
	return dst
}

func indexLiteral(line []byte, pattern string) int {
	return bytes.Index(line, []byte(pattern))
}
