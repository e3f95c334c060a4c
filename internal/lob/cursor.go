package lob

import (
	"context"

	"pglo/internal/largeobject"
)

const patternWindow = 8192

// patternCursor yields the bytes of a handle from its current position,
// one window at a time. It cannot be restarted.
type patternCursor struct {
	ctx    context.Context
	lo     *largeobject.LargeObject
	window []byte
	n, idx int
	done   bool
}

func newPatternCursor(ctx context.Context, lo *largeobject.LargeObject) *patternCursor {
	return &patternCursor{ctx: ctx, lo: lo, window: make([]byte, patternWindow)}
}

// next returns the next byte, or false once the handle is exhausted.
func (c *patternCursor) next() (byte, bool, error) {
	if c.done {
		return 0, false, nil
	}
	if c.idx >= c.n {
		n, err := c.lo.ReadInto(c.ctx, c.window)
		if err != nil {
			return 0, false, err
		}
		c.n, c.idx = n, 0
		if n == 0 {
			c.done = true
			return 0, false, nil
		}
	}
	b := c.window[c.idx]
	c.idx++
	return b, true, nil
}

// scan returns the 1-based offset, relative to the cursor's start, of the
// first match of pattern, or -1.
func scan(c *patternCursor, pattern []byte) (int64, error) {
	var offset, candidate int64
	idx := 0
	for {
		b, ok, err := c.next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return -1, nil
		}
		offset++
		if b != pattern[idx] {
			idx = 0
			continue
		}
		if idx == 0 {
			candidate = offset
		}
		idx++
		if idx == len(pattern) {
			return candidate, nil
		}
	}
}
