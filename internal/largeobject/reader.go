package largeobject

import (
	"context"
	"fmt"
	"io"
)

const defaultBufferSize = 4096

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLimit caps the bytes a Reader returns. Once n bytes have been returned
// the reader reports io.EOF even if the object has more data. A negative n
// means no limit.
func WithLimit(n int64) ReaderOption {
	return func(r *Reader) {
		r.limit = n
	}
}

// WithBufferSize sets the size of each read window.
func WithBufferSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.buf = make([]byte, n)
		}
	}
}

// Reader is a buffered io.Reader over a handle with mark/reset support.
type Reader struct {
	ctx context.Context
	lo  *LargeObject

	buf      []byte
	pos, end int

	limit    int64 // -1 when unlimited
	returned int64

	// bytes returned since the last Mark, kept for Reset
	marked    []byte
	markLimit int
	markValid bool
	replay    []byte

	closed bool
}

var (
	_ io.ReadCloser = (*Reader)(nil)
	_ io.ByteReader = (*Reader)(nil)
)

func newReader(ctx context.Context, lo *LargeObject, opts ...ReaderOption) *Reader {
	r := &Reader{ctx: ctx, lo: lo, limit: -1}
	for _, opt := range opts {
		opt(r)
	}
	if r.buf == nil {
		r.buf = make([]byte, defaultBufferSize)
	}
	return r
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("%w: read on closed stream", ErrIO)
	}
	if err := r.lo.checkOpen(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.limit >= 0 {
		remaining := r.limit - r.returned
		if remaining <= 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}

	var n int
	if len(r.replay) > 0 {
		n = copy(p, r.replay)
		r.replay = r.replay[n:]
	} else {
		if r.pos >= r.end {
			if err := r.fill(); err != nil {
				return 0, err
			}
			if r.end == 0 {
				return 0, io.EOF
			}
		}
		n = copy(p, r.buf[r.pos:r.end])
		r.pos += n
	}

	r.remember(p[:n])
	r.returned += int64(n)
	return n, nil
}

func (r *Reader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Mark remembers the current position. Reset returns to it as long as no
// more than readLimit bytes were read in between.
func (r *Reader) Mark(readLimit int) {
	r.markLimit = readLimit
	r.markValid = readLimit >= 0
	r.marked = r.marked[:0]
}

// Reset rewinds to the last mark.
func (r *Reader) Reset() error {
	if r.closed {
		return fmt.Errorf("%w: reset on closed stream", ErrIO)
	}
	if err := r.lo.checkOpen(); err != nil {
		return err
	}
	if !r.markValid {
		return fmt.Errorf("%w: resetting to invalid mark", ErrIO)
	}
	replay := make([]byte, 0, len(r.marked)+len(r.replay))
	replay = append(replay, r.marked...)
	replay = append(replay, r.replay...)
	r.replay = replay
	r.returned -= int64(len(r.marked))
	r.marked = r.marked[:0]
	return nil
}

// Close closes the reader and the handle it reads from.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.replay = nil
	r.marked = nil
	return r.lo.Close(r.ctx)
}

func (r *Reader) fill() error {
	n, err := r.lo.ReadInto(r.ctx, r.buf)
	if err != nil {
		return err
	}
	r.pos, r.end = 0, n
	return nil
}

func (r *Reader) remember(p []byte) {
	if !r.markValid {
		return
	}
	if len(r.marked)+len(p) > r.markLimit {
		r.markValid = false
		r.marked = r.marked[:0]
		return
	}
	r.marked = append(r.marked, p...)
}
