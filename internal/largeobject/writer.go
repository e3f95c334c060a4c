package largeobject

import (
	"context"
	"fmt"
	"io"
)

// Writer buffers writes to a handle and sends them on Flush or Close.
type Writer struct {
	ctx    context.Context
	lo     *LargeObject
	buf    []byte
	closed bool
}

var _ io.WriteCloser = (*Writer)(nil)

func newWriter(ctx context.Context, lo *LargeObject, size int) *Writer {
	return &Writer{ctx: ctx, lo: lo, buf: make([]byte, 0, size)}
}

// Write buffers p, sending full buffers to the server. Writes at least as
// large as the buffer go straight through.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("%w: write on closed stream", ErrIO)
	}
	if err := w.lo.checkOpen(); err != nil {
		return 0, err
	}
	if len(w.buf)+len(p) > cap(w.buf) {
		if err := w.flush(); err != nil {
			return 0, err
		}
	}
	if len(p) >= cap(w.buf) {
		if err := w.lo.Write(w.ctx, p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Flush sends any buffered bytes.
func (w *Writer) Flush() error {
	if w.closed {
		return fmt.Errorf("%w: flush on closed stream", ErrIO)
	}
	if err := w.flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Close flushes, then closes the handle. If either step fails the writer
// keeps its pending bytes and Close may be retried. Later calls after a
// successful Close do nothing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := w.lo.Close(w.ctx); err != nil {
		return err
	}
	w.closed = true
	return nil
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.lo.Write(w.ctx, w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}
