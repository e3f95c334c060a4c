package largeobject

import (
	"context"
	"fmt"
	"math"

	"pglo/internal/fastpath"
)

// Whence values for Seek and Seek64.
const (
	SeekSet int32 = 0
	SeekCur int32 = 1
	SeekEnd int32 = 2
)

// AddressMode is the offset width usable on a handle.
type AddressMode int

const (
	// Narrow handles address offsets up to math.MaxInt32.
	Narrow AddressMode = iota
	// Wide handles use the 64-bit procedures.
	Wide
)

func (a AddressMode) String() string {
	if a == Wide {
		return "wide"
	}
	return "narrow"
}

// MaxOffset is the largest offset reachable in this address mode.
func (a AddressMode) MaxOffset() int64 {
	if a == Wide {
		return math.MaxInt64
	}
	return math.MaxInt32
}

// LargeObject is one open descriptor on a server-side large object. Every
// operation is a round trip on the owning channel.
//
// A LargeObject is not safe for concurrent use; independent streams over the
// same object should each use their own handle (see Copy).
type LargeObject struct {
	mgr    *Manager
	ch     fastpath.Channel
	caps   fastpath.Capabilities
	oid    OID
	fd     int32
	mode   Mode
	addr   AddressMode
	commit fastpath.Committer

	closed bool
	writer *Writer
}

func (lo *LargeObject) OID() OID                 { return lo.oid }
func (lo *LargeObject) Mode() Mode               { return lo.mode }
func (lo *LargeObject) AddressMode() AddressMode { return lo.addr }
func (lo *LargeObject) Closed() bool             { return lo.closed }

func (lo *LargeObject) checkOpen() error {
	if lo.closed {
		return fmt.Errorf("%w: large object %d is closed", ErrObjectFreed, lo.oid)
	}
	return nil
}

// Copy opens a new descriptor on the same object in the same mode. The copy
// has its own position and does not share the commit-on-close setting.
func (lo *LargeObject) Copy(ctx context.Context) (*LargeObject, error) {
	if err := lo.checkOpen(); err != nil {
		return nil, err
	}
	return lo.mgr.Open(ctx, lo.oid, lo.mode)
}

// Read returns up to n bytes from the current position. A short result is
// not an error; an empty result means the end of the object.
func (lo *LargeObject) Read(ctx context.Context, n int) ([]byte, error) {
	if err := lo.checkOpen(); err != nil {
		return nil, err
	}
	if n < 0 || int64(n) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: read length %d", ErrInvalidArgument, n)
	}
	var data []byte
	if err := call(ctx, lo.ch, fastpath.FnRead, &data, lo.fd, int32(n)); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadInto reads up to len(buf) bytes into buf and returns the count.
func (lo *LargeObject) ReadInto(ctx context.Context, buf []byte) (int, error) {
	data, err := lo.Read(ctx, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// Write sends all of p at the current position.
func (lo *LargeObject) Write(ctx context.Context, p []byte) error {
	if err := lo.checkOpen(); err != nil {
		return err
	}
	return call(ctx, lo.ch, fastpath.FnWrite, nil, lo.fd, p)
}

// Seek moves the position using the 32-bit procedure and returns the new position.
func (lo *LargeObject) Seek(ctx context.Context, pos int32, whence int32) (int32, error) {
	if err := lo.checkOpen(); err != nil {
		return 0, err
	}
	if err := checkWhence(whence); err != nil {
		return 0, err
	}
	var out int32
	if err := call(ctx, lo.ch, fastpath.FnSeek, &out, lo.fd, pos, whence); err != nil {
		return 0, err
	}
	return out, nil
}

// Seek64 is Seek with a 64-bit offset. It requires a wide handle.
func (lo *LargeObject) Seek64(ctx context.Context, pos int64, whence int32) (int64, error) {
	if err := lo.checkOpen(); err != nil {
		return 0, err
	}
	if lo.addr != Wide {
		return 0, fmt.Errorf("%w: 64-bit seek needs server 9.3 or later", ErrUnsupported)
	}
	if err := checkWhence(whence); err != nil {
		return 0, err
	}
	var out int64
	if err := call(ctx, lo.ch, fastpath.FnSeek64, &out, lo.fd, pos, whence); err != nil {
		return 0, err
	}
	return out, nil
}

// Tell returns the current position using the 32-bit procedure.
func (lo *LargeObject) Tell(ctx context.Context) (int32, error) {
	if err := lo.checkOpen(); err != nil {
		return 0, err
	}
	var pos int32
	if err := call(ctx, lo.ch, fastpath.FnTell, &pos, lo.fd); err != nil {
		return 0, err
	}
	return pos, nil
}

// Tell64 returns the current position. It requires a wide handle.
func (lo *LargeObject) Tell64(ctx context.Context) (int64, error) {
	if err := lo.checkOpen(); err != nil {
		return 0, err
	}
	if lo.addr != Wide {
		return 0, fmt.Errorf("%w: 64-bit tell needs server 9.3 or later", ErrUnsupported)
	}
	var pos int64
	if err := call(ctx, lo.ch, fastpath.FnTell64, &pos, lo.fd); err != nil {
		return 0, err
	}
	return pos, nil
}

// Size returns the object's length by seeking to the end and back.
//
// The four round trips are not atomic: a writer on another descriptor of the
// same object can change the length in between, and the result is then stale.
func (lo *LargeObject) Size(ctx context.Context) (int32, error) {
	cur, err := lo.Tell(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := lo.Seek(ctx, 0, SeekEnd); err != nil {
		return 0, err
	}
	size, err := lo.Tell(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := lo.Seek(ctx, cur, SeekSet); err != nil {
		return 0, err
	}
	return size, nil
}

// Size64 is Size using the 64-bit procedures, with the same caveat.
func (lo *LargeObject) Size64(ctx context.Context) (int64, error) {
	cur, err := lo.Tell64(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := lo.Seek64(ctx, 0, SeekEnd); err != nil {
		return 0, err
	}
	size, err := lo.Tell64(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := lo.Seek64(ctx, cur, SeekSet); err != nil {
		return 0, err
	}
	return size, nil
}

// Truncate sets the object's length, zero-filling when it grows. The
// position is not changed.
func (lo *LargeObject) Truncate(ctx context.Context, n int32) error {
	if err := lo.checkOpen(); err != nil {
		return err
	}
	if !lo.caps.SupportsTruncate() {
		return fmt.Errorf("%w: truncation needs server 8.3 or later", ErrUnsupported)
	}
	if n < 0 {
		return fmt.Errorf("%w: cannot truncate to negative length %d", ErrInvalidArgument, n)
	}
	return call(ctx, lo.ch, fastpath.FnTruncate, nil, lo.fd, n)
}

// Truncate64 is Truncate with a 64-bit length. It requires a wide handle.
func (lo *LargeObject) Truncate64(ctx context.Context, n int64) error {
	if err := lo.checkOpen(); err != nil {
		return err
	}
	if !lo.caps.SupportsTruncate() {
		return fmt.Errorf("%w: truncation needs server 8.3 or later", ErrUnsupported)
	}
	if lo.addr != Wide {
		return fmt.Errorf("%w: 64-bit truncation needs server 9.3 or later", ErrUnsupported)
	}
	if n < 0 {
		return fmt.Errorf("%w: cannot truncate to negative length %d", ErrInvalidArgument, n)
	}
	return call(ctx, lo.ch, fastpath.FnTruncate64, nil, lo.fd, n)
}

// NewReader returns a buffered reader starting at the current position.
// Closing the reader closes the handle.
func (lo *LargeObject) NewReader(ctx context.Context, opts ...ReaderOption) *Reader {
	return newReader(ctx, lo, opts...)
}

// Writer returns the handle's buffered writer, creating it on first use.
// Later calls return the same writer until it is closed. Closing the writer
// closes the handle.
func (lo *LargeObject) Writer(ctx context.Context) (*Writer, error) {
	if err := lo.checkOpen(); err != nil {
		return nil, err
	}
	if lo.writer == nil {
		lo.writer = newWriter(ctx, lo, defaultBufferSize)
	}
	return lo.writer, nil
}

// Close flushes the pending writer, closes the descriptor and, when the
// handle was opened with WithCommitOnClose, commits the transaction.
// Closing a closed handle does nothing.
func (lo *LargeObject) Close(ctx context.Context) error {
	if lo.closed {
		return nil
	}
	if w := lo.writer; w != nil {
		if err := w.flush(); err != nil {
			return fmt.Errorf("%w: flush before close: %w", ErrIO, err)
		}
		lo.writer = nil
	}

	if err := call(ctx, lo.ch, fastpath.FnClose, nil, lo.fd); err != nil {
		return err
	}
	lo.closed = true
	lo.mgr.logger.Printf("[lo] closed oid=%d fd=%d", lo.oid, lo.fd)

	if lo.commit != nil {
		if err := lo.commit.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit on close: %w", ErrConnectionFailure, err)
		}
	}
	return nil
}

func checkWhence(whence int32) error {
	switch whence {
	case SeekSet, SeekCur, SeekEnd:
		return nil
	default:
		return fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
}
