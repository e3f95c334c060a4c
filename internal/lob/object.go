// Package lob implements BLOB and CLOB values on top of server-side large
// objects. An Object opens its descriptor lazily, reopens it read-write the
// first time a mutation needs it, and owns every descriptor it hands out to
// streams so that Free releases all of them.
package lob

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"pglo/internal/fastpath"
	"pglo/internal/largeobject"
)

type state int

const (
	unopened state = iota
	readOnly
	readWrite
)

// Object is the state shared by Blob and Clob. Positions taken by its
// methods are 1-based.
type Object struct {
	mu sync.Mutex

	mgr  *largeobject.Manager
	oid  largeobject.OID
	caps fastpath.Capabilities
	addr largeobject.AddressMode

	current *largeobject.LargeObject
	state   state
	subs    *registry
	freed   bool
}

func newObject(mgr *largeobject.Manager, oid largeobject.OID) *Object {
	caps := mgr.Capabilities()
	addr := largeobject.Narrow
	if caps.SupportsWideAddressing() {
		addr = largeobject.Wide
	}
	return &Object{
		mgr:  mgr,
		oid:  oid,
		caps: caps,
		addr: addr,
		subs: &registry{},
	}
}

func (o *Object) OID() largeobject.OID { return o.oid }

// GetBytes returns up to n bytes starting at pos. Fewer bytes are returned
// when the object ends first.
func (o *Object) GetBytes(ctx context.Context, pos int64, n int) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", largeobject.ErrInvalidArgument, n)
	}
	if err := o.assertPosition(pos, int64(n)); err != nil {
		return nil, err
	}
	lo, err := o.handle(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := seekTo(ctx, lo, pos-1); err != nil {
		return nil, err
	}
	return lo.Read(ctx, n)
}

// BinaryStream returns a reader over the whole object on its own descriptor.
func (o *Object) BinaryStream(ctx context.Context) (*largeobject.Reader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkFreed(); err != nil {
		return nil, err
	}
	sub, err := o.subHandle(ctx, false)
	if err != nil {
		return nil, err
	}
	if _, err := sub.Seek(ctx, 0, largeobject.SeekSet); err != nil {
		return nil, err
	}
	return sub.NewReader(ctx), nil
}

// BinaryStreamRange returns a reader over at most length bytes starting at pos.
func (o *Object) BinaryStreamRange(ctx context.Context, pos, length int64) (*largeobject.Reader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", largeobject.ErrInvalidArgument, length)
	}
	if err := o.assertPosition(pos, length); err != nil {
		return nil, err
	}
	sub, err := o.subHandle(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := seekTo(ctx, sub, pos-1); err != nil {
		return nil, err
	}
	return sub.NewReader(ctx, largeobject.WithLimit(length)), nil
}

// SetBinaryStream returns a writer that starts writing at pos on its own
// descriptor. The object is upgraded to read-write first if needed.
func (o *Object) SetBinaryStream(ctx context.Context, pos int64) (*largeobject.Writer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.assertPosition(pos, 0); err != nil {
		return nil, err
	}
	sub, err := o.subHandle(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := seekTo(ctx, sub, pos-1); err != nil {
		return nil, err
	}
	return sub.Writer(ctx)
}

// Length returns the object's size in bytes.
func (o *Object) Length(ctx context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkFreed(); err != nil {
		return 0, err
	}
	lo, err := o.handle(ctx, false)
	if err != nil {
		return 0, err
	}
	if lo.AddressMode() == largeobject.Wide {
		return lo.Size64(ctx)
	}
	size, err := lo.Size(ctx)
	return int64(size), err
}

// Truncate sets the object's length to n bytes.
func (o *Object) Truncate(ctx context.Context, n int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkFreed(); err != nil {
		return err
	}
	if !o.caps.SupportsTruncate() {
		return fmt.Errorf("%w: truncation needs server 8.3 or later", largeobject.ErrUnsupported)
	}
	if n < 0 {
		return fmt.Errorf("%w: cannot truncate to negative length %d", largeobject.ErrInvalidArgument, n)
	}
	if n > math.MaxInt32 && o.addr != largeobject.Wide {
		return fmt.Errorf("%w: large objects can only index to %d", largeobject.ErrInvalidArgument, math.MaxInt32)
	}
	lo, err := o.handle(ctx, true)
	if err != nil {
		return err
	}
	if n > math.MaxInt32 {
		return lo.Truncate64(ctx, n)
	}
	return lo.Truncate(ctx, int32(n))
}

// Position returns the 1-based offset of the first occurrence of pattern at
// or after start, or -1 when there is none.
//
// The scan restarts the pattern on every mismatch without re-examining the
// mismatched byte, so overlapping candidates such as "aab" in "aaab" are not
// found. Existing callers depend on these results.
func (o *Object) Position(ctx context.Context, pattern []byte, start int64) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position(ctx, pattern, start)
}

// PositionOf searches for the whole contents of other.
func (o *Object) PositionOf(ctx context.Context, other *Object, start int64) (int64, error) {
	n, err := other.Length(ctx)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: pattern object is %d bytes", largeobject.ErrInvalidArgument, n)
	}
	pattern, err := other.GetBytes(ctx, 1, int(n))
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position(ctx, pattern, start)
}

func (o *Object) position(ctx context.Context, pattern []byte, start int64) (int64, error) {
	if len(pattern) == 0 {
		return 0, fmt.Errorf("%w: empty pattern", largeobject.ErrInvalidArgument)
	}
	if err := o.assertPosition(start, int64(len(pattern))); err != nil {
		return 0, err
	}
	lo, err := o.handle(ctx, false)
	if err != nil {
		return 0, err
	}
	if err := seekTo(ctx, lo, start-1); err != nil {
		return 0, err
	}

	found, err := scan(newPatternCursor(ctx, lo), pattern)
	if err != nil || found < 0 {
		return found, err
	}
	return start + found - 1, nil
}

// Free closes the primary descriptor and every descriptor handed out to
// streams. Later calls do nothing; other operations fail with
// largeobject.ErrObjectFreed.
func (o *Object) Free(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.freed {
		return nil
	}
	var errs []error
	if o.current != nil {
		if err := o.current.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		o.current = nil
	}
	if err := o.subs.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}
	o.freed = true
	return errors.Join(errs...)
}

func (o *Object) checkFreed() error {
	if o.freed {
		return fmt.Errorf("%w: free was called on large object %d", largeobject.ErrObjectFreed, o.oid)
	}
	return nil
}

func (o *Object) assertPosition(pos, n int64) error {
	if err := o.checkFreed(); err != nil {
		return err
	}
	if pos < 1 {
		return fmt.Errorf("%w: positions start at 1, got %d", largeobject.ErrInvalidArgument, pos)
	}
	if n > o.addr.MaxOffset()-pos+1 {
		return fmt.Errorf("%w: large objects can only index to %d", largeobject.ErrInvalidArgument, o.addr.MaxOffset())
	}
	return nil
}

// handle returns the primary descriptor, opening or upgrading it as needed.
func (o *Object) handle(ctx context.Context, forWrite bool) (*largeobject.LargeObject, error) {
	if o.current == nil {
		mode, next := largeobject.ModeRead, readOnly
		if forWrite {
			mode, next = largeobject.ModeReadWrite, readWrite
		}
		lo, err := o.mgr.Open(ctx, o.oid, mode)
		if err != nil {
			return nil, err
		}
		o.current, o.state = lo, next
		return lo, nil
	}
	if forWrite && o.state == readOnly {
		if err := o.upgrade(ctx); err != nil {
			return nil, err
		}
	}
	return o.current, nil
}

// upgrade replaces a read-only primary with a read-write one at the same
// position. The old descriptor may still back a stream, so it is kept open
// until Free.
func (o *Object) upgrade(ctx context.Context) error {
	old := o.current
	pos, err := tell(ctx, old)
	if err != nil {
		return err
	}
	lo, err := o.mgr.Open(ctx, o.oid, largeobject.ModeReadWrite)
	if err != nil {
		return err
	}
	o.subs.add(old)
	o.current, o.state = lo, readWrite
	if pos != 0 {
		return seekTo(ctx, lo, pos)
	}
	return nil
}

func (o *Object) subHandle(ctx context.Context, forWrite bool) (*largeobject.LargeObject, error) {
	lo, err := o.handle(ctx, forWrite)
	if err != nil {
		return nil, err
	}
	return o.subs.copyOf(ctx, lo)
}

func seekTo(ctx context.Context, lo *largeobject.LargeObject, off int64) error {
	if off > math.MaxInt32 {
		if lo.AddressMode() != largeobject.Wide {
			return fmt.Errorf("%w: offset %d needs 64-bit addressing", largeobject.ErrInvalidArgument, off)
		}
		_, err := lo.Seek64(ctx, off, largeobject.SeekSet)
		return err
	}
	_, err := lo.Seek(ctx, int32(off), largeobject.SeekSet)
	return err
}

func tell(ctx context.Context, lo *largeobject.LargeObject) (int64, error) {
	if lo.AddressMode() == largeobject.Wide {
		return lo.Tell64(ctx)
	}
	pos, err := lo.Tell(ctx)
	return int64(pos), err
}
