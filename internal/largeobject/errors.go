package largeobject

import "errors"

var (
	// ErrConnectionFailure wraps any failure of the underlying channel.
	ErrConnectionFailure = errors.New("large object: connection failure")
	// ErrUnsupported means the server lacks a capability the call needs.
	ErrUnsupported = errors.New("large object: unsupported operation")
	// ErrInvalidArgument covers negative lengths and out-of-range positions.
	ErrInvalidArgument = errors.New("large object: invalid argument")
	// ErrObjectFreed is returned by operations on closed handles and freed objects.
	ErrObjectFreed = errors.New("large object: object freed")
	// ErrIO reports a failure of a local buffered stream.
	ErrIO = errors.New("large object: i/o failure")
)
