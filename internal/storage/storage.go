package storage

import (
	"context"
	"io"
)

// Object describes a stored archive.
type Object struct {
	Key    string
	Digest string
	Size   int64
}

// File is an opened archive. It must be closed by the caller.
type File struct {
	rc   io.ReadCloser
	size int64
}

func NewFile(rc io.ReadCloser, size int64) *File {
	return &File{rc: rc, size: size}
}

func (f *File) Read(p []byte) (int, error) { return f.rc.Read(p) }
func (f *File) Close() error               { return f.rc.Close() }
func (f *File) Size() int64                { return f.size }

// Backend stores large-object archives by content digest.
// Both local-disk and S3-compatible stores implement this.
type Backend interface {
	// Put writes data from r and returns where it was stored. Storing the
	// same bytes twice yields the same key.
	Put(ctx context.Context, r io.Reader) (Object, error)

	// Open retrieves a previously stored archive by its key.
	Open(ctx context.Context, key string) (*File, error)
}

func digestKey(hexDigest string) string {
	return "sha256/" + hexDigest[:2] + "/" + hexDigest
}
