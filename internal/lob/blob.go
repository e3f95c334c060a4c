package lob

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"pglo/internal/largeobject"
)

// Blob is a binary large object value.
type Blob struct {
	*Object
}

func NewBlob(mgr *largeobject.Manager, oid largeobject.OID) *Blob {
	return &Blob{Object: newObject(mgr, oid)}
}

// Clob is a character large object value. Positions and lengths are in
// bytes of the encoded text; the encoding only applies to the character
// views.
type Clob struct {
	*Object
	enc encoding.Encoding
}

// NewClob returns a Clob whose text is stored in the named encoding, for
// example "utf-8" or "windows-1252". An empty charset means UTF-8.
func NewClob(mgr *largeobject.Manager, oid largeobject.OID, charset string) (*Clob, error) {
	enc, err := LookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	return &Clob{Object: newObject(mgr, oid), enc: enc}, nil
}

// LookupEncoding resolves a WHATWG encoding label.
func LookupEncoding(charset string) (encoding.Encoding, error) {
	if charset == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown charset %q", largeobject.ErrInvalidArgument, charset)
	}
	return enc, nil
}

// Charset returns the canonical name of the clob's encoding.
func (c *Clob) Charset() string {
	name, err := htmlindex.Name(c.enc)
	if err != nil {
		return "utf-8"
	}
	return name
}

// CharacterStream returns a reader that decodes the whole object to UTF-8.
func (c *Clob) CharacterStream(ctx context.Context) (io.ReadCloser, error) {
	r, err := c.BinaryStream(ctx)
	if err != nil {
		return nil, err
	}
	return &decodingReader{Reader: transform.NewReader(r, c.enc.NewDecoder()), src: r}, nil
}

// SubString decodes up to n bytes starting at pos.
func (c *Clob) SubString(ctx context.Context, pos int64, n int) (string, error) {
	raw, err := c.GetBytes(ctx, pos, n)
	if err != nil {
		return "", err
	}
	out, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %w", largeobject.ErrIO, c.Charset(), err)
	}
	return string(out), nil
}

// SetCharacterStream returns a writer that encodes UTF-8 text into the
// object starting at pos. Close must be called to flush it.
func (c *Clob) SetCharacterStream(ctx context.Context, pos int64) (io.WriteCloser, error) {
	w, err := c.SetBinaryStream(ctx, pos)
	if err != nil {
		return nil, err
	}
	return &encodingWriter{Writer: transform.NewWriter(w, c.enc.NewEncoder()), dst: w}, nil
}

// PositionString searches for the encoded form of s.
func (c *Clob) PositionString(ctx context.Context, s string, start int64) (int64, error) {
	pattern, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not representable in %s", largeobject.ErrInvalidArgument, s, c.Charset())
	}
	return c.Position(ctx, pattern, start)
}

type decodingReader struct {
	*transform.Reader
	src io.Closer
}

func (r *decodingReader) Close() error { return r.src.Close() }

type encodingWriter struct {
	*transform.Writer
	dst io.Closer
}

func (w *encodingWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		return fmt.Errorf("%w: %w", largeobject.ErrIO, err)
	}
	return w.dst.Close()
}
