package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/singleflight"

	"pglo/internal/catalog"
	"pglo/internal/db"
	"pglo/internal/largeobject"
	"pglo/internal/lob"
	"pglo/internal/storage"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotConfigured  = errors.New("not configured")
	ErrUploadTooLarge = errors.New("upload too large")
)

const sqlstateUndefinedObject = "42704"

type Exporter interface {
	Export(context.Context, largeobject.OID) (catalog.Export, error)
}

type Importer interface {
	Import(context.Context, string) (largeobject.OID, int64, error)
}

type Catalog interface {
	ListObjects(context.Context) ([]catalog.ObjectInfo, error)
	LatestExport(context.Context, largeobject.OID) (catalog.Export, error)
}

type Options struct {
	// Charset names the encoding of character data. Empty means UTF-8.
	Charset        string
	MaxUploadBytes int64

	Exporter Exporter
	Importer Importer
	Catalog  Catalog
}

// Service runs each large-object operation in its own session.
type Service struct {
	sessions db.SessionBeginner
	opts     Options
	lengths  singleflight.Group
}

func New(sessions db.SessionBeginner, opts Options) (*Service, error) {
	if _, err := lob.LookupEncoding(opts.Charset); err != nil {
		return nil, err
	}
	return &Service{sessions: sessions, opts: opts}, nil
}

// Create stores r as a new large object.
func (s *Service) Create(ctx context.Context, r io.Reader) (largeobject.OID, int64, error) {
	var (
		oid largeobject.OID
		n   int64
	)
	err := db.Run(ctx, s.sessions, func(sess db.Session) error {
		var err error
		oid, err = sess.Manager().Create(ctx, largeobject.ModeReadWrite)
		if err != nil {
			return err
		}
		return withObject(ctx, lob.NewBlob(sess.Manager(), oid), func(b *lob.Blob) error {
			n, err = s.copyIn(ctx, b, 1, r)
			return err
		})
	})
	if err != nil {
		return 0, 0, mapError(err)
	}
	return oid, n, nil
}

// Stream copies n bytes starting at pos to w. A negative n streams to the end.
func (s *Service) Stream(ctx context.Context, oid largeobject.OID, pos, n int64, w io.Writer) (int64, error) {
	var written int64
	err := s.withBlob(ctx, oid, func(b *lob.Blob) error {
		if n < 0 {
			size, err := b.Length(ctx)
			if err != nil {
				return err
			}
			n = max(size-pos+1, 0)
		}
		r, err := b.BinaryStreamRange(ctx, pos, n)
		if err != nil {
			return err
		}
		written, err = io.Copy(w, r)
		if closeErr := r.Close(); err == nil {
			err = closeErr
		}
		return err
	})
	return written, mapError(err)
}

func (s *Service) ReadRange(ctx context.Context, oid largeobject.OID, pos int64, n int) ([]byte, error) {
	var data []byte
	err := s.withBlob(ctx, oid, func(b *lob.Blob) error {
		var err error
		data, err = b.GetBytes(ctx, pos, n)
		return err
	})
	return data, mapError(err)
}

// ReadText decodes n bytes starting at pos with the configured charset.
func (s *Service) ReadText(ctx context.Context, oid largeobject.OID, pos int64, n int) (string, error) {
	var text string
	err := s.withClob(ctx, oid, func(c *lob.Clob) error {
		var err error
		text, err = c.SubString(ctx, pos, n)
		return err
	})
	return text, mapError(err)
}

// Length reports the object's size. Concurrent calls for one object share a
// single lookup that runs detached from any one caller's cancellation; each
// caller still stops waiting when its own ctx is done.
func (s *Service) Length(ctx context.Context, oid largeobject.OID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	shared := context.WithoutCancel(ctx)
	ch := s.lengths.DoChan(strconv.FormatUint(uint64(oid), 10), func() (any, error) {
		var size int64
		err := s.withBlob(shared, oid, func(b *lob.Blob) error {
			var err error
			size, err = b.Length(shared)
			return err
		})
		return size, err
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, mapError(res.Err)
		}
		return res.Val.(int64), nil
	}
}

// Write overwrites the object from pos with the contents of r.
func (s *Service) Write(ctx context.Context, oid largeobject.OID, pos int64, r io.Reader) (int64, error) {
	var n int64
	err := s.withBlob(ctx, oid, func(b *lob.Blob) error {
		var err error
		n, err = s.copyIn(ctx, b, pos, r)
		return err
	})
	return n, mapError(err)
}

func (s *Service) Truncate(ctx context.Context, oid largeobject.OID, n int64) error {
	return mapError(s.withBlob(ctx, oid, func(b *lob.Blob) error {
		return b.Truncate(ctx, n)
	}))
}

// Find returns the 1-based offset of pattern at or after start, or -1.
func (s *Service) Find(ctx context.Context, oid largeobject.OID, pattern []byte, start int64) (int64, error) {
	var at int64
	err := s.withBlob(ctx, oid, func(b *lob.Blob) error {
		var err error
		at, err = b.Position(ctx, pattern, start)
		return err
	})
	return at, mapError(err)
}

// FindText searches for text encoded with the configured charset.
func (s *Service) FindText(ctx context.Context, oid largeobject.OID, text string, start int64) (int64, error) {
	var at int64
	err := s.withClob(ctx, oid, func(c *lob.Clob) error {
		var err error
		at, err = c.PositionString(ctx, text, start)
		return err
	})
	return at, mapError(err)
}

func (s *Service) Unlink(ctx context.Context, oid largeobject.OID) error {
	return mapError(db.Run(ctx, s.sessions, func(sess db.Session) error {
		return sess.Manager().Unlink(ctx, oid)
	}))
}

func (s *Service) List(ctx context.Context) ([]catalog.ObjectInfo, error) {
	if s.opts.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog", ErrNotConfigured)
	}
	objects, err := s.opts.Catalog.ListObjects(ctx)
	return objects, mapError(err)
}

func (s *Service) LatestExport(ctx context.Context, oid largeobject.OID) (catalog.Export, error) {
	if s.opts.Catalog == nil {
		return catalog.Export{}, fmt.Errorf("%w: catalog", ErrNotConfigured)
	}
	exp, err := s.opts.Catalog.LatestExport(ctx, oid)
	return exp, mapError(err)
}

func (s *Service) Export(ctx context.Context, oid largeobject.OID) (catalog.Export, error) {
	if s.opts.Exporter == nil {
		return catalog.Export{}, fmt.Errorf("%w: archive storage", ErrNotConfigured)
	}
	exp, err := s.opts.Exporter.Export(ctx, oid)
	return exp, mapError(err)
}

func (s *Service) Import(ctx context.Context, key string) (largeobject.OID, int64, error) {
	if s.opts.Importer == nil {
		return 0, 0, fmt.Errorf("%w: archive storage", ErrNotConfigured)
	}
	if key == "" {
		return 0, 0, fmt.Errorf("%w: archive key required", ErrInvalidInput)
	}
	oid, n, err := s.opts.Importer.Import(ctx, key)
	return oid, n, mapError(err)
}

func (s *Service) withBlob(ctx context.Context, oid largeobject.OID, fn func(*lob.Blob) error) error {
	return db.Run(ctx, s.sessions, func(sess db.Session) error {
		return withObject(ctx, lob.NewBlob(sess.Manager(), oid), fn)
	})
}

func (s *Service) withClob(ctx context.Context, oid largeobject.OID, fn func(*lob.Clob) error) error {
	return db.Run(ctx, s.sessions, func(sess db.Session) error {
		c, err := lob.NewClob(sess.Manager(), oid, s.opts.Charset)
		if err != nil {
			return err
		}
		return withObject(ctx, c, fn)
	})
}

type freer interface {
	Free(context.Context) error
}

// withObject calls fn and frees obj before the session ends.
func withObject[T freer](ctx context.Context, obj T, fn func(T) error) error {
	err := fn(obj)
	if freeErr := obj.Free(ctx); err == nil {
		err = freeErr
	}
	return err
}

func (s *Service) copyIn(ctx context.Context, b *lob.Blob, pos int64, r io.Reader) (int64, error) {
	w, err := b.SetBinaryStream(ctx, pos)
	if err != nil {
		return 0, err
	}
	if s.opts.MaxUploadBytes > 0 {
		r = &limitedReader{r: r, left: s.opts.MaxUploadBytes}
	}
	n, err := io.Copy(w, r)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left <= 0 {
		var probe [1]byte
		if n, _ := l.r.Read(probe[:]); n > 0 {
			return 0, ErrUploadTooLarge
		}
		return 0, io.EOF
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	return n, err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateUndefinedObject {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
