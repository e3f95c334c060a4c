package archive

import (
	"context"
	"fmt"
	"io"
	"log"

	"pglo/internal/catalog"
	"pglo/internal/db"
	"pglo/internal/largeobject"
	"pglo/internal/storage"
)

// Exporter copies large objects into a storage backend.
type Exporter struct {
	sessions db.SessionBeginner
	backend  storage.Backend
	recorder ExportRecorder
	logger   *log.Logger
}

// NewExporter returns an Exporter. A nil recorder skips the catalog entry.
func NewExporter(sessions db.SessionBeginner, backend storage.Backend, recorder ExportRecorder, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Exporter{
		sessions: sessions,
		backend:  backend,
		recorder: recorder,
		logger:   logger,
	}
}

func (e *Exporter) Export(ctx context.Context, oid largeobject.OID) (catalog.Export, error) {
	var obj storage.Object
	err := db.Run(ctx, e.sessions, func(sess db.Session) error {
		lo, err := sess.Manager().Open(ctx, oid, largeobject.ModeRead)
		if err != nil {
			return err
		}
		r := lo.NewReader(ctx)
		obj, err = e.backend.Put(ctx, r)
		if closeErr := r.Close(); err == nil {
			err = closeErr
		}
		return err
	})
	if err != nil {
		return catalog.Export{}, fmt.Errorf("export %d: %w", oid, err)
	}

	exp := catalog.Export{OID: oid, Key: obj.Key, Digest: obj.Digest, SizeBytes: obj.Size}
	if e.recorder != nil {
		exp, err = e.recorder.RecordExport(ctx, oid, obj)
		if err != nil {
			return catalog.Export{}, fmt.Errorf("record export %d: %w", oid, err)
		}
	}
	e.logger.Printf("[archive] exported oid=%d key=%s size=%d", oid, obj.Key, obj.Size)
	return exp, nil
}

// Importer creates large objects from archives in a storage backend.
type Importer struct {
	sessions db.SessionBeginner
	backend  storage.Backend
	logger   *log.Logger
}

func NewImporter(sessions db.SessionBeginner, backend storage.Backend, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Importer{sessions: sessions, backend: backend, logger: logger}
}

// Import creates a new large object holding the archive stored under key.
// The object's descriptor commits the session when it closes.
func (i *Importer) Import(ctx context.Context, key string) (largeobject.OID, int64, error) {
	f, err := i.backend.Open(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sess, err := i.sessions.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	oid, n, err := i.copyIn(ctx, sess, f)
	if err != nil {
		_ = sess.Rollback(ctx)
		return 0, 0, fmt.Errorf("import %s: %w", key, err)
	}
	i.logger.Printf("[archive] imported key=%s oid=%d size=%d", key, oid, n)
	return oid, n, nil
}

func (i *Importer) copyIn(ctx context.Context, sess db.Session, r io.Reader) (largeobject.OID, int64, error) {
	mgr := sess.Manager()
	oid, err := mgr.Create(ctx, largeobject.ModeReadWrite)
	if err != nil {
		return 0, 0, err
	}
	lo, err := mgr.Open(ctx, oid, largeobject.ModeReadWrite, largeobject.WithCommitOnClose(sess))
	if err != nil {
		return 0, 0, err
	}
	w, err := lo.Writer(ctx)
	if err != nil {
		return 0, 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return 0, 0, err
	}
	if err := w.Close(); err != nil {
		return 0, 0, err
	}
	return oid, n, nil
}
