package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pglo/internal/largeobject"
	"pglo/internal/storage"
)

var ErrNotFound = errors.New("export not found")

type ObjectInfo struct {
	OID   largeobject.OID
	Owner string
}

type Export struct {
	ID        uuid.UUID
	OID       largeobject.OID
	Key       string
	Digest    string
	SizeBytes int64
	CreatedAt time.Time
}

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS lo_exports (
			id         uuid PRIMARY KEY,
			lo_oid     oid NOT NULL,
			key        text NOT NULL,
			digest     text NOT NULL,
			size_bytes bigint NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS lo_exports_oid_created_idx
			ON lo_exports (lo_oid, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ListObjects lists every large object in the database.
func (s *Store) ListObjects(ctx context.Context) ([]ObjectInfo, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.oid, pg_get_userbyid(m.lomowner)::text
		FROM pg_largeobject_metadata m
		ORDER BY m.oid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []ObjectInfo
	for rows.Next() {
		var (
			oid   uint32
			owner string
		)
		if err := rows.Scan(&oid, &owner); err != nil {
			return nil, err
		}
		objects = append(objects, ObjectInfo{OID: largeobject.OID(oid), Owner: owner})
	}
	return objects, rows.Err()
}

func (s *Store) RecordExport(ctx context.Context, oid largeobject.OID, obj storage.Object) (Export, error) {
	exp := Export{
		ID:        uuid.New(),
		OID:       oid,
		Key:       obj.Key,
		Digest:    obj.Digest,
		SizeBytes: obj.Size,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO lo_exports (id, lo_oid, key, digest, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, exp.ID, uint32(oid), exp.Key, exp.Digest, exp.SizeBytes).Scan(&exp.CreatedAt)
	if err != nil {
		return Export{}, err
	}
	return exp, nil
}

func (s *Store) LatestExport(ctx context.Context, oid largeobject.OID) (Export, error) {
	var (
		exp Export
		raw uint32
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, lo_oid, key, digest, size_bytes, created_at
		FROM lo_exports
		WHERE lo_oid = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, uint32(oid)).Scan(&exp.ID, &raw, &exp.Key, &exp.Digest, &exp.SizeBytes, &exp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Export{}, fmt.Errorf("%w: large object %d", ErrNotFound, oid)
		}
		return Export{}, err
	}
	exp.OID = largeobject.OID(raw)
	return exp, nil
}
