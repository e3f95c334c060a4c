package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"pglo/internal/archive"
	"pglo/internal/catalog"
	"pglo/internal/config"
	"pglo/internal/db"
	"pglo/internal/service"
	"pglo/internal/storage"
)

// app holds everything a command needs to talk to the database and the
// archive storage.
type app struct {
	pool     *pgxpool.Pool
	sessions *db.Sessions
	catalog  *catalog.Store
	exporter *archive.Exporter
	importer *archive.Importer
	svc      *service.Service
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cat := catalog.New(pool)
	if err := cat.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	sessions := db.NewSessions(pool, logger)
	a := &app{
		pool:     pool,
		sessions: sessions,
		catalog:  cat,
		exporter: archive.NewExporter(sessions, backend, cat, logger),
		importer: archive.NewImporter(sessions, backend, logger),
	}
	a.svc, err = service.New(sessions, service.Options{
		Charset:        cfg.ClientEncoding,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Exporter:       a.exporter,
		Importer:       a.importer,
		Catalog:        cat,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("CLIENT_ENCODING: %w", err)
	}
	return a, nil
}

func (a *app) runner(cfg config.Config, logger *log.Logger) *archive.Runner {
	return archive.NewRunner(a.catalog, a.exporter, cfg.ArchiveConcurrency, logger)
}

func (a *app) Close() {
	a.pool.Close()
}

func newBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3Backend(storage.S3Options{
			Client: client,
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
		}), nil
	default:
		return storage.NewLocalBackend(cfg.StorageRoot)
	}
}
