package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pglo/internal/archive"
	"pglo/internal/auth"
	"pglo/internal/httpapi"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the large-object HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	runner := a.runner(cfg, log.Default())
	worker := archive.NewWorker(runner, archive.WorkerConfig{
		Enabled:      cfg.ArchiveEnabled,
		StartupDelay: cfg.ArchiveDelay,
		Interval:     cfg.ArchiveInterval,
	}, log.Default())
	go worker.Run(ctx)

	syncTrigger := httpapi.NewSyncTrigger(runner, log.Default())
	authn := auth.NewAuthenticator(cfg.AdminToken, cfg.JWTSecret)

	api := httpapi.New(cfg, a.svc, authn, syncTrigger)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewEcho(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
