package archive

import (
	"context"
	"io"
	"log"
	"time"
)

type workerRunner interface {
	Run(context.Context) (Summary, error)
}

type WorkerConfig struct {
	Enabled      bool
	StartupDelay time.Duration
	Interval     time.Duration
}

// Worker runs export passes on a schedule.
type Worker struct {
	runner workerRunner
	cfg    WorkerConfig
	logger *log.Logger
}

func NewWorker(runner workerRunner, cfg WorkerConfig, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	return &Worker{runner: runner, cfg: cfg, logger: logger}
}

// Run blocks until ctx is done. With no interval it runs a single pass.
func (w *Worker) Run(ctx context.Context) {
	if !w.cfg.Enabled || w.runner == nil {
		return
	}
	if w.cfg.StartupDelay > 0 {
		timer := time.NewTimer(w.cfg.StartupDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	w.runOnce(ctx)
	if w.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	start := time.Now()
	summary, err := w.runner.Run(ctx)
	if err != nil {
		w.logger.Printf("archive run failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return
	}
	w.logger.Printf(
		"archive run finished in %s: objects=%d exported=%d failed=%d bytes=%d",
		time.Since(start).Round(time.Millisecond),
		summary.Objects,
		summary.Exported,
		summary.Failed,
		summary.Bytes,
	)
}
