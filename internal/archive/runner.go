package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"pglo/internal/catalog"
)

type Runner struct {
	lister      ObjectLister
	exporter    objectExporter
	concurrency int
	logger      *log.Logger
}

func NewRunner(lister ObjectLister, exporter objectExporter, concurrency int, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		lister:      lister,
		exporter:    exporter,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run exports every listed object, at most concurrency at a time. A failed
// object does not stop the others; all failures are joined into the error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.lister == nil {
		return Summary{}, fmt.Errorf("object lister is nil")
	}
	if r.exporter == nil {
		return Summary{}, fmt.Errorf("exporter is nil")
	}

	r.logger.Printf("[archive] starting export run (concurrency=%d)", r.concurrency)

	objects, err := r.lister.ListObjects(ctx)
	if err != nil {
		r.logger.Printf("[archive] failed to list large objects: %v", err)
		return Summary{}, err
	}
	r.logger.Printf("[archive] found %d large objects", len(objects))

	var (
		mu      sync.Mutex
		summary = Summary{Objects: len(objects)}
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			r.logger.Printf("[archive] context cancelled, aborting")
			errs = append(errs, err)
			break
		}
		g.Go(func() error {
			exp, err := r.exporter.Export(ctx, obj.OID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Printf("[archive] [%d/%d] oid %d: %v", i+1, len(objects), obj.OID, err)
				summary.Failed++
				errs = append(errs, err)
				return nil
			}
			summary.Exported++
			summary.Bytes += exp.SizeBytes
			summary.Exports = append(summary.Exports, exp)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Printf("[archive] export run complete: objects=%d exported=%d failed=%d bytes=%d",
		summary.Objects, summary.Exported, summary.Failed, summary.Bytes)

	return summary, errors.Join(errs...)
}

var _ objectExporter = (*Exporter)(nil)

var _ ObjectLister = (*catalog.Store)(nil)
