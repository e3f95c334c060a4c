package lob

import (
	"context"
	"errors"

	"pglo/internal/largeobject"
)

// registry holds the descriptors an Object owns besides its primary:
// stream copies and primaries retired by an upgrade.
type registry struct {
	handles []*largeobject.LargeObject
}

func (r *registry) add(lo *largeobject.LargeObject) {
	r.handles = append(r.handles, lo)
}

func (r *registry) copyOf(ctx context.Context, lo *largeobject.LargeObject) (*largeobject.LargeObject, error) {
	cp, err := lo.Copy(ctx)
	if err != nil {
		return nil, err
	}
	r.add(cp)
	return cp, nil
}

func (r *registry) len() int { return len(r.handles) }

// closeAll closes every member in order, including ones the caller already
// closed, and empties the registry.
func (r *registry) closeAll(ctx context.Context) error {
	var errs []error
	for _, lo := range r.handles {
		if err := lo.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.handles = nil
	return errors.Join(errs...)
}
