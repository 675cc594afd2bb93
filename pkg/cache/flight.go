package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Flight collapses concurrent computations of one fingerprint into a single
// call whose result every waiter shares.
type Flight struct {
	group singleflight.Group
}

// Computed is the shared outcome of one computation.
type Computed struct {
	Payload    []byte
	Generation uint64
	// Stored reports whether the cache accepted the payload.
	Stored bool
	// Hit reports that an earlier flight had already cached the payload.
	Hit bool
}

// Do runs fn once per fingerprint across concurrent callers. The computation
// is detached from the first caller's cancellation; a caller whose ctx ends
// stops waiting but the computation completes for the others.
func (f *Flight) Do(ctx context.Context, fp Fingerprint, fn func(ctx context.Context) (Computed, error)) (Computed, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(fp.String(), func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return Computed{}, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Computed{}, r.Shared, r.Err
		}
		return r.Val.(Computed), r.Shared, nil
	}
}
