package prefetch

import (
	"sync"
	"time"

	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/compiler"
)

// Access is one answered query.
type Access struct {
	Fingerprint cache.Fingerprint
	Plan        compiler.Plan
	At          time.Time
}

// ring is a fixed-capacity access log; the oldest access is overwritten.
type ring struct {
	mu   sync.Mutex
	buf  []Access
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Access, capacity)}
}

func (r *ring) add(a Access) {
	r.mu.Lock()
	r.buf[r.next] = a
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// since returns accesses not older than cutoff, oldest first.
func (r *ring) since(cutoff time.Time) []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ordered []Access
	if r.full {
		ordered = append(ordered, r.buf[r.next:]...)
	}
	ordered = append(ordered, r.buf[:r.next]...)

	out := ordered[:0]
	for _, a := range ordered {
		if !a.At.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
