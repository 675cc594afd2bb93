// Package cache holds compiled query answers per tenant, keyed by query
// fingerprint.
//
// Entries are partitioned by (tenant, table). Every partition carries an
// invalidation watermark: once a scope has been invalidated for a generation,
// no write computed from an older generation is accepted, so an in-flight
// computation can never resurrect data the refresh path already discarded.
//
// Generations are local to one process, so entries read from the shared
// remote tier are ordered by a scope epoch instead. The remote tier bumps the
// epoch on every invalidation and each entry carries the epoch its writer last
// observed; a remote entry older than the local epoch is never promoted.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Entry is one cached answer. Payload is opaque to the cache.
type Entry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Payload     []byte      `json:"payload"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Generation  uint64      `json:"generation"`
	Epoch       uint64      `json:"epoch"`
}

// Size is the approximate memory held by the entry.
func (e Entry) Size() int {
	return len(e.Payload) + len(e.Fingerprint.Hash) + len(e.Fingerprint.TenantID) + len(e.Fingerprint.Table) + 48
}

// Remaining is the TTL left at now.
func (e Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Remote is an optional second tier shared between processes. DeleteScope
// advances the scope epoch shared by every process and returns the new value.
type Remote interface {
	Get(ctx context.Context, fp Fingerprint) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
	DeleteScope(ctx context.Context, tenantID, table string) (uint64, error)
}

type partition struct {
	mu        sync.RWMutex
	watermark uint64
	entries   map[string]Entry

	// epoch is the last remote scope epoch this process observed. Remote
	// entries are not promoted while an invalidation is pending or after the
	// last one failed to reach the remote tier.
	epoch     uint64
	pending   int
	epochLost bool
}

// Stats are cumulative counters since start.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Rejected uint64 `json:"rejected"`
	Evicted  uint64 `json:"evicted"`
	Entries  int64  `json:"entries"`
}

type Option func(*Cache)

// WithMaxEntries bounds the total entry count; 0 means unbounded.
func WithMaxEntries(n int) Option { return func(c *Cache) { c.maxEntries = n } }

func WithRemote(r Remote) Option { return func(c *Cache) { c.remote = r } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

type Cache struct {
	logger     *zap.Logger
	partitions *xsync.Map[string, *partition]
	ttl        time.Duration
	maxEntries int
	remote     Remote
	now        func() time.Time

	count                           atomic.Int64
	hits, misses, rejected, evicted atomic.Uint64
}

// New creates a cache whose entries default to ttl.
func New(logger *zap.Logger, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		logger:     logger,
		partitions: xsync.NewMap[string, *partition](),
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultTTL is the TTL applied when Put receives zero.
func (c *Cache) DefaultTTL() time.Duration {
	return c.ttl
}

func scope(tenantID, table string) string {
	return tenantID + "\x00" + table
}

func (c *Cache) partition(tenantID, table string) *partition {
	p, _ := c.partitions.Compute(scope(tenantID, table), func(old *partition, loaded bool) (*partition, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		return &partition{entries: map[string]Entry{}}, xsync.UpdateOp
	})
	return p
}

// Peek returns a live local entry without touching counters or the remote tier.
func (c *Cache) Peek(fp Fingerprint) (Entry, bool) {
	p, ok := c.partitions.Load(scope(fp.TenantID, fp.Table))
	if !ok {
		return Entry{}, false
	}
	p.mu.RLock()
	e, ok := p.entries[fp.Hash]
	p.mu.RUnlock()
	if !ok || !c.now().Before(e.ExpiresAt) {
		return Entry{}, false
	}
	return e, true
}

// Get returns a live entry. On a local miss the remote tier is consulted and
// a hit there is promoted locally when its epoch is not older than the scope's.
func (c *Cache) Get(ctx context.Context, fp Fingerprint) (Entry, bool) {
	if e, ok := c.Peek(fp); ok {
		c.hits.Add(1)
		return e, true
	}
	c.dropExpired(fp)

	if c.remote != nil {
		e, ok, err := c.remote.Get(ctx, fp)
		if err != nil {
			c.logger.Warn("remote cache read failed", zap.String("fingerprint", fp.String()), zap.Error(err))
		}
		if ok && c.now().Before(e.ExpiresAt) && c.promote(e) {
			c.hits.Add(1)
			return e, true
		}
	}
	c.misses.Add(1)
	return Entry{}, false
}

func (c *Cache) dropExpired(fp Fingerprint) {
	p, ok := c.partitions.Load(scope(fp.TenantID, fp.Table))
	if !ok {
		return
	}
	p.mu.Lock()
	if e, ok := p.entries[fp.Hash]; ok && !c.now().Before(e.ExpiresAt) {
		delete(p.entries, fp.Hash)
		c.count.Add(-1)
	}
	p.mu.Unlock()
}

// Put stores payload computed from the given aggregate generation. It returns
// false, storing nothing, when the scope was invalidated for a newer
// generation since the payload's source snapshot was read.
func (c *Cache) Put(ctx context.Context, fp Fingerprint, payload []byte, ttl time.Duration, generation uint64) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	e := Entry{
		Fingerprint: fp,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Generation:  generation,
	}
	e, ok := c.store(e)
	if !ok {
		c.rejected.Add(1)
		return false
	}
	if c.remote != nil {
		if err := c.remote.Set(ctx, e); err != nil {
			c.logger.Warn("remote cache write failed", zap.String("fingerprint", fp.String()), zap.Error(err))
		}
	}
	return true
}

// store keeps a locally computed entry, stamping it with the scope epoch.
func (c *Cache) store(e Entry) (Entry, bool) {
	p := c.partition(e.Fingerprint.TenantID, e.Fingerprint.Table)
	p.mu.Lock()
	if e.Generation < p.watermark {
		p.mu.Unlock()
		return e, false
	}
	e.Epoch = p.epoch
	c.insert(p, e)
	p.mu.Unlock()
	c.evict()
	return e, true
}

// promote keeps an entry read from the remote tier. Its generation belongs to
// the writing process, so only the epoch is compared.
func (c *Cache) promote(e Entry) bool {
	p := c.partition(e.Fingerprint.TenantID, e.Fingerprint.Table)
	p.mu.Lock()
	if p.pending > 0 || p.epochLost || e.Epoch < p.epoch {
		p.mu.Unlock()
		return false
	}
	c.insert(p, e)
	p.mu.Unlock()
	c.evict()
	return true
}

// insert requires p.mu held.
func (c *Cache) insert(p *partition, e Entry) {
	if _, exists := p.entries[e.Fingerprint.Hash]; !exists {
		c.count.Add(1)
	}
	p.entries[e.Fingerprint.Hash] = e
}

func (c *Cache) evict() {
	if c.maxEntries > 0 {
		for c.count.Load() > int64(c.maxEntries) && c.evictOne() {
		}
	}
}

// evictOne drops the entry closest to expiry.
func (c *Cache) evictOne() bool {
	var (
		victim  *partition
		hash    string
		expires time.Time
	)
	c.partitions.Range(func(_ string, p *partition) bool {
		p.mu.RLock()
		for h, e := range p.entries {
			if victim == nil || e.ExpiresAt.Before(expires) {
				victim, hash, expires = p, h, e.ExpiresAt
			}
		}
		p.mu.RUnlock()
		return true
	})
	if victim == nil {
		return false
	}
	victim.mu.Lock()
	if _, ok := victim.entries[hash]; ok {
		delete(victim.entries, hash)
		c.count.Add(-1)
		c.evicted.Add(1)
	}
	victim.mu.Unlock()
	return true
}

// InvalidateScope drops every entry of (tenant, table) and raises the scope
// watermark to generation. It returns the number of entries dropped.
func (c *Cache) InvalidateScope(ctx context.Context, tenantID, table string, generation uint64) int {
	p := c.partition(tenantID, table)
	p.mu.Lock()
	if generation > p.watermark {
		p.watermark = generation
	}
	n := len(p.entries)
	p.entries = map[string]Entry{}
	c.count.Add(int64(-n))
	if c.remote != nil {
		p.pending++
	}
	p.mu.Unlock()

	if c.remote != nil {
		epoch, err := c.remote.DeleteScope(ctx, tenantID, table)
		p.mu.Lock()
		p.pending--
		if err == nil {
			if epoch > p.epoch {
				p.epoch = epoch
			}
			p.epochLost = false
		} else {
			p.epochLost = true
		}
		p.mu.Unlock()
		if err != nil {
			c.logger.Warn("remote cache invalidation failed",
				zap.String("tenant", tenantID), zap.String("table", table), zap.Error(err))
		}
	}
	return n
}

// Invalidate drops every local entry matching pred.
func (c *Cache) Invalidate(pred func(Entry) bool) int {
	dropped := 0
	c.partitions.Range(func(_ string, p *partition) bool {
		p.mu.Lock()
		for h, e := range p.entries {
			if pred(e) {
				delete(p.entries, h)
				dropped++
			}
		}
		p.mu.Unlock()
		return true
	})
	c.count.Add(int64(-dropped))
	return dropped
}

// Watermark is the generation below which writes to the scope are rejected.
func (c *Cache) Watermark(tenantID, table string) uint64 {
	p, ok := c.partitions.Load(scope(tenantID, table))
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watermark
}

// EntryInfo is the diagnostic view of one entry.
type EntryInfo struct {
	Key        string        `json:"key"`
	TenantID   string        `json:"tenant_id"`
	Table      string        `json:"table"`
	Size       int           `json:"size"`
	Remaining  time.Duration `json:"remaining"`
	Generation uint64        `json:"generation"`
}

// Entries lists live entries ordered by key.
func (c *Cache) Entries() []EntryInfo {
	now := c.now()
	var out []EntryInfo
	c.partitions.Range(func(_ string, p *partition) bool {
		p.mu.RLock()
		for _, e := range p.entries {
			if !now.Before(e.ExpiresAt) {
				continue
			}
			out = append(out, EntryInfo{
				Key:        e.Fingerprint.String(),
				TenantID:   e.Fingerprint.TenantID,
				Table:      e.Fingerprint.Table,
				Size:       e.Size(),
				Remaining:  e.Remaining(now),
				Generation: e.Generation,
			})
		}
		p.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Rejected: c.rejected.Load(),
		Evicted:  c.evicted.Load(),
		Entries:  c.count.Load(),
	}
}
