package aggregate

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/canopy-network/spendq/pkg/utils"
	"github.com/puzpuzpuz/xsync/v4"
)

// Snapshot is one published, immutable version of a table for a tenant.
// Callers must not modify Rows.
type Snapshot struct {
	TenantID   string
	Table      string
	Generation uint64
	BuiltAt    time.Time
	Rows       []Row
}

// Sink persists published snapshots outside the process.
type Sink interface {
	Persist(ctx context.Context, snap *Snapshot) error
}

// TableInfo is the diagnostic view of one (tenant, table) slot.
type TableInfo struct {
	TenantID   string    `json:"tenant_id"`
	Table      string    `json:"table"`
	Generation uint64    `json:"generation"`
	BuiltAt    time.Time `json:"built_at"`
	Rows       int       `json:"rows"`
	LastError  string    `json:"last_error,omitempty"`
	FailedAt   time.Time `json:"failed_at"`
}

// Directory lists the entity and vendor names known for a tenant.
type Directory struct {
	Entities []string
	Vendors  []string
}

type failure struct {
	err string
	at  time.Time
}

type slot struct {
	current atomic.Pointer[Snapshot]
	failed  atomic.Pointer[failure]
}

// Store holds the current snapshot of every (tenant, table). Generations are
// drawn from one counter so they increase across all tables and tenants.
type Store struct {
	slots      *xsync.Map[string, *slot]
	generation atomic.Uint64
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{
		slots: xsync.NewMap[string, *slot](),
		now:   time.Now,
	}
}

// ScopeKey identifies a (tenant, table) pair.
func ScopeKey(tenantID, table string) string {
	return tenantID + "\x00" + table
}

func (s *Store) slot(tenantID, table string) *slot {
	sl, _ := s.slots.Compute(ScopeKey(tenantID, table), func(old *slot, loaded bool) (*slot, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		return &slot{}, xsync.UpdateOp
	})
	return sl
}

// Publish swaps in rows as the new current snapshot and clears any recorded
// failure. The returned snapshot carries the new generation.
func (s *Store) Publish(tenantID, table string, rows []Row) *Snapshot {
	snap := &Snapshot{
		TenantID:   tenantID,
		Table:      table,
		Generation: s.generation.Add(1),
		BuiltAt:    s.now().UTC(),
		Rows:       rows,
	}

	sl := s.slot(tenantID, table)
	for {
		old := sl.current.Load()
		if old != nil && old.Generation > snap.Generation {
			// a newer build already won
			return old
		}
		if sl.current.CompareAndSwap(old, snap) {
			break
		}
	}
	sl.failed.Store(nil)
	return snap
}

// Snapshot returns the current snapshot, if the table was ever built.
func (s *Store) Snapshot(tenantID, table string) (*Snapshot, bool) {
	sl, ok := s.slots.Load(ScopeKey(tenantID, table))
	if !ok {
		return nil, false
	}
	snap := sl.current.Load()
	return snap, snap != nil
}

// Version is the current generation of a table; 0 means never built.
func (s *Store) Version(tenantID, table string) uint64 {
	snap, ok := s.Snapshot(tenantID, table)
	if !ok {
		return 0
	}
	return snap.Generation
}

// RecordFailure marks a failed rebuild. The previous snapshot stays current.
func (s *Store) RecordFailure(tenantID, table string, err error) {
	if err == nil {
		return
	}
	s.slot(tenantID, table).failed.Store(&failure{err: err.Error(), at: s.now().UTC()})
}

// Tables lists every slot ordered by tenant, then table.
func (s *Store) Tables() []TableInfo {
	out := make([]TableInfo, 0, s.slots.Size())
	s.slots.Range(func(key string, sl *slot) bool {
		var info TableInfo
		if snap := sl.current.Load(); snap != nil {
			info = TableInfo{
				TenantID:   snap.TenantID,
				Table:      snap.Table,
				Generation: snap.Generation,
				BuiltAt:    snap.BuiltAt,
				Rows:       len(snap.Rows),
			}
		} else {
			info.TenantID, info.Table = splitScope(key)
		}
		if f := sl.failed.Load(); f != nil {
			info.LastError = f.err
			info.FailedAt = f.at
		}
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// Tenants lists tenants with at least one published table.
func (s *Store) Tenants() []string {
	seen := map[string]struct{}{}
	s.slots.Range(func(_ string, sl *slot) bool {
		if snap := sl.current.Load(); snap != nil {
			seen[snap.TenantID] = struct{}{}
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Directory collects entity and vendor display names from the tenant's
// current entity_month and vendor_month snapshots.
func (s *Store) Directory(tenantID string) Directory {
	var d Directory
	if snap, ok := s.Snapshot(tenantID, EntityMonth); ok {
		names := make([]string, 0, len(snap.Rows))
		for _, r := range snap.Rows {
			names = append(names, r.EntityName)
		}
		d.Entities = utils.Dedup(names)
	}
	if snap, ok := s.Snapshot(tenantID, VendorMonth); ok {
		names := make([]string, 0, len(snap.Rows))
		for _, r := range snap.Rows {
			names = append(names, r.VendorName)
		}
		d.Vendors = utils.Dedup(names)
	}
	return d
}

func splitScope(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
