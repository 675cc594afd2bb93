package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/db/memory"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/canopy-network/spendq/pkg/events"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fixture(tenant string, n int) []facts.Fact {
	out := make([]facts.Fact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, facts.Fact{
			TenantID:    tenant,
			EntityID:    "e1",
			EntityName:  "Ava Smith",
			EntityKind:  facts.KindStudent,
			VendorID:    "v1",
			VendorName:  "Bright Therapy",
			ServiceDate: time.Date(2025, time.Month(9+i%3), 1+i, 0, 0, 0, 0, time.UTC),
			ServiceCode: "SLP",
			Hours:       amount.MustNew("1.25"),
			Cost:        amount.MustNew("100.10"),
		})
	}
	return out
}

type harness struct {
	store  *aggregate.Store
	facts  *memory.FactStore
	cache  *cache.Cache
	bus    *events.Bus
	sched  *Scheduler
	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		store: aggregate.NewStore(),
		facts: memory.NewFactStore(),
		bus:   events.NewBus(),
	}
	logger := zaptest.NewLogger(t)
	h.cache = cache.New(logger, time.Hour)
	h.bus.Subscribe(func(e events.Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	h.sched = NewScheduler(h.facts, h.store, h.cache, h.bus, logger, 3)
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) count(typ events.Type) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestRebuildTenantPublishesAndInvalidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.facts.InsertFacts(ctx, fixture("t1", 6)))

	stale := cache.Fingerprint{TenantID: "t1", Table: aggregate.VendorMonth, Hash: "old"}
	require.True(t, h.cache.Put(ctx, stale, []byte("x"), 0, 0))

	report, err := h.sched.RebuildTenant(ctx, "t1", "test")
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Tables, len(aggregate.Definitions()))

	for _, tr := range report.Tables {
		assert.Empty(t, tr.Error)
		assert.Equal(t, tr.Generation, h.store.Version("t1", tr.Table))
		assert.Equal(t, tr.Generation, h.cache.Watermark("t1", tr.Table))
		if tr.Table == aggregate.VendorMonth {
			assert.Equal(t, 1, tr.Invalidated)
		}
	}
	_, ok := h.cache.Peek(stale)
	assert.False(t, ok)

	snap, ok := h.store.Snapshot("t1", aggregate.TenantMonth)
	require.True(t, ok)
	total := amount.Zero
	for _, r := range snap.Rows {
		total = total.Add(r.Cost)
	}
	assert.Equal(t, "600.60", total.String())
	assert.Equal(t, len(aggregate.Definitions()), h.count(events.TableRebuilt))
}

type failingTable struct {
	table string
}

func (f failingTable) build(def aggregate.Definition, tenantID string, in []facts.Fact) ([]aggregate.Row, error) {
	if def.Name == f.table {
		return nil, errors.New("disk on fire")
	}
	return aggregate.Build(def, tenantID, in)
}

func TestFailedTableKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.facts.InsertFacts(ctx, fixture("t1", 3)))

	_, err := h.sched.RebuildTenant(ctx, "t1", "initial")
	require.NoError(t, err)
	before := h.store.Version("t1", aggregate.EntityMonth)
	otherBefore := h.store.Version("t1", aggregate.VendorMonth)

	h.sched.Build = failingTable{table: aggregate.EntityMonth}.build
	report, err := h.sched.RebuildTenant(ctx, "t1", "retry")
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, before, h.store.Version("t1", aggregate.EntityMonth))
	assert.Greater(t, h.store.Version("t1", aggregate.VendorMonth), otherBefore)
	assert.Equal(t, 1, h.count(events.TableFailed))

	for _, info := range h.store.Tables() {
		if info.Table == aggregate.EntityMonth {
			assert.Contains(t, info.LastError, "disk on fire")
		} else {
			assert.Empty(t, info.LastError)
		}
	}
}

type corruptingBuild struct{}

func (corruptingBuild) build(def aggregate.Definition, tenantID string, in []facts.Fact) ([]aggregate.Row, error) {
	rows, err := aggregate.Build(def, tenantID, in)
	if err != nil || len(rows) == 0 || def.Name != aggregate.TenantDay {
		return rows, err
	}
	// double count the first bucket
	return append(rows, rows[0]), nil
}

func TestReconciliationMismatchIsAFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.facts.InsertFacts(ctx, fixture("t1", 3)))
	h.sched.Build = corruptingBuild{}.build

	report, err := h.sched.RebuildTenant(ctx, "t1", "test")
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, h.store.Version("t1", aggregate.TenantDay))
	assert.NotZero(t, h.store.Version("t1", aggregate.TenantMonth))
}

func TestFactLoadFailureFailsEveryTable(t *testing.T) {
	h := newHarness(t)
	h.facts.Err = errors.New("connection refused")

	report, err := h.sched.FactsCommitted(context.Background(), "t1")
	require.Error(t, err)
	assert.Equal(t, len(aggregate.Definitions()), report.Failed)
	assert.Equal(t, 1, h.count(events.FactsCommitted))
	assert.Len(t, h.store.Tables(), len(aggregate.Definitions()))

	_, err = h.sched.FactsCommitted(context.Background(), "")
	require.Error(t, err)
}

func TestRebuildAllSweepsTenants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.facts.InsertFacts(ctx, fixture("t1", 2)))
	require.NoError(t, h.facts.InsertFacts(ctx, fixture("t2", 4)))

	reports, err := h.sched.RebuildAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "t1", reports[0].TenantID)
	assert.Equal(t, "t2", reports[1].TenantID)
	assert.Equal(t, []string{"t1", "t2"}, h.store.Tenants())
}

func TestConcurrentRebuildsOfOneTenantSerialize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.facts.InsertFacts(ctx, fixture("t1", 5)))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.sched.RebuildTenant(ctx, "t1", "race")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// each table was published exactly four times
	assert.Equal(t, 4*len(aggregate.Definitions()), h.count(events.TableRebuilt))
	for _, def := range aggregate.Definitions() {
		assert.Equal(t, h.store.Version("t1", def.Name), h.cache.Watermark("t1", def.Name))
	}
}

func TestSetupScheduler(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.sched.SetupScheduler(context.Background(), cron.DefaultLogger, "not a cron"))
	require.NoError(t, h.sched.SetupScheduler(context.Background(), cron.DefaultLogger, "0 */15 * * * *"))
	assert.Len(t, h.sched.Cron.Entries(), 1)
}
