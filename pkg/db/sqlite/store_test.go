package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "spendq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func fact(tenant, entity string, day time.Time, hours, cost string) facts.Fact {
	return facts.Fact{
		TenantID: tenant, EntityID: "e-" + entity, EntityName: entity, EntityKind: facts.KindStudent,
		VendorID: "v1", VendorName: "Kids OT", ServiceDate: day, ServiceCode: "OT",
		Hours: amount.MustNew(hours), Cost: amount.MustNew(cost),
	}
}

func TestFactsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d1 := time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.InsertFacts(ctx, []facts.Fact{
		fact("t2", "Cara", d1, "3", "300"),
		fact("t1", "Ava", d1, "1.5", "120.10"),
		fact("t1", "Ben", d2, "0.75", "60.15"),
	}))

	tenants, err := st.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)

	got, err := st.FactsForTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ben", got[0].EntityName, "ordered by service date")
	assert.True(t, d2.Equal(got[0].ServiceDate))
	assert.Equal(t, "120.10", got[1].Cost.String())
	assert.Equal(t, facts.KindStudent, got[1].EntityKind)

	none, err := st.FactsForTenant(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFactsFeedAggregateBuild(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)
	in := []facts.Fact{fact("t1", "Ava", d, "1.5", "120.10"), fact("t1", "Ava", d.AddDate(0, 0, 7), "2", "160.20")}
	require.NoError(t, st.InsertFacts(ctx, in))

	loaded, err := st.FactsForTenant(ctx, "t1")
	require.NoError(t, err)
	def, _ := aggregate.Lookup(aggregate.EntityMonth)
	rows, err := aggregate.Build(def, "t1", loaded)
	require.NoError(t, err)
	require.NoError(t, aggregate.Reconcile(def, "t1", in, rows))
}

func TestPersistKeepsNewestGeneration(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	row := aggregate.Row{
		Table: aggregate.EntityMonth, TenantID: "t1", GroupKey: "s1", EntityID: "s1", EntityName: "Ava",
		Period: "2025-10", Label: "October", Start: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		Hours: amount.MustNew("1"), Cost: amount.MustNew("10"), Facts: 1, Entities: 1,
	}
	second := row
	second.GroupKey, second.EntityID = "s2", "s2"

	require.NoError(t, st.Persist(ctx, &aggregate.Snapshot{TenantID: "t1", Table: aggregate.EntityMonth, Generation: 5, Rows: []aggregate.Row{row, second}}))
	gen, n, err := st.Persisted(ctx, "t1", aggregate.EntityMonth)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), gen)
	assert.Equal(t, 2, n)

	// an older build arriving late is ignored
	require.NoError(t, st.Persist(ctx, &aggregate.Snapshot{TenantID: "t1", Table: aggregate.EntityMonth, Generation: 3, Rows: []aggregate.Row{row}}))
	gen, n, err = st.Persisted(ctx, "t1", aggregate.EntityMonth)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), gen)
	assert.Equal(t, 2, n)

	require.NoError(t, st.Persist(ctx, &aggregate.Snapshot{TenantID: "t1", Table: aggregate.EntityMonth, Generation: 9, Rows: []aggregate.Row{row}}))
	gen, n, err = st.Persisted(ctx, "t1", aggregate.EntityMonth)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), gen)
	assert.Equal(t, 1, n)

	gen, n, err = st.Persisted(ctx, "t1", aggregate.VendorMonth)
	require.NoError(t, err)
	assert.Zero(t, gen)
	assert.Zero(t, n)
}
