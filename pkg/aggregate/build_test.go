package aggregate

import (
	"testing"
	"time"

	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fact(tenant, entity, vendor, code string, day time.Time, hours, cost string) facts.Fact {
	return facts.Fact{
		TenantID:    tenant,
		EntityID:    "e-" + entity,
		EntityName:  entity,
		EntityKind:  facts.KindStudent,
		VendorID:    "v-" + vendor,
		VendorName:  vendor,
		ServiceDate: day,
		ServiceCode: code,
		Hours:       amount.MustNew(hours),
		Cost:        amount.MustNew(cost),
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleFacts() []facts.Fact {
	return []facts.Fact{
		fact("t1", "Ava Smith", "Bright Therapy", "SLP", date(2025, 10, 3), "1.5", "120.10"),
		fact("t1", "Ava Smith", "Bright Therapy", "SLP", date(2025, 10, 17), "2", "160.20"),
		fact("t1", "Ava Smith", "Kids OT", "OT", date(2025, 11, 4), "1", "95.05"),
		fact("t1", "Ben Lee", "Bright Therapy", "SLP", date(2025, 11, 4), "0.75", "60.15"),
		fact("t2", "Cara Diaz", "Kids OT", "OT", date(2025, 11, 5), "3", "300"),
	}
}

func TestBuildEntityMonth(t *testing.T) {
	def, ok := Lookup(EntityMonth)
	require.True(t, ok)

	rows, err := Build(def, "t1", sampleFacts())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "e-Ava Smith", rows[0].GroupKey)
	assert.Equal(t, "2025-10", rows[0].Period)
	assert.Equal(t, "October", rows[0].Label)
	assert.Equal(t, "3.5", rows[0].Hours.String())
	assert.Equal(t, "280.30", rows[0].Cost.String())
	assert.Equal(t, 2, rows[0].Facts)

	assert.Equal(t, "2025-11", rows[1].Period)
	assert.Equal(t, "e-Ben Lee", rows[2].GroupKey)
	for _, r := range rows {
		assert.Equal(t, "t1", r.TenantID)
		assert.Empty(t, r.VendorName)
	}
}

func TestBuildTenantMonthCountsDistinctEntities(t *testing.T) {
	def, _ := Lookup(TenantMonth)
	rows, err := Build(def, "t1", sampleFacts())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1].GroupKey)
	assert.Equal(t, "2025-11", rows[1].Period)
	assert.Equal(t, 2, rows[1].Entities)
	assert.Equal(t, "155.20", rows[1].Cost.String())
}

func TestBuildTenantDay(t *testing.T) {
	def, _ := Lookup(TenantDay)
	rows, err := Build(def, "t1", sampleFacts())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2025-11-04", rows[2].Period)
	assert.Equal(t, "November", rows[2].Label)
	assert.Equal(t, 2, rows[2].Facts)
}

func TestBuildIsDeterministic(t *testing.T) {
	in := sampleFacts()
	for _, def := range Definitions() {
		a, err := Build(def, "t1", in)
		require.NoError(t, err)
		b, err := Build(def, "t1", in)
		require.NoError(t, err)
		require.Equal(t, len(a), len(b), def.Name)
		for i := range a {
			assert.Equal(t, a[i].GroupKey, b[i].GroupKey, def.Name)
			assert.Equal(t, a[i].Period, b[i].Period, def.Name)
			assert.Zero(t, a[i].Cost.Cmp(b[i].Cost), def.Name)
		}
	}
}

func TestBuildKeepsFirstSeenGroupOrder(t *testing.T) {
	in := []facts.Fact{
		fact("t1", "Ava Smith", "Zeta", "SLP", date(2025, 11, 4), "1", "10"),
		fact("t1", "Ava Smith", "Alpha", "SLP", date(2025, 10, 3), "1", "10"),
		fact("t1", "Ava Smith", "Zeta", "SLP", date(2025, 9, 8), "1", "10"),
		fact("t1", "Ava Smith", "Mid", "SLP", date(2025, 10, 9), "1", "10"),
	}
	def, _ := Lookup(VendorMonth)
	rows, err := Build(def, "t1", in)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var got []string
	for _, r := range rows {
		got = append(got, r.VendorName+" "+r.Period)
	}
	assert.Equal(t, []string{"Zeta 2025-09", "Zeta 2025-11", "Alpha 2025-10", "Mid 2025-10"}, got)
}

func TestBuildRejectsUndatedFacts(t *testing.T) {
	in := sampleFacts()
	in[1].ServiceDate = time.Time{}
	def, _ := Lookup(VendorMonth)
	_, err := Build(def, "t1", in)
	require.Error(t, err)
}

func TestReconcileEveryTable(t *testing.T) {
	in := sampleFacts()
	for _, def := range Definitions() {
		for _, tenant := range []string{"t1", "t2"} {
			rows, err := Build(def, tenant, in)
			require.NoError(t, err)
			require.NoError(t, Reconcile(def, tenant, in, rows), "%s/%s", tenant, def.Name)
		}
	}
}

func TestReconcileDetectsMismatch(t *testing.T) {
	in := sampleFacts()
	def, _ := Lookup(VendorEntityMonth)
	rows, err := Build(def, "t1", in)
	require.NoError(t, err)

	dropped := rows[1:]
	require.Error(t, Reconcile(def, "t1", in, dropped))

	doubled := append(append([]Row{}, rows...), rows[0])
	require.Error(t, Reconcile(def, "t1", in, doubled))

	foreign := append([]Row{}, rows...)
	foreign[0].TenantID = "t2"
	require.Error(t, Reconcile(def, "t1", in, foreign))
}
