package aggregate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePublishSwapsSnapshot(t *testing.T) {
	s := NewStore()
	assert.Zero(t, s.Version("t1", VendorMonth))
	_, ok := s.Snapshot("t1", VendorMonth)
	assert.False(t, ok)

	def, _ := Lookup(VendorMonth)
	rows, err := Build(def, "t1", sampleFacts())
	require.NoError(t, err)

	first := s.Publish("t1", VendorMonth, rows)
	assert.Equal(t, first.Generation, s.Version("t1", VendorMonth))

	second := s.Publish("t1", VendorMonth, rows[:1])
	assert.Greater(t, second.Generation, first.Generation)

	// readers holding the old snapshot keep a consistent view
	assert.Len(t, first.Rows, len(rows))
	cur, ok := s.Snapshot("t1", VendorMonth)
	require.True(t, ok)
	assert.Len(t, cur.Rows, 1)
}

func TestStoreGenerationsIncreaseAcrossTables(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	gens := make(chan uint64, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table := Definitions()[i%len(definitions)].Name
			gens <- s.Publish("t1", table, nil).Generation
		}(i)
	}
	wg.Wait()
	close(gens)

	seen := map[uint64]bool{}
	for g := range gens {
		assert.False(t, seen[g], "duplicate generation %d", g)
		seen[g] = true
	}
	assert.Len(t, seen, 64)
	assert.Len(t, s.Tables(), len(definitions))
}

func TestStoreRecordFailureKeepsSnapshot(t *testing.T) {
	s := NewStore()
	snap := s.Publish("t1", EntityMonth, nil)
	s.RecordFailure("t1", EntityMonth, errors.New("boom"))
	s.RecordFailure("t1", TenantDay, errors.New("never built"))

	assert.Equal(t, snap.Generation, s.Version("t1", EntityMonth))

	infos := s.Tables()
	require.Len(t, infos, 2)
	assert.Equal(t, EntityMonth, infos[0].Table)
	assert.Equal(t, "boom", infos[0].LastError)
	assert.Equal(t, TenantDay, infos[1].Table)
	assert.Equal(t, "t1", infos[1].TenantID)
	assert.Zero(t, infos[1].Generation)

	s.Publish("t1", EntityMonth, nil)
	assert.Empty(t, s.Tables()[0].LastError)
}

func TestStoreDirectory(t *testing.T) {
	s := NewStore()
	for _, name := range []string{EntityMonth, VendorMonth} {
		def, _ := Lookup(name)
		rows, err := Build(def, "t1", sampleFacts())
		require.NoError(t, err)
		s.Publish("t1", name, rows)
	}
	d := s.Directory("t1")
	assert.Equal(t, []string{"ava smith", "ben lee"}, d.Entities)
	assert.Equal(t, []string{"bright therapy", "kids ot"}, d.Vendors)
	assert.Empty(t, s.Directory("t2").Entities)
	assert.Equal(t, []string{"t1"}, s.Tenants())
}
