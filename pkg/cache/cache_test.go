package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *clock) {
	clk := &clock{now: time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(zaptest.NewLogger(t), 30*time.Minute, opts...), clk
}

func fp(tenant, table, hash string) Fingerprint {
	return Fingerprint{TenantID: tenant, Table: table, Hash: hash}
}

func TestFingerprintStable(t *testing.T) {
	a := FingerprintOf(Key{
		TemplateKey: "vendor_monthly_spend@v1", TenantID: "t1", Table: "vendor_month",
		Bindings: map[string][]string{"vendor": {"Bright  Therapy"}, "x": nil},
		Window:   "school_year:2025-07-01..2026-06-30",
	})
	b := FingerprintOf(Key{
		TemplateKey: "vendor_monthly_spend@v1", TenantID: "t1", Table: "vendor_month",
		Bindings: map[string][]string{"x": nil, "vendor": {"bright therapy"}},
		Window:   "school_year:2025-07-01..2026-06-30",
	})
	assert.Equal(t, a, b)
	assert.Len(t, a.Hash, 64)
	assert.Equal(t, "t1:vendor_month:"+a.Hash, a.String())

	for _, k := range []Key{
		{TemplateKey: "vendor_monthly_spend@v2", TenantID: "t1", Table: "vendor_month", Bindings: map[string][]string{"vendor": {"bright therapy"}}, Window: "school_year:2025-07-01..2026-06-30"},
		{TemplateKey: "vendor_monthly_spend@v1", TenantID: "t2", Table: "vendor_month", Bindings: map[string][]string{"vendor": {"bright therapy"}}, Window: "school_year:2025-07-01..2026-06-30"},
		{TemplateKey: "vendor_monthly_spend@v1", TenantID: "t1", Table: "vendor_month", Bindings: map[string][]string{"vendor": {"kids ot"}}, Window: "school_year:2025-07-01..2026-06-30"},
		{TemplateKey: "vendor_monthly_spend@v1", TenantID: "t1", Table: "vendor_month", Bindings: map[string][]string{"vendor": {"bright therapy"}}, Window: "school_year:2024-07-01..2025-06-30"},
	} {
		assert.NotEqual(t, a.Hash, FingerprintOf(k).Hash)
	}
}

func TestPutGetExpire(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()
	key := fp("t1", "vendor_month", "h1")

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	require.True(t, c.Put(ctx, key, []byte(`{"a":1}`), 0, 3))
	e, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, uint64(3), e.Generation)
	assert.Equal(t, 30*time.Minute, e.Remaining(clk.Now()))

	clk.Advance(31 * time.Minute)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	assert.Empty(t, c.Entries())

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
	assert.Zero(t, st.Entries)
}

func TestInvalidateScopeRejectsOlderGenerations(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := fp("t1", "vendor_month", "h1")
	other := fp("t1", "entity_month", "h2")

	require.True(t, c.Put(ctx, key, []byte("old"), 0, 4))
	require.True(t, c.Put(ctx, other, []byte("keep"), 0, 4))

	assert.Equal(t, 1, c.InvalidateScope(ctx, "t1", "vendor_month", 7))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok, "no stale read after invalidation")
	_, ok = c.Get(ctx, other)
	assert.True(t, ok, "other scopes untouched")

	// a computation that read generation 4 must not land after the invalidation
	assert.False(t, c.Put(ctx, key, []byte("stale"), 0, 4))
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Rejected)

	assert.True(t, c.Put(ctx, key, []byte("fresh"), 0, 7))
	assert.Equal(t, uint64(7), c.Watermark("t1", "vendor_month"))

	// watermark never moves backwards
	c.InvalidateScope(ctx, "t1", "vendor_month", 5)
	assert.Equal(t, uint64(7), c.Watermark("t1", "vendor_month"))
}

func TestInvalidatePredicate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	c.Put(ctx, fp("t1", "a", "1"), nil, 0, 1)
	c.Put(ctx, fp("t2", "a", "2"), nil, 0, 1)
	c.Put(ctx, fp("t2", "b", "3"), nil, 0, 1)

	n := c.Invalidate(func(e Entry) bool { return e.Fingerprint.TenantID == "t2" })
	assert.Equal(t, 2, n)
	require.Len(t, c.Entries(), 1)
	assert.Equal(t, "t1", c.Entries()[0].TenantID)
}

func TestMaxEntriesEvictsSoonestExpiry(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(2))
	ctx := context.Background()
	c.Put(ctx, fp("t1", "a", "long"), nil, time.Hour, 1)
	c.Put(ctx, fp("t1", "a", "short"), nil, time.Minute, 1)
	c.Put(ctx, fp("t1", "b", "mid"), nil, 10*time.Minute, 1)

	_, ok := c.Peek(fp("t1", "a", "short"))
	assert.False(t, ok)
	_, ok = c.Peek(fp("t1", "a", "long"))
	assert.True(t, ok)
	assert.Equal(t, int64(2), c.Stats().Entries)
	assert.Equal(t, uint64(1), c.Stats().Evicted)
}

type fakeRemote struct {
	mu      sync.Mutex
	entries map[string]Entry
	deleted []string
	epochs  map[string]uint64
	failDel error
}

func (f *fakeRemote) Get(_ context.Context, key Fingerprint) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key.String()]
	return e, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.Fingerprint.String()] = e
	return nil
}

func (f *fakeRemote) DeleteScope(_ context.Context, tenantID, table string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel != nil {
		return 0, f.failDel
	}
	if f.epochs == nil {
		f.epochs = map[string]uint64{}
	}
	f.epochs[tenantID+"/"+table]++
	f.deleted = append(f.deleted, tenantID+"/"+table)
	for k, e := range f.entries {
		if e.Fingerprint.TenantID == tenantID && e.Fingerprint.Table == table {
			delete(f.entries, k)
		}
	}
	return f.epochs[tenantID+"/"+table], nil
}

func TestRemoteTier(t *testing.T) {
	remote := &fakeRemote{entries: map[string]Entry{}}
	writer, clk := newTestCache(t, WithRemote(remote))
	reader := New(zaptest.NewLogger(t), 30*time.Minute, WithClock(clk.Now), WithRemote(remote))
	ctx := context.Background()
	key := fp("t1", "vendor_month", "h1")

	require.True(t, writer.Put(ctx, key, []byte("shared"), 0, 2))
	e, ok := reader.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), e.Payload)
	_, ok = reader.Peek(key)
	assert.True(t, ok, "remote hit promoted locally")

	writer.InvalidateScope(ctx, "t1", "vendor_month", 3)
	assert.Equal(t, []string{"t1/vendor_month"}, remote.deleted)
	assert.Empty(t, remote.entries)
}

func TestRemoteTierOrdersByEpochNotGeneration(t *testing.T) {
	remote := &fakeRemote{entries: map[string]Entry{}}
	fresh, clk := newTestCache(t, WithRemote(remote))
	lagging := New(zaptest.NewLogger(t), 30*time.Minute, WithClock(clk.Now), WithRemote(remote))
	ctx := context.Background()
	key := fp("t1", "vendor_month", "h1")

	fresh.InvalidateScope(ctx, "t1", "vendor_month", 3)
	require.True(t, lagging.Put(ctx, key, []byte("STALE"), 0, 10))

	_, ok := fresh.Get(ctx, key)
	assert.False(t, ok)
	_, ok = fresh.Peek(key)
	assert.False(t, ok)

	// the lagging writer's own reads still see its entry
	e, ok := lagging.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("STALE"), e.Payload)
}

func TestRemoteTierNotPromotedAfterFailedInvalidation(t *testing.T) {
	remote := &fakeRemote{entries: map[string]Entry{}}
	local, clk := newTestCache(t, WithRemote(remote))
	peer := New(zaptest.NewLogger(t), 30*time.Minute, WithClock(clk.Now), WithRemote(remote))
	ctx := context.Background()
	key := fp("t1", "vendor_month", "h1")

	remote.failDel = assert.AnError
	local.InvalidateScope(ctx, "t1", "vendor_month", 2)
	require.True(t, peer.Put(ctx, key, []byte("unknown"), 0, 1))
	_, ok := local.Get(ctx, key)
	assert.False(t, ok)

	remote.failDel = nil
	local.InvalidateScope(ctx, "t1", "vendor_month", 3)
	peer.InvalidateScope(ctx, "t1", "vendor_month", 2)
	require.True(t, peer.Put(ctx, key, []byte("shared"), 0, 2))
	e, ok := local.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), e.Payload)
}

func TestFlightComputesOnce(t *testing.T) {
	var f Flight
	var calls atomic.Int32
	release := make(chan struct{})
	key := fp("t1", "vendor_month", "h1")

	const n = 16
	var wg sync.WaitGroup
	results := make([]Computed, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			r, _, err := f.Do(context.Background(), key, func(context.Context) (Computed, error) {
				calls.Add(1)
				<-release
				return Computed{Payload: []byte("x"), Generation: 9, Stored: true}, nil
			})
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// give every goroutine time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, uint64(9), r.Generation)
	}
}

func TestFlightCallerCancellation(t *testing.T) {
	var f Flight
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	done := make(chan struct{})
	key := fp("t1", "a", "h")

	go func() {
		defer close(done)
		_, _, err := f.Do(ctx, key, func(inner context.Context) (Computed, error) {
			<-release
			return Computed{}, inner.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()
	cancel()
	<-done
	close(release)
}
