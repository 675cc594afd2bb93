package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGetPoolConfigForComponent(t *testing.T) {
	tests := []struct {
		component string
		wantOpen  int
		wantIdle  int
	}{
		{component: "query", wantOpen: 10, wantIdle: 3},
		{component: "refresh", wantOpen: 20, wantIdle: 5},
		{component: "cli", wantOpen: 2, wantIdle: 1},
	}
	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			t.Setenv("CLICKHOUSE_CONN_MAX_LIFETIME", "99h")
			config := GetPoolConfigForComponent(tt.component)
			assert.Equal(t, tt.wantOpen, config.MaxOpenConns)
			assert.Equal(t, tt.wantIdle, config.MaxIdleConns)
			assert.Equal(t, 5*time.Minute, config.ConnMaxLifetime)
			assert.Equal(t, tt.component, config.Component)
		})
	}
}

func TestGetPoolConfigForUnknownComponentReadsEnv(t *testing.T) {
	t.Setenv("CLICKHOUSE_MAX_OPEN_CONNS", "5")
	t.Setenv("CLICKHOUSE_MAX_IDLE_CONNS", "10")
	t.Setenv("CLICKHOUSE_CONN_MAX_LIFETIME", "10m")

	config := GetPoolConfigForComponent("other")
	assert.Equal(t, 5, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns, "idle is capped at open")
	assert.Equal(t, 10*time.Minute, config.ConnMaxLifetime)
}

func TestParseConnMaxLifetimeFromEnv(t *testing.T) {
	for value, want := range map[string]time.Duration{"": 0, "30s": 30 * time.Second, "2h": 2 * time.Hour, "invalid": 0} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("CLICKHOUSE_CONN_MAX_LIFETIME", value)
			assert.Equal(t, want, parseConnMaxLifetimeFromEnv())
		})
	}
}

func TestDSNParsing(t *testing.T) {
	assert.Equal(t, []string{"h1:9000", "h2:9000"}, extractReplicas("clickhouse://u:p@h1:9000, h2:9000/db?sslmode=disable"))
	assert.Equal(t, []string{"localhost:9000"}, extractReplicas("clickhouse://"))

	user, pass := extractCredentials("clickhouse://u:p@h1:9000")
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
	user, pass = extractCredentials("tcp://h1:9000")
	assert.Equal(t, "default", user)
	assert.Equal(t, "", pass)
}

func TestConnOpenStrategy(t *testing.T) {
	assert.Equal(t, clickhouse.ConnOpenRoundRobin, parseConnOpenStrategy(" Round_Robin "))
	assert.Equal(t, clickhouse.ConnOpenRandom, parseConnOpenStrategy("random"))
	assert.Equal(t, clickhouse.ConnOpenInOrder, parseConnOpenStrategy("bogus"))
	assert.Equal(t, "in_order", formatConnOpenStrategy(clickhouse.ConnOpenInOrder))
	assert.Equal(t, "spendq_eu_1", SanitizeName("SpendQ-eu.1"))
}

type execCall struct {
	query string
	args  []any
}

// fakeConn records Exec calls; reads and batches fail.
type fakeConn struct {
	execs []execCall
	err   error
}

func (f *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	f.execs = append(f.execs, execCall{query: query, args: args})
	return f.err
}

func (f *fakeConn) Query(context.Context, string, ...any) (driver.Rows, error) {
	return nil, errors.New("unreachable")
}

func (f *fakeConn) PrepareBatch(context.Context, string, ...driver.PrepareBatchOption) (driver.Batch, error) {
	return nil, errors.New("unreachable")
}

func (f *fakeConn) Ping(context.Context) error { return f.err }
func (f *fakeConn) Close() error               { return nil }

func newFakeClient(t *testing.T) (*Client, *fakeConn) {
	conn := &fakeConn{}
	return &Client{Logger: zaptest.NewLogger(t), Db: conn, Database: "spendq"}, conn
}

func TestMigrateCreatesTables(t *testing.T) {
	c, conn := newFakeClient(t)
	require.NoError(t, c.Migrate(context.Background()))
	require.Len(t, conn.execs, 2)
	assert.Contains(t, conn.execs[0].query, "spendq.facts")
	assert.Contains(t, conn.execs[1].query, "spendq.aggregate_rows")
	assert.Contains(t, conn.execs[1].query, "ReplacingMergeTree(built_at)")
}

func TestPersistEmptySnapshotPrunesOlderBuilds(t *testing.T) {
	c, conn := newFakeClient(t)
	built := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	snap := &aggregate.Snapshot{TenantID: "t1", Table: aggregate.EntityMonth, Generation: 4, BuiltAt: built}

	require.NoError(t, c.Persist(context.Background(), snap))
	require.Len(t, conn.execs, 1)
	assert.True(t, strings.HasPrefix(conn.execs[0].query, "DELETE FROM spendq.aggregate_rows"))
	assert.Equal(t, []any{"t1", aggregate.EntityMonth, built}, conn.execs[0].args)
}

func TestPersistAndReadErrors(t *testing.T) {
	c, _ := newFakeClient(t)
	snap := &aggregate.Snapshot{TenantID: "t1", Table: aggregate.EntityMonth, Rows: []aggregate.Row{{GroupKey: "s1"}}}
	assert.Error(t, c.Persist(context.Background(), snap))

	_, err := c.Tenants(context.Background())
	assert.Error(t, err)
	_, err = c.FactsForTenant(context.Background(), "t1")
	assert.Error(t, err)
	assert.NoError(t, c.InsertFacts(context.Background(), nil))
}
