package clickhouse

import (
	"context"
	"fmt"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/rotisserie/eris"
)

// AggregateTable receives every published snapshot. Rows are versioned by
// built_at so a restarted process, whose generations start over, still
// replaces older rows.
const AggregateTable = "aggregate_rows"

func (c *Client) aggregateDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	tenant_id    LowCardinality(String),
	table_name   LowCardinality(String),
	group_key    String,
	period       String,
	entity_id    String,
	entity_name  String,
	vendor_id    String,
	vendor_name  String,
	service_code String,
	label        String,
	start        Date,
	hours        String,
	cost         String,
	facts        UInt32,
	entities     UInt32,
	generation   UInt64,
	built_at     DateTime64(3, 'UTC')
) ENGINE = %s(built_at)
ORDER BY (tenant_id, table_name, group_key, period)`, c.Database, AggregateTable, ReplacingMergeTree)
}

// Persist writes snap and removes rows of older builds of the same scope.
func (c *Client) Persist(ctx context.Context, snap *aggregate.Snapshot) error {
	if len(snap.Rows) > 0 {
		batch, err := c.Db.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.Database, AggregateTable))
		if err != nil {
			return eris.Wrap(err, "clickhouse: prepare aggregate batch")
		}
		for _, r := range snap.Rows {
			if err := batch.Append(snap.TenantID, snap.Table, r.GroupKey, r.Period,
				r.EntityID, r.EntityName, r.VendorID, r.VendorName, r.ServiceCode,
				r.Label, r.Start, r.Hours.String(), r.Cost.String(), uint32(r.Facts), uint32(r.Entities),
				snap.Generation, snap.BuiltAt); err != nil {
				_ = batch.Abort()
				return eris.Wrap(err, "clickhouse: append aggregate row")
			}
		}
		if err := batch.Send(); err != nil {
			return eris.Wrapf(err, "clickhouse: persist %s/%s", snap.TenantID, snap.Table)
		}
	}
	query := fmt.Sprintf("DELETE FROM %s.%s WHERE tenant_id = ? AND table_name = ? AND built_at < ?", c.Database, AggregateTable)
	return eris.Wrapf(c.Exec(ctx, query, snap.TenantID, snap.Table, snap.BuiltAt),
		"clickhouse: prune %s/%s", snap.TenantID, snap.Table)
}
