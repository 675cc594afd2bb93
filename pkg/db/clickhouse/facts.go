package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/rotisserie/eris"
)

// FactsTable stores committed facts. Measures are kept as canonical decimal
// text so sums reconcile exactly.
const FactsTable = "facts"

func (c *Client) factsDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	tenant_id    LowCardinality(String),
	entity_id    String,
	entity_name  String,
	entity_kind  LowCardinality(String),
	vendor_id    String,
	vendor_name  String,
	service_date Date,
	service_code LowCardinality(String),
	hours        String,
	cost         String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(service_date)
ORDER BY (tenant_id, service_date, entity_id, vendor_id)`, c.Database, FactsTable)
}

// Migrate creates the facts table and the aggregate sink table.
func (c *Client) Migrate(ctx context.Context) error {
	for _, ddl := range []string{c.factsDDL(), c.aggregateDDL()} {
		if err := c.Exec(ctx, ddl); err != nil {
			return eris.Wrap(err, "clickhouse: migrate")
		}
	}
	return nil
}

func (c *Client) Tenants(ctx context.Context) ([]string, error) {
	rows, err := c.Db.Query(ctx, fmt.Sprintf("SELECT DISTINCT tenant_id FROM %s.%s ORDER BY tenant_id", c.Database, FactsTable))
	if err != nil {
		return nil, eris.Wrap(err, "clickhouse: query tenants")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "clickhouse: scan tenant")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "clickhouse: tenants")
}

func (c *Client) FactsForTenant(ctx context.Context, tenantID string) ([]facts.Fact, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.%s WHERE tenant_id = ? ORDER BY service_date, entity_id, vendor_id",
		strings.Join(facts.Columns, ", "), c.Database, FactsTable)
	rows, err := c.Db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "clickhouse: query facts for %s", tenantID)
	}
	defer rows.Close()

	var out []facts.Fact
	for rows.Next() {
		var (
			f           facts.Fact
			kind        string
			hours, cost string
		)
		if err := rows.Scan(&f.TenantID, &f.EntityID, &f.EntityName, &kind, &f.VendorID, &f.VendorName,
			&f.ServiceDate, &f.ServiceCode, &hours, &cost); err != nil {
			return nil, eris.Wrap(err, "clickhouse: scan fact")
		}
		f.EntityKind = facts.EntityKind(kind)
		if f.Hours, err = amount.New(hours); err != nil {
			return nil, err
		}
		if f.Cost, err = amount.New(cost); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "clickhouse: facts")
}

func (c *Client) InsertFacts(ctx context.Context, in []facts.Fact) error {
	if len(in) == 0 {
		return nil
	}
	batch, err := c.Db.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.Database, FactsTable))
	if err != nil {
		return eris.Wrap(err, "clickhouse: prepare facts batch")
	}
	for _, f := range in {
		if err := batch.Append(f.TenantID, f.EntityID, f.EntityName, string(f.EntityKind), f.VendorID, f.VendorName,
			f.ServiceDate, f.ServiceCode, f.Hours.String(), f.Cost.String()); err != nil {
			_ = batch.Abort()
			return eris.Wrap(err, "clickhouse: append fact")
		}
	}
	return eris.Wrap(batch.Send(), "clickhouse: send facts batch")
}
