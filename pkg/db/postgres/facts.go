package postgres

import (
	"context"
	"strings"

	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const factsDDL = `
CREATE TABLE IF NOT EXISTS facts (
	tenant_id    TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	entity_name  TEXT NOT NULL,
	entity_kind  TEXT NOT NULL,
	vendor_id    TEXT NOT NULL,
	vendor_name  TEXT NOT NULL,
	service_date DATE NOT NULL,
	service_code TEXT NOT NULL DEFAULT '',
	hours        NUMERIC(18,4) NOT NULL,
	cost         NUMERIC(18,4) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_tenant_date ON facts(tenant_id, service_date);
`

func (c *Client) Migrate(ctx context.Context) error {
	_, err := c.Pool.Exec(ctx, factsDDL)
	return eris.Wrap(err, "postgres: migrate")
}

func (c *Client) Tenants(ctx context.Context) ([]string, error) {
	rows, err := c.Pool.Query(ctx, `SELECT DISTINCT tenant_id FROM facts ORDER BY tenant_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query tenants")
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, eris.Wrap(err, "postgres: scan tenants")
}

// factsQuery reads measures as text so they are parsed as exact decimals.
var factsQuery = `SELECT tenant_id, entity_id, entity_name, entity_kind, vendor_id, vendor_name,
	service_date, service_code, hours::text, cost::text
FROM facts WHERE tenant_id = $1 ORDER BY service_date, entity_id, vendor_id`

func (c *Client) FactsForTenant(ctx context.Context, tenantID string) ([]facts.Fact, error) {
	rows, err := c.Pool.Query(ctx, factsQuery, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query facts for %s", tenantID)
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
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		f.EntityKind = facts.EntityKind(kind)
		if f.Hours, err = amount.New(strings.TrimSpace(hours)); err != nil {
			return nil, err
		}
		if f.Cost, err = amount.New(strings.TrimSpace(cost)); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: read facts")
}

func (c *Client) InsertFacts(ctx context.Context, in []facts.Fact) error {
	if len(in) == 0 {
		return nil
	}
	rows := make([][]any, len(in))
	for i, f := range in {
		rows[i] = []any{f.TenantID, f.EntityID, f.EntityName, string(f.EntityKind), f.VendorID, f.VendorName,
			f.ServiceDate, f.ServiceCode, f.Hours.String(), f.Cost.String()}
	}
	_, err := c.Pool.CopyFrom(ctx, pgx.Identifier{"facts"}, facts.Columns, pgx.CopyFromRows(rows))
	return eris.Wrap(err, "postgres: copy facts")
}
