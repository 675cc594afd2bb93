// Package sqlite is a single-file fact store and snapshot sink for local runs
// and tests.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

// Open opens dsn (a path or ":memory:") and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS facts (
	tenant_id    TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	entity_name  TEXT NOT NULL,
	entity_kind  TEXT NOT NULL,
	vendor_id    TEXT NOT NULL,
	vendor_name  TEXT NOT NULL,
	service_date TEXT NOT NULL,
	service_code TEXT NOT NULL DEFAULT '',
	hours        TEXT NOT NULL,
	cost         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_tenant ON facts(tenant_id, service_date);

CREATE TABLE IF NOT EXISTS aggregate_rows (
	tenant_id    TEXT NOT NULL,
	table_name   TEXT NOT NULL,
	group_key    TEXT NOT NULL,
	period       TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	entity_name  TEXT NOT NULL,
	vendor_id    TEXT NOT NULL,
	vendor_name  TEXT NOT NULL,
	service_code TEXT NOT NULL,
	label        TEXT NOT NULL,
	start        TEXT NOT NULL,
	hours        TEXT NOT NULL,
	cost         TEXT NOT NULL,
	facts        INTEGER NOT NULL,
	entities     INTEGER NOT NULL,
	generation   INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, table_name, group_key, period)
);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) InsertFacts(ctx context.Context, in []facts.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO facts (tenant_id, entity_id, entity_name, entity_kind,
		vendor_id, vendor_name, service_date, service_code, hours, cost) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()
	for _, f := range in {
		if _, err := stmt.ExecContext(ctx, f.TenantID, f.EntityID, f.EntityName, string(f.EntityKind),
			f.VendorID, f.VendorName, f.ServiceDate.UTC().Format(dateLayout), f.ServiceCode,
			f.Hours.String(), f.Cost.String()); err != nil {
			return eris.Wrap(err, "sqlite: insert fact")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit facts")
}

func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM facts ORDER BY tenant_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query tenants")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tenant")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: tenants")
}

func (s *Store) FactsForTenant(ctx context.Context, tenantID string) ([]facts.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, entity_id, entity_name, entity_kind, vendor_id,
		vendor_name, service_date, service_code, hours, cost
		FROM facts WHERE tenant_id = ? ORDER BY service_date, entity_id, vendor_id`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query facts for %s", tenantID)
	}
	defer rows.Close()

	var out []facts.Fact
	for rows.Next() {
		var (
			f           facts.Fact
			kind, date  string
			hours, cost string
		)
		if err := rows.Scan(&f.TenantID, &f.EntityID, &f.EntityName, &kind, &f.VendorID, &f.VendorName,
			&date, &f.ServiceCode, &hours, &cost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		f.EntityKind = facts.EntityKind(kind)
		if f.ServiceDate, err = time.Parse(dateLayout, date); err != nil {
			return nil, eris.Wrapf(err, "sqlite: service date %q", date)
		}
		if f.Hours, err = amount.New(hours); err != nil {
			return nil, err
		}
		if f.Cost, err = amount.New(cost); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: read facts")
}

// Persist replaces the stored rows of the snapshot's scope. Older
// generations never overwrite newer ones.
func (s *Store) Persist(ctx context.Context, snap *aggregate.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var current sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(generation) FROM aggregate_rows WHERE tenant_id = ? AND table_name = ?`,
		snap.TenantID, snap.Table).Scan(&current); err != nil {
		return eris.Wrap(err, "sqlite: read generation")
	}
	if current.Valid && uint64(current.Int64) > snap.Generation {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM aggregate_rows WHERE tenant_id = ? AND table_name = ?`,
		snap.TenantID, snap.Table); err != nil {
		return eris.Wrap(err, "sqlite: clear scope")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO aggregate_rows (tenant_id, table_name, group_key, period,
		entity_id, entity_name, vendor_id, vendor_name, service_code, label, start, hours, cost, facts, entities,
		generation) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare aggregate insert")
	}
	defer stmt.Close()
	for _, r := range snap.Rows {
		if _, err := stmt.ExecContext(ctx, snap.TenantID, snap.Table, r.GroupKey, r.Period,
			r.EntityID, r.EntityName, r.VendorID, r.VendorName, r.ServiceCode, r.Label,
			r.Start.UTC().Format(dateLayout), r.Hours.String(), r.Cost.String(), r.Facts, r.Entities,
			int64(snap.Generation)); err != nil {
			return eris.Wrap(err, "sqlite: insert aggregate row")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

// Persisted returns the stored generation and row count of a scope.
func (s *Store) Persisted(ctx context.Context, tenantID, table string) (generation uint64, rows int, err error) {
	var gen sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MAX(generation), COUNT(*) FROM aggregate_rows WHERE tenant_id = ? AND table_name = ?`,
		tenantID, table).Scan(&gen, &rows)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: read persisted")
	}
	return uint64(gen.Int64), rows, nil
}
