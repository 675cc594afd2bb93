package db

import (
	"context"

	"github.com/canopy-network/spendq/pkg/db/models/facts"
)

// FactStore is the read side of the ingestion pipeline's fact tables. Every
// backend (ClickHouse, PostgreSQL, SQLite, memory) implements it.
type FactStore interface {
	// Tenants lists every tenant with at least one committed fact.
	Tenants(ctx context.Context) ([]string, error)
	// FactsForTenant returns all committed facts for one tenant.
	FactsForTenant(ctx context.Context, tenantID string) ([]facts.Fact, error)
	Close() error
}

// FactWriter is implemented by backends that can also accept facts; used by
// the CLI seeding command and by tests.
type FactWriter interface {
	InsertFacts(ctx context.Context, rows []facts.Fact) error
}
