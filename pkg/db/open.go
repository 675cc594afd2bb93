package db

import (
	"context"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/db/clickhouse"
	"github.com/canopy-network/spendq/pkg/db/memory"
	"github.com/canopy-network/spendq/pkg/db/postgres"
	"github.com/canopy-network/spendq/pkg/db/sqlite"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Backend is an opened fact store. Sink is nil for backends that do not
// persist snapshots.
type Backend struct {
	Driver string
	Facts  FactStore
	Writer FactWriter
	Sink   aggregate.Sink
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Open connects to the named driver. dsn is a file path for sqlite and a
// database name for clickhouse; postgres reads POSTGRES_URL.
func Open(ctx context.Context, logger *zap.Logger, driver, dsn, component string) (*Backend, error) {
	b := &Backend{Driver: driver}
	switch driver {
	case "memory", "":
		s := memory.NewFactStore()
		b.Driver, b.Facts, b.Writer = "memory", s, s
		return b, nil
	case "sqlite":
		if dsn == "" {
			dsn = "spendq.db"
		}
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		b.Facts, b.Writer, b.Sink = s, s, s
		return b, nil
	case "postgres":
		c, err := postgres.New(ctx, logger, postgres.GetPoolConfigForComponent(component))
		if err != nil {
			return nil, err
		}
		b.Facts, b.Writer = c, c
		return b, migrate(ctx, b, c)
	case "clickhouse":
		if dsn == "" {
			dsn = "spendq"
		}
		c, err := clickhouse.New(ctx, logger, dsn, clickhouse.GetPoolConfigForComponent(component))
		if err != nil {
			return nil, err
		}
		b.Facts, b.Writer, b.Sink = c, c, c
		return b, migrate(ctx, b, c)
	default:
		return nil, eris.Errorf("unknown facts driver %q", driver)
	}
}

func migrate(ctx context.Context, b *Backend, m migrator) error {
	if err := m.Migrate(ctx); err != nil {
		_ = b.Facts.Close()
		return err
	}
	return nil
}
