package postgres

import (
	"context"
	"time"

	"github.com/canopy-network/spendq/pkg/retry"
	"github.com/canopy-network/spendq/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is implemented by *pgxpool.Pool and by pgxmock pools.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	Logger *zap.Logger
	Pool   Pool
}

// PoolConfig defines connection pool settings for a specific component
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Component       string
}

// New connects to POSTGRES_URL with retries.
func New(ctx context.Context, logger *zap.Logger, poolConfig *PoolConfig) (*Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbURL := utils.Env("POSTGRES_URL", "postgres://localhost:5432/spendq")
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse POSTGRES_URL")
	}
	if poolConfig == nil {
		poolConfig = GetPoolConfigForComponent("")
	}
	config.MinConns = poolConfig.MinConns
	config.MaxConns = poolConfig.MaxConns
	config.MaxConnLifetime = poolConfig.ConnMaxLifetime
	config.MaxConnIdleTime = poolConfig.ConnMaxIdleTime

	client := &Client{Logger: logger}
	err = retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		pool, err := pgxpool.NewWithConfig(connCtx, config)
		if err != nil {
			return eris.Wrap(err, "create postgres pool")
		}
		if err := pool.Ping(connCtx); err != nil {
			pool.Close()
			return eris.Wrap(err, "ping postgres")
		}
		client.Pool = pool
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("PostgreSQL connection pool configured",
		zap.String("database", config.ConnConfig.Database),
		zap.String("component", poolConfig.Component),
		zap.Int32("min_conns", poolConfig.MinConns),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return client, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

func (c *Client) Close() error {
	c.Pool.Close()
	return nil
}

// GetPoolConfigForComponent returns pool settings for each component.
func GetPoolConfigForComponent(component string) *PoolConfig {
	cfg := &PoolConfig{
		MinConns:        2,
		MaxConns:        10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		Component:       component,
	}
	switch component {
	case "refresh":
		cfg.MaxConns = 20
	case "cli":
		cfg.MinConns, cfg.MaxConns = 1, 2
	}
	return cfg
}
