package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/canopy-network/spendq/pkg/retry"
	"github.com/canopy-network/spendq/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const DefaultStreamMaxLen = 10000

// Client wraps the Redis connection shared by the remote cache tier and the
// facts-committed stream.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewClient connects using environment variables:
//   - REDIS_HOST (default "localhost"), REDIS_PORT (default "6379")
//   - REDIS_PASSWORD, REDIS_DB (default 0)
//   - REDIS_STREAM_MAXLEN (default 10000, 0 = unlimited)
//   - REDIS_DIAL_TIMEOUT (default 5s), REDIS_TLS (default false)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)
	opts := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  utils.EnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if utils.EnvBool("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	rdb := redis.NewClient(opts)

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = utils.EnvInt("REDIS_CONNECT_RETRIES", 5)
	err := retry.WithBackoff(ctx, cfg, logger, "redis ping", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "connect to redis at %s", addr)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return &Client{client: rdb, logger: logger, streamMaxLen: streamMaxLen}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Raw returns the underlying client.
func (c *Client) Raw() *redis.Client {
	return c.client
}

func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// PublishFactsCommitted appends a facts-committed notification for tenantID
// and returns the entry id.
func (c *Client) PublishFactsCommitted(ctx context.Context, stream, tenantID string) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{FieldTenant: tenantID, FieldAt: time.Now().UTC().Format(time.RFC3339)},
	}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}
	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", eris.Wrapf(err, "xadd %s", stream)
	}
	return id, nil
}
