package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stream entry fields of a facts-committed notification.
const (
	FieldTenant = "tenant_id"
	FieldAt     = "at"
)

// Streams is the subset of the Redis API the consumer needs.
type Streams interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type StreamConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Count is the max entries per read. Default 100.
	Count int64
	// Block is how long a read waits for entries. Default 5s.
	Block time.Duration
	// RetryInterval is the first backoff after a read error, doubling up to
	// MaxRetryInterval. Defaults 1s and 30s.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	Logger           *zap.Logger
}

// Message is one stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// Tenant returns the tenant id carried by a facts-committed entry.
func (m Message) Tenant() string {
	switch v := m.Values[FieldTenant].(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// MessageHandler processes an entry. A nil return acknowledges it; an error
// leaves it pending for redelivery.
type MessageHandler func(ctx context.Context, msg Message) error

// StreamConsumer reads a stream through a consumer group.
type StreamConsumer struct {
	streams Streams
	config  StreamConsumerConfig
	logger  *zap.Logger
}

func NewStreamConsumer(streams Streams, config StreamConsumerConfig) (*StreamConsumer, error) {
	if streams == nil {
		return nil, eris.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, eris.New("stream name is required")
	}
	if config.Group == "" || config.Consumer == "" {
		return nil, eris.New("consumer group and consumer name are required")
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{streams: streams, config: config, logger: logger}, nil
}

func (sc *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := sc.streams.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return eris.Wrapf(err, "create consumer group %s", sc.config.Group)
	}
	return nil
}

// Run consumes until ctx is cancelled. Pending entries of this consumer are
// replayed first, then new ones are read.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if err := sc.ensureGroup(ctx); err != nil {
		return err
	}
	sc.logger.Info("Consumer group ready",
		zap.String("stream", sc.config.Stream),
		zap.String("group", sc.config.Group),
		zap.String("consumer", sc.config.Consumer))

	lastID := "0"
	retryInterval := sc.config.RetryInterval
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		messages, err := sc.read(ctx, lastID)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))
			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		if lastID != ">" && len(messages) == 0 {
			lastID = ">"
			continue
		}
		for _, msg := range messages {
			sc.process(ctx, handler, msg)
		}
		if lastID != ">" {
			lastID = messages[len(messages)-1].ID
		}
	}
}

func (sc *StreamConsumer) read(ctx context.Context, lastID string) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    sc.config.Group,
		Consumer: sc.config.Consumer,
		Streams:  []string{sc.config.Stream, lastID},
		Count:    sc.config.Count,
	}
	if lastID == ">" {
		args.Block = sc.config.Block
	}
	streams, err := sc.streams.XReadGroup(ctx, args).Result()
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, Message{ID: m.ID, Stream: s.Stream, Values: m.Values})
		}
	}
	return out, nil
}

func (sc *StreamConsumer) process(ctx context.Context, handler MessageHandler, msg Message) {
	if err := handler(ctx, msg); err != nil {
		sc.logger.Error("Error processing message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
		return
	}
	if err := sc.streams.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID).Err(); err != nil {
		sc.logger.Warn("Failed to acknowledge message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
	}
}
