package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"feedhub/internal/formater"
)

// RedisConfig configures a Redis Streams sink.
type RedisConfig struct {
	URL         string
	Password    string
	ClientName  string
	Stream      string // used when a record has no route
	MaxLen      int64  // approximate stream cap, 0 for unbounded
	SendTimeout time.Duration
}

// Redis publishes each record with XADD as {data, ct} onto the stream named
// by the record's route.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	closed atomic.Bool
	logger *slog.Logger
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.ClientName = cfg.ClientName

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client. The sink owns the client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *Redis {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	return &Redis{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "redis_sink", "client", cfg.ClientName),
	}
}

func (s *Redis) Exec(ctx context.Context, record any, f formater.Formater) error {
	if s.closed.Load() {
		return ErrNotConnected
	}
	enc, err := f.Format(record)
	if err != nil {
		return err
	}

	stream := DestOf(record, s.cfg.Stream)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.cfg.MaxLen,
		Approx: s.cfg.MaxLen > 0,
		Values: map[string]interface{}{
			"data": enc.Bytes(),
			"ct":   f.ContentType(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("redis XADD %s failed: %w", stream, err)
	}

	s.logger.Debug("record_published", "stream", stream, "stream_id", id, "size_bytes", enc.Len())
	return nil
}

func (s *Redis) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
