package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisSource.
type RedisConfig struct {
	URL       string
	Password  string
	StreamKey string // e.g. "feedhub:events"
	Group     string
	Consumer  string
	Block     time.Duration // how long XREADGROUP waits for messages
	BatchSize int64
}

// RedisSource replays upstream events from a Redis stream using a consumer
// group. Each message holds a JSON wire event in its "data" field.
// Messages are acknowledged once handed to the handler; malformed ones are
// acknowledged and discarded since redelivery cannot fix them.
type RedisSource struct {
	client  *redis.Client
	cfg     RedisConfig
	handler Handler
	logger  *slog.Logger
}

// NewRedis connects, pings and ensures the consumer group exists.
func NewRedis(cfg RedisConfig, handler Handler, logger *slog.Logger) (*RedisSource, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s, err := NewRedisWithClient(ctx, client, cfg, handler, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisWithClient uses an existing client. The source owns the client.
func NewRedisWithClient(ctx context.Context, client *redis.Client, cfg RedisConfig, handler Handler, logger *slog.Logger) (*RedisSource, error) {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	s := &RedisSource{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "redis_source", "stream_key", cfg.StreamKey),
	}

	// XGroupCreateMkStream creates the stream if missing.
	err := client.XGroupCreateMkStream(ctx, cfg.StreamKey, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("source_initialized",
		"consumer_group", cfg.Group,
		"consumer_name", cfg.Consumer,
	)
	return s, nil
}

// Start reads until ctx is done and returns ctx.Err().
func (s *RedisSource) Start(ctx context.Context) error {
	s.logger.Info("source_starting")

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("source_stopping")
			return err
		}

		// ">" reads only messages never delivered to this group.
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.StreamKey, ">"},
			Count:    s.cfg.BatchSize,
			Block:    s.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("xreadgroup_failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				s.processMessage(message)

				if err := s.client.XAck(ctx, s.cfg.StreamKey, s.cfg.Group, message.ID).Err(); err != nil {
					s.logger.Error("xack_failed", "stream_id", message.ID, "error", err)
				}
			}
		}
	}
}

func (s *RedisSource) processMessage(msg redis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		s.logger.Warn("malformed_event_discarded", "stream_id", msg.ID, "error", "missing data field")
		return
	}

	ev, err := DecodeEvent([]byte(data))
	if err != nil {
		s.logger.Warn("malformed_event_discarded", "stream_id", msg.ID, "error", err)
		return
	}

	s.handler.OnEvent(ev)
}

// Close closes the Redis connection.
func (s *RedisSource) Close() error {
	s.logger.Info("source_closing")
	return s.client.Close()
}
