package sink

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Sink kinds accepted by NewFactory.
const (
	KindDisk    = "disk"
	KindConsole = "console"
	KindNoop    = "noop"
	KindRedis   = "redis"
	KindNATS    = "nats"
	KindKafka   = "kafka"
)

// Options carries settings for every sink kind; each kind reads its own.
type Options struct {
	Instance    string // process identity used in client names
	ClientPref  string
	DiskPath    string
	Topic       string
	SendTimeout time.Duration
	Console     io.Writer

	RedisURL      string
	RedisPassword string
	RedisMaxLen   int64

	NATSURL string

	KafkaBrokers []string
	KafkaTopic   string
}

// NewFactory returns a Factory for kind. Each call to the factory opens its
// own resources, so workers never share a file handle or broker client.
func NewFactory(kind string, opts Options, logger *slog.Logger) (Factory, error) {
	if opts.ClientPref == "" {
		opts.ClientPref = "feedhub"
	}
	name := func(id string) string { return ClientName(opts.ClientPref, opts.Instance, id) }

	switch kind {
	case KindDisk:
		return func(id string) (Sink, error) {
			return NewDisk(DiskPath(opts.DiskPath, id))
		}, nil
	case KindConsole:
		return func(string) (Sink, error) { return NewConsole(opts.Console), nil }, nil
	case KindNoop:
		return func(string) (Sink, error) { return Noop{}, nil }, nil
	case KindRedis:
		return func(id string) (Sink, error) {
			return NewRedis(RedisConfig{
				URL:         opts.RedisURL,
				Password:    opts.RedisPassword,
				ClientName:  name(id),
				Stream:      opts.Topic,
				MaxLen:      opts.RedisMaxLen,
				SendTimeout: opts.SendTimeout,
			}, logger)
		}, nil
	case KindNATS:
		return func(id string) (Sink, error) {
			return NewNATS(NATSConfig{
				URL:         opts.NATSURL,
				ClientName:  name(id),
				Subject:     opts.Topic,
				SendTimeout: opts.SendTimeout,
			}, logger)
		}, nil
	case KindKafka:
		return func(id string) (Sink, error) {
			return NewKafka(KafkaConfig{
				Brokers:     opts.KafkaBrokers,
				Topic:       opts.KafkaTopic,
				ClientName:  name(id),
				SendTimeout: opts.SendTimeout,
			}, logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", kind)
	}
}
