package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Pipe modes.
const (
	ModeQueue = "queue"
	ModeSync  = "sync"
)

// Convertor kinds.
const (
	ConvertorBasic     = "basic"
	ConvertorStateful  = "stateful"
	ConvertorStateless = "stateless"
)

// Config holds the feedhub service configuration.
type Config struct {
	// Observability
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	AdminPort int    `env:"ADMIN_PORT" envDefault:"9090"`

	// Pipeline wiring
	PipeMode      string `env:"PIPE_MODE" envDefault:"queue"`
	Convertor     string `env:"CONVERTOR" envDefault:"basic"`
	Formater      string `env:"FORMATER" envDefault:"json"`
	Sink          string `env:"SINK" envDefault:"disk"`
	QueueCapacity int    `env:"QUEUE_CAPACITY" envDefault:"1024"`
	Workers       int    `env:"WORKERS" envDefault:"4"`
	OverflowLimit int    `env:"OVERFLOW_LIMIT" envDefault:"0"`

	// Basic convertor
	InstrumentSource int32  `env:"INSTRUMENT_SOURCE" envDefault:"533"`
	RoutePrefix      string `env:"ROUTE_PREFIX" envDefault:"api/V1"`

	// State eviction (parsed as seconds, 0 disables)
	StateIdleTTLSec int `env:"STATE_IDLE_TTL_SEC" envDefault:"0"`
	StateSweepSec   int `env:"STATE_SWEEP_SEC" envDefault:"60"`

	// Sinks
	DiskSinkPath  string   `env:"DISK_SINK_PATH" envDefault:"disk_sink.log"`
	SinkTopic     string   `env:"SINK_TOPIC" envDefault:"feedhub"`
	SendTimeoutMS int      `env:"SEND_TIMEOUT_MS" envDefault:"2000"`
	RedisSinkMax  int64    `env:"REDIS_SINK_MAXLEN" envDefault:"0"`
	NATSURL       string   `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"feedhub"`

	// Redis
	RedisURL        string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	SourceStreamKey string `env:"SOURCE_STREAM_KEY" envDefault:"feedhub:events"`
	ConsumerGroup   string `env:"CONSUMER_GROUP" envDefault:"feedhub"`

	// Computed durations (not from env)
	StateIdleTTL time.Duration `env:"-"`
	StateSweep   time.Duration `env:"-"`
	SendTimeout  time.Duration `env:"-"`
}

// LoadFromEnv loads configuration from an optional .env file and then from
// environment variables. Variables already set take precedence over the file.
func LoadFromEnv(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	opts := env.Options{
		Prefix: "",
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	for i := range cfg.KafkaBrokers {
		cfg.KafkaBrokers[i] = strings.TrimSpace(cfg.KafkaBrokers[i])
	}

	cfg.StateIdleTTL = time.Duration(cfg.StateIdleTTLSec) * time.Second
	cfg.StateSweep = time.Duration(cfg.StateSweepSec) * time.Second
	cfg.SendTimeout = time.Duration(cfg.SendTimeoutMS) * time.Millisecond

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.AdminPort < 1 || c.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.AdminPort)
	}

	validModes := map[string]bool{ModeQueue: true, ModeSync: true}
	if !validModes[c.PipeMode] {
		return fmt.Errorf("invalid pipe mode: %s", c.PipeMode)
	}

	validConvertors := map[string]bool{ConvertorBasic: true, ConvertorStateful: true, ConvertorStateless: true}
	if !validConvertors[c.Convertor] {
		return fmt.Errorf("invalid convertor: %s", c.Convertor)
	}

	validFormaters := map[string]bool{"json": true, "yaml": true, "toml": true, "msgpack": true}
	if !validFormaters[c.Formater] {
		return fmt.Errorf("invalid formater: %s", c.Formater)
	}

	validSinks := map[string]bool{"disk": true, "console": true, "noop": true, "redis": true, "nats": true, "kafka": true}
	if !validSinks[c.Sink] {
		return fmt.Errorf("invalid sink: %s", c.Sink)
	}

	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	if c.OverflowLimit < 0 {
		return fmt.Errorf("overflow limit must not be negative, got %d", c.OverflowLimit)
	}

	if c.StateIdleTTL < 0 {
		return fmt.Errorf("state idle TTL must not be negative")
	}

	if c.StateIdleTTL > 0 && c.StateSweep < time.Second {
		return fmt.Errorf("state sweep interval must be at least 1 second")
	}

	if c.SendTimeoutMS < 1 {
		return fmt.Errorf("send timeout must be at least 1ms, got %dms", c.SendTimeoutMS)
	}

	if c.Sink == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("at least one kafka broker must be configured")
	}

	return nil
}
