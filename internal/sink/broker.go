package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"feedhub/internal/formater"
)

// HeaderContentType carries the formater label on broker messages.
const HeaderContentType = "ct"

// NATSConn is the subset of *nats.Conn used by the NATS sink.
type NATSConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSConfig configures a NATS sink.
type NATSConfig struct {
	URL         string
	ClientName  string
	Subject     string // used when a record has no route
	SendTimeout time.Duration
}

// NATS publishes each record on a subject derived from its route, with "/"
// mapped to ".". Each send flushes so the server has accepted the message
// before Exec returns.
type NATS struct {
	conn   NATSConn
	cfg    NATSConfig
	closed atomic.Bool
	logger *slog.Logger
}

func NewNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats_disconnected", "client", cfg.ClientName, "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats_reconnected", "client", cfg.ClientName, "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}
	return NewNATSWithConn(nc, cfg, logger), nil
}

func NewNATSWithConn(conn NATSConn, cfg NATSConfig, logger *slog.Logger) *NATS {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	return &NATS{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "nats_sink", "client", cfg.ClientName),
	}
}

// Subject maps a route to a NATS subject.
func Subject(route string) string {
	return strings.ReplaceAll(strings.Trim(route, "/"), "/", ".")
}

func (s *NATS) Exec(ctx context.Context, record any, f formater.Formater) error {
	if s.closed.Load() {
		return ErrNotConnected
	}
	enc, err := f.Format(record)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(Subject(DestOf(record, s.cfg.Subject)))
	msg.Data = enc.Bytes()
	msg.Header.Set(HeaderContentType, f.ContentType())

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s failed: %w", msg.Subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush %s failed: %w", msg.Subject, err)
	}
	return nil
}

func (s *NATS) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Drain()
}

// KafkaWriter is the subset of *kafka.Writer used by the Kafka sink.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a Kafka sink.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ClientName  string
	SendTimeout time.Duration
}

// Kafka writes each record to one topic, keyed by route so that one
// instrument's records stay on one partition.
type Kafka struct {
	writer KafkaWriter
	cfg    KafkaConfig
	closed atomic.Bool
	logger *slog.Logger
}

func NewKafka(cfg KafkaConfig, logger *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{ClientID: cfg.ClientName},
	}
	return NewKafkaWithWriter(w, cfg, logger)
}

func NewKafkaWithWriter(w KafkaWriter, cfg KafkaConfig, logger *slog.Logger) *Kafka {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	return &Kafka{
		writer: w,
		cfg:    cfg,
		logger: logger.With("component", "kafka_sink", "client", cfg.ClientName, "topic", cfg.Topic),
	}
}

func (s *Kafka) Exec(ctx context.Context, record any, f formater.Formater) error {
	if s.closed.Load() {
		return ErrNotConnected
	}
	enc, err := f.Format(record)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(DestOf(record, s.cfg.Topic)),
		Value: enc.Bytes(),
		Headers: []kafka.Header{
			{Key: HeaderContentType, Value: []byte(f.ContentType())},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (s *Kafka) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.writer.Close()
}
