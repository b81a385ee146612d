// Package pipe wires a convertor to a formater and sink, either inline on
// the event callback (Pipe) or through a worker queue (Queue).
package pipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedhub/internal/convertor"
	"feedhub/internal/formater"
	"feedhub/internal/instrumentation"
	"feedhub/internal/models"
	"feedhub/internal/sink"
)

var (
	ErrQueueFull      = errors.New("queue full")
	ErrQueueClosed    = errors.New("queue closed")
	ErrAlreadyStarted = errors.New("queue already started")
	ErrNotStarted     = errors.New("queue not started")
	ErrStopTimeout    = errors.New("queue stop timed out")
)

// FormaterFactory builds a formater for one worker.
type FormaterFactory func() formater.Formater

// Pipe runs convert, format and sink inline on the caller's goroutine. Use it
// only when the sink is fast enough not to stall event delivery.
type Pipe[R any] struct {
	conv    convertor.Convertor[R]
	f       formater.Formater
	sink    sink.Sink
	timeout time.Duration
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewPipe builds a synchronous pipe. timeout bounds each sink call; zero
// means no bound beyond the sink's own.
func NewPipe[R any](
	conv convertor.Convertor[R],
	f formater.Formater,
	s sink.Sink,
	timeout time.Duration,
	metrics *instrumentation.Metrics,
	logger *slog.Logger,
) *Pipe[R] {
	return &Pipe[R]{
		conv:    conv,
		f:       f,
		sink:    s,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.With("component", "pipe", "content_type", f.ContentType()),
	}
}

// OnEvent converts ev and, when a record comes out, delivers it before
// returning. Panics are recovered and logged.
func (p *Pipe[R]) OnEvent(ev models.Event) {
	defer recoverEvent(p.logger, p.metrics, ev)

	p.metrics.RecordEvent()
	start := time.Now()
	rec, ok := p.conv.Convert(ev)
	p.metrics.RecordConverted(float64(time.Since(start).Microseconds()), ok)
	if !ok {
		return
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start = time.Now()
	err := p.sink.Exec(ctx, rec, p.f)
	p.metrics.RecordDelivery("inline", float64(time.Since(start).Microseconds())/1000, err)
	if err != nil {
		reportFailure(p.logger, p.metrics, "inline", rec, err)
	}
}

// Close releases the sink.
func (p *Pipe[R]) Close() error {
	return p.sink.Close()
}

// reportFailure logs a format or delivery error. Neither is retried.
func reportFailure(logger *slog.Logger, metrics *instrumentation.Metrics, worker string, rec any, err error) {
	var fe *formater.FormatError
	if errors.As(err, &fe) {
		logger.Error("format_failed",
			"worker", worker,
			"content_type", fe.ContentType,
			"dest", sink.DestOf(rec, ""),
			"error", err,
		)
		metrics.RecordError("formater", "encode")
		return
	}
	logger.Error("sink_delivery_failed",
		"worker", worker,
		"dest", sink.DestOf(rec, ""),
		"error", err,
	)
	metrics.RecordError("sink", "delivery")
}

func recoverEvent(logger *slog.Logger, metrics *instrumentation.Metrics, ev models.Event) {
	if r := recover(); r != nil {
		logger.Error("event_panic",
			"source", ev.Source(),
			"symbol", ev.Symbol(),
			"panic", fmt.Sprint(r),
		)
		metrics.RecordError("pipe", "panic")
	}
}
