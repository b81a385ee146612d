package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedhub/internal/config"
	"feedhub/internal/convertor"
	"feedhub/internal/formater"
	"feedhub/internal/handlers"
	"feedhub/internal/instrumentation"
	"feedhub/internal/models"
	"feedhub/internal/pipe"
	"feedhub/internal/reader"
	"feedhub/internal/sink"
	"feedhub/internal/source"
)

// stateStore is the part of a state.Map the server drives directly.
type stateStore interface {
	Len() int
	Sweep(ctx context.Context, interval, ttl time.Duration, logger *slog.Logger) error
}

// pipeline is one convertor, formater and sink triple ready to receive events.
type pipeline struct {
	handler source.Handler
	lookup  handlers.StateLookup
	stats   handlers.StatsFunc
	states  stateStore
	stop    func(timeout time.Duration) error
}

// buildPipeline selects the convertor named by cfg and wires it to the
// formater and sink factories.
func buildPipeline(
	ctx context.Context,
	cfg *config.Config,
	newSink sink.Factory,
	metrics *instrumentation.Metrics,
	logger *slog.Logger,
) (*pipeline, error) {
	if _, err := formater.New(cfg.Formater); err != nil {
		return nil, err
	}
	newFormater := func() formater.Formater {
		f, _ := formater.New(cfg.Formater)
		return f
	}
	serCfg := reader.SerConfig{}.EventKind(true).Source(true)

	switch cfg.Convertor {
	case config.ConvertorBasic:
		conv := convertor.NewBasic(convertor.BasicConfig{
			Source:      cfg.InstrumentSource,
			RoutePrefix: cfg.RoutePrefix,
		}, logger)
		p, err := wire[models.BasicRecord](ctx, cfg, conv, newFormater, newSink, metrics, logger)
		if err != nil {
			return nil, err
		}
		p.lookup = func(src int32, sym string) (any, bool) { return conv.State(src, sym) }
		p.states = conv.States()
		return p, nil
	case config.ConvertorStateful:
		conv := convertor.NewStatefulMap(serCfg, logger)
		p, err := wire[models.FieldMap](ctx, cfg, conv, newFormater, newSink, metrics, logger)
		if err != nil {
			return nil, err
		}
		p.lookup = func(src int32, sym string) (any, bool) { return conv.State(src, sym) }
		p.states = conv.States()
		return p, nil
	case config.ConvertorStateless:
		return wire[models.FieldMap](ctx, cfg, convertor.NewStateless(serCfg), newFormater, newSink, metrics, logger)
	default:
		return nil, fmt.Errorf("unknown convertor %q", cfg.Convertor)
	}
}

func wire[R any](
	ctx context.Context,
	cfg *config.Config,
	conv convertor.Convertor[R],
	newFormater pipe.FormaterFactory,
	newSink sink.Factory,
	metrics *instrumentation.Metrics,
	logger *slog.Logger,
) (*pipeline, error) {
	if cfg.PipeMode == config.ModeSync {
		s, err := newSink("inline")
		if err != nil {
			return nil, fmt.Errorf("build inline sink: %w", err)
		}
		p := pipe.NewPipe(conv, newFormater(), s, cfg.SendTimeout, metrics, logger)
		return &pipeline{
			handler: p,
			stop:    func(time.Duration) error { return p.Close() },
		}, nil
	}

	q := pipe.NewQueue(conv, newFormater, newSink, pipe.QueueConfig{
		Capacity:      cfg.QueueCapacity,
		Workers:       cfg.Workers,
		OverflowLimit: cfg.OverflowLimit,
	}, metrics, logger)
	if err := q.Start(ctx); err != nil {
		return nil, err
	}
	return &pipeline{
		handler: q,
		stats:   q.Stats,
		stop:    q.Stop,
	}, nil
}

// reportStateSize publishes the number of tracked keys until ctx is done.
func reportStateSize(ctx context.Context, states stateStore, every time.Duration, metrics *instrumentation.Metrics) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			metrics.RecordStateSize(states.Len())
		}
	}
}
