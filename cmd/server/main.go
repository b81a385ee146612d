package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"feedhub/internal/config"
	"feedhub/internal/handlers"
	"feedhub/internal/instrumentation"
	"feedhub/internal/sink"
	"feedhub/internal/source"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	instance := uuid.NewString()[:8]

	logger.Info("feedhub_starting",
		"instance", instance,
		"pipe_mode", cfg.PipeMode,
		"convertor", cfg.Convertor,
		"formater", cfg.Formater,
		"sink", cfg.Sink,
		"workers", cfg.Workers,
		"queue_capacity", cfg.QueueCapacity,
	)

	if err := run(cfg, instance, logger); err != nil {
		logger.Error("feedhub_failed", "error", err)
		os.Exit(1)
	}

	logger.Info("feedhub_stopped")
}

func run(cfg *config.Config, instance string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := instrumentation.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("metrics_initialized")

	newSink, err := sink.NewFactory(cfg.Sink, sink.Options{
		Instance:      instance,
		DiskPath:      cfg.DiskSinkPath,
		Topic:         cfg.SinkTopic,
		SendTimeout:   cfg.SendTimeout,
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		RedisMaxLen:   cfg.RedisSinkMax,
		NATSURL:       cfg.NATSURL,
		KafkaBrokers:  cfg.KafkaBrokers,
		KafkaTopic:    cfg.KafkaTopic,
	}, logger)
	if err != nil {
		return err
	}

	// Workers stop on Stop, not on the signal, so the queue can drain.
	p, err := buildPipeline(context.WithoutCancel(ctx), cfg, newSink, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	logger.Info("pipeline_initialized")

	dispatcher := source.NewDispatcher(logger)
	dispatcher.Register(p.handler)

	src, err := source.NewRedis(source.RedisConfig{
		URL:       cfg.RedisURL,
		Password:  cfg.RedisPassword,
		StreamKey: cfg.SourceStreamKey,
		Group:     cfg.ConsumerGroup,
		Consumer:  fmt.Sprintf("feedhub-%s", instance),
	}, dispatcher, logger)
	if err != nil {
		p.stop(time.Second)
		return fmt.Errorf("failed to create source: %w", err)
	}
	defer src.Close()

	deps := handlers.Deps{
		Gatherer: prometheus.DefaultGatherer,
		Lookup:   p.lookup,
		Stats:    p.stats,
	}
	if p.states != nil {
		deps.StateKeys = p.states.Len
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AdminPort),
		Handler:      handlers.NewRouter(deps, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return src.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("admin_server_listening", "port", cfg.AdminPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_error", "error", err)
		}
		return nil
	})

	if p.states != nil {
		g.Go(func() error {
			return reportStateSize(gctx, p.states, 5*time.Second, metrics)
		})
		if cfg.StateIdleTTL > 0 {
			g.Go(func() error {
				return p.states.Sweep(gctx, cfg.StateSweep, cfg.StateIdleTTL, logger)
			})
		}
	}

	logger.Info("feedhub_running", "status", "healthy")

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown_signal_received")
	}

	if stopErr := p.stop(10 * time.Second); stopErr != nil && !errors.Is(stopErr, context.Canceled) {
		logger.Error("pipeline_stop_error", "error", stopErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
