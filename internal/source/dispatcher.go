// Package source feeds upstream events to the pipeline.
package source

import (
	"context"
	"log/slog"
	"sync"

	"feedhub/internal/models"
	"feedhub/internal/reader"
)

// Handler receives upstream events. OnEvent runs on the delivering goroutine
// and must return quickly.
type Handler interface {
	OnEvent(ev models.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev models.Event)

func (f HandlerFunc) OnEvent(ev models.Event) { f(ev) }

// Dispatcher fans each event out to its registered handlers. Until the first
// Register it holds a single default handler that logs events; the first
// Register replaces that default and later ones append.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  []Handler
	defaulted bool
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	logger = logger.With("component", "dispatcher")
	return &Dispatcher{
		handlers:  []Handler{LogHandler(logger)},
		defaulted: true,
		logger:    logger,
	}
}

// Register adds h.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Copy on write; OnEvent iterates a snapshot without the lock.
	var next []Handler
	if !d.defaulted {
		next = append(next, d.handlers...)
	}
	d.handlers = append(next, h)
	d.defaulted = false
	d.logger.Info("handler_registered", "handlers", len(d.handlers))
}

// Defaulted reports whether only the logging default is installed.
func (d *Dispatcher) Defaulted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaulted
}

// Len is the number of installed handlers, the default included.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func (d *Dispatcher) OnEvent(ev models.Event) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for _, h := range handlers {
		h.OnEvent(ev)
	}
}

// LogHandler logs every event's fields at debug level.
func LogHandler(logger *slog.Logger) Handler {
	cfg := reader.SerConfig{}.EventKind(true).Source(true)
	return HandlerFunc(func(ev models.Event) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		logger.Debug("event_received",
			"source", ev.Source(),
			"symbol", ev.Symbol(),
			"fields", reader.New(ev, cfg).ToMap(),
		)
	})
}
