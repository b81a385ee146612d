// Package handlers serves the admin HTTP surface: health, metrics, queue
// stats and per-instrument state.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedhub/internal/metrics"
	"feedhub/internal/models"
	"feedhub/internal/pipe"
)

// StateLookup returns the merged state of one instrument.
type StateLookup func(source int32, symbol string) (any, bool)

// StatsFunc reports queue statistics. It is nil in synchronous mode.
type StatsFunc func() pipe.Stats

// Deps are the collaborators the admin router reads from.
type Deps struct {
	Gatherer  prometheus.Gatherer
	Lookup    StateLookup
	Stats     StatsFunc
	StateKeys func() int
	Timeout   time.Duration
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StateResponse is the body of GET /state/{source}/{symbol}.
type StateResponse struct {
	Source int32                  `json:"source"`
	Symbol string                 `json:"symbol"`
	State  any                    `json:"state"`
	Spread *metrics.SpreadMetrics `json:"spread,omitempty"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Mode      string      `json:"mode"`
	Queue     *pipe.Stats `json:"queue,omitempty"`
	StateKeys int         `json:"state_keys"`
}

// NewRouter builds the admin router.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	logger = logger.With("component", "admin")
	if deps.Timeout <= 0 {
		deps.Timeout = 2 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(deps.Timeout, logger))

	r.Get("/health", HealthCheckHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/stats", statsHandler(deps))
	r.Get("/state/{source}/{symbol}", stateHandler(deps.Lookup, logger))
	return r
}

func statsHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatsResponse{Mode: "sync"}
		if deps.Stats != nil {
			s := deps.Stats()
			resp.Mode = "queue"
			resp.Queue = &s
		}
		if deps.StateKeys != nil {
			resp.StateKeys = deps.StateKeys()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func stateHandler(lookup StateLookup, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lookup == nil {
			sendError(w, http.StatusNotImplemented, "stateless", "Convertor keeps no state")
			return
		}

		src, err := strconv.ParseInt(chi.URLParam(r, "source"), 10, 32)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid_parameter", "source must be an integer")
			return
		}
		symbol := chi.URLParam(r, "symbol")

		st, ok := lookup(int32(src), symbol)
		if !ok {
			logger.Debug("symbol_not_tracked", "source", src, "symbol", symbol)
			sendError(w, http.StatusNotFound, "symbol_not_tracked", "No state for this instrument")
			return
		}

		resp := StateResponse{Source: int32(src), Symbol: symbol, State: st}
		if bs, ok := st.(models.BasicState); ok {
			if spread, err := metrics.CalculateSpread(bs.BidPrice, bs.BidVolume, bs.AskPrice, bs.AskVolume); err == nil {
				resp.Spread = spread
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends a JSON error response.
func sendError(w http.ResponseWriter, statusCode int, errorCode string, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}
