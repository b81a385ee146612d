// Package sink delivers formatted records to their destinations.
package sink

import (
	"context"
	"errors"
	"fmt"

	"feedhub/internal/formater"
)

// ErrNotConnected is returned by Exec after Close.
var ErrNotConnected = errors.New("sink not connected")

// Sink formats a record and delivers it. A Sink is owned by a single worker;
// implementations need not be safe for concurrent Exec calls.
//
// Format failures come back as *formater.FormatError so callers can tell
// them apart from delivery failures.
type Sink interface {
	Exec(ctx context.Context, record any, f formater.Formater) error
	Close() error
}

// Factory builds a sink for the worker with the given identity. An empty id
// builds the default instance.
type Factory func(id string) (Sink, error)

// Destination is implemented by records that carry their own route.
type Destination interface {
	Dest() string
}

// DestOf returns the record's route, or fallback when it has none.
func DestOf(record any, fallback string) string {
	if d, ok := record.(Destination); ok && d.Dest() != "" {
		return d.Dest()
	}
	return fallback
}

// ClientName builds a broker client name unique per process and worker.
func ClientName(prefix, instance, id string) string {
	if id == "" {
		return fmt.Sprintf("%s-%s", prefix, instance)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, instance, id)
}
