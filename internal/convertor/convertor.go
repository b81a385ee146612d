// Package convertor turns upstream events into output records.
package convertor

import (
	"log/slog"
	"strconv"

	"feedhub/internal/models"
	"feedhub/internal/reader"
	"feedhub/internal/state"
)

// Convertor maps one event to zero or one record. Implementations are safe
// for concurrent use.
type Convertor[R any] interface {
	Convert(ev models.Event) (R, bool)
}

// Key is the per-instrument state key "<source>.<symbol>".
func Key(source int32, symbol string) string {
	return strconv.FormatInt(int64(source), 10) + "." + symbol
}

// Stateless materializes every event into a FieldMap with no memory between
// calls.
type Stateless struct {
	cfg reader.SerConfig
}

func NewStateless(cfg reader.SerConfig) *Stateless {
	return &Stateless{cfg: cfg}
}

func (c *Stateless) Convert(ev models.Event) (models.FieldMap, bool) {
	return reader.New(ev, c.cfg).ToMap(), true
}

// StatefulMap unions each event's fields into the stored map for its key and
// returns a copy of the merged result. It always emits.
type StatefulMap struct {
	cfg    reader.SerConfig
	states *state.Map[models.FieldMap]
	logger *slog.Logger
}

func NewStatefulMap(cfg reader.SerConfig, logger *slog.Logger) *StatefulMap {
	return &StatefulMap{
		cfg:    cfg,
		states: state.New[models.FieldMap](0),
		logger: logger.With("component", "stateful_map_convertor"),
	}
}

func (c *StatefulMap) Convert(ev models.Event) (models.FieldMap, bool) {
	delta := reader.New(ev, c.cfg).ToMap()
	key := Key(ev.Source(), ev.Symbol())

	for {
		entry, inserted := c.states.GetOrInsertWith(key, func() models.FieldMap { return delta.Clone() })
		if inserted {
			c.logger.Debug("state_created", "key", key, "fields", len(delta))
			return delta, true
		}

		var merged models.FieldMap
		if entry.Update(func(m *models.FieldMap) {
			m.Merge(delta)
			merged = m.Clone()
		}) {
			return merged, true
		}
		// Evicted before the merge; start the key over.
	}
}

// State returns a copy of the merged map for an instrument.
func (c *StatefulMap) State(source int32, symbol string) (models.FieldMap, bool) {
	e, ok := c.states.Get(Key(source, symbol))
	if !ok {
		return nil, false
	}
	var out models.FieldMap
	e.View(func(m models.FieldMap) { out = m.Clone() })
	return out, true
}

// States exposes the underlying store.
func (c *StatefulMap) States() *state.Map[models.FieldMap] {
	return c.states
}
