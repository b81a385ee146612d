// Package reader wraps an upstream event's field cursor with iteration,
// seek and materialization helpers.
package reader

import (
	"iter"

	"feedhub/internal/models"
)

// SerConfig controls which synthetic keys ToMap prepends.
type SerConfig struct {
	WithEventKind bool
	WithSource    bool
}

func (c SerConfig) EventKind(on bool) SerConfig {
	c.WithEventKind = on
	return c
}

func (c SerConfig) Source(on bool) SerConfig {
	c.WithSource = on
	return c
}

// Reader reads the fields of one event. It shares a single cursor between
// Next, Find, Fields and ToMap, so each call moves the position seen by the
// others. Acquire a new Reader to start over.
type Reader struct {
	ev     models.Event
	cursor models.Cursor
	cfg    SerConfig
}

// New returns a reader positioned before the first field of ev.
func New(ev models.Event, cfg SerConfig) *Reader {
	return &Reader{ev: ev, cursor: ev.Cursor(), cfg: cfg}
}

// Next advances and returns the following field.
func (r *Reader) Next() (models.Field, bool) {
	if !r.cursor.Next() {
		return models.Field{}, false
	}
	return r.current(), true
}

// Find seeks to the first field with token id and returns its value.
func (r *Reader) Find(id int32) (models.Value, bool) {
	if !r.cursor.Find(id) {
		return models.Value{}, false
	}
	return r.cursor.Value(), true
}

// FindOr is Find with a fallback for absent fields.
func (r *Reader) FindOr(id int32, def models.Value) models.Value {
	if v, ok := r.Find(id); ok {
		return v
	}
	return def
}

// Fields yields the remaining fields from the current position.
func (r *Reader) Fields() iter.Seq[models.Field] {
	return func(yield func(models.Field) bool) {
		for r.cursor.Next() {
			if !yield(r.current()) {
				return
			}
		}
	}
}

// ToMap drains the remaining fields into a FieldMap keyed by
// "(token_id)token_name". The symbol is always included; event kind and
// source id follow the SerConfig.
func (r *Reader) ToMap() models.FieldMap {
	m := make(models.FieldMap)
	if r.cfg.WithEventKind {
		m[models.KeyEventType] = models.StringValue(r.ev.Kind().String())
	}
	if r.cfg.WithSource {
		m[models.KeySource] = models.IntValue(int64(r.ev.Source()))
	}
	m[models.KeySymbol] = models.StringValue(r.ev.Symbol())

	for f := range r.Fields() {
		m[models.DisplayKey(f.ID, f.Name)] = f.Value
	}
	return m
}

func (r *Reader) current() models.Field {
	return models.Field{
		ID:    r.cursor.TokenID(),
		Name:  r.cursor.TokenName(),
		Value: r.cursor.Value(),
	}
}
