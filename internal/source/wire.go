package source

import (
	"encoding/json"
	"fmt"
	"strconv"

	"feedhub/internal/models"
)

// WireEvent is the JSON form of an upstream event on the replay stream.
//
//	{"kind":"UPDATE","source":533,"symbol":"NVDA",
//	 "fields":[{"id":10,"name":"ASK","type":"double","value":450.1}]}
type WireEvent struct {
	Kind   string      `json:"kind"`
	Source int32       `json:"source"`
	Symbol string      `json:"symbol"`
	Fields []WireField `json:"fields"`
}

// WireField carries an optional type so integers and timestamps survive
// JSON. Without it the type is inferred from the literal.
type WireField struct {
	ID    int32           `json:"id"`
	Name  string          `json:"name,omitempty"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value"`
}

// DecodeEvent parses a wire event.
func DecodeEvent(data []byte) (*models.Message, error) {
	var w WireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	kind, ok := models.ParseEventKind(w.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", w.Kind)
	}
	if w.Symbol == "" {
		return nil, fmt.Errorf("event missing symbol")
	}

	msg := &models.Message{
		Src:    w.Source,
		Sym:    w.Symbol,
		Type:   kind,
		Fields: make([]models.Field, 0, len(w.Fields)),
	}
	for _, f := range w.Fields {
		v, err := decodeValue(f)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", f.ID, err)
		}
		msg.Fields = append(msg.Fields, models.Field{ID: f.ID, Name: f.Name, Value: v})
	}
	return msg, nil
}

func decodeValue(f WireField) (models.Value, error) {
	var v models.Value
	if len(f.Value) == 0 {
		return v, nil
	}
	if err := v.UnmarshalJSON(f.Value); err != nil {
		return v, err
	}

	switch models.ParseValueKind(f.Type) {
	case models.KindDouble:
		return models.DoubleValue(v.Float64()), nil
	case models.KindTimestamp:
		return models.TimestampValue(v.Float64()), nil
	case models.KindInt:
		if v.Kind() == models.KindString {
			i, err := strconv.ParseInt(v.Str(), 10, 64)
			if err != nil {
				return v, fmt.Errorf("int value %q: %w", v.Str(), err)
			}
			return models.IntValue(i), nil
		}
		return models.IntValue(v.Int64()), nil
	case models.KindString:
		if v.Kind() != models.KindString {
			return models.StringValue(string(f.Value)), nil
		}
		return v, nil
	default:
		return v, nil
	}
}

// EncodeEvent writes the wire form of an event, tagging every field with its
// value type.
func EncodeEvent(ev models.Event) ([]byte, error) {
	w := WireEvent{
		Kind:   ev.Kind().String(),
		Source: ev.Source(),
		Symbol: ev.Symbol(),
	}
	c := ev.Cursor()
	for c.Next() {
		v := c.Value()
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", c.TokenID(), err)
		}
		w.Fields = append(w.Fields, WireField{
			ID:    c.TokenID(),
			Name:  c.TokenName(),
			Type:  v.Kind().String(),
			Value: raw,
		})
	}
	return json.Marshal(w)
}
