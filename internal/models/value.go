package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	KindUnknown ValueKind = iota
	KindString
	KindDouble
	KindInt
	KindTimestamp
)

// String returns the variant name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindDouble:
		return "double"
	case KindInt:
		return "int"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// ParseValueKind maps a variant name back to its kind. Unrecognized names
// resolve to KindUnknown.
func ParseValueKind(s string) ValueKind {
	switch s {
	case "string":
		return KindString
	case "double":
		return KindDouble
	case "int":
		return KindInt
	case "timestamp", "datetime":
		return KindTimestamp
	default:
		return KindUnknown
	}
}

// Value is an immutable field value decoded from an upstream event.
//
// Accessors never fail: a variant that does not match the requested type
// yields the zero value of that type. Numeric variants convert between each
// other (Int <-> Double/Timestamp); strings never parse into numbers.
//
// The JSON form is untagged, so a Timestamp decodes back as a Double with the
// same number. Use the tagged wire form in package source when the kind must
// survive a round trip.
type Value struct {
	kind ValueKind
	s    string
	f    float64
	i    int64
}

func StringValue(s string) Value     { return Value{kind: KindString, s: s} }
func DoubleValue(f float64) Value    { return Value{kind: KindDouble, f: f} }
func IntValue(i int64) Value         { return Value{kind: KindInt, i: i} }
func TimestampValue(f float64) Value { return Value{kind: KindTimestamp, f: f} }
func UnknownValue() Value            { return Value{} }

// Kind reports the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// Float64 returns the value as a float64.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindDouble, KindTimestamp:
		return v.f
	case KindInt:
		return float64(v.i)
	default:
		return 0
	}
}

// Int64 returns the value as an int64. Fractions are truncated; NaN and
// out-of-range floats yield 0.
func (v Value) Int64() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindDouble, KindTimestamp:
		if math.IsNaN(v.f) || v.f >= math.MaxInt64 || v.f <= math.MinInt64 {
			return 0
		}
		return int64(v.f)
	default:
		return 0
	}
}

// Str returns the string payload, or "" for non-string variants.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

// Native returns the payload as a plain Go value (string, float64, int64 or nil).
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindDouble, KindTimestamp:
		return v.f
	case KindInt:
		return v.i
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	case KindDouble, KindTimestamp:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	default:
		return "<unknown>"
	}
}

// MarshalJSON encodes the payload untagged. Doubles and timestamps always
// carry a decimal point so they decode back as doubles.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindDouble, KindTimestamp:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("value %v is not representable in json", v.f)
		}
		b := strconv.AppendFloat(nil, v.f, 'f', -1, 64)
		if !bytes.ContainsAny(b, ".eE") {
			b = append(b, '.', '0')
		}
		return b, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes an untagged payload. Numbers without a fraction or
// exponent become Int, other numbers Double.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = UnknownValue()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	if !bytes.ContainsAny(data, ".eE") {
		if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*v = IntValue(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("decode value %s: %w", data, err)
	}
	*v = DoubleValue(f)
	return nil
}
