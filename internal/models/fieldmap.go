package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Synthetic display keys prepended by the event reader.
const (
	KeyEventType = "(0)EventType"
	KeySource    = "(1)Source"
	KeySymbol    = "(2)Symbol"
)

// DisplayKey renders the "(token_id)token_name" key of a field.
func DisplayKey(id int32, name string) string {
	return "(" + strconv.FormatInt(int64(id), 10) + ")" + name
}

// FieldMap maps display keys to values. Iteration order is defined by Keys.
type FieldMap map[string]Value

// Keys returns the keys ordered by their numeric token id, then by name.
// Keys without a "(id)" prefix sort last.
func (m FieldMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ii, iok := keyID(keys[i])
		ji, jok := keyID(keys[j])
		if iok != jok {
			return iok
		}
		if ii != ji {
			return ii < ji
		}
		return keys[i] < keys[j]
	})
	return keys
}

func keyID(k string) (int64, bool) {
	if !strings.HasPrefix(k, "(") {
		return 0, false
	}
	end := strings.IndexByte(k, ')')
	if end < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(k[1:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Merge overwrites m's entries with every entry of delta.
func (m FieldMap) Merge(delta FieldMap) {
	for k, v := range delta {
		m[k] = v
	}
}

// Clone returns a shallow copy.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Native converts the map into plain Go values for encoders that do not
// know about Value.
func (m FieldMap) Native() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Native()
	}
	return out
}

// MarshalJSON writes the object in Keys order.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := m[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
