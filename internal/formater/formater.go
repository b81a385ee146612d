// Package formater encodes output records into wire payloads.
package formater

import (
	"errors"
	"fmt"

	"feedhub/internal/models"
)

// ErrUnsupported is returned by New for an unknown encoding name.
var ErrUnsupported = errors.New("unsupported formater")

// Content type labels attached to every payload.
const (
	ContentJSON    = "json"
	ContentYAML    = "yaml"
	ContentTOML    = "toml"
	ContentMsgpack = "msgpack"
)

// Encoded is a formatted record, either text or binary.
type Encoded struct {
	text   string
	data   []byte
	binary bool
}

func Text(s string) Encoded   { return Encoded{text: s} }
func Binary(b []byte) Encoded { return Encoded{data: b, binary: true} }

// IsBinary reports whether the payload is a byte form.
func (e Encoded) IsBinary() bool { return e.binary }

// String returns the text form. Binary payloads render as hex.
func (e Encoded) String() string {
	if e.binary {
		return fmt.Sprintf("%x", e.data)
	}
	return e.text
}

// Bytes returns the payload bytes of either form.
func (e Encoded) Bytes() []byte {
	if e.binary {
		return e.data
	}
	return []byte(e.text)
}

// Len is the payload size in bytes.
func (e Encoded) Len() int {
	if e.binary {
		return len(e.data)
	}
	return len(e.text)
}

// FormatError wraps an encoding failure.
type FormatError struct {
	ContentType string
	Err         error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format %s: %v", e.ContentType, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Formater encodes records. Implementations are stateless and deterministic.
type Formater interface {
	Format(v any) (Encoded, error)
	ContentType() string
}

// Decoder reverses a Formater.
type Decoder interface {
	Decode(data []byte, v any) error
}

// New returns the formater registered under name.
func New(name string) (Formater, error) {
	switch name {
	case ContentJSON:
		return JSON{}, nil
	case ContentYAML:
		return YAML{}, nil
	case ContentTOML:
		return TOML{}, nil
	case ContentMsgpack:
		return NewMsgpack(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// plain unwraps models types that generic encoders cannot walk.
func plain(v any) any {
	switch x := v.(type) {
	case models.FieldMap:
		return x.Native()
	case models.Value:
		return x.Native()
	default:
		return v
	}
}
