package formater

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

// Msgpack writes MessagePack. Map keys are sorted so output is stable.
type Msgpack struct {
	h *codec.MsgpackHandle
}

func NewMsgpack() *Msgpack {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	h.RawToString = true
	h.WriteExt = true
	h.SignedInteger = true
	h.Canonical = true
	return &Msgpack{h: h}
}

func (m *Msgpack) ContentType() string { return ContentMsgpack }

func (m *Msgpack) Format(v any) (Encoded, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, m.h).Encode(plain(v)); err != nil {
		return Encoded{}, &FormatError{ContentType: ContentMsgpack, Err: err}
	}
	return Binary(b), nil
}

func (m *Msgpack) Decode(data []byte, v any) error {
	return codec.NewDecoderBytes(data, m.h).Decode(v)
}
