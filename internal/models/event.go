package models

// EventKind is the upstream message type.
type EventKind uint8

const (
	EventImagePart EventKind = iota
	EventImageComplete
	EventRefresh
	EventUpdate
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventImagePart:
		return "IMAGE_PART"
	case EventImageComplete:
		return "IMAGE_COMPLETE"
	case EventRefresh:
		return "REFRESH"
	case EventUpdate:
		return "UPDATE"
	case EventStatus:
		return "STATUS"
	default:
		return "UNKNOWN"
	}
}

// ParseEventKind maps a wire name to an EventKind.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "IMAGE_PART":
		return EventImagePart, true
	case "IMAGE_COMPLETE":
		return EventImageComplete, true
	case "REFRESH":
		return EventRefresh, true
	case "UPDATE":
		return EventUpdate, true
	case "STATUS":
		return EventStatus, true
	default:
		return 0, false
	}
}

// Field is one (token id, token name, value) entry of an event delta.
type Field struct {
	ID    int32  `json:"id"`
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Cursor is the forward-only field reader of one upstream event.
//
// Next advances to the following field. Find resets to the start and seeks
// the first field with the given token id; afterwards Next continues from
// the found position.
type Cursor interface {
	Next() bool
	Find(id int32) bool
	TokenID() int32
	TokenName() string
	Value() Value
}

// Event is an upstream market-data message. Each call to Cursor returns a
// fresh cursor positioned before the first field.
type Event interface {
	Source() int32
	Symbol() string
	Kind() EventKind
	Cursor() Cursor
}

// Message is an in-memory Event.
type Message struct {
	Src    int32
	Sym    string
	Type   EventKind
	Fields []Field
}

var _ Event = (*Message)(nil)

func (m *Message) Source() int32   { return m.Src }
func (m *Message) Symbol() string  { return m.Sym }
func (m *Message) Kind() EventKind { return m.Type }

func (m *Message) Cursor() Cursor {
	return &sliceCursor{fields: m.Fields, pos: -1}
}

type sliceCursor struct {
	fields []Field
	pos    int
}

func (c *sliceCursor) Next() bool {
	if c.pos+1 >= len(c.fields) {
		c.pos = len(c.fields)
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Find(id int32) bool {
	for i := range c.fields {
		if c.fields[i].ID == id {
			c.pos = i
			return true
		}
	}
	c.pos = -1
	return false
}

func (c *sliceCursor) current() (Field, bool) {
	if c.pos < 0 || c.pos >= len(c.fields) {
		return Field{}, false
	}
	return c.fields[c.pos], true
}

func (c *sliceCursor) TokenID() int32 {
	f, _ := c.current()
	return f.ID
}

func (c *sliceCursor) TokenName() string {
	f, _ := c.current()
	return f.Name
}

func (c *sliceCursor) Value() Value {
	f, _ := c.current()
	return f.Value
}
