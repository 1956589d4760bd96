// Package event defines the immutable value dispatched on a bus and stored by
// hibernating queues.
package event

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/bulkbus/internal/runtime/jsoncodec"
)

// Attributes is the keyword payload of an event.
type Attributes map[string]any

// Event is a named set of attributes. The zero value is an event with an
// empty name and no attributes. Events are immutable: New deep copies the
// supplied map and accessors hand out deep copies of nested slices and maps,
// so subscribers sharing one event cannot observe each other's writes.
type Event struct {
	name  string
	attrs Attributes
}

// New builds an event from name and a copy of attrs.
func New(name string, attrs Attributes) Event {
	if attrs == nil {
		return Event{name: name}
	}
	return Event{name: name, attrs: cloneAttrs(attrs)}
}

func cloneAttrs(attrs map[string]any) Attributes {
	out := make(Attributes, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the slices and maps a decoded or user supplied value is
// built from. Other values are returned as is.
func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		if x == nil {
			return x
		}
		return map[string]any(cloneAttrs(x))
	case Attributes:
		if x == nil {
			return x
		}
		return cloneAttrs(x)
	default:
		return v
	}
}

func (e Event) Name() string {
	return e.name
}

// Attr returns a copy of the attribute stored under key.
func (e Event) Attr(key string) (any, bool) {
	v, ok := e.attrs[key]
	return cloneValue(v), ok
}

// Attrs returns a copy of the attribute map. It is never nil.
func (e Event) Attrs() Attributes {
	return cloneAttrs(e.attrs)
}

// Len reports the number of attributes.
func (e Event) Len() int {
	return len(e.attrs)
}

// Get returns the attribute under key converted to T.
func Get[T any](e Event, key string) (T, bool) {
	v, ok := cloneValue(e.attrs[key]).(T)
	return v, ok
}

// Pair returns the record form of the event: a two element slice holding the
// name and a plain map copy of the attributes.
func (e Event) Pair() []any {
	return []any{e.name, map[string]any(e.Attrs())}
}

// FromPair converts a decoded record back into an Event. It accepts any two
// element slice whose first element is a string and whose second is a string
// keyed map.
func FromPair(v any) (Event, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return Event{}, false
	}
	name, ok := pair[0].(string)
	if !ok {
		return Event{}, false
	}
	switch attrs := pair[1].(type) {
	case map[string]any:
		return New(name, attrs), true
	case Attributes:
		return New(name, attrs), true
	case nil:
		return New(name, nil), true
	default:
		return Event{}, false
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s%v", e.name, map[string]any(e.attrs))
}

// MarshalJSON encodes the event as ["name", {attrs}].
func (e Event) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(e.Pair())
}

var (
	_ msgpack.CustomEncoder = Event{}
	_ msgpack.CustomDecoder = (*Event)(nil)
)

// EncodeMsgpack writes the event as a two element array.
func (e Event) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(e.name); err != nil {
		return err
	}
	return enc.Encode(map[string]any(e.attrs))
}

// DecodeMsgpack reads the array written by EncodeMsgpack.
func (e *Event) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("event: expected 2 element array, got %d", n)
	}
	name, err := dec.DecodeString()
	if err != nil {
		return err
	}
	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return err
	}
	*e = Event{name: name, attrs: attrs}
	return nil
}
