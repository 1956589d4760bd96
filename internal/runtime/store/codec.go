// Package store persists the backlog of a hibernating queue as a sequential
// stream of encoded records.
package store

import (
	"fmt"
	"io"
	"strings"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
)

// Codec names.
const (
	CodecMsgpack = "msgpack"
	CodecJSON    = "json"
	CodecProto   = "proto"
)

// Encoder appends one record per call to the underlying writer.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads records back in order. Decode returns io.EOF once the stream
// is exhausted. Records shaped like an event pair come back as event.Event.
type Decoder interface {
	Decode() (any, error)
}

// Codec defines the record framing of a store.
type Codec interface {
	Name() string
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

// CodecByName returns the codec registered under name. An empty name selects
// msgpack.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", CodecMsgpack:
		return MsgpackCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	case CodecProto:
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("%w %q", errspkg.ErrUnknownCodec, name)
	}
}

// toRecord flattens events into their pair form for codecs that only know
// plain values.
func toRecord(v any) any {
	switch x := v.(type) {
	case event.Event:
		return x.Pair()
	case *event.Event:
		if x == nil {
			return nil
		}
		return x.Pair()
	case event.Attributes:
		return map[string]any(x)
	default:
		return v
	}
}

// fromRecord restores event pairs decoded as plain values.
func fromRecord(v any) any {
	if evt, ok := event.FromPair(v); ok {
		return evt
	}
	return v
}
