package store

import (
	"bufio"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoCodec writes length delimited google.protobuf.Value messages. Only
// values representable by structpb are accepted; numbers decode as float64.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return CodecProto }

func (ProtoCodec) NewEncoder(w io.Writer) Encoder {
	return protoEncoder{w: w}
}

func (ProtoCodec) NewDecoder(r io.Reader) Decoder {
	return protoDecoder{r: bufio.NewReader(r)}
}

type protoEncoder struct {
	w io.Writer
}

func (e protoEncoder) Encode(v any) error {
	msg, err := structpb.NewValue(toRecord(v))
	if err != nil {
		return err
	}
	_, err = protodelim.MarshalTo(e.w, msg)
	return err
}

type protoDecoder struct {
	r *bufio.Reader
}

func (d protoDecoder) Decode() (any, error) {
	var msg structpb.Value
	if err := protodelim.UnmarshalFrom(d.r, &msg); err != nil {
		return nil, err
	}
	return fromRecord(msg.AsInterface()), nil
}
