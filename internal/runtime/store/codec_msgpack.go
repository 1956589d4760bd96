package store

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec writes back to back MessagePack values. Integers decode as
// int64 or uint64 at any depth.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) NewEncoder(w io.Writer) Encoder {
	return msgpackEncoder{enc: msgpack.NewEncoder(w)}
}

func (MsgpackCodec) NewDecoder(r io.Reader) Decoder {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	return msgpackDecoder{dec: dec}
}

type msgpackEncoder struct {
	enc *msgpack.Encoder
}

func (e msgpackEncoder) Encode(v any) error {
	return e.enc.Encode(v)
}

type msgpackDecoder struct {
	dec *msgpack.Decoder
}

func (d msgpackDecoder) Decode() (any, error) {
	v, err := d.dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	return fromRecord(v), nil
}
