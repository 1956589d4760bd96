package store

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/drblury/bulkbus/internal/runtime/jsoncodec"
)

// JSONCodec writes newline delimited JSON. Numbers decode as float64.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) NewEncoder(w io.Writer) Encoder {
	return jsonEncoder{w: w}
}

func (JSONCodec) NewDecoder(r io.Reader) Decoder {
	return &jsonDecoder{r: bufio.NewReader(r)}
}

type jsonEncoder struct {
	w io.Writer
}

func (e jsonEncoder) Encode(v any) error {
	line, err := jsoncodec.MarshalLine(toRecord(v))
	if err != nil {
		return err
	}
	_, err = e.w.Write(line)
	return err
}

type jsonDecoder struct {
	r *bufio.Reader
}

func (d *jsonDecoder) Decode() (any, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, io.EOF
			}
			continue
		}
		var v any
		if uerr := jsoncodec.Unmarshal(line, &v); uerr != nil {
			return nil, uerr
		}
		return fromRecord(v), nil
	}
}
