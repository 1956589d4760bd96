// Package jsoncodec centralises JSON handling on bytedance/sonic in its
// encoding/json compatible mode.
package jsoncodec

import (
	"bytes"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// MarshalLine encodes v followed by a newline, the framing used by
// newline-delimited record streams.
func MarshalLine(v any) ([]byte, error) {
	b, err := defaultConfig.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// UnmarshalObject decodes data into a string-keyed map. It returns ok=false
// when data is valid JSON but not an object. Empty input decodes to nil.
func UnmarshalObject(data []byte) (obj map[string]any, ok bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, true, nil
	}
	if trimmed[0] != '{' {
		var v any
		if err := defaultConfig.Unmarshal(trimmed, &v); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err := defaultConfig.Unmarshal(trimmed, &obj); err != nil {
		return nil, false, err
	}
	return obj, true, nil
}
