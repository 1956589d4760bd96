// Package splice builds splice events and migrates store files written in
// the legacy flat splice shape.
package splice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
	"github.com/drblury/bulkbus/internal/runtime/store"
)

// Name is the event name shared by every splice.
const Name = "splice"

// New forms a splice event carrying (act, info) under the "mesg" attribute.
//
//	splice.New("node:add", event.Attributes{"form": "inet:ipv4", "valu": 0})
func New(act string, info event.Attributes) event.Event {
	return event.New(Name, event.Attributes{
		"mesg": []any{act, map[string]any(orEmpty(info))},
	})
}

func orEmpty(info event.Attributes) event.Attributes {
	if info == nil {
		return event.Attributes{}
	}
	return info
}

// ConvertLegacy rewrites a legacy splice, which kept "act" among its top
// level attributes, into the current shape. It reports false when evt is not
// a splice, already carries a non-empty "mesg", or has no non-empty string
// "act". Every attribute except "act" becomes part of the splice info.
func ConvertLegacy(evt event.Event) (event.Event, bool) {
	if evt.Name() != Name {
		return evt, false
	}
	if mesg, _ := evt.Attr("mesg"); !isEmpty(mesg) {
		return evt, false
	}
	act, _ := event.Get[string](evt, "act")
	if act == "" {
		return evt, false
	}

	rest := evt.Attrs()
	delete(rest, "act")
	return New(act, rest), true
}

// isEmpty reports whether v is nil, false, zero, or an empty string,
// slice or map.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case event.Attributes:
		return len(x) == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	case uint64:
		return x == 0
	case float64:
		return x == 0
	default:
		return false
	}
}

// ConvertFile migrates the store file at path in place. Every record is
// decoded with codec, legacy splices are converted and all records are
// written in order to a temporary file in the same directory, which then
// replaces path. It returns the number of converted records.
func ConvertFile(path string, codec store.Codec) (converted int, err error) {
	if codec == nil {
		codec = store.MsgpackCodec{}
	}

	src, err := os.Open(path)
	if err != nil {
		return 0, errspkg.NewStoreError("open", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, errspkg.NewStoreError("stat", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".splice-*")
	if err != nil {
		return 0, errspkg.NewStoreError("create", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	dec := codec.NewDecoder(src)
	enc := codec.NewEncoder(tmp)
	for {
		rec, derr := dec.Decode()
		if errors.Is(derr, io.EOF) {
			break
		}
		if derr != nil {
			return 0, errspkg.NewStoreError("read", derr)
		}
		if evt, ok := rec.(event.Event); ok {
			if next, changed := ConvertLegacy(evt); changed {
				rec = next
				converted++
			}
		}
		if eerr := enc.Encode(rec); eerr != nil {
			return 0, errspkg.NewStoreError("write", eerr)
		}
	}

	if err = tmp.Chmod(info.Mode().Perm()); err != nil {
		return 0, errspkg.NewStoreError("chmod", err)
	}
	if err = tmp.Sync(); err != nil {
		return 0, errspkg.NewStoreError("sync", err)
	}
	if err = tmp.Close(); err != nil {
		return 0, errspkg.NewStoreError("close", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, errspkg.NewStoreError("rename", err)
	}
	return converted, nil
}

// ConvertFileNamed is ConvertFile with the codec looked up by name.
func ConvertFileNamed(path, codecName string) (int, error) {
	codec, err := store.CodecByName(codecName)
	if err != nil {
		return 0, fmt.Errorf("splice: %w", err)
	}
	return ConvertFile(path, codec)
}
