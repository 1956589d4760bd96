package bulkbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishThroughFacade(t *testing.T) {
	bus := NewBus(nil, BusDependencies{})
	if _, err := bus.Subscribe("woot", func(_ context.Context, evt Event) (any, error) {
		x, _ := GetAttr[int](evt, "x")
		y, _ := GetAttr[int](evt, "y")
		return x + y, nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got, err := bus.Publish(context.Background(), "woot", Attributes{"x": 10, "y": 20})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != 30 {
		t.Fatalf("expected [30], got %v", got)
	}
}

func TestWeakExports(t *testing.T) {
	type owner struct{ name string }
	o := &owner{name: "weak"}

	bus := NewBus(nil, BusDependencies{})
	if _, err := SubscribeWeak(bus.Registry, "woot", o, func(_ context.Context, o *owner, _ Event) (any, error) {
		return o.name, nil
	}); err != nil {
		t.Fatalf("subscribe weak: %v", err)
	}
	if err := OnFinishWeak(bus.Lifecycle, o, func(*owner) error { return nil }); err != nil {
		t.Fatalf("on finish weak: %v", err)
	}

	got, _ := bus.Publish(context.Background(), "woot", nil)
	if len(got) != 1 || got[0] != "weak" {
		t.Fatalf("expected weak result, got %v", got)
	}
}

func TestQueueExportsReportClosure(t *testing.T) {
	q := NewQueue(nil, NewNopServiceLogger(), QueueDependencies{})
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !errors.Is(q.Put("x"), ErrClosed) {
		t.Fatal("expected ErrClosed from Put after Close")
	}
	if _, err := q.Get(context.Background(), time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Get, got %v", err)
	}
	if q.State() != StateFinished {
		t.Fatalf("expected finished state, got %v", q.State())
	}
}

func TestCodecExports(t *testing.T) {
	codec, err := CodecByName(CodecJSON)
	if err != nil || codec.Name() != CodecJSON {
		t.Fatalf("unexpected codec %v (%v)", codec, err)
	}
	if _, err := CodecByName("xml"); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestSpliceExports(t *testing.T) {
	legacy := NewEvent("splice", Attributes{"act": "node:add", "form": "inet:ipv4"})
	converted, ok := ConvertLegacySplice(legacy)
	if !ok {
		t.Fatal("expected legacy splice to convert")
	}
	if _, ok := converted.Attr("mesg"); !ok {
		t.Fatal("converted splice lacks mesg")
	}
	if NewSplice("node:add", nil).Name() != "splice" {
		t.Fatal("unexpected splice name")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	data, err := Marshal(payload)
	if err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if err := Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
	if NewID() == "" {
		t.Fatal("expected an id")
	}
}
