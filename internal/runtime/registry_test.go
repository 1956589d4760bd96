package runtime

import (
	"context"
	"errors"
	goruntime "runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
)

func add(_ context.Context, evt event.Event) (any, error) {
	x, _ := event.Get[int](evt, "x")
	y, _ := event.Get[int](evt, "y")
	return x + y, nil
}

func returning(v any) Handler {
	return func(context.Context, event.Event) (any, error) { return v, nil }
}

type weakOwner struct {
	name string
}

func TestPublishAdd(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, err := r.Subscribe("woot", add)
	require.NoError(t, err)

	got := r.Publish(context.Background(), "woot", event.Attributes{"x": 10, "y": 20})
	assert.Equal(t, []any{30}, got)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	got := r.Publish(context.Background(), "nobody", nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	r := NewRegistry(nil, nil, nil)

	_, err := r.Subscribe("woot", nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = r.SubscribeLive("woot", nil, func() bool { return true })
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = r.SubscribeLive("woot", returning(1), nil)
	assert.ErrorIs(t, err, errspkg.ErrLivenessMissing)

	_, err = SubscribeWeak[weakOwner](r, "woot", nil, func(context.Context, *weakOwner, event.Event) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, errspkg.ErrOwnerRequired)

	_, err = SubscribeWeak[weakOwner](r, "woot", &weakOwner{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestDispatchOrderAndNilResults(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	for _, v := range []any{"a", nil, "c"} {
		_, err := r.Subscribe("woot", returning(v))
		require.NoError(t, err)
	}
	_, err := r.Subscribe("other", returning("x"))
	require.NoError(t, err)

	got := r.Dispatch(context.Background(), event.New("woot", nil))
	assert.Equal(t, []any{"a", nil, "c"}, got)
}

func TestStrongBeforeWeak(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, err := r.SubscribeLive("woot", returning("weak"), func() bool { return true })
	require.NoError(t, err)
	_, err = r.Subscribe("woot", returning("strong"))
	require.NoError(t, err)

	assert.Equal(t, []any{"strong", "weak"}, r.Publish(context.Background(), "woot", nil))
}

func TestEmptyTopicIsValid(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, err := r.Subscribe("", returning("empty"))
	require.NoError(t, err)
	assert.Equal(t, []any{"empty"}, r.Publish(context.Background(), "", nil))
}

func TestFailingCallbackIsIsolated(t *testing.T) {
	log := newTestLogger()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("", reg)
	require.NoError(t, metrics.Register())

	r := NewRegistry(log, metrics, noop.NewTracerProvider().Tracer("test"))
	failing, err := r.Subscribe("woot", func(context.Context, event.Event) (any, error) { return nil, errBoom })
	require.NoError(t, err)
	_, err = r.Subscribe("woot", func(context.Context, event.Event) (any, error) { panic("kaboom") })
	require.NoError(t, err)
	_, err = r.Subscribe("woot", returning("B"))
	require.NoError(t, err)

	got := r.Publish(context.Background(), "woot", nil)
	assert.Equal(t, []any{"B"}, got)

	logged := log.errorsLogged()
	require.Len(t, logged, 2)

	var cbErr *errspkg.CallbackError
	require.ErrorAs(t, logged[0].err, &cbErr)
	assert.Equal(t, failing.ID, cbErr.SubscriptionID)
	assert.Equal(t, "woot", cbErr.Topic)
	assert.ErrorIs(t, logged[0].err, errBoom)

	assert.ErrorIs(t, logged[1].err, errspkg.ErrCallbackPanic)
	assert.NotEmpty(t, logged[1].fields["stack"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.callbackFailures.WithLabelValues("woot", FailureKindError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.callbackFailures.WithLabelValues("woot", FailureKindPanic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.published.WithLabelValues("woot")))
}

func TestWeakSubscriptionTracksOwner(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, err := r.Subscribe("woot", returning("A"))
	require.NoError(t, err)

	owner := &weakOwner{name: "B"}
	_, err = SubscribeWeak(r, "woot", owner, func(_ context.Context, o *weakOwner, _ event.Event) (any, error) {
		return o.name, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"A", "B"}, r.Publish(context.Background(), "woot", nil))
	assert.Equal(t, 2, r.Count("woot"))
	goruntime.KeepAlive(owner)
	owner = nil

	require.Eventually(t, func() bool {
		goruntime.GC()
		got := r.Publish(context.Background(), "woot", nil)
		return len(got) == 1 && got[0] == "A"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, r.Count("woot"), "dead weak entry is pruned")
}

func TestLiveSubscriptionPrunedWhenDead(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	alive := true
	sub, err := r.SubscribeLive("woot", returning("live"), func() bool { return alive })
	require.NoError(t, err)
	assert.True(t, sub.Weak)

	assert.Equal(t, []any{"live"}, r.Publish(context.Background(), "woot", nil))

	alive = false
	assert.Empty(t, r.Publish(context.Background(), "woot", nil))
	assert.Equal(t, 0, r.Count("woot"))
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	a, err := r.Subscribe("woot", returning("a"))
	require.NoError(t, err)
	_, err = r.Subscribe("woot", returning("b"))
	require.NoError(t, err)
	w, err := r.SubscribeLive("woot", returning("w"), func() bool { return true })
	require.NoError(t, err)

	assert.True(t, r.Unsubscribe(a))
	assert.False(t, r.Unsubscribe(a))
	assert.True(t, r.Unsubscribe(w))
	assert.False(t, r.Unsubscribe(w))

	assert.Equal(t, []any{"b"}, r.Publish(context.Background(), "woot", nil))
}

func TestCallbacksMayReenter(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, err := r.Subscribe("outer", func(ctx context.Context, evt event.Event) (any, error) {
		if _, err := r.Subscribe("inner", returning("late")); err != nil {
			return nil, err
		}
		return r.Publish(ctx, "inner", nil), nil
	})
	require.NoError(t, err)

	done := make(chan []any)
	go func() { done <- r.Publish(context.Background(), "outer", nil) }()

	select {
	case got := <-done:
		assert.Equal(t, []any{[]any{"late"}}, got)
	case <-time.After(time.Second):
		t.Fatal("re-entrant publish deadlocked")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Subscribe("woot", returning(i))
		}()
		go func() {
			defer wg.Done()
			_ = r.Publish(context.Background(), "woot", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, r.Count("woot"))
	assert.Len(t, r.Publish(context.Background(), "woot", nil), 10)
}

func TestHandlerReceivesContext(t *testing.T) {
	type key struct{}
	r := NewRegistry(nil, nil, nil)
	_, err := r.Subscribe("woot", func(ctx context.Context, _ event.Event) (any, error) {
		v, ok := ctx.Value(key{}).(string)
		if !ok {
			return nil, errors.New("missing value")
		}
		return v, nil
	})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key{}, "carried")
	assert.Equal(t, []any{"carried"}, r.Publish(ctx, "woot", nil))
}
