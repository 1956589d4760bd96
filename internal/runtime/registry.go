package runtime

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"sync"
	"weak"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
	"github.com/drblury/bulkbus/internal/runtime/ids"
	"github.com/drblury/bulkbus/internal/runtime/logging"
)

const tracerName = "github.com/drblury/bulkbus"

// Handler receives an event and returns a result for the publisher. A
// returned error (or a panic) marks the callback as failed; the failure is
// logged and the handler contributes no result.
type Handler func(ctx context.Context, evt event.Event) (any, error)

// Subscription identifies a registered callback.
type Subscription struct {
	ID    string
	Topic string
	Weak  bool
}

// subscriber wraps a callback. call reports live=false when a weakly held
// callback is gone; the entry is then skipped and pruned.
type subscriber struct {
	sub  Subscription
	call func(ctx context.Context, evt event.Event) (result any, live bool, err error)
}

// Registry maps topics to subscribers and fans events out to them. Strong
// subscribers run in registration order, weak subscribers afterwards in no
// particular order. Callbacks run without the registry lock held, so they may
// subscribe, unsubscribe or publish.
type Registry struct {
	mu     sync.RWMutex
	strong map[string][]*subscriber
	weak   map[string]map[string]*subscriber

	log     logging.ServiceLogger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewRegistry creates an empty registry. Nil dependencies fall back to a
// discarding logger, no metrics and the global tracer provider.
func NewRegistry(log logging.ServiceLogger, metrics *Metrics, tracer trace.Tracer) *Registry {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Registry{
		strong:  make(map[string][]*subscriber),
		weak:    make(map[string]map[string]*subscriber),
		log:     logging.OrNop(log),
		metrics: metrics,
		tracer:  tracer,
	}
}

// Subscribe registers a strongly held handler for topic.
func (r *Registry) Subscribe(topic string, h Handler) (Subscription, error) {
	if h == nil {
		return Subscription{}, errspkg.ErrHandlerRequired
	}
	s := &subscriber{
		sub: Subscription{ID: ids.New(), Topic: topic},
		call: func(ctx context.Context, evt event.Event) (any, bool, error) {
			res, err := h(ctx, evt)
			return res, true, err
		},
	}

	r.mu.Lock()
	r.strong[topic] = append(r.strong[topic], s)
	r.mu.Unlock()

	r.log.Debug("Subscribed", logging.LogFields{"topic": topic, "subscription_id": s.sub.ID})
	return s.sub, nil
}

// SubscribeLive registers a weak handler whose lifetime is decided by alive.
// Once alive reports false the handler is never invoked again.
func (r *Registry) SubscribeLive(topic string, h Handler, alive func() bool) (Subscription, error) {
	if h == nil {
		return Subscription{}, errspkg.ErrHandlerRequired
	}
	if alive == nil {
		return Subscription{}, errspkg.ErrLivenessMissing
	}
	return r.addWeak(topic, func(ctx context.Context, evt event.Event) (any, bool, error) {
		if !alive() {
			return nil, false, nil
		}
		res, err := h(ctx, evt)
		return res, true, err
	}), nil
}

// SubscribeWeak registers fn for topic without keeping owner reachable. When
// owner is garbage collected the subscription silently disappears. fn must
// not capture owner itself; it receives a strong pointer for the duration of
// each call.
func SubscribeWeak[T any](r *Registry, topic string, owner *T, fn func(ctx context.Context, owner *T, evt event.Event) (any, error)) (Subscription, error) {
	if fn == nil {
		return Subscription{}, errspkg.ErrHandlerRequired
	}
	if owner == nil {
		return Subscription{}, errspkg.ErrOwnerRequired
	}
	wp := weak.Make(owner)
	return r.addWeak(topic, func(ctx context.Context, evt event.Event) (any, bool, error) {
		o := wp.Value()
		if o == nil {
			return nil, false, nil
		}
		res, err := fn(ctx, o, evt)
		return res, true, err
	}), nil
}

func (r *Registry) addWeak(topic string, call func(context.Context, event.Event) (any, bool, error)) Subscription {
	s := &subscriber{
		sub:  Subscription{ID: ids.New(), Topic: topic, Weak: true},
		call: call,
	}

	r.mu.Lock()
	set, ok := r.weak[topic]
	if !ok {
		set = make(map[string]*subscriber)
		r.weak[topic] = set
	}
	set[s.sub.ID] = s
	r.mu.Unlock()

	r.log.Debug("Subscribed weakly", logging.LogFields{"topic": topic, "subscription_id": s.sub.ID})
	return s.sub
}

// Unsubscribe removes sub. It reports whether the subscription was present.
func (r *Registry) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.Weak {
		set := r.weak[sub.Topic]
		if _, ok := set[sub.ID]; !ok {
			return false
		}
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(r.weak, sub.Topic)
		}
		return true
	}

	list := r.strong[sub.Topic]
	idx := slices.IndexFunc(list, func(s *subscriber) bool { return s.sub.ID == sub.ID })
	if idx < 0 {
		return false
	}
	// Copy so snapshots taken by in-flight dispatches stay intact.
	next := slices.Delete(slices.Clone(list), idx, idx+1)
	if len(next) == 0 {
		delete(r.strong, sub.Topic)
	} else {
		r.strong[sub.Topic] = next
	}
	return true
}

// Count returns the number of subscribers registered for topic. Weak
// subscribers whose owner is already gone but not yet pruned are included.
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strong[topic]) + len(r.weak[topic])
}

// Publish builds an event from topic and attrs and dispatches it.
func (r *Registry) Publish(ctx context.Context, topic string, attrs event.Attributes) []any {
	return r.Dispatch(ctx, event.New(topic, attrs))
}

// Dispatch delivers evt to every subscriber of evt.Name() and returns the
// results of the callbacks that succeeded, in dispatch order.
func (r *Registry) Dispatch(ctx context.Context, evt event.Event) []any {
	if ctx == nil {
		ctx = context.Background()
	}
	topic := evt.Name()

	ctx, span := r.tracer.Start(ctx, "bulkbus.dispatch", trace.WithAttributes(
		attribute.String("bulkbus.topic", topic),
	))
	defer span.End()

	subs := r.snapshot(topic)
	r.metrics.RecordPublished(topic)

	results := make([]any, 0, len(subs))
	var dead []Subscription
	failed := 0
	for _, s := range subs {
		res, live, err := invokeSubscriber(ctx, s, evt)
		if !live {
			dead = append(dead, s.sub)
			continue
		}
		if err != nil {
			failed++
			r.callbackFailed(span, s.sub, err)
			continue
		}
		results = append(results, res)
	}

	for _, sub := range dead {
		r.Unsubscribe(sub)
	}

	span.SetAttributes(
		attribute.Int("bulkbus.delivered", len(results)),
		attribute.Int("bulkbus.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "callback failures")
	}
	return results
}

func (r *Registry) snapshot(topic string) []*subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strong := r.strong[topic]
	weakSet := r.weak[topic]
	subs := make([]*subscriber, 0, len(strong)+len(weakSet))
	subs = append(subs, strong...)
	for _, s := range weakSet {
		subs = append(subs, s)
	}
	return subs
}

func (r *Registry) callbackFailed(span trace.Span, sub Subscription, err error) {
	kind := FailureKindError
	fields := logging.LogFields{"topic": sub.Topic, "subscription_id": sub.ID}

	var pe *errspkg.PanicError
	if errors.As(err, &pe) {
		kind = FailureKindPanic
		fields["stack"] = string(pe.Stack)
	}

	cbErr := &errspkg.CallbackError{Topic: sub.Topic, SubscriptionID: sub.ID, Err: err}
	span.RecordError(cbErr)
	r.metrics.RecordCallbackFailure(sub.Topic, kind)
	r.log.Error("Subscriber callback failed", cbErr, fields)
}

func invokeSubscriber(ctx context.Context, s *subscriber, evt event.Event) (res any, live bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, live, err = nil, true, &errspkg.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return s.call(ctx, evt)
}

// safeCall runs fn, converting a panic into a *errors.PanicError.
func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &errspkg.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return fn()
}
