package runtime

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/bulkbus/internal/runtime/config"
	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
	"github.com/drblury/bulkbus/internal/runtime/ids"
	"github.com/drblury/bulkbus/internal/runtime/logging"
	"github.com/drblury/bulkbus/internal/runtime/store"
)

// Topics published on a queue's own bus.
const (
	TopicQueueHibernate = "queue:hibernate"
	TopicQueueReload    = "queue:reload"
)

// QueueDependencies holds optional collaborators of a Queue.
type QueueDependencies struct {
	// Name labels log lines and metrics. Defaults to a generated id.
	Name string
	// Store, when set, starts the queue hibernating on it, e.g. to resume a
	// queue spilled by an earlier process.
	Store   store.Store
	Metrics *Metrics
	Clock   clock.Clock
	Tracer  trace.Tracer
}

// Queue is a thread-safe queue handing out its whole backlog per Get. It can
// hibernate, moving its backlog and all later writes to a Store, and reloads
// everything on the next Get.
//
// Queue embeds a Bus: Finish (or Close) closes it, releases the store and
// wakes blocked readers. It publishes TopicQueueHibernate and
// TopicQueueReload events carrying the number of items moved.
type Queue struct {
	*Bus

	name    string
	conf    config.Config
	log     logging.ServiceLogger
	metrics *Metrics
	clock   clock.Clock

	mu      sync.Mutex
	backlog []any
	store   store.Store
	closed  bool
	wake    chan struct{}

	lastActivity atomic.Int64
}

// NewQueue creates a queue. A nil conf uses defaults.
func NewQueue(conf *config.Config, log logging.ServiceLogger, deps QueueDependencies) *Queue {
	cfg := conf.WithDefaults()
	if deps.Name == "" {
		deps.Name = ids.WithPrefix("queue")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	log = logging.OrNop(log).With(logging.LogFields{"queue": deps.Name})

	q := &Queue{
		Bus:     NewBus(log, BusDependencies{Metrics: deps.Metrics, Tracer: deps.Tracer, Clock: deps.Clock}),
		name:    deps.Name,
		conf:    cfg,
		log:     log,
		metrics: deps.Metrics,
		clock:   deps.Clock,
		store:   deps.Store,
		wake:    make(chan struct{}),
	}
	q.touch()
	_ = q.OnFinish(q.teardown)
	return q
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) touch() {
	q.lastActivity.Store(q.clock.Now().UnixNano())
}

// signalLocked wakes every goroutine waiting on the current wake channel.
func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) closedLocked() bool {
	return q.closed || q.IsFinished()
}

func (q *Queue) teardown() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.signalLocked()
	if q.store == nil {
		return nil
	}
	err := q.store.Close()
	q.store = nil
	return storeError("close", err)
}

// storeError wraps a failure of a Store so it matches errors.ErrStore,
// whichever Store implementation produced it.
func storeError(op string, err error) error {
	if err == nil || errors.Is(err, errspkg.ErrStore) {
		return err
	}
	return errspkg.NewStoreError(op, err)
}

// Put appends item. While hibernating it is written to the store instead.
func (q *Queue) Put(item any) error {
	return q.Extend([]any{item})
}

// Extend appends items in order and wakes readers once.
func (q *Queue) Extend(items []any) error {
	q.mu.Lock()
	if q.closedLocked() {
		q.mu.Unlock()
		return errspkg.ErrClosed
	}

	if q.store != nil {
		for i, item := range items {
			if err := q.store.Append(item); err != nil {
				q.signalLocked()
				q.mu.Unlock()
				q.metrics.RecordEnqueued(q.name, i)
				return storeError("append", err)
			}
		}
		q.signalLocked()
		q.mu.Unlock()
		q.metrics.RecordEnqueued(q.name, len(items))
		return nil
	}

	q.backlog = append(q.backlog, items...)
	size := len(q.backlog)
	q.signalLocked()
	q.mu.Unlock()

	q.metrics.RecordEnqueued(q.name, len(items))
	q.metrics.SetBacklog(q.name, size)
	return nil
}

// Prepend inserts item at the front of the backlog. This copies the backlog.
// While hibernating the item is appended to the store like Put.
func (q *Queue) Prepend(item any) error {
	q.mu.Lock()
	if q.closedLocked() {
		q.mu.Unlock()
		return errspkg.ErrClosed
	}

	if q.store != nil {
		err := q.store.Append(item)
		q.signalLocked()
		q.mu.Unlock()
		if err != nil {
			return storeError("append", err)
		}
		q.metrics.RecordEnqueued(q.name, 1)
		return nil
	}

	q.backlog = slices.Insert(q.backlog, 0, item)
	size := len(q.backlog)
	q.signalLocked()
	q.mu.Unlock()

	q.metrics.RecordEnqueued(q.name, 1)
	q.metrics.SetBacklog(q.name, size)
	return nil
}

// Hibernate writes the buffered items to st in order and redirects all
// later writes to it. On a write failure the queue stays in memory and the
// caller keeps ownership of st.
func (q *Queue) Hibernate(st store.Store) error {
	if st == nil {
		return errspkg.ErrStoreRequired
	}

	q.mu.Lock()
	if q.closedLocked() {
		q.mu.Unlock()
		return errspkg.ErrClosed
	}
	if q.store != nil {
		q.mu.Unlock()
		return errspkg.ErrHibernating
	}
	for _, item := range q.backlog {
		if err := st.Append(item); err != nil {
			q.mu.Unlock()
			return storeError("append", err)
		}
	}
	count := len(q.backlog)
	q.store = st
	q.backlog = nil
	q.mu.Unlock()

	q.metrics.RecordHibernation(q.name)
	q.metrics.SetBacklog(q.name, 0)
	q.log.Info("Queue hibernated", logging.LogFields{"count": count})
	q.announce(TopicQueueHibernate, count)
	return nil
}

// reloadLocked reads the store back into the backlog and leaves
// hibernation. It returns -1 when the queue was not hibernating. On a read
// failure the queue keeps hibernating.
func (q *Queue) reloadLocked() (int, error) {
	if q.store == nil {
		return -1, nil
	}
	items, err := q.store.ReadAll()
	if err != nil {
		return -1, storeError("read", err)
	}
	if cerr := q.store.Close(); cerr != nil {
		q.log.Error("Closing store after reload failed", cerr, nil)
	}
	q.store = nil
	q.backlog = append(items, q.backlog...)
	return len(items), nil
}

func (q *Queue) takeLocked() []any {
	items := q.backlog
	q.backlog = nil
	return items
}

// announce publishes a queue lifecycle event. It must not be called with
// q.mu held.
func (q *Queue) announce(topic string, count int) {
	if count < 0 {
		return
	}
	if _, err := q.Bus.Publish(context.Background(), topic, event.Attributes{"count": count}); err != nil && !errors.Is(err, errspkg.ErrClosed) {
		q.log.Error("Publishing queue event failed", err, logging.LogFields{"topic": topic})
	}
}

func (q *Queue) reloaded(count int) {
	if count < 0 {
		return
	}
	q.metrics.RecordReload(q.name)
	q.log.Info("Queue reloaded", logging.LogFields{"count": count})
	q.announce(TopicQueueReload, count)
}

// Get returns and removes the whole backlog, reloading it first if the
// queue is hibernating. When the backlog is empty it waits up to timeout
// (forever if timeout <= 0) for items to arrive. It returns an empty slice
// and no error on timeout, errors.ErrClosed once the queue is finished and
// drained, ctx.Err() on cancellation, and a *errors.StoreError when the
// store cannot be read.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) ([]any, error) {
	q.touch()

	q.mu.Lock()
	count, err := q.reloadLocked()
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	if len(q.backlog) > 0 {
		items := q.takeLocked()
		q.mu.Unlock()
		q.reloaded(count)
		q.dequeued(items)
		return items, nil
	}
	if q.closedLocked() {
		q.mu.Unlock()
		q.reloaded(count)
		return nil, errspkg.ErrClosed
	}
	wake := q.wake
	q.mu.Unlock()
	q.reloaded(count)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := q.clock.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-wake:
	case <-expired:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	q.touch()
	q.mu.Lock()
	count, err = q.reloadLocked()
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	if len(q.backlog) == 0 && q.closedLocked() {
		q.mu.Unlock()
		q.reloaded(count)
		return nil, errspkg.ErrClosed
	}
	items := q.takeLocked()
	q.mu.Unlock()
	q.reloaded(count)

	if items == nil {
		items = []any{}
	}
	q.dequeued(items)
	return items, nil
}

func (q *Queue) dequeued(items []any) {
	q.metrics.RecordDequeued(q.name, len(items))
	q.metrics.SetBacklog(q.name, 0)
}

// Peek returns a copy of the in-memory backlog. It is empty while
// hibernating.
func (q *Queue) Peek() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.backlog)
}

// Size returns the number of buffered items. It is zero while hibernating.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *Queue) IsHibernating() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store != nil
}

// Abandoned reports whether no Get has been issued within d.
func (q *Queue) Abandoned(d time.Duration) bool {
	last := time.Unix(0, q.lastActivity.Load())
	return q.clock.Now().After(last.Add(d))
}

// Items returns a sequence of single items built on repeated Get calls with
// the configured poll interval. It ends without an error when the queue
// closes or ctx is cancelled, and yields a store error once before ending.
// When the consumer stops early the rest of the current batch goes back to
// the front of the queue.
func (q *Queue) Items(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			items, err := q.Get(ctx, q.conf.PollInterval)
			if err != nil {
				if errors.Is(err, errspkg.ErrClosed) || ctx.Err() != nil {
					return
				}
				yield(nil, err)
				return
			}
			for i, item := range items {
				if !yield(item, nil) {
					q.requeue(items[i+1:])
					return
				}
			}
		}
	}
}

// requeue puts items back at the front of the backlog, or at the end of the
// store while hibernating. Items are dropped once the queue is closed.
func (q *Queue) requeue(items []any) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closedLocked() {
		q.log.Debug("Dropping unconsumed items of closed queue", logging.LogFields{"count": len(items)})
		return
	}
	if q.store != nil {
		for _, item := range items {
			if err := q.store.Append(item); err != nil {
				q.log.Error("Requeue to store failed", err, logging.LogFields{"count": len(items)})
				return
			}
		}
		return
	}
	q.backlog = append(slices.Clone(items), q.backlog...)
	q.signalLocked()
}

// Close finishes the queue.
func (q *Queue) Close() error {
	q.Finish()
	return nil
}
