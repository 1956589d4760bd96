package runtime

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/benbjohnson/clock"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/ids"
	"github.com/drblury/bulkbus/internal/runtime/logging"
)

// LifecycleState is the one-way state of a Lifecycle.
type LifecycleState int32

const (
	StateActive LifecycleState = iota
	StateFinished
)

func (s LifecycleState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

type teardown struct {
	id   string
	call func() error
}

// Lifecycle tracks the irreversible Active to Finished transition and runs
// teardown callbacks exactly once.
type Lifecycle struct {
	state atomic.Int32

	mu     sync.Mutex
	strong []teardown
	weak   map[string]teardown

	done  chan struct{}
	clock clock.Clock

	log     logging.ServiceLogger
	metrics *Metrics
}

// NewLifecycle creates an active lifecycle. A nil clk uses the wall clock.
func NewLifecycle(log logging.ServiceLogger, metrics *Metrics, clk clock.Clock) *Lifecycle {
	if clk == nil {
		clk = clock.New()
	}
	return &Lifecycle{
		weak:    make(map[string]teardown),
		done:    make(chan struct{}),
		clock:   clk,
		log:     logging.OrNop(log),
		metrics: metrics,
	}
}

// OnFinish registers fn to run when the lifecycle finishes. Teardowns run in
// registration order. If the lifecycle has already finished, fn runs
// immediately in the calling goroutine.
func (l *Lifecycle) OnFinish(fn func() error) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	l.add(teardown{id: ids.New(), call: fn}, false)
	return nil
}

// OnFinishLive registers a weak teardown that is skipped once alive reports
// false.
func (l *Lifecycle) OnFinishLive(fn func() error, alive func() bool) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	if alive == nil {
		return errspkg.ErrLivenessMissing
	}
	l.add(teardown{id: ids.New(), call: func() error {
		if !alive() {
			return nil
		}
		return fn()
	}}, true)
	return nil
}

// OnFinishWeak registers fn without keeping owner reachable. fn must not
// capture owner.
func OnFinishWeak[T any](l *Lifecycle, owner *T, fn func(owner *T) error) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	if owner == nil {
		return errspkg.ErrOwnerRequired
	}
	wp := weak.Make(owner)
	l.add(teardown{id: ids.New(), call: func() error {
		o := wp.Value()
		if o == nil {
			return nil
		}
		return fn(o)
	}}, true)
	return nil
}

func (l *Lifecycle) add(td teardown, isWeak bool) {
	l.mu.Lock()
	if l.IsFinished() {
		l.mu.Unlock()
		l.run(td)
		return
	}
	if isWeak {
		l.weak[td.id] = td
	} else {
		l.strong = append(l.strong, td)
	}
	l.mu.Unlock()
}

// Finish moves the lifecycle to StateFinished, runs strong teardowns in
// order and then weak ones, and finally releases every waiter. Only the
// first call does anything; it returns true, later calls return false.
func (l *Lifecycle) Finish() bool {
	if !l.state.CompareAndSwap(int32(StateActive), int32(StateFinished)) {
		return false
	}

	l.mu.Lock()
	strong := l.strong
	weakTds := slices.Collect(maps.Values(l.weak))
	l.strong = nil
	l.weak = nil
	l.mu.Unlock()

	for _, td := range strong {
		l.run(td)
	}
	for _, td := range weakTds {
		l.run(td)
	}

	close(l.done)
	l.log.Debug("Lifecycle finished", logging.LogFields{"teardowns": len(strong) + len(weakTds)})
	return true
}

func (l *Lifecycle) run(td teardown) {
	err := safeCall(td.call)
	if err == nil {
		return
	}
	l.metrics.RecordTeardownFailure()
	fields := logging.LogFields{"teardown_id": td.id}
	var pe *errspkg.PanicError
	if errors.As(err, &pe) {
		fields["stack"] = string(pe.Stack)
	}
	l.log.Error("Teardown callback failed", &errspkg.CallbackError{Topic: "finish", SubscriptionID: td.id, Err: err}, fields)
}

// WaitFinished blocks until the lifecycle has finished and its teardowns have
// run, or timeout elapses. A timeout of zero or less waits forever. It
// reports whether the finished state was observed.
func (l *Lifecycle) WaitFinished(timeout time.Duration) bool {
	if timeout <= 0 {
		<-l.done
		return true
	}
	timer := l.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}

// Wait is WaitFinished bounded by ctx.
func (l *Lifecycle) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Finish has completed.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *Lifecycle) State() LifecycleState {
	return LifecycleState(l.state.Load())
}

// IsFinished reports whether Finish has been called. It turns true before the
// teardowns have completed.
func (l *Lifecycle) IsFinished() bool {
	return l.State() == StateFinished
}
