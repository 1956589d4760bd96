package runtime

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
	"github.com/drblury/bulkbus/internal/runtime/logging"
)

// BusDependencies holds optional collaborators of a Bus.
type BusDependencies struct {
	Metrics *Metrics
	Tracer  trace.Tracer
	// Clock drives WaitFinished timeouts. Defaults to the wall clock.
	Clock clock.Clock
}

// Bus pairs a Registry with a Lifecycle. Once finished, Publish and
// Dispatch report errors.ErrClosed instead of delivering.
type Bus struct {
	*Registry
	*Lifecycle
}

func NewBus(log logging.ServiceLogger, deps BusDependencies) *Bus {
	log = logging.OrNop(log)
	return &Bus{
		Registry:  NewRegistry(log, deps.Metrics, deps.Tracer),
		Lifecycle: NewLifecycle(log, deps.Metrics, deps.Clock),
	}
}

// Publish builds an event and dispatches it to the subscribers of topic.
func (b *Bus) Publish(ctx context.Context, topic string, attrs event.Attributes) ([]any, error) {
	return b.Dispatch(ctx, event.New(topic, attrs))
}

// Dispatch delivers a pre-built event.
func (b *Bus) Dispatch(ctx context.Context, evt event.Event) ([]any, error) {
	if b.IsFinished() {
		return nil, errspkg.ErrClosed
	}
	return b.Registry.Dispatch(ctx, evt), nil
}
