package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
	"github.com/drblury/bulkbus/internal/runtime/jsoncodec"
	"github.com/drblury/bulkbus/internal/runtime/logging"
)

// UUIDAttribute carries the Watermill message UUID on bridged events.
const UUIDAttribute = "uuid"

// BusPublisher is a Watermill publisher that dispatches messages on a Bus.
// Each payload must be a JSON object; its fields become the event
// attributes.
type BusPublisher struct {
	bus    *Bus
	log    logging.ServiceLogger
	closed atomic.Bool
}

var _ message.Publisher = (*BusPublisher)(nil)

func NewBusPublisher(bus *Bus, log logging.ServiceLogger) (*BusPublisher, error) {
	if bus == nil {
		return nil, errspkg.ErrBusRequired
	}
	return &BusPublisher{bus: bus, log: logging.OrNop(log)}, nil
}

// Publish dispatches messages in order and stops at the first failure.
func (p *BusPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return errspkg.ErrClosed
	}
	for _, msg := range messages {
		evt, err := messageEvent(topic, msg)
		if err != nil {
			return err
		}
		if _, err := p.bus.Dispatch(msg.Context(), evt); err != nil {
			return err
		}
		p.log.Trace("Bridged message", logging.LogFields{"topic": topic, "message_uuid": msg.UUID})
	}
	return nil
}

// Close stops accepting messages. The bus itself is left running.
func (p *BusPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

func messageEvent(topic string, msg *message.Message) (event.Event, error) {
	attrs, ok, err := jsoncodec.UnmarshalObject(msg.Payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", errspkg.ErrInvalidPayload, err)
	}
	if !ok {
		return event.Event{}, errspkg.ErrInvalidPayload
	}
	if attrs == nil {
		attrs = make(map[string]any, 1)
	}
	attrs[UUIDAttribute] = msg.UUID
	return event.New(topic, attrs), nil
}

// ForwardToQueue subscribes to topic and puts every message into q as an
// event named after the topic. Messages are acked once stored and nacked when
// the queue cannot take them; payloads that are not JSON objects are logged
// and acked. It returns nil when ctx is done, the subscription ends or q
// closes, and the subscription error otherwise.
func ForwardToQueue(ctx context.Context, sub message.Subscriber, topic string, q *Queue) error {
	if q == nil {
		return errspkg.ErrQueueRequired
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	log := q.log.With(logging.LogFields{"topic": topic})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			evt, err := messageEvent(topic, msg)
			if err != nil {
				log.Error("Dropping message", err, logging.LogFields{"message_uuid": msg.UUID})
				msg.Ack()
				continue
			}
			if err := q.Put(evt); err != nil {
				msg.Nack()
				if errors.Is(err, errspkg.ErrClosed) {
					return nil
				}
				log.Error("Forwarding message failed", err, logging.LogFields{"message_uuid": msg.UUID})
				continue
			}
			msg.Ack()
		}
	}
}
