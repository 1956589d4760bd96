// Package bulkbus is an in-process event bus with a cooperative shutdown
// protocol, plus a bulk queue that can spill its backlog to disk.
//
// A Bus maps topic names to callbacks. Publish builds an Event and hands it to
// every subscriber of the topic, strong ones in registration order and weak
// ones afterwards, and returns the results of the callbacks that succeeded. A
// callback that returns an error or panics is logged and counted but never
// stops the others. Weak subscriptions (SubscribeWeak, SubscribeLive) vanish
// on their own once their owner is garbage collected or reports itself dead.
//
// Every Bus has a one-way lifecycle: Finish runs the registered teardowns
// exactly once and releases everyone blocked in WaitFinished. After that the
// bus reports ErrClosed.
//
// # Queues
//
// A Queue is a Bus that buffers items and hands out the whole backlog per Get:
//
//	q := bulkbus.NewQueue(nil, logger, bulkbus.QueueDependencies{Name: "jobs"})
//	_ = q.Extend([]any{"a", "b"})
//	items, err := q.Get(ctx, time.Second)
//
// Get returns an empty batch on timeout, ErrClosed once the queue has finished
// and been drained, and a *StoreError for persistence failures. Items wraps Get
// in an iterator that ends quietly on closure.
//
// Hibernate moves the backlog into a Store and sends every later write there;
// the next Get reloads it all. A Hibernator does this automatically for queues
// nobody has read from within Config.AbandonAfter. Stores encode records with
// msgpack (default), newline delimited JSON or length delimited protobuf.
//
// # Watermill
//
// BusPublisher lets any Watermill component publish onto a bus, and
// ForwardToQueue drains a Watermill subscription into a queue.
//
// # Splices
//
// NewSplice builds ("splice", {"mesg": [act, info]}) events. ConvertSpliceFile
// rewrites a store file written with the older flat splice shape in place.
package bulkbus
