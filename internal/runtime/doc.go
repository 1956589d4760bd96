/*
Package runtime implements the bus, lifecycle and queue behind bulkbus.

# Package Structure

## Dispatch (registry.go)

Registry holds strong subscribers per topic in registration order and weak
subscribers in a set. Dispatch snapshots the subscribers under a read lock and
invokes them without it, so callbacks may re-enter the registry. Failures are
wrapped in errors.CallbackError, logged, counted and traced on the
"bulkbus.dispatch" span.

## Lifecycle (lifecycle.go, bus.go)

Lifecycle guards the Active to Finished transition with a compare-and-swap
and closes a channel once teardowns have run. Bus pairs a Registry with a
Lifecycle.

## Queue (queue.go, hibernator.go)

Queue guards its backlog, store and closed flag with one mutex. Waiters block
on a channel that every write closes and replaces, which cannot miss a wakeup.
Hibernator sweeps abandoned queues into temporary stores.

## Integration (bridge.go, metrics.go)

BusPublisher and ForwardToQueue connect Watermill publishers and subscribers.
Metrics exposes Prometheus counters and gauges.

# Sub-packages

  - config/: Config, defaults and viper loading
  - errors/: sentinel errors and error types
  - event/: the immutable Event value
  - ids/: ULID generation
  - jsoncodec/: JSON helpers on sonic
  - logging/: ServiceLogger and Watermill adapters
  - splice/: splice events and legacy file migration
  - store/: record codecs and file stores
*/
package runtime
