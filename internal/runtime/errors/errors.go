package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	// ErrClosed is returned by enqueue and dequeue operations once the owning
	// bus or queue has finished. Consumers should stop iterating when they see it.
	ErrClosed = sterrors.New("bulkbus: closed")

	ErrHandlerRequired = sterrors.New("bulkbus: handler function is required")
	ErrOwnerRequired   = sterrors.New("bulkbus: weak subscription owner is required")
	ErrLivenessMissing = sterrors.New("bulkbus: liveness check is required")
	ErrStoreRequired   = sterrors.New("bulkbus: store is required")
	ErrHibernating     = sterrors.New("bulkbus: queue is already hibernating")
	ErrUnknownCodec    = sterrors.New("bulkbus: unknown store codec")
	ErrInvalidPayload  = sterrors.New("bulkbus: payload must be a JSON object")
	ErrConfigRequired  = sterrors.New("bulkbus: configuration is required")
	ErrQueueRequired   = sterrors.New("bulkbus: queue is required")
	ErrBusRequired     = sterrors.New("bulkbus: bus is required")

	// ErrCallbackPanic matches any PanicError via errors.Is.
	ErrCallbackPanic = sterrors.New("bulkbus: callback panicked")

	// ErrStore matches any StoreError via errors.Is.
	ErrStore = sterrors.New("bulkbus: store failure")
)

// CallbackError records a subscriber or teardown callback that failed. It is
// logged and counted but never returned to the publisher.
type CallbackError struct {
	Topic          string
	SubscriptionID string
	Err            error
}

func (e *CallbackError) Error() string {
	if e.SubscriptionID == "" {
		return fmt.Sprintf("bulkbus: callback on %q failed: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("bulkbus: callback %s on %q failed: %v", e.SubscriptionID, e.Topic, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bulkbus: callback panicked: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrCallbackPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrCallbackPanic
}

// StoreError reports a failed read, write or close on a hibernation store.
// It indicates an environment problem and is always returned to the caller.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps err, returning nil when err is nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("bulkbus: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match StoreError with ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

func (e ConfigValidationError) Error() string {
	return "bulkbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
