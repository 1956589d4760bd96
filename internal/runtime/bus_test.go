package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/event"
)

func TestBusPublish(t *testing.T) {
	bus := NewBus(nil, BusDependencies{})
	_, err := bus.Subscribe("woot", add)
	require.NoError(t, err)

	got, err := bus.Publish(context.Background(), "woot", event.Attributes{"x": 10, "y": 20})
	require.NoError(t, err)
	assert.Equal(t, []any{30}, got)
}

func TestBusClosedAfterFinish(t *testing.T) {
	bus := NewBus(newTestLogger(), BusDependencies{})
	_, err := bus.Subscribe("woot", add)
	require.NoError(t, err)

	fini := false
	require.NoError(t, bus.OnFinish(func() error { fini = true; return nil }))

	assert.True(t, bus.Finish())
	assert.True(t, fini)

	_, err = bus.Publish(context.Background(), "woot", nil)
	assert.ErrorIs(t, err, errspkg.ErrClosed)
	_, err = bus.Dispatch(context.Background(), event.New("woot", nil))
	assert.ErrorIs(t, err, errspkg.ErrClosed)
}
