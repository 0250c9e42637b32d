package invoke

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/mise/errors"
)

func menuTarget() Target {
	return Target{
		Type:       "menu",
		Key:        "store-7",
		Method:     "publish",
		Parameters: map[string]string{"channel": "web"},
	}
}

func TestRegistryRoutesByTypeAndMethod(t *testing.T) {
	reg := NewRegistry(nil)

	var got Target
	reg.Register("menu", "publish", func(_ context.Context, target Target) error {
		got = target
		return nil
	})
	reg.Register("menu", "archive", func(context.Context, Target) error {
		return errors.New("wrong route")
	})

	require.NoError(t, reg.Invoke(context.Background(), menuTarget()))
	assert.Equal(t, "store-7", got.Key)
	assert.Equal(t, "web", got.Parameters["channel"])

	assert.True(t, reg.Has("menu", "publish"))
	assert.False(t, reg.Has("menu", "delete"))
	assert.Equal(t, []string{"menu.archive", "menu.publish"}, reg.Routes())
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry(nil)
	h := func(context.Context, Target) error { return nil }
	reg.Register("menu", "publish", h)

	assert.Panics(t, func() { reg.Register("menu", "publish", h) })
}

func TestRegistryMissingHandler(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.Invoke(context.Background(), menuTarget())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered for menu.publish")
}

func TestRegistryFallback(t *testing.T) {
	var called bool
	reg := NewRegistry(func(context.Context, Target) error {
		called = true
		return nil
	})

	require.NoError(t, reg.Invoke(context.Background(), menuTarget()))
	assert.True(t, called)
}

func TestRegistryRejectsIncompleteTarget(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.Invoke(context.Background(), Target{Type: "menu"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRegistryRecoversHandlerPanic(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("menu", "publish", func(context.Context, Target) error {
		panic("menu store offline")
	})

	err := reg.Invoke(context.Background(), menuTarget())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "menu store offline")
}

func TestStubHandlerLogsTarget(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	stub := StubHandler(time.Millisecond, zap.New(core).Sugar())

	require.NoError(t, stub(context.Background(), menuTarget()))

	entries := logs.FilterMessage("Invoked target").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "menu/store-7.publish", entries[0].ContextMap()["target"])
}

func TestStubHandlerHonorsCancellation(t *testing.T) {
	stub := StubHandler(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := stub(ctx, menuTarget())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvokerFunc(t *testing.T) {
	var inv Invoker = InvokerFunc(func(context.Context, Target) error { return nil })
	assert.NoError(t, inv.Invoke(context.Background(), menuTarget()))
}
