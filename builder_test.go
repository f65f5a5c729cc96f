package xbridge_test

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xbridge"
	"github.com/trickstertwo/xbridge/adapter/memory"
)

func TestBuild_Errors(t *testing.T) {
	_, err := xbridge.NewBridgeBuilder().
		WithTransportInstance(memory.NewHub().Attach()).
		Build()
	assert.ErrorIs(t, err, xbridge.ErrNoIdentity)

	_, err = xbridge.NewBridgeBuilder().WithIdentity("a").Build()
	assert.ErrorIs(t, err, xbridge.ErrNoTransportConfigured)

	_, err = xbridge.NewBridgeBuilder().WithIdentity("a").WithTransport("carrier-pigeon", nil).Build()
	var unknown xbridge.ErrUnknownTransport
	require.True(t, errors.As(err, &unknown))
	assert.Contains(t, err.Error(), "carrier-pigeon")

	_, err = xbridge.NewBridgeBuilder().
		WithIdentity("a").
		WithTransportInstance(memory.NewHub().Attach()).
		WithCodec("morse").
		Build()
	assert.Error(t, err)
}

func TestBuild_WithConfig(t *testing.T) {
	ctx := context.Background()
	cfg := xbridge.Config{
		Participant:     "checkout",
		Transport:       memory.TransportName,
		Channel:         "builder-test-config",
		RequestTimeout:  2 * time.Second,
		ObserverWorkers: 1,
		ObserverBuffer:  16,
	}

	checkout, err := xbridge.NewBridgeBuilder().WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = checkout.Close(ctx) })
	assert.Equal(t, "checkout", checkout.Identity())
	assert.False(t, checkout.Debug())

	// An explicit identity set before WithConfig is kept.
	cfg.Debug = true
	cart, err := xbridge.NewBridgeBuilder().WithIdentity("cart").WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cart.Close(ctx) })
	assert.Equal(t, "cart", cart.Identity())
	assert.True(t, cart.Debug())

	// Both ride the same shared channel.
	var rec recorder
	_, err = cart.On("order-placed", rec.handle)
	require.NoError(t, err)
	require.NoError(t, checkout.Emit(ctx, "order-placed", "o-1"))
	assert.Equal(t, 1, rec.count())
}

func TestNew_ReturnsCloseFunc(t *testing.T) {
	hub := memory.NewHub()
	br, closeFn, err := xbridge.New(func(b *xbridge.BridgeBuilder) {
		b.WithIdentity("shell").
			WithTransportInstance(hub.Attach()).
			WithRequestTimeout(time.Second).
			WithIDGenerator(sequentialIDs("id")).
			WithMiddleware(xbridge.TimeoutMiddleware(time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(), "response matcher subscribed")

	call := br.Go(context.Background(), "nobody", nil, xbridge.WithTimeout(time.Minute))
	assert.Equal(t, "id-1", call.ID)
	assert.Equal(t, "id-2", call.TraceID)

	require.NoError(t, closeFn())
	assert.ErrorIs(t, call.Err, xbridge.ErrBridgeClosed)
	assert.Zero(t, hub.Subscribers())

	_, _, err = xbridge.New(nil)
	assert.ErrorIs(t, err, xbridge.ErrNoIdentity)
}

func sequentialIDs(prefix string) xbridge.IDGenerator {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

func TestBuild_WithConfigKeepsExplicitDebug(t *testing.T) {
	cfg := xbridge.Config{
		Participant:    "shell",
		Transport:      memory.TransportName,
		Channel:        "builder-test-debug",
		RequestTimeout: time.Second,
	}

	br, err := xbridge.NewBridgeBuilder().WithDebug(true).WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = br.Close(context.Background()) })
	assert.True(t, br.Debug())
}
