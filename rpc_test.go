package xbridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xbridge"
	"github.com/trickstertwo/xbridge/adapter/memory"
)

type userQuery struct {
	ID int `json:"id"`
}

type userRecord struct {
	Name string `json:"name"`
}

func TestRequest_Success(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	shell := newParticipant(t, hub, "shell")
	profile := newParticipant(t, hub, "profile")

	_, err := xbridge.RegisterAs(profile, "get-user", func(_ context.Context, q userQuery, env xbridge.Envelope) (userRecord, error) {
		assert.Equal(t, 1, q.ID)
		assert.Equal(t, "shell", env.Meta.Source)
		return userRecord{Name: "Ada"}, nil
	})
	require.NoError(t, err)

	u, err := xbridge.RequestAs[userRecord](ctx, shell, "get-user", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	m := shell.GetMetrics()
	assert.Equal(t, uint64(1), m.Requests)
	assert.Equal(t, uint64(1), m.Resolved)
	assert.Zero(t, m.Pending)
	require.Eventually(t, func() bool { return profile.GetMetrics().Responded == 1 }, time.Second, 5*time.Millisecond)
}

func TestRequest_RemoteError(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	_, err := b.Register("get-user", func(context.Context, any, xbridge.Envelope) (any, error) {
		return nil, errors.New("user not found")
	})
	require.NoError(t, err)

	_, err = a.Request(ctx, "get-user", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, xbridge.ErrRemote)

	var remote *xbridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "user not found", remote.Message)
	assert.Equal(t, "get-user", remote.Type)
	assert.Equal(t, uint64(1), a.GetMetrics().Rejected)
}

func TestRequest_HandlerPanicBecomesFailureResponse(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	_, err := b.Register("explode", func(context.Context, any, xbridge.Envelope) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	_, err = a.Request(ctx, "explode", nil)
	var remote *xbridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "kaboom")
}

func TestRequest_Timeout(t *testing.T) {
	ctx := context.Background()
	a := newParticipant(t, memory.NewHub(), "a")

	start := time.Now()
	_, err := a.Request(ctx, "slow-op", nil, xbridge.WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	assert.ErrorIs(t, err, xbridge.ErrTimeout)
	assert.Equal(t, "RPC timeout: slow-op", err.Error())
	var te *xbridge.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.After)

	m := a.GetMetrics()
	assert.Equal(t, uint64(1), m.TimedOut)
	assert.Zero(t, m.Pending)
	assert.Equal(t, "degraded", a.Health(ctx).Status)
}

func TestRequest_LateResponseIgnored(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	_, err := b.Register("slow-op", func(hctx context.Context, _ any, _ xbridge.Envelope) (any, error) {
		select {
		case <-time.After(150 * time.Millisecond):
		case <-hctx.Done():
		}
		return "too late", nil
	})
	require.NoError(t, err)

	_, err = a.Request(ctx, "slow-op", nil, xbridge.WithTimeout(50*time.Millisecond))
	require.ErrorIs(t, err, xbridge.ErrTimeout)

	require.Eventually(t, func() bool { return b.GetMetrics().Responded == 1 }, time.Second, 5*time.Millisecond)
	m := a.GetMetrics()
	assert.Zero(t, m.Resolved)
	assert.Equal(t, uint64(1), m.TimedOut)
	assert.Zero(t, m.Pending)
}

func TestRequest_ConcurrentResponsesMatchTheirCalls(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	type echo struct {
		N       int `json:"n"`
		DelayMs int `json:"delayMs"`
	}
	_, err := xbridge.RegisterAs(b, "echo", func(_ context.Context, req echo, _ xbridge.Envelope) (echo, error) {
		time.Sleep(time.Duration(req.DelayMs) * time.Millisecond)
		return req, nil
	})
	require.NoError(t, err)

	slow := a.Go(ctx, "echo", echo{N: 1, DelayMs: 80})
	fast := a.Go(ctx, "echo", echo{N: 2, DelayMs: 5})

	<-fast.Done()
	select {
	case <-slow.Done():
		t.Fatal("slow call settled before fast one")
	default:
	}

	got, err := fast.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, echo{N: 2, DelayMs: 5}, got)

	got, err = slow.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, echo{N: 1, DelayMs: 80}, got)
	assert.NotEqual(t, slow.ID, fast.ID)
}

func TestRequest_InjectedResponsesOutOfOrder(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")

	raw := hub.Attach()
	t.Cleanup(func() { _ = raw.Close(ctx) })
	var reqs recorder
	_, err := raw.Subscribe(ctx, func(env xbridge.Envelope) {
		if env.Type == xbridge.TypeRPCRequest {
			reqs.record(env)
		}
	})
	require.NoError(t, err)

	first := a.Go(ctx, "lookup", "one", xbridge.WithTimeout(time.Second))
	second := a.Go(ctx, "lookup", "two", xbridge.WithTimeout(time.Second))
	third := a.Go(ctx, "lookup", "three", xbridge.WithTimeout(time.Second))

	sent := reqs.all()
	require.Len(t, sent, 3)
	ids := make([]string, 0, len(sent))
	for _, env := range sent {
		req, err := xbridge.Decode[xbridge.RPCRequest](xbridge.JSONCodec{}, env)
		require.NoError(t, err)
		assert.Equal(t, "lookup", req.ReqType)
		ids = append(ids, req.RequestID)
	}
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, ids)

	respond := func(payload map[string]any, target string) {
		require.NoError(t, raw.Publish(ctx, xbridge.Envelope{
			Type:    xbridge.TypeRPCResponse,
			Payload: payload,
			Meta:    xbridge.Meta{Source: "remote", Target: target},
		}))
	}

	// Addressed to someone else: filtered before matching.
	respond(map[string]any{"requestId": first.ID, "ok": true, "data": "stolen"}, "not-a")
	// Malformed: no request id.
	respond(map[string]any{"ok": true, "data": "orphan"}, "a")

	respond(map[string]any{"requestId": second.ID, "ok": true, "data": "two-reply"}, "a")
	respond(map[string]any{"requestId": third.ID, "ok": false}, "a")
	respond(map[string]any{"requestId": first.ID, "ok": true, "data": "one-reply"}, "a")
	// Duplicate for an already settled call.
	respond(map[string]any{"requestId": first.ID, "ok": true, "data": "again"}, "a")

	got, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one-reply", got)

	got, err = second.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two-reply", got)

	_, err = third.Wait(ctx)
	var remote *xbridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "RPC error", remote.Message)

	m := a.GetMetrics()
	assert.Equal(t, uint64(2), m.Resolved)
	assert.Equal(t, uint64(1), m.Rejected)
	assert.Zero(t, m.Pending)
}

func TestRegister_ResponseCarriesTraceAndTarget(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	raw := hub.Attach()
	t.Cleanup(func() { _ = raw.Close(ctx) })
	var responses recorder
	_, err := raw.Subscribe(ctx, func(env xbridge.Envelope) {
		if env.Type == xbridge.TypeRPCResponse {
			responses.record(env)
		}
	})
	require.NoError(t, err)

	var handlerTrace string
	_, err = b.Register("whoami", func(hctx context.Context, _ any, env xbridge.Envelope) (any, error) {
		handlerTrace = xbridge.TraceIDFromContext(hctx)
		return "b", nil
	})
	require.NoError(t, err)

	call := a.Go(ctx, "whoami", nil)
	_, err = call.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return responses.count() == 1 }, time.Second, 5*time.Millisecond)
	res := responses.all()
	assert.Equal(t, call.TraceID, res[0].Meta.TraceID)
	assert.Equal(t, call.TraceID, handlerTrace)
	assert.Equal(t, "a", res[0].Meta.Target)
	assert.Equal(t, "b", res[0].Meta.Source)
	assert.False(t, res[0].Meta.Broadcast)

	payload, err := xbridge.Decode[xbridge.RPCResponse](xbridge.JSONCodec{}, res[0])
	require.NoError(t, err)
	assert.Equal(t, call.ID, payload.RequestID)
	assert.True(t, payload.OK)
}

func TestRegister_NormalisesGenericPayloads(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	b := newParticipant(t, hub, "b")

	_, err := xbridge.RegisterAs(b, "get-user", func(_ context.Context, q userQuery, _ xbridge.Envelope) (userRecord, error) {
		if q.ID != 7 {
			return userRecord{}, errors.New("unknown id")
		}
		return userRecord{Name: "Grace"}, nil
	})
	require.NoError(t, err)

	raw := hub.Attach()
	t.Cleanup(func() { _ = raw.Close(ctx) })
	var responses recorder
	_, err = raw.Subscribe(ctx, func(env xbridge.Envelope) {
		if env.Type == xbridge.TypeRPCResponse {
			responses.record(env)
		}
	})
	require.NoError(t, err)

	require.NoError(t, raw.Publish(ctx, xbridge.Envelope{
		Type: xbridge.TypeRPCRequest,
		Payload: map[string]any{
			"requestId": "req-1",
			"reqType":   "get-user",
			"data":      map[string]any{"id": 7},
		},
		Meta: xbridge.Meta{Source: "x", TraceID: "trace-x"},
	}))

	require.Eventually(t, func() bool { return responses.count() == 1 }, time.Second, 5*time.Millisecond)
	env := responses.all()[0]
	assert.Equal(t, "x", env.Meta.Target)
	assert.Equal(t, "trace-x", env.Meta.TraceID)

	res, err := xbridge.Decode[xbridge.RPCResponse](xbridge.JSONCodec{}, env)
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.RequestID)
	assert.True(t, res.OK)
	u, err := xbridge.Convert[userRecord](xbridge.JSONCodec{}, res.Data)
	require.NoError(t, err)
	assert.Equal(t, "Grace", u.Name)
}

func TestRegister_IgnoresMalformedRequests(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	b := newParticipant(t, hub, "b")

	invoked := make(chan struct{}, 4)
	_, err := b.Register("get-user", func(context.Context, any, xbridge.Envelope) (any, error) {
		invoked <- struct{}{}
		return nil, nil
	})
	require.NoError(t, err)

	raw := hub.Attach()
	t.Cleanup(func() { _ = raw.Close(ctx) })
	for _, payload := range []any{
		nil,
		"garbage",
		42,
		map[string]any{"reqType": "get-user"},
		map[string]any{"requestId": "r", "reqType": "other"},
	} {
		require.NoError(t, raw.Publish(ctx, xbridge.Envelope{
			Type:    xbridge.TypeRPCRequest,
			Payload: payload,
			Meta:    xbridge.Meta{Source: "x"},
		}))
	}

	select {
	case <-invoked:
		t.Fatal("handler invoked for malformed request")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, b.GetMetrics().Responded)
}

func TestRegister_DuplicateOnSameBridge(t *testing.T) {
	b := newParticipant(t, memory.NewHub(), "b")
	h := func(context.Context, any, xbridge.Envelope) (any, error) { return nil, nil }

	sub, err := b.Register("get-user", h)
	require.NoError(t, err)

	_, err = b.Register("get-user", h)
	assert.ErrorIs(t, err, xbridge.ErrHandlerExists)

	require.NoError(t, sub.Close())
	_, err = b.Register("get-user", h)
	assert.NoError(t, err)

	_, err = b.Register("", h)
	assert.ErrorIs(t, err, xbridge.ErrInvalidType)
	_, err = b.Register("x", nil)
	assert.ErrorIs(t, err, xbridge.ErrNilHandler)
}

func TestRequest_TargetedHandler(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	for _, id := range []string{"b", "c"} {
		p := newParticipant(t, hub, id)
		self := id
		_, err := p.Register("whoami", func(context.Context, any, xbridge.Envelope) (any, error) {
			return self, nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		got, err := a.Request(ctx, "whoami", nil, xbridge.WithRequestTarget("c"))
		require.NoError(t, err)
		assert.Equal(t, "c", got)
	}
}

func TestRequest_ContextCancel(t *testing.T) {
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_, err := b.Register("block", func(hctx context.Context, _ any, _ xbridge.Envelope) (any, error) {
		close(started)
		select {
		case <-release:
		case <-hctx.Done():
		}
		return "done", nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = a.Request(ctx, "block", nil, xbridge.WithTimeout(time.Minute))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.GetMetrics().Pending)
}

func TestRequest_InvalidType(t *testing.T) {
	a := newParticipant(t, memory.NewHub(), "a")
	_, err := a.Request(context.Background(), "", nil)
	assert.ErrorIs(t, err, xbridge.ErrInvalidType)
}

func TestClose_RejectsPendingCalls(t *testing.T) {
	ctx := context.Background()
	a := newParticipant(t, memory.NewHub(), "a")

	call := a.Go(ctx, "never", nil, xbridge.WithTimeout(time.Minute))
	require.Equal(t, 1, a.GetMetrics().Pending)

	require.NoError(t, a.Close(ctx))

	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("pending call not settled by Close")
	}
	assert.ErrorIs(t, call.Err, xbridge.ErrBridgeClosed)

	_, err := a.Request(ctx, "never", nil)
	assert.ErrorIs(t, err, xbridge.ErrBridgeClosed)
}

func TestRegister_FailureResponseCarriesTraceAndTarget(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	raw := hub.Attach()
	t.Cleanup(func() { _ = raw.Close(ctx) })
	var responses recorder
	_, err := raw.Subscribe(ctx, func(env xbridge.Envelope) {
		if env.Type == xbridge.TypeRPCResponse {
			responses.record(env)
		}
	})
	require.NoError(t, err)

	_, err = b.Register("explode", func(context.Context, any, xbridge.Envelope) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	call := a.Go(ctx, "explode", nil)
	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, xbridge.ErrRemote)

	require.Eventually(t, func() bool { return responses.count() == 1 }, time.Second, 5*time.Millisecond)
	// No second response shows up later.
	time.Sleep(20 * time.Millisecond)
	res := responses.all()
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].Meta.Target)
	assert.Equal(t, "b", res[0].Meta.Source)
	assert.Equal(t, call.TraceID, res[0].Meta.TraceID)

	payload, err := xbridge.Decode[xbridge.RPCResponse](xbridge.JSONCodec{}, res[0])
	require.NoError(t, err)
	assert.Equal(t, call.ID, payload.RequestID)
	assert.False(t, payload.OK)
	assert.Contains(t, payload.Error, "kaboom")
}

func TestClose_RunningHandlerStillResponds(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	a := newParticipant(t, hub, "a")
	b := newParticipant(t, hub, "b")

	started := make(chan struct{})
	_, err := b.Register("drain", func(hctx context.Context, _ any, _ xbridge.Envelope) (any, error) {
		close(started)
		<-hctx.Done()
		return "done", nil
	})
	require.NoError(t, err)

	call := a.Go(ctx, "drain", nil, xbridge.WithTimeout(2*time.Second))
	<-started

	require.NoError(t, b.Close(ctx))

	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("response of a handler running at close was never delivered")
	}
	require.NoError(t, call.Err)
	assert.Equal(t, "done", call.Reply)
	assert.Equal(t, uint64(1), b.GetMetrics().Responded)
}
