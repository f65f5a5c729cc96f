package xbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
)

// wire is the slice of the Bridge the RPC engine talks through: stamped
// outbound publishing, routed inbound subscriptions, tracing and telemetry.
type wire interface {
	identity() string
	send(ctx context.Context, env Envelope) error
	listen(fn func(Envelope)) (Subscription, error)
	trace(direction string, env Envelope)
	notifyAsync(e Event)
	nextID() string
	handlerContext(env Envelope) context.Context
	warn(err error, msg string)
}

// RequestOption configures a single Request/Go call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
	target  string
}

// WithTimeout overrides the bridge request timeout for one call.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRequestTarget routes the request to a single participant's handler.
func WithRequestTarget(id string) RequestOption {
	return func(o *requestOptions) { o.target = id }
}

// Call is an in-flight request. Reply and Err are valid once Done is closed.
type Call struct {
	ID      string // correlation id
	Type    string // request type
	TraceID string
	Target  string

	Reply any
	Err   error

	done    chan struct{}
	once    sync.Once
	start   time.Time
	timer   *time.Timer
	abandon func(error)
}

// Done is closed when the call is resolved or rejected.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call completes or ctx is done. When ctx wins the
// call is abandoned: its record is dropped and any later response ignored.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.Reply, c.Err
	case <-ctx.Done():
		if c.abandon != nil {
			c.abandon(ctx.Err())
		}
		<-c.done
		return c.Reply, c.Err
	}
}

type rpcStats struct {
	requests    atomic.Uint64
	resolved    atomic.Uint64
	rejected    atomic.Uint64
	timedOut    atomic.Uint64
	responded   atomic.Uint64
	roundTripNs atomic.Int64
}

// rpcEngine owns the pending-request table of one bridge.
type rpcEngine struct {
	w           wire
	codec       Codec
	clock       xclock.Clock
	timeout     time.Duration
	middlewares []Middleware

	mu       sync.Mutex
	pending  map[string]*Call
	closed   bool
	inflight sync.WaitGroup

	handlersMu sync.Mutex
	handlers   map[string]struct{}

	sub   Subscription
	stats rpcStats
}

func newRPCEngine(w wire, codec Codec, clock xclock.Clock, timeout time.Duration, mws []Middleware) *rpcEngine {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &rpcEngine{
		w:           w,
		codec:       codec,
		clock:       clock,
		timeout:     timeout,
		middlewares: mws,
		pending:     make(map[string]*Call),
		handlers:    make(map[string]struct{}),
	}
}

// start subscribes the response matcher.
func (e *rpcEngine) start() error {
	sub, err := e.w.listen(e.onResponse)
	if err != nil {
		return fmt.Errorf("xbridge: subscribe responses: %w", err)
	}
	e.sub = sub
	return nil
}

func (e *rpcEngine) call(ctx context.Context, typ string, payload any, opts ...RequestOption) *Call {
	o := requestOptions{timeout: e.timeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Call{
		ID:      e.w.nextID(),
		Type:    typ,
		TraceID: e.w.nextID(),
		Target:  o.target,
		done:    make(chan struct{}),
		start:   e.clock.Now(),
	}
	c.abandon = func(err error) {
		if pc := e.take(c.ID); pc != nil {
			e.finish(pc, nil, err)
		}
	}

	if typ == "" {
		e.finish(c, nil, ErrInvalidType)
		return c
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.finish(c, nil, ErrBridgeClosed)
		return c
	}
	e.pending[c.ID] = c
	timeout := o.timeout
	c.timer = time.AfterFunc(timeout, func() { e.expire(c.ID, timeout) })
	e.mu.Unlock()

	e.stats.requests.Add(1)
	e.w.notifyAsync(Event{
		Type:         EventRequest,
		EnvelopeType: TypeRPCRequest,
		RequestType:  typ,
		RequestID:    c.ID,
		TraceID:      c.TraceID,
		Source:       e.w.identity(),
		Target:       o.target,
	})

	env := Envelope{
		Type:    TypeRPCRequest,
		Payload: RPCRequest{RequestID: c.ID, ReqType: typ, Data: payload},
		Meta:    Meta{TraceID: c.TraceID, Target: o.target},
	}
	if err := e.w.send(ctx, env); err != nil {
		c.abandon(err)
	}
	return c
}

func (e *rpcEngine) request(ctx context.Context, typ string, payload any, opts ...RequestOption) (any, error) {
	return e.call(ctx, typ, payload, opts...).Wait(ctx)
}

// take removes a pending record. Only the caller that gets a non-nil Call
// back may settle it.
func (e *rpcEngine) take(id string) *Call {
	e.mu.Lock()
	c, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	return c
}

func (e *rpcEngine) expire(id string, after time.Duration) {
	if c := e.take(id); c != nil {
		e.finish(c, nil, &TimeoutError{Type: c.Type, After: after})
	}
}

func (e *rpcEngine) finish(c *Call, reply any, err error) {
	c.once.Do(func() {
		c.Reply, c.Err = reply, err
		close(c.done)
	})

	ev := Event{
		EnvelopeType: TypeRPCResponse,
		RequestType:  c.Type,
		RequestID:    c.ID,
		TraceID:      c.TraceID,
		Source:       e.w.identity(),
		Target:       c.Target,
		Duration:     e.clock.Since(c.start),
		Err:          err,
	}
	switch {
	case err == nil:
		e.stats.resolved.Add(1)
		e.recordRoundTrip(ev.Duration.Nanoseconds())
		ev.Type = EventResolve
	case errors.Is(err, ErrTimeout):
		e.stats.timedOut.Add(1)
		ev.Type = EventTimeout
	default:
		e.stats.rejected.Add(1)
		ev.Type = EventReject
	}
	e.w.notifyAsync(ev)
}

// onResponse settles the pending call a response belongs to. Responses that
// are malformed or whose call is gone (timed out, abandoned, someone else's)
// are ignored.
func (e *rpcEngine) onResponse(env Envelope) {
	if env.Type != TypeRPCResponse {
		return
	}
	res, err := Convert[RPCResponse](e.codec, env.Payload)
	if err != nil || res.RequestID == "" {
		return
	}
	c := e.take(res.RequestID)
	if c == nil {
		return
	}
	e.w.trace("in", env)

	if res.OK {
		e.finish(c, res.Data, nil)
		return
	}
	msg := res.Error
	if msg == "" {
		msg = "RPC error"
	}
	e.finish(c, nil, &RemoteError{Type: c.Type, Message: msg})
}

// register answers every accepted request of typ with exactly one response.
// Only one handler per type may be registered on a bridge at a time.
func (e *rpcEngine) register(typ string, h RequestHandler) (Subscription, error) {
	if typ == "" {
		return nil, ErrInvalidType
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	e.handlersMu.Lock()
	if _, dup := e.handlers[typ]; dup {
		e.handlersMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrHandlerExists, typ)
	}
	e.handlers[typ] = struct{}{}
	e.handlersMu.Unlock()

	release := func() {
		e.handlersMu.Lock()
		delete(e.handlers, typ)
		e.handlersMu.Unlock()
	}

	wrapped := Chain(RecoveryMiddleware()(h), e.middlewares...)

	sub, err := e.w.listen(func(env Envelope) {
		if env.Type != TypeRPCRequest {
			return
		}
		req, err := Convert[RPCRequest](e.codec, env.Payload)
		if err != nil || req.RequestID == "" || req.ReqType != typ {
			return
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.inflight.Add(1)
		e.mu.Unlock()

		e.w.trace("in", env)
		go e.serve(wrapped, req, env)
	})
	if err != nil {
		release()
		return nil, err
	}

	return newSubscription(func() error {
		defer release()
		return sub.Close()
	}), nil
}

func (e *rpcEngine) serve(h RequestHandler, req RPCRequest, env Envelope) {
	defer e.inflight.Done()

	start := e.clock.Now()
	ctx := e.w.handlerContext(env)

	data, herr := func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return h(ctx, req.Data, env)
	}()

	res := RPCResponse{RequestID: req.RequestID, OK: herr == nil}
	if herr != nil {
		res.Error = herr.Error()
	} else {
		res.Data = data
	}

	out := Envelope{
		Type:    TypeRPCResponse,
		Payload: res,
		Meta:    Meta{TraceID: env.Meta.TraceID, Target: env.Meta.Source},
	}
	// The handler context dies with Close; the response must still go out.
	if err := e.w.send(context.WithoutCancel(ctx), out); err != nil {
		e.w.warn(err, "xbridge: rpc response publish failed")
		e.w.notifyAsync(Event{
			Type:         EventError,
			EnvelopeType: TypeRPCResponse,
			RequestType:  req.ReqType,
			RequestID:    req.RequestID,
			TraceID:      env.Meta.TraceID,
			Target:       env.Meta.Source,
			Err:          err,
		})
		return
	}

	e.stats.responded.Add(1)
	e.w.notifyAsync(Event{
		Type:         EventRespond,
		EnvelopeType: TypeRPCResponse,
		RequestType:  req.ReqType,
		RequestID:    req.RequestID,
		TraceID:      env.Meta.TraceID,
		Source:       e.w.identity(),
		Target:       env.Meta.Source,
		Duration:     e.clock.Since(start),
		Err:          herr,
	})
}

// close stops response matching, rejects every pending call with
// ErrBridgeClosed and waits for running handlers until ctx is done.
func (e *rpcEngine) close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	calls := e.pending
	e.pending = make(map[string]*Call)
	e.mu.Unlock()

	if e.sub != nil {
		_ = e.sub.Close()
	}
	for _, c := range calls {
		if c.timer != nil {
			c.timer.Stop()
		}
		e.finish(c, nil, ErrBridgeClosed)
	}

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *rpcEngine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// recordRoundTrip keeps an exponential moving average of request latency.
func (e *rpcEngine) recordRoundTrip(ns int64) {
	const alpha = 0.2
	current := e.stats.roundTripNs.Load()
	if current == 0 {
		e.stats.roundTripNs.Store(ns)
		return
	}
	e.stats.roundTripNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
