package xbridge

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ HealthChecker = (*Bridge)(nil)
var _ wire = (*Bridge)(nil)

// Bridge is one participant's view of the shared broadcast channel. It
// stamps outbound envelopes, filters inbound ones and owns an RPC engine.
type Bridge struct {
	self         string
	transport    Transport
	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	ids          IDGenerator
	rpc          *rpcEngine
	debug        atomic.Bool
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	baseCtx      context.Context
	cancel       context.CancelFunc
	handlerCtx   context.Context
	metrics      *bridgeMetrics
	subsMu       sync.Mutex
	subs         map[*subscriptionFunc]struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
}

type bridgeMetrics struct {
	emitted   atomic.Uint64
	delivered atomic.Uint64
	errors    atomic.Uint64
}

// Identity returns the participant id this bridge emits as.
func (b *Bridge) Identity() string { return b.self }

// Codec returns the configured codec (Strategy).
func (b *Bridge) Codec() Codec { return b.codec }

// SetDebug toggles tracing of every inbound and outbound envelope.
func (b *Bridge) SetDebug(enabled bool) { b.debug.Store(enabled) }

// Debug reports whether envelope tracing is on.
func (b *Bridge) Debug() bool { return b.debug.Load() }

// Emit publishes a plain envelope. Metadata defaults (source, timestamp,
// fresh trace id) are filled first, then opts are applied.
func (b *Bridge) Emit(ctx context.Context, typ string, payload any, opts ...EmitOption) error {
	if err := checkAppType(typ); err != nil {
		return err
	}
	env := Envelope{Type: typ, Payload: payload}
	applyEmitOptions(&env.Meta, opts)
	return b.send(ctx, env)
}

// On subscribes handler to envelopes of typ that pass the routing filter.
// A panicking handler is recovered and logged; other subscribers are not
// affected.
func (b *Bridge) On(typ string, handler Handler) (Subscription, error) {
	if err := checkAppType(typ); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	return b.listen(func(env Envelope) {
		if env.Type != typ {
			return
		}
		b.trace("in", env)
		b.metrics.delivered.Add(1)
		b.notifyAsync(Event{
			Type:         EventDeliver,
			EnvelopeType: env.Type,
			TraceID:      env.Meta.TraceID,
			Source:       env.Meta.Source,
			Target:       env.Meta.Target,
		})
		b.dispatch(handler, env)
	})
}

func (b *Bridge) dispatch(handler Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			b.metrics.errors.Add(1)
			b.warn(err, "xbridge: subscriber panic (recovered)")
			b.notifyAsync(Event{Type: EventError, EnvelopeType: env.Type, TraceID: env.Meta.TraceID, Err: err})
		}
	}()
	handler(b.handlerContext(env), env)
}

// Go starts a request and returns immediately with the pending Call.
func (b *Bridge) Go(ctx context.Context, typ string, payload any, opts ...RequestOption) *Call {
	return b.rpc.call(ctx, typ, payload, opts...)
}

// Request sends an RPC request and waits for its response, its timeout or
// ctx, whichever comes first. Remote failures are *RemoteError, timeouts are
// *TimeoutError. There is no retry.
func (b *Bridge) Request(ctx context.Context, typ string, payload any, opts ...RequestOption) (any, error) {
	return b.rpc.request(ctx, typ, payload, opts...)
}

// Register answers requests of typ. Each accepted request gets exactly one
// response, addressed to the requester and carrying its trace id.
func (b *Bridge) Register(typ string, handler RequestHandler) (Subscription, error) {
	return b.rpc.register(typ, handler)
}

// Ready broadcasts the mfe:ready lifecycle announcement.
func (b *Bridge) Ready(ctx context.Context, opts ...EmitOption) error {
	return b.announce(ctx, TypeReady, opts)
}

// Mounted broadcasts the mfe:mounted lifecycle announcement.
func (b *Bridge) Mounted(ctx context.Context, opts ...EmitOption) error {
	return b.announce(ctx, TypeMounted, opts)
}

func (b *Bridge) announce(ctx context.Context, typ string, opts []EmitOption) error {
	env := Envelope{Type: typ, Payload: Lifecycle{ID: b.self}, Meta: Meta{Broadcast: true}}
	applyEmitOptions(&env.Meta, opts)
	return b.send(ctx, env)
}

func applyEmitOptions(m *Meta, opts []EmitOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
}

func checkAppType(typ string) error {
	if typ == "" {
		return ErrInvalidType
	}
	if typ == TypeRPCRequest || typ == TypeRPCResponse {
		return fmt.Errorf("%w: %s", ErrReservedType, typ)
	}
	return nil
}

func (b *Bridge) identity() string { return b.self }

func (b *Bridge) nextID() string { return b.ids() }

// send stamps source and timestamp, fills a missing trace id and publishes.
func (b *Bridge) send(ctx context.Context, env Envelope) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	env.Meta.Source = b.self
	env.Meta.Timestamp = b.clock.Now()
	if env.Meta.TraceID == "" {
		env.Meta.TraceID = b.ids()
	}

	b.trace("out", env)
	b.metrics.emitted.Add(1)

	start := b.clock.Now()
	err := b.transport.Publish(ctx, env)
	b.notifyAsync(Event{
		Type:         EventEmit,
		EnvelopeType: env.Type,
		TraceID:      env.Meta.TraceID,
		Source:       env.Meta.Source,
		Target:       env.Meta.Target,
		Duration:     b.clock.Since(start),
		Err:          err,
	})
	if err != nil {
		b.metrics.errors.Add(1)
		return fmt.Errorf("xbridge: publish %s: %w", env.Type, err)
	}
	return nil
}

// listen subscribes fn to every envelope that passes the routing filter.
func (b *Bridge) listen(fn func(Envelope)) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBridgeClosed
	}
	inner, err := b.transport.Subscribe(b.baseCtx, func(env Envelope) {
		if b.closed.Load() || !Accepts(env, b.self) {
			return
		}
		fn(env)
	})
	if err != nil {
		return nil, err
	}

	var sub *subscriptionFunc
	sub = newSubscription(func() error {
		b.subsMu.Lock()
		delete(b.subs, sub)
		b.subsMu.Unlock()
		return inner.Close()
	})
	b.subsMu.Lock()
	b.subs[sub] = struct{}{}
	b.subsMu.Unlock()
	return sub, nil
}

func (b *Bridge) handlerContext(env Envelope) context.Context {
	return injectEnvelope(b.handlerCtx, env)
}

// trace logs env when debug tracing is on.
func (b *Bridge) trace(direction string, env Envelope) {
	if !b.debug.Load() || b.logger == nil {
		return
	}
	b.logger.With(
		xlog.Str("bridge", b.self),
		xlog.Str("dir", direction),
		xlog.Str("type", env.Type),
		xlog.Str("ts", env.Meta.Timestamp.UTC().Format(time.RFC3339Nano)),
		xlog.Str("source", env.Meta.Source),
		xlog.Str("target", env.Meta.Target),
		xlog.Str("trace_id", env.Meta.TraceID),
		xlog.Str("broadcast", strconv.FormatBool(env.Meta.Broadcast)),
		xlog.Str("payload", b.render(env.Payload)),
	).Info().Msg("[bridge:" + b.self + "] " + direction + " " + env.Type)
}

func (b *Bridge) render(payload any) string {
	if data, err := b.codec.Marshal(payload); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%+v", payload)
}

func (b *Bridge) warn(err error, msg string) {
	if b.logger == nil {
		return
	}
	b.logger.With(xlog.Str("bridge", b.self)).Warn().Err(err).Msg(msg)
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	m := Metrics{
		Emitted:        b.metrics.emitted.Load(),
		Delivered:      b.metrics.delivered.Load(),
		Requests:       b.rpc.stats.requests.Load(),
		Resolved:       b.rpc.stats.resolved.Load(),
		Rejected:       b.rpc.stats.rejected.Load(),
		TimedOut:       b.rpc.stats.timedOut.Load(),
		Responded:      b.rpc.stats.responded.Load(),
		Errors:         b.metrics.errors.Load(),
		Pending:        b.rpc.pendingCount(),
		AvgRoundTripMs: float64(b.rpc.stats.roundTripNs.Load()) / 1e6,
	}
	if b.observerPool != nil {
		m.EventsDropped = b.observerPool.Stats().Dropped
	}
	return m
}

// Health reports "unhealthy" once closed and "degraded" when more than 5%
// of requests timed out.
func (b *Bridge) Health(ctx context.Context) HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: b.clock.Now(),
			Message:   "bridge is closed",
		}
	}

	metrics := b.GetMetrics()
	status := "healthy"
	msg := ""
	if metrics.TimedOut > 0 && metrics.Requests > 0 {
		if float64(metrics.TimedOut)/float64(metrics.Requests) > 0.05 {
			status = "degraded"
			msg = "rpc timeout rate above 5%"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: b.clock.Now(),
		Message:   msg,
	}
}

// Close shuts the bridge down: pending requests fail with ErrBridgeClosed,
// subscriptions stop, running request handlers are awaited (bounded by ctx),
// the observer pool drains and the transport is closed. Idempotent.
func (b *Bridge) Close(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		// Let the engine reject pending calls before observers go away.
		b.cancel()
		if err := b.rpc.close(ctx); err != nil {
			b.warn(err, "xbridge: request handlers still running at close")
			closeErr = err
		}

		b.closed.Store(true)

		b.subsMu.Lock()
		subs := make([]*subscriptionFunc, 0, len(b.subs))
		for s := range b.subs {
			subs = append(subs, s)
		}
		b.subsMu.Unlock()
		for _, s := range subs {
			_ = s.Close()
		}

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.warn(err, "xbridge: observer pool shutdown timeout")
				closeErr = err
			}
		}

		if err := b.transport.Close(ctx); err != nil {
			if b.logger != nil {
				b.logger.Error().Err(err).Msg("xbridge: transport close failed")
			}
			closeErr = err
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bridge) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of non-comparable types,
// such as ObserverFunc, cannot be removed and are left in place.
func (b *Bridge) RemoveObserver(obs Observer) {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync hands e to the observer pool; without a pool observers are
// called inline.
func (b *Bridge) notifyAsync(e Event) {
	if b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	if b.observerPool != nil {
		b.observerPool.Notify(e, observers)
		return
	}
	for _, o := range observers {
		notifyObserver(o, e)
	}
}
