package xbridge

import (
	"context"
)

// Handler processes a plain envelope delivered by On.
type Handler func(ctx context.Context, env Envelope)

// RequestHandler answers an RPC request. A nil error produces a success
// response carrying the returned value; a non-nil error produces a failure
// response carrying err.Error().
type RequestHandler func(ctx context.Context, data any, env Envelope) (any, error)

// Middleware composes processing concerns around a RequestHandler.
type Middleware func(next RequestHandler) RequestHandler

// Observer receives bridge lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xbridge surface for extensibility.
type API interface {
	Identity() string
	Emit(ctx context.Context, typ string, payload any, opts ...EmitOption) error
	On(typ string, handler Handler) (Subscription, error)
	Go(ctx context.Context, typ string, payload any, opts ...RequestOption) *Call
	Request(ctx context.Context, typ string, payload any, opts ...RequestOption) (any, error)
	Register(typ string, handler RequestHandler) (Subscription, error)
	Ready(ctx context.Context, opts ...EmitOption) error
	Mounted(ctx context.Context, opts ...EmitOption) error
	SetDebug(enabled bool)
	Debug() bool
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Bridge)(nil)
