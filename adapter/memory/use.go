package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xbridge"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Use builds a Bridge for participant id on the shared in-memory hub and
// installs it as the process default.
//
// Example:
//
//	br := memory.Use(memory.Config{Channel: "shell"}, "checkout",
//	    memory.WithLogger(logger),
//	    memory.WithRequestTimeout(2*time.Second),
//	)
func Use(cfg Config, id string, opts ...Option) *xbridge.Bridge {
	bb := xbridge.NewBridgeBuilder().
		WithIdentity(id).
		WithTransport(TransportName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	br, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	xbridge.SetDefault(br)
	return br
}

// Option configures the xbridge.Bridge when calling Use.
type Option func(*xbridge.BridgeBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithCodec(name) }
}

// WithMiddleware wraps request handlers (recovery, timeout, retry).
func WithMiddleware(mw ...xbridge.Middleware) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithMiddleware(mw...) }
}

// WithRequestTimeout sets the default request deadline (default: 8s).
func WithRequestTimeout(d time.Duration) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithRequestTimeout(d) }
}

// WithDebug turns envelope tracing on from the start.
func WithDebug(on bool) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithDebug(on) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xbridge.Observer) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xbridge.BridgeBuilder) { b.WithObserverPool(workers, bufferSize) }
}
