package xbridge

import (
	"context"
	"sync"
)

var (
	defaultBridge   *Bridge
	defaultBridgeMu sync.RWMutex
)

// Default returns the process-wide Bridge installed with SetDefault (or an
// adapter's Use).
func Default() (*Bridge, error) {
	defaultBridgeMu.RLock()
	defer defaultBridgeMu.RUnlock()
	if defaultBridge == nil {
		return nil, ErrDefaultBridgeNotInitialized
	}
	return defaultBridge, nil
}

// SetDefault replaces the process-wide default Bridge.
func SetDefault(b *Bridge) {
	if b == nil {
		panic("xbridge: SetDefault called with nil Bridge")
	}
	defaultBridgeMu.Lock()
	defaultBridge = b
	defaultBridgeMu.Unlock()
}

// Emit is the Facade using the default bridge.
func Emit(ctx context.Context, typ string, payload any, opts ...EmitOption) error {
	b, err := Default()
	if err != nil {
		return err
	}
	return b.Emit(ctx, typ, payload, opts...)
}

// On is the Facade using the default bridge.
func On(typ string, handler Handler) (Subscription, error) {
	b, err := Default()
	if err != nil {
		return nil, err
	}
	return b.On(typ, handler)
}

// Request is the Facade using the default bridge.
func Request(ctx context.Context, typ string, payload any, opts ...RequestOption) (any, error) {
	b, err := Default()
	if err != nil {
		return nil, err
	}
	return b.Request(ctx, typ, payload, opts...)
}

// Register is the Facade using the default bridge.
func Register(typ string, handler RequestHandler) (Subscription, error) {
	b, err := Default()
	if err != nil {
		return nil, err
	}
	return b.Register(typ, handler)
}
