package xbridge

import (
	"context"
	"errors"
	"sync"
)

// Subscription represents an active subscription. Close stops further
// deliveries and is safe to call more than once.
type Subscription interface {
	Close() error
}

// Transport is the Strategy interface for the shared broadcast channel.
// Publish delivers env to every current subscriber, the publisher's own
// subscriptions included.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, handler func(Envelope)) (Subscription, error)
	Close(ctx context.Context) error
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}

// subscriptionFunc adapts a close func into an idempotent Subscription.
type subscriptionFunc struct {
	once  sync.Once
	close func() error
	err   error
}

func newSubscription(close func() error) *subscriptionFunc {
	return &subscriptionFunc{close: close}
}

func (s *subscriptionFunc) Close() error {
	s.once.Do(func() {
		if s.close != nil {
			s.err = s.close()
		}
	})
	return s.err
}
