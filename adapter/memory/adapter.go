package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xbridge"
)

const TransportName = "memory"

// DefaultChannel is the hub every participant in a process shares unless
// configured otherwise.
const DefaultChannel = "__mfe_bridge__"

// ErrClosed is returned by a closed Transport.
var ErrClosed = errors.New("memory transport is closed")

func init() {
	if err := xbridge.RegisterTransport(TransportName, func(cfg map[string]any) (xbridge.Transport, error) {
		return Shared(ConfigFromMap(cfg).Channel).Attach(), nil
	}); err != nil {
		panic(fmt.Errorf("xbridge/memory: failed to register transport: %w", err))
	}
}

// Config controls memory transport behavior.
type Config struct {
	// Channel names the shared hub (default: DefaultChannel).
	Channel string
}

func ConfigFromMap(cfg map[string]any) Config {
	c := Config{Channel: DefaultChannel}
	if v, ok := cfg["channel"].(string); ok && v != "" {
		c.Channel = v
	}
	return c
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"channel": c.Channel,
	}
}

var (
	hubsMu sync.Mutex
	hubs   = map[string]*Hub{}
)

// Shared returns the process-wide hub for channel, creating it on first use.
func Shared(channel string) *Hub {
	if channel == "" {
		channel = DefaultChannel
	}
	hubsMu.Lock()
	defer hubsMu.Unlock()
	if h, ok := hubs[channel]; ok {
		return h
	}
	h := NewHub()
	hubs[channel] = h
	return h
}

// Hub is an in-process broadcast channel. Publish hands an envelope to every
// current subscriber, the publisher's own included, synchronously on the
// publisher's goroutine.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber

	metrics hubMetrics
}

type hubMetrics struct {
	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

type subscriber struct {
	handler func(xbridge.Envelope)
	active  atomic.Bool
}

// NewHub creates a standalone hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Attach returns a Transport bound to h. Closing it releases only the
// subscriptions made through it.
func (h *Hub) Attach() *Transport {
	return &Transport{hub: h, owned: make(map[uint64]struct{})}
}

func (h *Hub) publish(env xbridge.Envelope) {
	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	h.metrics.published.Add(1)
	for _, s := range snapshot {
		h.deliver(s, env)
	}
}

// deliver isolates one subscriber: a panic stops at its own invocation.
func (h *Hub) deliver(s *subscriber, env xbridge.Envelope) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.metrics.panics.Add(1)
		}
	}()
	h.metrics.delivered.Add(1)
	s.handler(env)
}

func (h *Hub) add(handler func(xbridge.Envelope)) uint64 {
	s := &subscriber{handler: handler}
	s.active.Store(true)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = s
	h.mu.Unlock()
	return id
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		s.active.Store(false)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns hub telemetry.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Panics      uint64
	Subscribers int
}

// Stats returns current hub metrics.
func (h *Hub) Stats() Stats {
	return Stats{
		Published:   h.metrics.published.Load(),
		Delivered:   h.metrics.delivered.Load(),
		Panics:      h.metrics.panics.Load(),
		Subscribers: h.Subscribers(),
	}
}

// Transport implements xbridge.Transport on top of a Hub.
type Transport struct {
	hub *Hub

	mu     sync.Mutex
	owned  map[uint64]struct{}
	closed atomic.Bool
}

var _ xbridge.Transport = (*Transport)(nil)

// NewTransport creates a transport attached to the shared hub named by cfg.
func NewTransport(cfg Config) *Transport {
	return Shared(cfg.Channel).Attach()
}

// Hub returns the hub this transport publishes to.
func (t *Transport) Hub() *Hub { return t.hub }

// Publish fans env out to every hub subscriber before returning.
func (t *Transport) Publish(ctx context.Context, env xbridge.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.hub.publish(env)
	return nil
}

// Subscribe registers handler until the returned Subscription is closed, ctx
// is done or the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, handler func(xbridge.Envelope)) (xbridge.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, xbridge.ErrNilHandler
	}

	id := t.hub.add(handler)
	t.mu.Lock()
	t.owned[id] = struct{}{}
	t.mu.Unlock()

	sub := &subscription{release: func() { t.release(id) }}
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	return sub, nil
}

func (t *Transport) release(id uint64) {
	t.mu.Lock()
	delete(t.owned, id)
	t.mu.Unlock()
	t.hub.remove(id)
}

// Close releases every subscription made through t. The hub stays usable
// for other participants.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}

	t.mu.Lock()
	ids := make([]uint64, 0, len(t.owned))
	for id := range t.owned {
		ids = append(ids, id)
	}
	t.owned = make(map[uint64]struct{})
	t.mu.Unlock()

	for _, id := range ids {
		t.hub.remove(id)
	}
	return nil
}

type subscription struct {
	mu      sync.Mutex
	done    bool
	stop    func() bool
	release func()
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.release()
	return nil
}
