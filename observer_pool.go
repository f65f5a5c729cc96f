package xbridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool hands bridge events to observers on a fixed set of workers,
// so a slow observer never delays emit, delivery or request settlement.
// Notify never blocks: with a full queue the event is dropped and counted.
type ObserverPool struct {
	queue   chan poolItem
	workers int

	mu     sync.RWMutex
	closed bool
	stop   func() bool
	wg     sync.WaitGroup

	dropped   atomic.Uint64
	processed atomic.Uint64
}

type poolItem struct {
	event     Event
	observers []Observer
}

// NewObserverPool starts workers (default 4) reading from a queue of
// bufferSize events (default 1000). The pool closes itself when ctx is done.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	op := &ObserverPool{
		queue:   make(chan poolItem, bufferSize),
		workers: workers,
	}
	op.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go op.run()
	}
	op.stop = context.AfterFunc(ctx, op.shutdown)
	return op
}

// Notify queues e for every observer in observers.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	item := poolItem{event: e, observers: append([]Observer(nil), observers...)}

	op.mu.RLock()
	defer op.mu.RUnlock()
	if op.closed {
		op.dropped.Add(1)
		return
	}
	select {
	case op.queue <- item:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for item := range op.queue {
		for _, obs := range item.observers {
			notifyObserver(obs, item.event)
		}
		op.processed.Add(1)
	}
}

// notifyObserver shields the pool from a panicking observer.
func notifyObserver(obs Observer, e Event) {
	if obs == nil {
		return
	}
	defer func() { _ = recover() }()
	obs.OnEvent(e)
}

// shutdown stops intake; queued events are still delivered.
func (op *ObserverPool) shutdown() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.closed {
		return
	}
	op.closed = true
	close(op.queue)
}

// Close stops intake and waits up to timeout for queued events to drain.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.stop != nil {
		op.stop()
	}
	op.shutdown()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.queue),
		Workers:      op.workers,
		BufferSize:   cap(op.queue),
	}
}
