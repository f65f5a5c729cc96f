package xbridge

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig bounds how often a failing request handler is re-run before
// its error becomes the failure response.
type RetryConfig struct {
	// MaxAttempts counts the first run too. Values below 1 mean a single run.
	MaxAttempts int
	// Backoff returns the pause after the given failed attempt (1-based).
	// Nil retries immediately.
	Backoff func(attempt int) time.Duration
	// RetryIf filters retryable errors. Nil retries every error.
	RetryIf func(err error) bool
	// Jitter adds a random pause in [0, Jitter) on top of Backoff.
	Jitter time.Duration
}

func (c RetryConfig) wait(attempt int) time.Duration {
	var d time.Duration
	if c.Backoff != nil {
		d = c.Backoff(attempt)
	}
	if c.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.Jitter)))
	}
	return d
}

func (c RetryConfig) retryable(err error) bool {
	return c.RetryIf == nil || c.RetryIf(err)
}

// RetryMiddleware re-runs a failing request handler. The requester still
// gets exactly one response: the first success or the last failure.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := max(cfg.MaxAttempts, 1)
	return func(next RequestHandler) RequestHandler {
		return func(ctx context.Context, data any, env Envelope) (any, error) {
			for attempt := 1; ; attempt++ {
				res, err := next(ctx, data, env)
				if err == nil {
					return res, nil
				}
				if attempt >= attempts || ctx.Err() != nil || !cfg.retryable(err) {
					return nil, err
				}
				if d := cfg.wait(attempt); d > 0 {
					t := time.NewTimer(d)
					select {
					case <-ctx.Done():
						t.Stop()
						return nil, err
					case <-t.C:
					}
				}
			}
		}
	}
}

// TimeoutMiddleware bounds handler processing time. When exceeded the
// handler's result is discarded and context.DeadlineExceeded becomes the
// failure response.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next RequestHandler) RequestHandler { return next }
	}
	return func(next RequestHandler) RequestHandler {
		return func(ctx context.Context, data any, env Envelope) (any, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				v   any
				err error
			}
			ch := make(chan result, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						ch <- result{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
					}
				}()
				v, err := next(tctx, data, env)
				ch <- result{v: v, err: err}
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case r := <-ch:
				return r.v, r.err
			}
		}
	}
}

// RecoveryMiddleware converts handler panics into errors, so a panicking
// handler still produces a failure response.
func RecoveryMiddleware() Middleware {
	return func(next RequestHandler) RequestHandler {
		return func(ctx context.Context, data any, env Envelope) (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					res = nil
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, data, env)
		}
	}
}

// Chain wraps h so that mws[0] runs outermost.
func Chain(h RequestHandler, mws ...Middleware) RequestHandler {
	if len(mws) == 0 {
		return h
	}
	for i := len(mws) - 1; i >= 0; i-- {
		if mw := mws[i]; mw != nil {
			h = mw(h)
		}
	}
	return h
}
