package xbridge

import (
	"context"
	"fmt"
)

// OnAs subscribes a handler receiving the payload decoded as P. Envelopes
// whose payload cannot be decoded are logged and skipped.
func OnAs[P any](b *Bridge, typ string, handler func(ctx context.Context, payload P, env Envelope)) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	return b.On(typ, func(ctx context.Context, env Envelope) {
		p, err := Decode[P](b.codec, env)
		if err != nil {
			b.warn(err, "xbridge: undecodable payload for "+typ)
			return
		}
		handler(ctx, p, env)
	})
}

// RequestAs performs a Request and decodes the reply as Res.
func RequestAs[Res any](ctx context.Context, b *Bridge, typ string, payload any, opts ...RequestOption) (Res, error) {
	var zero Res
	reply, err := b.Request(ctx, typ, payload, opts...)
	if err != nil {
		return zero, err
	}
	return Convert[Res](b.codec, reply)
}

// RegisterAs registers a handler taking a typed request. A request whose data
// cannot be decoded as Req gets a failure response.
func RegisterAs[Req, Res any](b *Bridge, typ string, handler func(ctx context.Context, req Req, env Envelope) (Res, error)) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	return b.Register(typ, func(ctx context.Context, data any, env Envelope) (any, error) {
		req, err := Convert[Req](b.codec, data)
		if err != nil {
			return nil, fmt.Errorf("bad request data for %s: %w", typ, err)
		}
		return handler(ctx, req, env)
	})
}
