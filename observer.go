package xbridge

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits bridge events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("envelope_type", e.EnvelopeType),
		xlog.Str("request_type", e.RequestType),
		xlog.Str("request_id", e.RequestID),
		xlog.Str("trace_id", e.TraceID),
		xlog.Str("source", e.Source),
		xlog.Str("target", e.Target),
	)
	switch e.Type {
	case EventError, EventReject, EventTimeout:
		ev.Warn().Err(e.Err).Msg("xbridge event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xbridge event")
	}
}
