package xbridge

import (
	"time"
)

// Reserved envelope types. Applications must not use the rpc:* names for
// their own messages.
const (
	TypeRPCRequest  = "rpc:req"
	TypeRPCResponse = "rpc:res"
	TypeReady       = "mfe:ready"
	TypeMounted     = "mfe:mounted"
)

// DefaultRequestTimeout bounds a Request when no WithTimeout option is given.
const DefaultRequestTimeout = 8 * time.Second

// Envelope is the unit traveling the bridge. Handlers receive it by value.
type Envelope struct {
	// Type identifies the message kind.
	Type string `json:"type"`
	// Payload is opaque to the bridge; its meaning is defined by Type.
	Payload any `json:"payload"`
	// Meta is stamped by the emitting bridge.
	Meta Meta `json:"meta"`
}

// Meta carries routing and tracing metadata for an Envelope.
type Meta struct {
	// Source is the identity of the emitting participant.
	Source string `json:"source"`
	// Timestamp is the emission time (from injected clock).
	Timestamp time.Time `json:"ts"`
	// TraceID follows a request/response pair end-to-end.
	TraceID string `json:"traceId,omitempty"`
	// Target restricts delivery to a single participant.
	Target string `json:"target,omitempty"`
	// Broadcast delivers to every participant except the source, overriding Target.
	Broadcast bool `json:"broadcast,omitempty"`
}

// RPCRequest is the payload of a TypeRPCRequest envelope.
type RPCRequest struct {
	RequestID string `json:"requestId"`
	ReqType   string `json:"reqType"`
	Data      any    `json:"data,omitempty"`
}

// RPCResponse is the payload of a TypeRPCResponse envelope.
type RPCResponse struct {
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Lifecycle is the payload of TypeReady and TypeMounted announcements.
type Lifecycle struct {
	ID string `json:"id"`
}

// IsReserved reports whether name is one of the bridge's own envelope types.
func IsReserved(name string) bool {
	switch name {
	case TypeRPCRequest, TypeRPCResponse, TypeReady, TypeMounted:
		return true
	}
	return false
}

// EmitOption overrides metadata on an outbound envelope. Options run after
// the defaults are filled, so they win. Source cannot be overridden.
type EmitOption func(*Meta)

// WithTarget addresses the envelope to a single participant.
func WithTarget(id string) EmitOption {
	return func(m *Meta) { m.Target = id }
}

// WithBroadcast sets or clears the broadcast flag.
func WithBroadcast(on bool) EmitOption {
	return func(m *Meta) { m.Broadcast = on }
}

// WithTraceID reuses an existing trace id instead of generating one.
func WithTraceID(id string) EmitOption {
	return func(m *Meta) {
		if id != "" {
			m.TraceID = id
		}
	}
}
