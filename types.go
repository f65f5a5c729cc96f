package xbridge

import (
	"time"
)

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	EventEmit    EventType = "emit"
	EventDeliver EventType = "deliver"
	EventRequest EventType = "request"
	EventResolve EventType = "resolve"
	EventReject  EventType = "reject"
	EventTimeout EventType = "timeout"
	EventRespond EventType = "respond"
	EventError   EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type         EventType
	EnvelopeType string
	RequestType  string
	RequestID    string
	TraceID      string
	Source       string
	Target       string
	Duration     time.Duration
	Err          error
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for a bridge.
type Metrics struct {
	Emitted        uint64
	Delivered      uint64
	Requests       uint64
	Resolved       uint64
	Rejected       uint64
	TimedOut       uint64
	Responded      uint64
	Errors         uint64
	Pending        int
	EventsDropped  uint64
	AvgRoundTripMs float64
}

// HealthStatus indicates bridge health.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
