package xbridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBridgeClosed                = errors.New("xbridge: bridge closed")
	ErrNoIdentity                  = errors.New("xbridge: participant identity required")
	ErrNoTransportConfigured       = errors.New("xbridge: no transport configured")
	ErrInvalidType                 = errors.New("xbridge: envelope type must not be empty")
	ErrReservedType                = errors.New("xbridge: envelope type is reserved")
	ErrNilHandler                  = errors.New("xbridge: handler must not be nil")
	ErrHandlerExists               = errors.New("xbridge: request handler already registered")
	ErrHandlerPanic                = errors.New("xbridge: handler panic")
	ErrObserverPoolShutdownTimeout = errors.New("xbridge: observer pool shutdown timeout")
	ErrDefaultBridgeNotInitialized = errors.New("xbridge: default bridge not initialized")

	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("xbridge: rpc timeout")
	// ErrRemote matches every *RemoteError via errors.Is.
	ErrRemote = errors.New("xbridge: rpc remote error")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

// TimeoutError reports a request that got no response before its deadline.
type TimeoutError struct {
	Type  string
	After time.Duration
}

func (e *TimeoutError) Error() string { return "RPC timeout: " + e.Type }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError carries the failure description produced by a remote handler.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }
