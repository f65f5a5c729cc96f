package xbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Codec is the Strategy for encoding/decoding payloads. The bridge keeps
// payloads as values in-process; the codec is used when a payload has to be
// reshaped (typed decoding, envelopes that crossed a serialization boundary)
// or rendered for debug tracing.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// Convert returns v as a T. Values that already are a T (or *T) are returned
// as is; anything else is re-encoded through c, which is how payloads that
// arrive as generic maps become typed values.
func Convert[T any](c Codec, v any) (T, error) {
	switch t := v.(type) {
	case T:
		return t, nil
	case *T:
		if t != nil {
			return *t, nil
		}
	}
	var out T
	if v == nil {
		return out, nil
	}
	if c == nil {
		c = JSONCodec{}
	}
	data, err := c.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("xbridge: encode %T: %w", v, err)
	}
	if err := c.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("xbridge: decode into %T: %w", out, err)
	}
	return out, nil
}

// Decode converts env.Payload into T using c.
func Decode[T any](c Codec, env Envelope) (T, error) {
	return Convert[T](c, env.Payload)
}
