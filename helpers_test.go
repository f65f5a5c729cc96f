package xbridge_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xbridge"
	"github.com/trickstertwo/xbridge/adapter/memory"
)

// newParticipant builds a bridge for id on hub and closes it when the test ends.
func newParticipant(t *testing.T, hub *memory.Hub, id string, configure ...func(*xbridge.BridgeBuilder)) *xbridge.Bridge {
	t.Helper()
	bb := xbridge.NewBridgeBuilder().
		WithIdentity(id).
		WithTransportInstance(hub.Attach())
	for _, c := range configure {
		c(bb)
	}
	b, err := bb.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

type recorder struct {
	mu   sync.Mutex
	envs []xbridge.Envelope
}

func (r *recorder) handle(_ context.Context, env xbridge.Envelope) {
	r.record(env)
}

func (r *recorder) record(env xbridge.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) all() []xbridge.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]xbridge.Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recorder) ofType(typ string) []xbridge.Envelope {
	var out []xbridge.Envelope
	for _, env := range r.all() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}
