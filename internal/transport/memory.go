package transport

import (
	"context"
	"sync"

	"github.com/quorsig/quorsig/internal/transport/wire"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// Memory is an in-process fan-out hub. Join returns a Transport attached to
// the hub; every broadcast is delivered asynchronously to all joined
// transports, the sender included. It backs single-process committees and
// tests, where the full stack runs without network I/O.
type Memory struct {
	mu         sync.Mutex
	onCeremony []func(wire.Ceremony)
	onSign     []func(wire.Sign)
}

func NewMemory() *Memory { return &Memory{} }

// Join attaches a new endpoint to the hub.
func (m *Memory) Join() Transport { return &memTransport{hub: m} }

func (m *Memory) fanOutCeremony(msg wire.Ceremony) {
	m.mu.Lock()
	subs := append([]func(wire.Ceremony){}, m.onCeremony...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn := fn
		go fn(msg)
	}
}

func (m *Memory) fanOutSign(msg wire.Sign) {
	m.mu.Lock()
	subs := append([]func(wire.Sign){}, m.onSign...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn := fn
		go fn(msg)
	}
}

type memTransport struct{ hub *Memory }

func (t *memTransport) Start(_ context.Context) error { return nil }
func (t *memTransport) Stop(_ context.Context) error  { return nil }

func (t *memTransport) BroadcastCeremony(_ context.Context, msg wire.Ceremony) error {
	metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "tx", "result": "ok"})
	t.hub.fanOutCeremony(msg)
	return nil
}

func (t *memTransport) BroadcastSign(_ context.Context, msg wire.Sign) error {
	metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicSign, "direction": "tx", "result": "ok"})
	t.hub.fanOutSign(msg)
	return nil
}

func (t *memTransport) OnCeremony(fn func(wire.Ceremony)) {
	t.hub.mu.Lock()
	t.hub.onCeremony = append(t.hub.onCeremony, fn)
	t.hub.mu.Unlock()
}

func (t *memTransport) OnSign(fn func(wire.Sign)) {
	t.hub.mu.Lock()
	t.hub.onSign = append(t.hub.onSign, fn)
	t.hub.mu.Unlock()
}
