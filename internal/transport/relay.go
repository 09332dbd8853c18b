package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quorsig/quorsig/internal/transport/wire"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// relayFrame wraps a topic message for transit through the relay. The hub
// never inspects Data; routing is by Topic only on the client side.
type relayFrame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// RelayTransport is a websocket client that exchanges topic frames through a
// central relay (RelayHub). It covers deployments where committee members sit
// behind NAT or firewalls that rule out direct peer connectivity.
type RelayTransport struct {
	url string

	mu         sync.Mutex
	conn       *websocket.Conn
	onCeremony func(wire.Ceremony)
	onSign     func(wire.Sign)
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewRelay(url string) *RelayTransport { return &RelayTransport{url: url} }

func (t *RelayTransport) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()
	go t.readLoop(runCtx, done)
	logger.InfoJ("transport", map[string]any{"mode": ModeRelay, "url": t.url, "result": "ok"})
	return nil
}

func (t *RelayTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	conn := t.conn
	done := t.done
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *RelayTransport) BroadcastCeremony(_ context.Context, msg wire.Ceremony) error {
	return t.publish(wire.TopicCeremony, msg)
}

func (t *RelayTransport) BroadcastSign(_ context.Context, msg wire.Sign) error {
	return t.publish(wire.TopicSign, msg)
}

func (t *RelayTransport) OnCeremony(fn func(wire.Ceremony)) {
	t.mu.Lock()
	t.onCeremony = fn
	t.mu.Unlock()
}

func (t *RelayTransport) OnSign(fn func(wire.Sign)) {
	t.mu.Lock()
	t.onSign = fn
	t.mu.Unlock()
}

func (t *RelayTransport) publish(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(relayFrame{Topic: topic, Data: data})
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return errors.New("relay not started")
	}
	// gorilla connections allow one concurrent writer; hold the lock across the write.
	err = conn.WriteMessage(websocket.TextMessage, frame)
	t.mu.Unlock()
	if err != nil {
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": topic, "direction": "tx", "result": "error"})
		return err
	}
	metrics.Inc(MetricMessagesTotal, map[string]string{"topic": topic, "direction": "tx", "result": "ok"})
	metrics.Inc(MetricBytesTotal, map[string]string{"topic": topic, "direction": "tx"})
	return nil
}

func (t *RelayTransport) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !t.redial(ctx) {
				return
			}
			continue
		}
		t.dispatch(data)
	}
}

// redial reconnects with a fixed backoff until it succeeds or the transport stops.
func (t *RelayTransport) redial(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
		if err != nil {
			logger.WarnJ("transport", map[string]any{"mode": ModeRelay, "result": "redial_error", "err": err.Error()})
			continue
		}
		t.mu.Lock()
		if t.cancel == nil { // stopped while dialing
			t.mu.Unlock()
			_ = conn.Close()
			return false
		}
		old := t.conn
		t.conn = conn
		t.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		logger.InfoJ("transport", map[string]any{"mode": ModeRelay, "result": "reconnected"})
		return true
	}
}

func (t *RelayTransport) dispatch(data []byte) {
	var f relayFrame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": "unknown", "direction": "rx", "result": "decode_error"})
		return
	}
	switch f.Topic {
	case wire.TopicCeremony:
		var m wire.Ceremony
		if err := json.Unmarshal(f.Data, &m); err != nil {
			metrics.Inc(MetricMessagesTotal, map[string]string{"topic": f.Topic, "direction": "rx", "result": "decode_error"})
			return
		}
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": f.Topic, "direction": "rx", "result": "ok"})
		metrics.Inc(MetricBytesTotal, map[string]string{"topic": f.Topic, "direction": "rx"})
		t.mu.Lock()
		fn := t.onCeremony
		t.mu.Unlock()
		if fn != nil {
			fn(m)
		}
	case wire.TopicSign:
		var m wire.Sign
		if err := json.Unmarshal(f.Data, &m); err != nil {
			metrics.Inc(MetricMessagesTotal, map[string]string{"topic": f.Topic, "direction": "rx", "result": "decode_error"})
			return
		}
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": f.Topic, "direction": "rx", "result": "ok"})
		metrics.Inc(MetricBytesTotal, map[string]string{"topic": f.Topic, "direction": "rx"})
		t.mu.Lock()
		fn := t.onSign
		t.mu.Unlock()
		if fn != nil {
			fn(m)
		}
	default:
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": f.Topic, "direction": "rx", "result": "drop"})
	}
}
