package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// RelayHub is the server half of the relay transport. It upgrades websocket
// connections and fans every received frame out to all other connections.
// Frames are opaque to the hub; topic routing happens on the clients.
type RelayHub struct {
	mu      sync.Mutex
	clients map[*relayClient]struct{}
}

type relayClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewRelayHub() *RelayHub {
	return &RelayHub{clients: make(map[*relayClient]struct{})}
}

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Committee auth happens at the message layer (signed frames), so any
	// origin may connect to the relay.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP upgrades the connection and pumps frames until the peer goes away.
func (h *RelayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := relayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnJ("relay", map[string]any{"result": "upgrade_error", "err": err.Error()})
		return
	}
	c := &relayClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetGauge(MetricRelayClients, nil, float64(n))
	logger.InfoJ("relay", map[string]any{"result": "client_joined", "clients": n})
	go c.writePump()
	h.readPump(c)
}

// ClientCount reports the number of connected clients.
func (h *RelayHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *RelayHub) readPump(c *relayClient) {
	defer h.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.fanOut(c, data)
	}
}

// fanOut delivers a frame to every client except the sender. Slow clients
// have frames dropped rather than stalling the hub; runners re-broadcast
// until acknowledged, so a dropped frame only delays progress.
func (h *RelayHub) fanOut(from *relayClient, data []byte) {
	h.mu.Lock()
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- data:
		default:
			metrics.Inc(MetricMessagesTotal, map[string]string{"topic": "relay", "direction": "tx", "result": "backpressure_drop"})
		}
	}
	h.mu.Unlock()
	metrics.Inc(MetricMessagesTotal, map[string]string{"topic": "relay", "direction": "rx", "result": "ok"})
}

func (h *RelayHub) drop(c *relayClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	_ = c.conn.Close()
	metrics.SetGauge(MetricRelayClients, nil, float64(n))
	logger.InfoJ("relay", map[string]any{"result": "client_left", "clients": n})
}

func (c *relayClient) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
