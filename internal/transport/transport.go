package transport

import (
	"context"

	"github.com/quorsig/quorsig/internal/transport/wire"
)

// Transport defines the minimal pubsub abstraction used by the node.
// Implementations with real network dependencies (libp2p+gossipsub) live
// behind feature flags; the websocket relay client and the in-process hub
// are always available.
type Transport interface {
	// Start brings up the network stack and subscriptions.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the network stack and subscriptions.
	Stop(ctx context.Context) error

	// BroadcastCeremony publishes a key-ceremony message to the ceremony topic.
	BroadcastCeremony(ctx context.Context, msg wire.Ceremony) error
	// BroadcastSign publishes a signing-session message to the sign topic.
	BroadcastSign(ctx context.Context, msg wire.Sign) error

	// OnCeremony registers a handler invoked on each inbound ceremony message.
	OnCeremony(fn func(wire.Ceremony))
	// OnSign registers a handler invoked on each inbound signing message.
	OnSign(fn func(wire.Sign))
}

// NoopTransport is a stub implementation used when networking is disabled.
// It satisfies the interface without performing any network I/O.
type NoopTransport struct {
	onCeremony func(wire.Ceremony)
	onSign     func(wire.Sign)
}

func (n *NoopTransport) Start(_ context.Context) error { return nil }
func (n *NoopTransport) Stop(_ context.Context) error  { return nil }

func (n *NoopTransport) BroadcastCeremony(_ context.Context, _ wire.Ceremony) error { return nil }
func (n *NoopTransport) BroadcastSign(_ context.Context, _ wire.Sign) error         { return nil }

func (n *NoopTransport) OnCeremony(fn func(wire.Ceremony)) { n.onCeremony = fn }
func (n *NoopTransport) OnSign(fn func(wire.Sign))         { n.onSign = fn }
