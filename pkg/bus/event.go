package bus

import (
	"context"
)

type Kind string

const (
	// KindCeremony represents an inbound key-generation ceremony message
	// delivered from the network transport into the internal bus.
	KindCeremony Kind = "ceremony"
	// KindSign represents an inbound signing-session message.
	KindSign Kind = "sign"
	// KindRotation is emitted when a rotation ceremony finalizes.
	KindRotation Kind = "rotation"
)

type Event struct {
	Kind    Kind
	Session string
	Epoch   uint64
	Body    any
	TraceID string
}

type Subscriber chan Event

type Bus struct {
	pub chan Event
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{pub: make(chan Event, size)}
}

func (b *Bus) Publish(_ context.Context, ev Event) {
	select {
	case b.pub <- ev:
	default: /* drop on backpressure */
	}
}

func (b *Bus) Subscribe() Subscriber { return b.pub }
