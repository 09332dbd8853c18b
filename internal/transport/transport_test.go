package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorsig/quorsig/internal/transport/wire"
)

func TestMemoryHub_FanOut(t *testing.T) {
	hub := NewMemory()
	a := hub.Join()
	b := hub.Join()

	var gotCeremony, gotSign int64
	a.OnCeremony(func(m wire.Ceremony) {
		if m.SessionID == "sess" && m.Type == wire.CeremonyCommitments {
			atomic.AddInt64(&gotCeremony, 1)
		}
	})
	b.OnCeremony(func(m wire.Ceremony) {
		if m.SessionID == "sess" && m.Type == wire.CeremonyCommitments {
			atomic.AddInt64(&gotCeremony, 1)
		}
	})
	b.OnSign(func(m wire.Sign) {
		if m.Type == wire.SignPartial {
			atomic.AddInt64(&gotSign, 1)
		}
	})

	ctx := context.Background()
	if err := a.BroadcastCeremony(ctx, wire.Ceremony{SessionID: "sess", Type: wire.CeremonyCommitments, FromIndex: 1}); err != nil {
		t.Fatalf("broadcast ceremony: %v", err)
	}
	if err := a.BroadcastSign(ctx, wire.Sign{SessionID: "sess", Type: wire.SignPartial, FromIndex: 1}); err != nil {
		t.Fatalf("broadcast sign: %v", err)
	}

	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		// The hub delivers to every joined endpoint, the sender included.
		if atomic.LoadInt64(&gotCeremony) == 2 && atomic.LoadInt64(&gotSign) == 1 {
			return
		}
		select {
		case <-deadline.C:
			t.Fatalf("fan-out incomplete: ceremony=%d sign=%d", atomic.LoadInt64(&gotCeremony), atomic.LoadInt64(&gotSign))
		case <-tick.C:
		}
	}
}

func TestNoopTransport_Satisfies(t *testing.T) {
	var tr Transport = &NoopTransport{}
	ctx := context.Background()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.OnCeremony(func(wire.Ceremony) {})
	tr.OnSign(func(wire.Sign) {})
	if err := tr.BroadcastCeremony(ctx, wire.Ceremony{}); err != nil {
		t.Fatalf("broadcast ceremony: %v", err)
	}
	if err := tr.BroadcastSign(ctx, wire.Sign{}); err != nil {
		t.Fatalf("broadcast sign: %v", err)
	}
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNew_ModeSelection(t *testing.T) {
	for _, mode := range []string{"", ModeNone, "bogus"} {
		tr, err := New(NetConfig{Mode: mode})
		if err != nil {
			t.Fatalf("mode %q: %v", mode, err)
		}
		if _, ok := tr.(*NoopTransport); !ok {
			t.Fatalf("mode %q: expected NoopTransport, got %T", mode, tr)
		}
	}
	tr, err := New(NetConfig{Mode: ModeRelay, RelayURL: "ws://127.0.0.1:0/v1/relay"})
	if err != nil {
		t.Fatalf("relay mode: %v", err)
	}
	if _, ok := tr.(*RelayTransport); !ok {
		t.Fatalf("relay mode: expected RelayTransport, got %T", tr)
	}
}
