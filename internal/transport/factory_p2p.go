//go:build p2p

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/quorsig/quorsig/internal/transport/wire"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// BuildP2P constructs a libp2p+gossipsub transport when the 'p2p' tag is enabled.
func BuildP2P(cfg NetConfig) (Transport, error) {
	return &Libp2pTransport{cfg: cfg}, nil
}

// Libp2pTransport implements the Transport interface using libp2p + gossipsub.
type Libp2pTransport struct {
	cfg        NetConfig
	host       p2phost.Host
	ps         *pubsub.PubSub
	tCeremony  *pubsub.Topic
	tSign      *pubsub.Topic
	subCer     *pubsub.Subscription
	subSign    *pubsub.Subscription
	onCeremony func(wire.Ceremony)
	onSign     func(wire.Sign)
}

func (t *Libp2pTransport) Start(ctx context.Context) error {
	opts := []libp2p.Option{}
	if len(t.cfg.Listen) > 0 {
		var addrs []ma.Multiaddr
		for _, s := range t.cfg.Listen {
			if strings.TrimSpace(s) == "" {
				continue
			}
			a, err := ma.NewMultiaddr(s)
			if err != nil {
				return err
			}
			addrs = append(addrs, a)
		}
		if len(addrs) > 0 {
			opts = append(opts, libp2p.ListenAddrs(addrs...))
		}
	}
	if t.cfg.NAT {
		opts = append(opts, libp2p.NATPortMap())
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return err
	}
	t.host = h
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return err
	}
	t.ps = ps
	if t.tCeremony, err = ps.Join(wire.TopicCeremony); err != nil {
		return err
	}
	if t.tSign, err = ps.Join(wire.TopicSign); err != nil {
		return err
	}
	if t.subCer, err = t.tCeremony.Subscribe(); err != nil {
		return err
	}
	if t.subSign, err = t.tSign.Subscribe(); err != nil {
		return err
	}

	// connect bootnodes (best effort)
	for _, b := range t.cfg.Bootnodes {
		if strings.TrimSpace(b) == "" {
			continue
		}
		_ = connectOnce(ctx, h, b)
	}

	// Log self peer id and listen addrs for operators to copy into bootnode lists.
	for _, a := range h.Addrs() {
		logger.InfoJ("p2p_addr", map[string]any{"self_id": h.ID().String(), "addr": a.String()})
	}

	go t.loopCeremony(ctx)
	go t.loopSign(ctx)
	logger.InfoJ("transport", map[string]any{"mode": ModeP2P, "result": "ok"})
	return nil
}

func (t *Libp2pTransport) Stop(_ context.Context) error {
	if t.subCer != nil {
		t.subCer.Cancel()
	}
	if t.subSign != nil {
		t.subSign.Cancel()
	}
	if t.tCeremony != nil {
		_ = t.tCeremony.Close()
	}
	if t.tSign != nil {
		_ = t.tSign.Close()
	}
	if t.host != nil {
		return t.host.Close()
	}
	return nil
}

func (t *Libp2pTransport) BroadcastCeremony(_ context.Context, msg wire.Ceremony) error {
	if t.tCeremony == nil {
		return errors.New("p2p not started")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.tCeremony.Publish(context.Background(), b); err != nil {
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "tx", "result": "error"})
		return err
	}
	metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "tx", "result": "ok"})
	metrics.Inc(MetricBytesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "tx"})
	return nil
}

func (t *Libp2pTransport) BroadcastSign(_ context.Context, msg wire.Sign) error {
	if t.tSign == nil {
		return errors.New("p2p not started")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.tSign.Publish(context.Background(), b); err != nil {
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicSign, "direction": "tx", "result": "error"})
		return err
	}
	metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicSign, "direction": "tx", "result": "ok"})
	metrics.Inc(MetricBytesTotal, map[string]string{"topic": wire.TopicSign, "direction": "tx"})
	return nil
}

func (t *Libp2pTransport) OnCeremony(fn func(wire.Ceremony)) { t.onCeremony = fn }
func (t *Libp2pTransport) OnSign(fn func(wire.Sign))         { t.onSign = fn }

func (t *Libp2pTransport) loopCeremony(ctx context.Context) {
	for {
		m, err := t.subCer.Next(ctx)
		if err != nil {
			return
		}
		var w wire.Ceremony
		if err := json.Unmarshal(m.Data, &w); err != nil {
			metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "rx", "result": "decode_error"})
			continue
		}
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "rx", "result": "ok"})
		metrics.Inc(MetricBytesTotal, map[string]string{"topic": wire.TopicCeremony, "direction": "rx"})
		if t.onCeremony != nil {
			t.onCeremony(w)
		}
	}
}

func (t *Libp2pTransport) loopSign(ctx context.Context) {
	for {
		m, err := t.subSign.Next(ctx)
		if err != nil {
			return
		}
		var w wire.Sign
		if err := json.Unmarshal(m.Data, &w); err != nil {
			metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicSign, "direction": "rx", "result": "decode_error"})
			continue
		}
		metrics.Inc(MetricMessagesTotal, map[string]string{"topic": wire.TopicSign, "direction": "rx", "result": "ok"})
		metrics.Inc(MetricBytesTotal, map[string]string{"topic": wire.TopicSign, "direction": "rx"})
		if t.onSign != nil {
			t.onSign(w)
		}
	}
}

func connectOnce(ctx context.Context, h p2phost.Host, addr string) error {
	maAddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(maAddr)
	if err != nil {
		return err
	}
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.Connect(ctx2, *info)
}
