package dkg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// EngineConfig controls the ceremony registry.
type EngineConfig struct {
	Adapter      curve.Adapter
	Threshold    uint32
	Participants uint32
	SelfIndex    uint32
	// Timeout applies to every ceremony the engine initiates.
	Timeout time.Duration
	Clock   clock.Clock
	// Store, when set, receives the key share on finalize.
	Store *KeyStore
}

// Engine tracks concurrent ceremonies by session id: one group configuration,
// many sessions (initial generation, retries under fresh ids, rotations).
type Engine struct {
	mu         sync.Mutex
	cfg        EngineConfig
	ceremonies map[string]*Ceremony
}

var ErrUnknownSession = errors.New("dkg: unknown session")

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Adapter == nil || cfg.Threshold == 0 || cfg.Participants == 0 || cfg.Threshold > cfg.Participants {
		return nil, ErrInvalidParams
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Engine{cfg: cfg, ceremonies: make(map[string]*Ceremony)}, nil
}

// Init registers a new ceremony under id, minting one when empty. Re-using a
// live session id returns the existing ceremony.
func (e *Engine) Init(id string, epoch uint64) (*Ceremony, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != "" {
		if c, ok := e.ceremonies[id]; ok {
			return c, nil
		}
	}
	c, err := NewCeremony(e.cfg.Adapter, CeremonyParams{
		ID:           id,
		Epoch:        epoch,
		Threshold:    e.cfg.Threshold,
		Participants: e.cfg.Participants,
		SelfIndex:    e.cfg.SelfIndex,
		Timeout:      e.cfg.Timeout,
		Clock:        e.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	e.ceremonies[c.ID()] = c
	metrics.AddGauge("tsig_ceremonies_open", nil, 1)
	return c, nil
}

func (e *Engine) Get(id string) (*Ceremony, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.ceremonies[id]
	return c, ok
}

// Finalize completes a ceremony and persists the share when a store is
// configured. The ceremony stays registered so its status remains queryable.
func (e *Engine) Finalize(ctx context.Context, id string) (*Result, error) {
	c, ok := e.Get(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	res, err := c.Finalize()
	if err != nil {
		return nil, err
	}
	if e.cfg.Store != nil {
		rec := KeyShareRecord{
			Curve:            e.cfg.Adapter.ID(),
			Index:            res.Index,
			Threshold:        res.Threshold,
			Participants:     res.Participants,
			Epoch:            res.Epoch,
			Secret:           res.SecretShare,
			MasterPublic:     res.MasterPublic,
			GroupCommitments: pointsToBytes(res.GroupCommitments),
			Qualified:        res.Qualified,
			CreatedAt:        e.cfg.Clock.Now().Unix(),
		}
		if err := e.cfg.Store.SaveKeyShare(ctx, rec); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Abort cancels a live ceremony.
func (e *Engine) Abort(id, detail string) error {
	c, ok := e.Get(id)
	if !ok {
		return ErrUnknownSession
	}
	c.Abort(detail)
	metrics.Inc("tsig_ceremonies_total", map[string]string{"result": "aborted"})
	return nil
}

// Drop forgets a ceremony.
func (e *Engine) Drop(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.ceremonies[id]; ok {
		delete(e.ceremonies, id)
		metrics.AddGauge("tsig_ceremonies_open", nil, -1)
	}
}

// Sweep drops expired ceremonies and returns their ids. Callers retry under
// fresh session ids.
func (e *Engine) Sweep() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var expired []string
	for id, c := range e.ceremonies {
		if c.Expired() {
			expired = append(expired, id)
			delete(e.ceremonies, id)
			metrics.AddGauge("tsig_ceremonies_open", nil, -1)
			metrics.Inc("tsig_ceremonies_total", map[string]string{"result": "timeout"})
		}
	}
	return expired
}

// Statuses snapshots every registered ceremony.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, 0, len(e.ceremonies))
	for _, c := range e.ceremonies {
		out = append(out, c.Snapshot())
	}
	return out
}

func pointsToBytes(in []curve.Point) [][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(in))
	for _, p := range in {
		out = append(out, append([]byte(nil), p...))
	}
	return out
}
