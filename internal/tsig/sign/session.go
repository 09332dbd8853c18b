package sign

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/quorsig/quorsig/internal/transport/wire"
	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// SignTransport is the slice of the node transport signing sessions need.
type SignTransport interface {
	BroadcastSign(ctx context.Context, msg wire.Sign) error
	OnSign(fn func(wire.Sign))
}

// Authenticator signs outbound session messages and checks inbound ones
// against the sender's committee identity. Payloads are the JSON encoding of
// the message with its Sig field nilled.
type Authenticator interface {
	Sign(payload []byte) ([]byte, error)
	Verify(from uint32, payload, sig []byte) bool
}

// NoopAuthenticator accepts everything; for single-process wiring and tests.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Sign(payload []byte) ([]byte, error) { return nil, nil }
func (NoopAuthenticator) Verify(uint32, []byte, []byte) bool  { return true }

// ManagerConfig fixes one node's signing state for a key epoch. A rotation
// builds a fresh Manager from the new key material.
type ManagerConfig struct {
	Adapter   curve.Adapter
	SelfIndex uint32
	Threshold uint32

	// Secret is this node's key share; nil on combine-only nodes.
	Secret       curve.Scalar
	MasterPublic curve.Point
	PublicShares map[uint32]curve.Point

	Canonical bool
	// Timeout bounds each session; default 10s.
	Timeout time.Duration
	// RetryInterval paces the requester's re-broadcasts; default 500ms.
	RetryInterval time.Duration
	// MaxSessions caps concurrent requester sessions; 0 disables the cap.
	MaxSessions int64

	Clock clock.Clock
	Rand  io.Reader
}

type session struct {
	id        string
	msgHash   []byte
	subset    []uint32
	requester bool

	nonce       *Nonce
	nonces      map[uint32]curve.Point
	sentPartial bool
	partials    map[uint32]PartialSignature

	deadline time.Time
	finished bool
	sig      []byte
	err      error
	done     chan struct{}
}

// Manager runs signing sessions over a gossip transport. One node requests a
// signature over a fixed signer subset; subset members respond with nonce
// commitments and partial signatures, and the requester combines them. For
// Schnorr schemes the subset is pinned for the whole session because every
// response binds the challenge over exactly that set; a member that drops out
// fails the session and the caller retries with a different subset.
type Manager struct {
	cfg  ManagerConfig
	ad   curve.Adapter
	tr   SignTransport
	auth Authenticator
	clk  clock.Clock
	rng  io.Reader
	lim  *Limiter

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(cfg ManagerConfig, tr SignTransport, auth Authenticator) (*Manager, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("sign: nil adapter")
	}
	if tr == nil {
		return nil, errors.New("sign: nil transport")
	}
	if cfg.Threshold == 0 {
		return nil, errors.New("sign: zero threshold")
	}
	if len(cfg.MasterPublic) == 0 {
		return nil, errors.New("sign: missing master public key")
	}
	if auth == nil {
		auth = NoopAuthenticator{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.Reader
	}
	return &Manager{
		cfg:      cfg,
		ad:       cfg.Adapter,
		tr:       tr,
		auth:     auth,
		clk:      clk,
		rng:      rng,
		lim:      NewLimiter(cfg.MaxSessions),
		sessions: make(map[string]*session),
	}, nil
}

// Start installs the transport handler and the expiry janitor. The manager
// stops serving when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.tr.OnSign(func(msg wire.Sign) { m.OnMessage(ctx, msg) })
	go m.janitor(ctx)
	return nil
}

func (m *Manager) janitor(ctx context.Context) {
	t := m.clk.Ticker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := m.clk.Now()
			m.mu.Lock()
			for id, s := range m.sessions {
				// Requester sessions are removed by Request itself.
				if !s.requester && now.After(s.deadline) {
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Request signs msgHash with the given signer subset and blocks until the
// combined signature is ready, the session times out, or ctx is cancelled.
func (m *Manager) Request(ctx context.Context, msgHash []byte, subset []uint32) ([]byte, error) {
	if len(msgHash) == 0 {
		return nil, errors.New("sign: empty message hash")
	}
	subset = normalizeSubset(subset)
	if len(subset) < int(m.cfg.Threshold) {
		return nil, &InsufficientError{Have: len(subset), Need: int(m.cfg.Threshold)}
	}
	for _, id := range subset {
		if _, ok := m.cfg.PublicShares[id]; !ok {
			return nil, &MalformedError{Signer: id, Detail: "no public share for signer"}
		}
	}
	if !m.lim.TryOpen() {
		return nil, ErrBusy
	}
	defer m.lim.Close()

	s := &session{
		id:        uuid.NewString(),
		msgHash:   append([]byte(nil), msgHash...),
		subset:    subset,
		requester: true,
		nonces:    make(map[uint32]curve.Point, len(subset)),
		partials:  make(map[uint32]PartialSignature, len(subset)),
		deadline:  m.clk.Now().Add(m.cfg.Timeout),
		done:      make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
	}()

	logger.InfoJ("tsig_sign", map[string]any{
		"event":   "session_start",
		"session": s.id,
		"subset":  len(subset),
	})
	m.broadcastRequest(ctx, s)
	m.mu.Lock()
	m.joinLocked(ctx, s)
	m.combineLocked(s)
	m.mu.Unlock()

	timer := m.clk.Timer(m.cfg.Timeout)
	defer timer.Stop()
	tick := m.clk.Ticker(m.cfg.RetryInterval)
	defer tick.Stop()
	for {
		select {
		case <-s.done:
			if s.err != nil {
				metrics.Inc("tsig_sign_total", map[string]string{"result": "error"})
				return nil, s.err
			}
			metrics.Inc("tsig_sign_total", map[string]string{"result": "ok"})
			return s.sig, nil
		case <-ctx.Done():
			metrics.Inc("tsig_sign_total", map[string]string{"result": "cancelled"})
			return nil, ErrCancelled
		case <-timer.C:
			m.mu.Lock()
			have := len(s.partials)
			m.mu.Unlock()
			metrics.Inc("tsig_sign_total", map[string]string{"result": "timeout"})
			return nil, &InsufficientError{Have: have, Need: m.required(s)}
		case <-tick.C:
			m.broadcastRequest(ctx, s)
			m.mu.Lock()
			m.resendLocked(ctx, s)
			m.mu.Unlock()
		}
	}
}

// required is how many partials this session must gather: every subset member
// for Schnorr, the threshold for BLS.
func (m *Manager) required(s *session) int {
	if m.ad.Scheme() == curve.SchemeBLS {
		return int(m.cfg.Threshold)
	}
	return len(s.subset)
}

func (m *Manager) broadcastRequest(ctx context.Context, s *session) {
	msg := wire.Sign{
		SessionID: s.id,
		Type:      wire.SignRequest,
		FromIndex: m.cfg.SelfIndex,
		MsgHash:   s.msgHash,
		Subset:    s.subset,
	}
	m.send(ctx, msg)
}

func (m *Manager) send(ctx context.Context, msg wire.Sign) {
	signed, err := m.signMessage(msg)
	if err != nil {
		return
	}
	_ = m.tr.BroadcastSign(ctx, signed)
}

func (m *Manager) signMessage(msg wire.Sign) (wire.Sign, error) {
	msg.Sig = nil
	payload, err := json.Marshal(msg)
	if err != nil {
		return wire.Sign{}, err
	}
	sig, err := m.auth.Sign(payload)
	if err != nil {
		return wire.Sign{}, err
	}
	msg.Sig = sig
	return msg, nil
}

func (m *Manager) verifyMessage(msg wire.Sign) bool {
	sig := msg.Sig
	msg.Sig = nil
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return m.auth.Verify(msg.FromIndex, payload, sig)
}

// OnMessage dispatches one session message. Own broadcasts are handled
// locally at send time, so loopback deliveries are dropped here.
func (m *Manager) OnMessage(ctx context.Context, msg wire.Sign) {
	if msg.SessionID == "" || msg.Type == "" {
		return
	}
	if msg.FromIndex == m.cfg.SelfIndex {
		return
	}
	if !m.verifyMessage(msg) {
		metrics.Inc("tsig_sign_msgs_total", map[string]string{"result": "bad_sig"})
		return
	}
	metrics.Inc("tsig_sign_msgs_total", map[string]string{"result": "ok"})

	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg.Type {
	case wire.SignRequest:
		m.onRequestLocked(ctx, msg)
	case wire.SignNonce:
		m.onNonceLocked(ctx, msg)
	case wire.SignPartial:
		m.onPartialLocked(msg)
	}
}

func (m *Manager) onRequestLocked(ctx context.Context, msg wire.Sign) {
	if s, ok := m.sessions[msg.SessionID]; ok {
		// Duplicate request: re-send whatever we already contributed so a
		// lossy transport converges.
		m.resendLocked(ctx, s)
		return
	}
	if len(msg.MsgHash) == 0 {
		return
	}
	subset := normalizeSubset(msg.Subset)
	if len(subset) < int(m.cfg.Threshold) {
		return
	}
	s := &session{
		id:       msg.SessionID,
		msgHash:  append([]byte(nil), msg.MsgHash...),
		subset:   subset,
		nonces:   make(map[uint32]curve.Point, len(subset)),
		partials: make(map[uint32]PartialSignature, len(subset)),
		deadline: m.clk.Now().Add(m.cfg.Timeout),
		done:     make(chan struct{}),
	}
	m.sessions[s.id] = s
	m.joinLocked(ctx, s)
}

// joinLocked contributes this node's share to the session, if it is in the
// subset and holds one.
func (m *Manager) joinLocked(ctx context.Context, s *session) {
	if !containsIndex(s.subset, m.cfg.SelfIndex) {
		return
	}
	if m.cfg.Secret == nil {
		logger.WarnJ("tsig_sign", map[string]any{
			"event":   "in_subset_without_share",
			"session": s.id,
		})
		return
	}
	if m.ad.Scheme() == curve.SchemeBLS {
		if _, ok := s.partials[m.cfg.SelfIndex]; ok {
			return
		}
		part, err := BLSPartial(m.ad, m.cfg.SelfIndex, s.msgHash, m.cfg.Secret)
		if err != nil {
			return
		}
		s.partials[m.cfg.SelfIndex] = part
		m.send(ctx, wire.Sign{
			SessionID: s.id,
			Type:      wire.SignPartial,
			FromIndex: m.cfg.SelfIndex,
			Value:     part.Value,
		})
		return
	}
	if s.nonce == nil {
		n, err := NewNonce(m.ad, m.rng)
		if err != nil {
			return
		}
		s.nonce = n
		s.nonces[m.cfg.SelfIndex] = n.Commitment()
	}
	m.send(ctx, wire.Sign{
		SessionID:       s.id,
		Type:            wire.SignNonce,
		FromIndex:       m.cfg.SelfIndex,
		NonceCommitment: s.nonce.Commitment(),
	})
	m.maybeRespondLocked(ctx, s)
}

// resendLocked re-broadcasts this node's current contributions.
func (m *Manager) resendLocked(ctx context.Context, s *session) {
	if s.finished {
		return
	}
	if s.nonce != nil {
		m.send(ctx, wire.Sign{
			SessionID:       s.id,
			Type:            wire.SignNonce,
			FromIndex:       m.cfg.SelfIndex,
			NonceCommitment: s.nonce.Commitment(),
		})
	}
	if part, ok := s.partials[m.cfg.SelfIndex]; ok {
		m.send(ctx, wire.Sign{
			SessionID:       s.id,
			Type:            wire.SignPartial,
			FromIndex:       m.cfg.SelfIndex,
			Value:           part.Value,
			NonceCommitment: part.NonceCommitment,
		})
	}
}

func (m *Manager) onNonceLocked(ctx context.Context, msg wire.Sign) {
	s, ok := m.sessions[msg.SessionID]
	if !ok || s.finished {
		return
	}
	if !containsIndex(s.subset, msg.FromIndex) {
		return
	}
	if m.ad.ValidatePoint(msg.NonceCommitment) != nil {
		return
	}
	// First commitment wins; a sender changing its nonce mid-session would
	// split the subset over two challenges.
	if _, ok := s.nonces[msg.FromIndex]; ok {
		return
	}
	s.nonces[msg.FromIndex] = curve.Point(msg.NonceCommitment).Clone()
	m.maybeRespondLocked(ctx, s)
}

// maybeRespondLocked sends our Schnorr response once every subset nonce is in.
func (m *Manager) maybeRespondLocked(ctx context.Context, s *session) {
	if s.sentPartial || s.nonce == nil || s.finished {
		return
	}
	if len(s.nonces) < len(s.subset) {
		return
	}
	aggNonce, err := AggregateNonces(m.ad, s.nonces, s.subset)
	if err != nil {
		return
	}
	challenge := Challenge(m.ad, aggNonce, m.cfg.MasterPublic, s.msgHash)
	part, err := SchnorrPartial(m.ad, m.cfg.SelfIndex, s.nonce, challenge, m.cfg.Secret)
	if err != nil {
		return
	}
	s.sentPartial = true
	s.partials[m.cfg.SelfIndex] = part
	m.send(ctx, wire.Sign{
		SessionID:       s.id,
		Type:            wire.SignPartial,
		FromIndex:       m.cfg.SelfIndex,
		Value:           part.Value,
		NonceCommitment: part.NonceCommitment,
	})
	m.combineLocked(s)
}

func (m *Manager) onPartialLocked(msg wire.Sign) {
	s, ok := m.sessions[msg.SessionID]
	if !ok || s.finished || !s.requester {
		return
	}
	if !containsIndex(s.subset, msg.FromIndex) {
		return
	}
	if _, ok := s.partials[msg.FromIndex]; ok {
		return
	}
	s.partials[msg.FromIndex] = PartialSignature{
		SignerID:        msg.FromIndex,
		Value:           append([]byte(nil), msg.Value...),
		NonceCommitment: append([]byte(nil), msg.NonceCommitment...),
	}
	m.combineLocked(s)
}

// combineLocked attempts the final combination on the requester's session.
func (m *Manager) combineLocked(s *session) {
	if !s.requester || s.finished {
		return
	}
	if len(s.partials) < m.required(s) {
		return
	}
	parts := make([]PartialSignature, 0, len(s.partials))
	for _, id := range s.subset {
		if p, ok := s.partials[id]; ok {
			parts = append(parts, p)
		}
	}
	sig, err := Combine(m.ad, Params{
		MsgHash:      s.msgHash,
		MasterPublic: m.cfg.MasterPublic,
		PublicShares: m.cfg.PublicShares,
		Threshold:    int(m.cfg.Threshold),
		Canonical:    m.cfg.Canonical,
	}, parts)
	if err != nil {
		var ie *InsufficientError
		if errors.As(err, &ie) {
			// More partials may still arrive.
			return
		}
		s.finished = true
		s.err = err
		close(s.done)
		logger.WarnJ("tsig_sign", map[string]any{
			"event":   "session_failed",
			"session": s.id,
			"err":     err.Error(),
		})
		return
	}
	s.finished = true
	s.sig = sig
	close(s.done)
	logger.InfoJ("tsig_sign", map[string]any{
		"event":   "session_ok",
		"session": s.id,
		"signers": len(parts),
	})
}

func normalizeSubset(subset []uint32) []uint32 {
	if len(subset) == 0 {
		return nil
	}
	out := append([]uint32(nil), subset...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	dedup := out[:0]
	var last uint32
	for i, id := range out {
		if id == 0 {
			continue
		}
		if i > 0 && id == last {
			continue
		}
		dedup = append(dedup, id)
		last = id
	}
	return dedup
}

func containsIndex(subset []uint32, id uint32) bool {
	for _, s := range subset {
		if s == id {
			return true
		}
	}
	return false
}
