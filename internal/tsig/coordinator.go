package tsig

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quorsig/quorsig/internal/transport"
	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
	"github.com/quorsig/quorsig/internal/tsig/sign"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// State is the coordinator's node-level key state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateKeysGenerated State = "keys_generated"
	StateRotatingKeys  State = "rotating_keys"
)

// ThresholdSignature is a combined signature plus the hash it covers. It
// verifies with the curve's ordinary single-key verification; nothing marks
// it as threshold-produced.
type ThresholdSignature struct {
	Value       []byte `json:"value"`
	MessageHash []byte `json:"message_hash"`
}

// MessageHash fixes the message digest every signing and verification path
// uses.
func MessageHash(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}

// KeyStore persists this node's key share across restarts. The coordinator
// hands the finalized share over after generation and rotation and reads it
// back at construction; it never persists key material itself.
type KeyStore interface {
	SaveKeyShare(ctx context.Context, rec dkg.KeyShareRecord) error
	LoadKeyShare(ctx context.Context) (dkg.KeyShareRecord, error)
}

// Deps are the coordinator's injected collaborators. Transport is required;
// everything else has a working default.
type Deps struct {
	Transport transport.Transport
	KeyStore  KeyStore
	// Committee, when set, makes GenerateDistributedKeys run the networked
	// ceremony runner instead of the in-process dealer simulation.
	Committee *dkg.CommitteeConfig
	// Auth signs and checks signing-session messages; defaults to accepting
	// everything, which is only safe on a trusted transport.
	Auth sign.Authenticator
	Sink ResultSink

	Clock clock.Clock
	Rand  io.Reader
}

// Coordinator owns one node's ceremony and key-share state and exposes the
// threshold-signature operations. All dependencies are injected; there is no
// package-level state. Safe for concurrent use: signing holds a read lock for
// its whole duration, rotation a write lock, so a rotation can never swap the
// share out from under a half-finished signature.
type Coordinator struct {
	cfg  Config
	ad   curve.Adapter
	tr   transport.Transport
	ks   KeyStore
	com  *dkg.CommitteeConfig
	auth sign.Authenticator
	sink ResultSink
	clk  clock.Clock
	rng  io.Reader
	eng  *dkg.Engine

	mu           sync.RWMutex
	state        State
	epoch        uint64
	share        curve.Scalar
	masterPub    curve.Point
	groupComs    []curve.Point
	publicShares map[uint32]curve.Point
	qualified    []uint32
	history      *lru.Cache[uint64, curve.Point]
	mgr          *sign.Manager
	mgrCancel    context.CancelFunc
}

// New validates the configuration, wires the dependencies and, when the
// keystore holds a share from an earlier run, restores it so the node comes
// back in KeysGenerated without a fresh ceremony.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ad, err := curve.ByID(cfg.Curve)
	if err != nil {
		return nil, &ConfigurationError{Field: "curve", Reason: err.Error()}
	}
	if deps.Transport == nil {
		return nil, &ConfigurationError{Field: "transport", Reason: "required"}
	}
	if deps.Committee != nil {
		if err := deps.Committee.Validate(); err != nil {
			return nil, &ConfigurationError{Field: "committee", Reason: err.Error()}
		}
		if deps.KeyStore == nil {
			return nil, &ConfigurationError{Field: "keystore", Reason: "required with a committee"}
		}
	}
	hist, err := lru.New[uint64, curve.Point](cfg.KeyHistory)
	if err != nil {
		return nil, &ConfigurationError{Field: "key_history", Reason: err.Error()}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.Reader
	}
	snk := deps.Sink
	if snk == nil {
		snk = noopSink{}
	}
	auth := deps.Auth
	if auth == nil {
		auth = sign.NoopAuthenticator{}
	}
	eng, err := dkg.NewEngine(dkg.EngineConfig{
		Adapter:      ad,
		Threshold:    cfg.Threshold,
		Participants: cfg.Participants,
		SelfIndex:    cfg.SelfIndex,
		Timeout:      cfg.CeremonyTimeout,
		Clock:        clk,
	})
	if err != nil {
		return nil, &ConfigurationError{Field: "threshold", Reason: err.Error()}
	}

	c := &Coordinator{
		cfg:     cfg,
		ad:      ad,
		tr:      deps.Transport,
		ks:      deps.KeyStore,
		com:     deps.Committee,
		auth:    auth,
		sink:    snk,
		clk:     clk,
		rng:     rng,
		eng:     eng,
		state:   StateUninitialized,
		history: hist,
	}
	c.restore(context.Background())
	return c, nil
}

// restore loads a persisted key share, if any. A record for a different curve
// or with an invalid share is ignored with a warning rather than refusing to
// start; the operator reruns the ceremony.
func (c *Coordinator) restore(ctx context.Context) {
	if c.ks == nil {
		return
	}
	rec, err := c.ks.LoadKeyShare(ctx)
	if err != nil {
		if !errors.Is(err, dkg.ErrNotFound) {
			logger.WarnJ("tsig_coordinator", map[string]any{
				"event": "keystore_load_failed",
				"err":   err.Error(),
			})
		}
		return
	}
	res, err := c.resultFromRecord(rec)
	if err != nil {
		logger.WarnJ("tsig_coordinator", map[string]any{
			"event": "keystore_record_ignored",
			"err":   err.Error(),
		})
		return
	}
	c.mu.Lock()
	c.installLocked(res)
	c.mu.Unlock()
	logger.InfoJ("tsig_coordinator", map[string]any{
		"event": "keys_restored",
		"epoch": res.Epoch,
		"index": res.Index,
	})
}

// resultFromRecord rebuilds a ceremony result from its persisted form,
// deriving every participant's public share from the group commitments.
func (c *Coordinator) resultFromRecord(rec dkg.KeyShareRecord) (*dkg.Result, error) {
	if rec.Curve != c.cfg.Curve {
		return nil, fmt.Errorf("record curve %s, node runs %s", rec.Curve, c.cfg.Curve)
	}
	if rec.Threshold != c.cfg.Threshold || rec.Participants != c.cfg.Participants {
		return nil, fmt.Errorf("record group %d/%d, node configured %d/%d",
			rec.Threshold, rec.Participants, c.cfg.Threshold, c.cfg.Participants)
	}
	if err := c.ad.ValidateScalar(rec.Secret); err != nil {
		return nil, fmt.Errorf("stored share: %w", err)
	}
	if err := c.ad.ValidatePoint(rec.MasterPublic); err != nil {
		return nil, fmt.Errorf("stored master key: %w", err)
	}
	res := &dkg.Result{
		Epoch:        rec.Epoch,
		Index:        rec.Index,
		Threshold:    rec.Threshold,
		Participants: rec.Participants,
		Qualified:    append([]uint32(nil), rec.Qualified...),
		MasterPublic: curve.Point(rec.MasterPublic).Clone(),
		SecretShare:  curve.Scalar(rec.Secret).Clone(),
	}
	if len(rec.GroupCommitments) > 0 {
		coms := make([]curve.Point, 0, len(rec.GroupCommitments))
		for _, b := range rec.GroupCommitments {
			if err := c.ad.ValidatePoint(b); err != nil {
				return nil, fmt.Errorf("stored commitment: %w", err)
			}
			coms = append(coms, curve.Point(b).Clone())
		}
		res.GroupCommitments = coms
		pubs := make(map[uint32]curve.Point, rec.Participants)
		for i := uint32(1); i <= rec.Participants; i++ {
			ps, err := dkg.PublicShare(c.ad, coms, i)
			if err != nil {
				return nil, err
			}
			pubs[i] = ps
		}
		res.PublicShares = pubs
	}
	return res, nil
}

// installLocked swaps in new key material and rebuilds the signing session
// manager around it. Caller holds the write lock.
func (c *Coordinator) installLocked(res *dkg.Result) {
	c.epoch = res.Epoch
	c.share = res.SecretShare.Clone()
	c.masterPub = res.MasterPublic.Clone()
	c.groupComs = make([]curve.Point, len(res.GroupCommitments))
	for i, p := range res.GroupCommitments {
		c.groupComs[i] = p.Clone()
	}
	c.qualified = append([]uint32(nil), res.Qualified...)
	c.publicShares = make(map[uint32]curve.Point, len(res.PublicShares))
	for i, p := range res.PublicShares {
		c.publicShares[i] = p.Clone()
	}
	c.state = StateKeysGenerated
	c.restartManagerLocked()
	metrics.SetGauge("tsig_key_epoch", nil, float64(c.epoch))
}

func (c *Coordinator) restartManagerLocked() {
	if c.mgrCancel != nil {
		c.mgrCancel()
		c.mgrCancel = nil
		c.mgr = nil
	}
	mgr, err := sign.NewManager(sign.ManagerConfig{
		Adapter:      c.ad,
		SelfIndex:    c.cfg.SelfIndex,
		Threshold:    c.cfg.Threshold,
		Secret:       c.share,
		MasterPublic: c.masterPub,
		PublicShares: c.publicShares,
		Canonical:    c.cfg.CanonicalSubset,
		Timeout:      c.cfg.SignTimeout,
		Clock:        c.clk,
		Rand:         c.rng,
	}, c.tr, c.auth)
	if err != nil {
		logger.ErrorJ("tsig_coordinator", map[string]any{
			"event": "sign_manager_failed",
			"err":   err.Error(),
		})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := mgr.Start(ctx); err != nil {
		cancel()
		return
	}
	c.mgr = mgr
	c.mgrCancel = cancel
}

// GenerateDistributedKeys runs a key-generation ceremony and installs its
// output. With a committee configured it drives the networked runner over the
// transport; otherwise it runs the in-process dealer simulation, which is for
// single-binary deployments and tests and concentrates trust in this process.
// Idempotent: once keys exist for the configured group the stored result is
// returned without a new ceremony.
func (c *Coordinator) GenerateDistributedKeys(ctx context.Context) (*dkg.Result, error) {
	c.mu.RLock()
	if c.state == StateRotatingKeys {
		c.mu.RUnlock()
		return nil, &StateError{Reason: StateRotationInProgress}
	}
	if c.state == StateKeysGenerated {
		res := c.snapshotResultLocked()
		c.mu.RUnlock()
		return res, nil
	}
	c.mu.RUnlock()

	var (
		res *dkg.Result
		err error
	)
	begin := c.clk.Now()
	if c.com != nil {
		res, err = c.runCommitteeCeremony(ctx)
	} else {
		res, err = c.runLocalCeremony(ctx)
	}
	if err != nil {
		metrics.Inc("tsig_keygen_total", map[string]string{"result": "error"})
		return nil, err
	}
	metrics.Inc("tsig_keygen_total", map[string]string{"result": "ok"})
	metrics.ObserveSummary("tsig_keygen_ms", nil, float64(c.clk.Now().Sub(begin).Milliseconds()))

	c.mu.Lock()
	c.installLocked(res)
	c.mu.Unlock()
	c.persist(ctx, res)
	c.sink.Publish(CeremonyRecord{
		SessionID:    res.SessionID,
		Epoch:        res.Epoch,
		Curve:        c.cfg.Curve,
		Threshold:    res.Threshold,
		Participants: res.Participants,
		Qualified:    res.Qualified,
		MasterPublic: res.MasterPublic,
	})
	return res, nil
}

// snapshotResultLocked rebuilds a Result from the installed key material.
// Caller holds at least the read lock.
func (c *Coordinator) snapshotResultLocked() *dkg.Result {
	pubs := make(map[uint32]curve.Point, len(c.publicShares))
	for i, p := range c.publicShares {
		pubs[i] = p.Clone()
	}
	coms := make([]curve.Point, len(c.groupComs))
	for i, p := range c.groupComs {
		coms[i] = p.Clone()
	}
	return &dkg.Result{
		Epoch:            c.epoch,
		Index:            c.cfg.SelfIndex,
		Threshold:        c.cfg.Threshold,
		Participants:     c.cfg.Participants,
		Qualified:        append([]uint32(nil), c.qualified...),
		MasterPublic:     c.masterPub.Clone(),
		GroupCommitments: coms,
		SecretShare:      c.share.Clone(),
		PublicShares:     pubs,
	}
}

// runLocalCeremony is the trusted-dealer path: every participant's polynomial
// is dealt inside this process and only this node's share is kept.
func (c *Coordinator) runLocalCeremony(_ context.Context) (*dkg.Result, error) {
	if c.cfg.SelfIndex == 0 {
		return nil, &ConfigurationError{Field: "self_index", Reason: "combine-only node cannot generate keys"}
	}
	c.mu.RLock()
	epoch := c.epoch + 1
	c.mu.RUnlock()
	sim, err := dkg.Simulate(c.ad, c.cfg.Participants, c.cfg.Threshold, c.rng)
	if err != nil {
		return nil, c.ceremonyErr("local", err)
	}
	qual := make([]uint32, 0, c.cfg.Participants)
	for i := uint32(1); i <= c.cfg.Participants; i++ {
		qual = append(qual, i)
	}
	return &dkg.Result{
		SessionID:        "local",
		Epoch:            epoch,
		Index:            c.cfg.SelfIndex,
		Threshold:        c.cfg.Threshold,
		Participants:     c.cfg.Participants,
		Qualified:        qual,
		MasterPublic:     sim.MasterPublic,
		GroupCommitments: sim.GroupCommitments,
		SecretShare:      sim.Shares[c.cfg.SelfIndex],
		PublicShares:     sim.PublicShares,
	}, nil
}

// runCommitteeCeremony drives the networked runner until it finalizes or the
// ceremony timeout passes.
func (c *Coordinator) runCommitteeCeremony(ctx context.Context) (*dkg.Result, error) {
	opts := []dkg.RunnerOpt{}
	if kss, ok := c.ks.(*dkg.KeyStore); ok {
		opts = append(opts, dkg.WithKeyStore(kss))
	}
	opts = append(opts, dkg.WithEpochTimeout(c.cfg.CeremonyTimeout))
	r, err := dkg.NewRunner(*c.com, c.tr, opts...)
	if err != nil {
		return nil, &ConfigurationError{Field: "committee", Reason: err.Error()}
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.Start(runCtx); err != nil {
		return nil, c.ceremonyErr(c.com.SessionID, err)
	}

	deadline := c.clk.Now().Add(c.cfg.CeremonyTimeout)
	tick := c.clk.Ticker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, &CeremonyError{Session: c.com.SessionID, Reason: CeremonyAborted, Detail: ctx.Err().Error()}
		case <-tick.C:
			if _, ok := r.Result(); ok {
				rec, err := c.ks.LoadKeyShare(ctx)
				if err != nil {
					return nil, fmt.Errorf("tsig: ceremony finalized but share not readable: %w", err)
				}
				return c.resultFromRecord(rec)
			}
			if c.clk.Now().After(deadline) {
				missing := r.Missing()
				return nil, &CeremonyError{
					Session: c.com.SessionID,
					Reason:  CeremonyTimeout,
					Detail:  fmt.Sprintf("no commitments from %v", missing),
				}
			}
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, res *dkg.Result) {
	if c.ks == nil {
		return
	}
	rec := dkg.KeyShareRecord{
		Curve:            c.cfg.Curve,
		Index:            res.Index,
		Threshold:        res.Threshold,
		Participants:     res.Participants,
		Epoch:            res.Epoch,
		Secret:           res.SecretShare,
		MasterPublic:     res.MasterPublic,
		GroupCommitments: pointBytes(res.GroupCommitments),
		Qualified:        res.Qualified,
		CreatedAt:        c.clk.Now().Unix(),
	}
	if err := c.ks.SaveKeyShare(ctx, rec); err != nil {
		logger.ErrorJ("tsig_coordinator", map[string]any{
			"event": "keystore_save_failed",
			"epoch": res.Epoch,
			"err":   err.Error(),
		})
	}
}

// CreateThresholdSignature signs message with the given signatory set. The
// signatory count is checked against the threshold before any partial work;
// the session then runs over the transport and blocks until combined,
// timed out, or cancelled. The read lock held for the whole call is what
// excludes a concurrent rotation.
func (c *Coordinator) CreateThresholdSignature(ctx context.Context, message []byte, signatories []uint32) (*ThresholdSignature, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateUninitialized {
		return nil, &StateError{Reason: StateNoKeys}
	}
	if len(signatories) < int(c.cfg.Threshold) {
		return nil, &SignatureError{
			Reason: SignatureInsufficientSignatories,
			Have:   len(signatories),
			Need:   int(c.cfg.Threshold),
		}
	}
	if c.mgr == nil {
		return nil, &StateError{Reason: StateNoKeys}
	}
	hash := MessageHash(message)
	sig, err := c.mgr.Request(ctx, hash, signatories)
	if err != nil {
		return nil, c.signErr(err)
	}
	return &ThresholdSignature{Value: sig, MessageHash: hash}, nil
}

// VerifyThresholdSignature checks sig over message against the current master
// public key.
func (c *Coordinator) VerifyThresholdSignature(message, sig []byte) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateUninitialized {
		return false, &StateError{Reason: StateNoKeys}
	}
	return c.ad.Verify(MessageHash(message), sig, c.masterPub), nil
}

// VerifyWithHistory checks sig against the current master public key first,
// then against the retained pre-rotation keys, oldest evicted first. Reports
// the epoch whose key verified, 0 when none did.
func (c *Coordinator) VerifyWithHistory(message, sig []byte) (bool, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateUninitialized {
		return false, 0, &StateError{Reason: StateNoKeys}
	}
	hash := MessageHash(message)
	if c.ad.Verify(hash, sig, c.masterPub) {
		return true, c.epoch, nil
	}
	for _, epoch := range c.history.Keys() {
		if pub, ok := c.history.Get(epoch); ok && c.ad.Verify(hash, sig, pub) {
			return true, epoch, nil
		}
	}
	return false, 0, nil
}

// RotateKeys atomically replaces the key material with a completed ceremony's
// output. In rekey mode the superseded master public key is retained in the
// bounded history so existing signatures keep verifying; in reshare mode the
// master key must be unchanged. The old share is wiped and can no longer
// contribute to signatures.
func (c *Coordinator) RotateKeys(ctx context.Context, res *dkg.Result) error {
	if res == nil || len(res.MasterPublic) == 0 {
		return &CeremonyError{Reason: CeremonyCommitmentMismatch, Detail: "empty rotation result"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUninitialized {
		return &StateError{Reason: StateNoKeys}
	}
	if c.state == StateRotatingKeys {
		return &StateError{Reason: StateRotationInProgress}
	}
	if res.Threshold != c.cfg.Threshold || res.Participants != c.cfg.Participants {
		return &ConfigurationError{
			Field:  "rotation",
			Reason: fmt.Sprintf("result group %d/%d, node configured %d/%d", res.Threshold, res.Participants, c.cfg.Threshold, c.cfg.Participants),
		}
	}
	if c.cfg.SelfIndex != 0 {
		if err := c.ad.ValidateScalar(res.SecretShare); err != nil {
			return NewShareValidationError(c.cfg.SelfIndex, err)
		}
	}
	if res.Epoch <= c.epoch {
		return &CeremonyError{
			Session: res.SessionID,
			Reason:  CeremonyAborted,
			Detail:  fmt.Sprintf("stale epoch %d, current %d", res.Epoch, c.epoch),
		}
	}
	sameKey := subtle.ConstantTimeCompare(res.MasterPublic, c.masterPub) == 1
	if c.cfg.RotationMode == RotationReshare && !sameKey {
		return &CeremonyError{
			Session: res.SessionID,
			Reason:  CeremonyCommitmentMismatch,
			Detail:  "reshare rotation changed the master public key",
		}
	}

	c.state = StateRotatingKeys
	oldEpoch, oldMaster, oldShare := c.epoch, c.masterPub, c.share
	if !sameKey {
		c.history.Add(oldEpoch, oldMaster)
	}
	c.installLocked(res)
	wipe(oldShare)
	metrics.Inc("tsig_rotations_total", map[string]string{"mode": string(c.cfg.RotationMode)})
	logger.InfoJ("tsig_coordinator", map[string]any{
		"event":     "keys_rotated",
		"mode":      string(c.cfg.RotationMode),
		"old_epoch": oldEpoch,
		"epoch":     res.Epoch,
	})

	c.persist(ctx, res)
	c.sink.Publish(CeremonyRecord{
		SessionID:    res.SessionID,
		Epoch:        res.Epoch,
		Curve:        c.cfg.Curve,
		Threshold:    res.Threshold,
		Participants: res.Participants,
		Qualified:    res.Qualified,
		MasterPublic: res.MasterPublic,
		Rotation:     true,
	})
	return nil
}

// ValidateKeyShare defensively checks an externally supplied share for
// participant id: exact scalar length, value in [1, order-1], and, when the
// group commitments are known, consistency with the participant's public
// share.
func (c *Coordinator) ValidateKeyShare(id uint32, value []byte) error {
	if id == 0 || id > c.cfg.Participants {
		return &ShareValidationError{Participant: id, Reason: ShareOutOfRange}
	}
	if err := c.ad.ValidateScalar(value); err != nil {
		return NewShareValidationError(id, err)
	}
	c.mu.RLock()
	coms := c.groupComs
	c.mu.RUnlock()
	if len(coms) == 0 {
		return nil
	}
	want, err := dkg.PublicShare(c.ad, coms, id)
	if err != nil {
		return NewShareValidationError(id, err)
	}
	got, err := c.ad.ScalarBaseMult(value)
	if err != nil {
		return NewShareValidationError(id, err)
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return &ShareValidationError{Participant: id, Reason: ShareCommitmentCheckFailed}
	}
	return nil
}

// MasterPublicKey returns the current master public key.
func (c *Coordinator) MasterPublicKey() (curve.Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateUninitialized {
		return nil, &StateError{Reason: StateNoKeys}
	}
	return c.masterPub.Clone(), nil
}

// Config returns the read-only group configuration.
func (c *Coordinator) Config() ThresholdConfig {
	return ThresholdConfig{
		Threshold:    c.cfg.Threshold,
		Participants: c.cfg.Participants,
		Curve:        c.cfg.Curve,
		RotationMode: c.cfg.RotationMode,
	}
}

// State reports the node state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Epoch reports the current key epoch, 0 before any generation.
func (c *Coordinator) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Close stops the signing manager and wipes the local share.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mgrCancel != nil {
		c.mgrCancel()
		c.mgrCancel = nil
		c.mgr = nil
	}
	wipe(c.share)
	c.share = nil
}

// ceremonyErr maps ceremony-layer failures onto the public taxonomy.
func (c *Coordinator) ceremonyErr(session string, err error) error {
	var qe *dkg.QuorumError
	switch {
	case errors.As(err, &qe):
		reason := CeremonyInsufficientParticipants
		if len(qe.Mismatched) > 0 {
			reason = CeremonyCommitmentMismatch
		}
		return &CeremonyError{Session: session, Reason: reason, Detail: qe.Error()}
	case errors.Is(err, dkg.ErrCeremonyExpired):
		return &CeremonyError{Session: session, Reason: CeremonyTimeout, Detail: err.Error()}
	case errors.Is(err, dkg.ErrCeremonyAborted), errors.Is(err, context.Canceled):
		return &CeremonyError{Session: session, Reason: CeremonyAborted, Detail: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &CeremonyError{Session: session, Reason: CeremonyTimeout, Detail: err.Error()}
	default:
		return fmt.Errorf("tsig: ceremony %s: %w", session, err)
	}
}

// signErr maps signing-session failures onto the public taxonomy.
func (c *Coordinator) signErr(err error) error {
	var ie *sign.InsufficientError
	if errors.As(err, &ie) {
		return &SignatureError{
			Reason: SignatureInsufficientSignatories,
			Have:   ie.Have,
			Need:   ie.Need,
		}
	}
	var me *sign.MalformedError
	if errors.As(err, &me) {
		return &SignatureError{Reason: SignatureMalformed}
	}
	if errors.Is(err, sign.ErrCancelled) || errors.Is(err, context.Canceled) {
		return &SignatureError{Reason: SignatureCancelled}
	}
	return fmt.Errorf("tsig: signing: %w", err)
}

func pointBytes(in []curve.Point) [][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(in))
	for _, p := range in {
		out = append(out, append([]byte(nil), p...))
	}
	return out
}

func wipe(s curve.Scalar) {
	for i := range s {
		s[i] = 0
	}
}
