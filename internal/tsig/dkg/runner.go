package dkg

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/quorsig/quorsig/internal/transport/wire"
	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

var (
	ErrCrypto       = errors.New("dkg: crypto error")
	ErrUnauthorized = errors.New("dkg: unauthorized")
)

// CeremonyTransport is the slice of the node transport the runner needs.
type CeremonyTransport interface {
	BroadcastCeremony(ctx context.Context, msg wire.Ceremony) error
	OnCeremony(fn func(wire.Ceremony))
}

// RunnerResult is the outcome of a networked ceremony at one node.
type RunnerResult struct {
	Index        uint32
	Threshold    uint32
	Epoch        uint64
	MasterPublic curve.Point
	Share        curve.Scalar
	Qualified    []uint32
}

type RunnerOpt func(*Runner)

func WithRetryInterval(d time.Duration) RunnerOpt {
	return func(r *Runner) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

func WithEpochTimeout(d time.Duration) RunnerOpt {
	return func(r *Runner) {
		if d > 0 {
			r.epochTimeout = d
		}
	}
}

// WithKeyStore overrides the environment-configured key store.
func WithKeyStore(ks *KeyStore) RunnerOpt {
	return func(r *Runner) {
		if ks != nil {
			r.store = ks
		}
	}
}

// Runner drives a Feldman ceremony over an authenticated gossip channel.
// Every node deals its own polynomial; shares travel encrypted to their
// recipient, complaints force the dealer to open the disputed share in
// public, and dealers caught misdealing are disqualified. When every
// remaining dealer is fully acknowledged the node folds the qualified deals
// into its key share and persists it.
type Runner struct {
	cfg   CommitteeConfig
	ad    curve.Adapter
	tr    CeremonyTransport
	store *KeyStore
	sess  *SessionStore

	mu sync.Mutex

	epoch uint64

	poly            *Polynomial
	selfCommitments []curve.Point

	commitments  map[uint32][]curve.Point
	shares       map[uint32]curve.Scalar  // dealer -> verified share for self
	pendingShare map[uint32]wire.Ceremony // dealer -> share msg (waiting for commitments)
	pendingOpen  map[uint32]wire.Ceremony // dealer -> open-share msg (waiting for commitments)

	acks       map[uint32]map[uint32]struct{} // dealer -> set(ack sender indices)
	complaints map[uint32]map[uint32]struct{} // dealer -> set(complainant indices)
	badDealers map[uint32]struct{}            // disqualified dealers by public evidence

	done       bool
	finalizing bool
	result     RunnerResult

	retryInterval time.Duration
	epochTimeout  time.Duration
	epochStart    time.Time
}

func NewRunner(cfg CommitteeConfig, tr CeremonyTransport, opts ...RunnerOpt) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, errors.New("nil transport")
	}
	ad, err := curve.ByID(cfg.Curve)
	if err != nil {
		return nil, err
	}
	ksPath := cfg.KeySharePath
	if ksPath == "" {
		ksPath = "tsig_keyshare.dat"
	}
	var sess *SessionStore
	if cfg.SessionDir != "" {
		sess = NewSessionStore(cfg.SessionDir)
	}
	r := &Runner{
		cfg:           cfg,
		ad:            ad,
		tr:            tr,
		store:         NewKeyStoreFromEnv(ksPath),
		sess:          sess,
		epoch:         cfg.Epoch,
		commitments:   make(map[uint32][]curve.Point, cfg.N),
		shares:        make(map[uint32]curve.Scalar, cfg.N),
		pendingShare:  make(map[uint32]wire.Ceremony),
		pendingOpen:   make(map[uint32]wire.Ceremony),
		acks:          make(map[uint32]map[uint32]struct{}, cfg.N),
		complaints:    make(map[uint32]map[uint32]struct{}, cfg.N),
		badDealers:    make(map[uint32]struct{}, cfg.N),
		retryInterval: 2 * time.Second,
		epochTimeout:  60 * time.Second,
		epochStart:    time.Now(),
	}
	if r.epoch == 0 {
		r.epoch = 1
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Runner) Result() (RunnerResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return RunnerResult{}, false
	}
	return r.result, true
}

// Missing lists the dealers whose commitments never arrived, for timeout
// diagnostics.
func (r *Runner) Missing() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for i := uint32(1); i <= r.cfg.N; i++ {
		if len(r.commitments[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

func (r *Runner) Start(ctx context.Context) error {
	// If already finalized, skip.
	if rec, err := r.store.LoadKeyShare(ctx); err == nil && rec.Curve == r.cfg.Curve && r.ad.ValidateScalar(rec.Secret) == nil {
		r.mu.Lock()
		r.done = true
		r.result = RunnerResult{
			Index:        rec.Index,
			Threshold:    rec.Threshold,
			Epoch:        rec.Epoch,
			MasterPublic: curve.Point(rec.MasterPublic).Clone(),
			Share:        curve.Scalar(rec.Secret).Clone(),
			Qualified:    append([]uint32(nil), rec.Qualified...),
		}
		r.mu.Unlock()
		logger.InfoJ("tsig_runner", map[string]any{"result": "skip", "reason": "keyshare_exists"})
		metrics.Inc("tsig_runner_total", map[string]string{"result": "skip"})
		return nil
	}

	// Resume session state if enabled.
	if r.sess != nil {
		if st, err := r.sess.Load(r.cfg.SessionID); err == nil {
			if err := r.restore(st); err == nil {
				logger.InfoJ("tsig_runner", map[string]any{"result": "resume_ok", "epoch": r.epoch})
			}
		}
	}

	// Install transport handler.
	r.tr.OnCeremony(func(m wire.Ceremony) { r.OnMessage(ctx, m) })

	// Initialize local polynomial (if not resumed).
	if err := r.ensureLocalPoly(); err != nil {
		return err
	}
	if r.epochStart.IsZero() {
		r.epochStart = time.Now()
	}

	// Broadcast our commitments and start periodic retries.
	r.broadcastCommitments(ctx)
	go r.retryLoop(ctx)
	return nil
}

func (r *Runner) retryLoop(ctx context.Context) {
	t := time.NewTicker(r.retryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.mu.Lock()
			done := r.done
			start := r.epochStart
			timeout := r.epochTimeout
			epoch := r.epoch
			r.mu.Unlock()
			if done {
				return
			}
			if timeout > 0 && !start.IsZero() && time.Since(start) > timeout {
				r.bumpEpoch(ctx, epoch+1, "timeout")
				continue
			}
			r.broadcastCommitments(ctx)
			r.broadcastMissingShares(ctx)
		}
	}
}

func (r *Runner) resetForEpochLocked(epoch uint64) {
	r.epoch = epoch
	r.poly = nil
	r.selfCommitments = nil
	r.commitments = make(map[uint32][]curve.Point, r.cfg.N)
	r.shares = make(map[uint32]curve.Scalar, r.cfg.N)
	r.pendingShare = make(map[uint32]wire.Ceremony)
	r.pendingOpen = make(map[uint32]wire.Ceremony)
	r.acks = make(map[uint32]map[uint32]struct{}, r.cfg.N)
	r.complaints = make(map[uint32]map[uint32]struct{}, r.cfg.N)
	r.badDealers = make(map[uint32]struct{}, r.cfg.N)
	r.done = false
	r.finalizing = false
	r.result = RunnerResult{}
	r.epochStart = time.Now()
}

func (r *Runner) bumpEpoch(ctx context.Context, epoch uint64, reason string) {
	if epoch == 0 {
		return
	}
	r.mu.Lock()
	if r.done || epoch <= r.epoch {
		r.mu.Unlock()
		return
	}
	r.resetForEpochLocked(epoch)
	r.persistLocked()
	r.mu.Unlock()

	logger.InfoJ("tsig_runner", map[string]any{"result": "epoch_bump", "epoch": epoch, "reason": reason})
	metrics.Inc("tsig_runner_total", map[string]string{"result": "epoch_bump"})
	_ = r.ensureLocalPoly()
	r.broadcastCommitments(ctx)
}

func (r *Runner) ensureLocalPoly() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poly != nil && len(r.selfCommitments) > 0 {
		return nil
	}
	if len(r.cfg.SigPriv) != ed25519.PrivateKeySize {
		return errors.New("invalid sig_priv")
	}
	if len(r.cfg.EncPriv) != 32 {
		return errors.New("invalid enc_priv")
	}
	poly, err := NewPolynomial(r.ad, r.cfg.Threshold, rand.Reader)
	if err != nil {
		return err
	}
	com, err := poly.Commitments()
	if err != nil {
		return err
	}
	selfShare, err := poly.EvaluateAt(r.cfg.Index)
	if err != nil {
		return err
	}
	r.poly = poly
	r.selfCommitments = com
	r.commitments[r.cfg.Index] = com
	// Include the self-dealt share so final aggregation can complete without network.
	r.shares[r.cfg.Index] = selfShare
	r.epochStart = time.Now()
	r.persistLocked()
	return nil
}

func (r *Runner) restore(st RunnerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Epoch == 0 {
		return ErrInvalidParams
	}
	r.epoch = st.Epoch
	if st.Done && r.ad.ValidateScalar(st.Share) == nil && r.ad.ValidatePoint(st.MasterPublic) == nil {
		r.done = true
		r.result = RunnerResult{
			Index:        r.cfg.Index,
			Threshold:    r.cfg.Threshold,
			Epoch:        st.Epoch,
			MasterPublic: curve.Point(st.MasterPublic).Clone(),
			Share:        curve.Scalar(st.Share).Clone(),
			Qualified:    append([]uint32(nil), st.Qualified...),
		}
		return nil
	}
	if len(st.Coeffs) > 0 {
		coeffs := make([]curve.Scalar, 0, len(st.Coeffs))
		for _, b := range st.Coeffs {
			coeffs = append(coeffs, curve.Scalar(b).Clone())
		}
		poly, err := NewPolynomialFromCoefficients(r.ad, coeffs)
		if err != nil {
			return ErrInvalidShare
		}
		r.poly = poly
	}
	if len(st.SelfCommitments) > 0 {
		r.selfCommitments = bytesToPoints(st.SelfCommitments)
		r.commitments[r.cfg.Index] = r.selfCommitments
	}
	for idx, com := range st.Commitments {
		r.commitments[idx] = bytesToPoints(com)
	}
	for idx, b := range st.Shares {
		if r.ad.ValidateScalar(b) != nil {
			continue
		}
		r.shares[idx] = curve.Scalar(b).Clone()
	}
	for dealer, froms := range st.Acks {
		bucket := r.acks[dealer]
		if bucket == nil {
			bucket = map[uint32]struct{}{}
			r.acks[dealer] = bucket
		}
		for _, from := range froms {
			bucket[from] = struct{}{}
		}
	}
	for dealer, froms := range st.Complaints {
		bucket := r.complaints[dealer]
		if bucket == nil {
			bucket = map[uint32]struct{}{}
			r.complaints[dealer] = bucket
		}
		for _, from := range froms {
			bucket[from] = struct{}{}
		}
	}
	for _, d := range st.Disqualified {
		if d > 0 {
			r.badDealers[d] = struct{}{}
		}
	}
	// Ensure the self share exists when local coefficients survived.
	if r.poly != nil {
		if _, ok := r.shares[r.cfg.Index]; !ok {
			if sc, err := r.poly.EvaluateAt(r.cfg.Index); err == nil {
				r.shares[r.cfg.Index] = sc
			}
		}
	}
	return nil
}

func (r *Runner) persistLocked() {
	if r.sess == nil {
		return
	}
	st := RunnerState{
		Epoch:           r.epoch,
		SelfCommitments: pointsToBytes(r.selfCommitments),
		Commitments:     commitmentsToState(r.commitments),
		Shares:          sharesToState(r.shares),
		Acks:            indexSetMapToState(r.acks),
		Complaints:      indexSetMapToState(r.complaints),
		Disqualified:    setToSlice(r.badDealers),
		Done:            r.done,
		MasterPublic:    append([]byte(nil), r.result.MasterPublic...),
		Share:           append([]byte(nil), r.result.Share...),
		Qualified:       append([]uint32(nil), r.result.Qualified...),
	}
	if r.poly != nil {
		st.Coeffs = scalarsToBytes(r.poly.Coefficients())
	}
	_ = r.sess.Save(r.cfg.SessionID, st)
}

func scalarsToBytes(in []curve.Scalar) [][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(in))
	for _, s := range in {
		out = append(out, append([]byte(nil), s...))
	}
	return out
}

func bytesToPoints(in [][]byte) []curve.Point {
	if len(in) == 0 {
		return nil
	}
	out := make([]curve.Point, 0, len(in))
	for _, b := range in {
		out = append(out, curve.Point(b).Clone())
	}
	return out
}

func commitmentsToState(in map[uint32][]curve.Point) map[uint32][][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make(map[uint32][][]byte, len(in))
	for k, v := range in {
		out[k] = pointsToBytes(v)
	}
	return out
}

func sharesToState(in map[uint32]curve.Scalar) map[uint32][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make(map[uint32][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func indexSetMapToState(in map[uint32]map[uint32]struct{}) map[uint32][]uint32 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[uint32][]uint32, len(in))
	for k, set := range in {
		if len(set) == 0 {
			continue
		}
		out[k] = setToSlice(set)
	}
	return out
}

func (r *Runner) signMessage(m wire.Ceremony) (wire.Ceremony, error) {
	if len(r.cfg.SigPriv) != ed25519.PrivateKeySize {
		return wire.Ceremony{}, ErrCrypto
	}
	m.Sig = nil
	b, err := json.Marshal(m)
	if err != nil {
		return wire.Ceremony{}, err
	}
	m.Sig = ed25519.Sign(ed25519.PrivateKey(r.cfg.SigPriv), b)
	return m, nil
}

func (r *Runner) verifySig(m wire.Ceremony) bool {
	mem, ok := r.cfg.Member(m.FromIndex)
	if !ok || len(mem.SigPub) != ed25519.PublicKeySize {
		return false
	}
	sig := append([]byte(nil), m.Sig...)
	m.Sig = nil
	b, err := json.Marshal(m)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(mem.SigPub), b, sig)
}

func (r *Runner) deriveShareKey(fromIndex, toIndex uint32) ([]byte, error) {
	// Shared secret: X25519(priv(self), pub(peer)).
	var peer uint32
	switch {
	case fromIndex == r.cfg.Index && toIndex != r.cfg.Index:
		peer = toIndex
	case toIndex == r.cfg.Index && fromIndex != r.cfg.Index:
		peer = fromIndex
	default:
		return nil, ErrUnauthorized
	}
	mem, ok := r.cfg.Member(peer)
	if !ok || len(mem.EncPub) != 32 {
		return nil, ErrUnauthorized
	}
	priv, err := ecdh.X25519().NewPrivateKey(r.cfg.EncPriv)
	if err != nil {
		return nil, err
	}
	pub, err := ecdh.X25519().NewPublicKey(mem.EncPub)
	if err != nil {
		return nil, err
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, err
	}
	// KDF: SHA256(dst || shared || session_id || epoch || from || to)
	h := sha256.New()
	_, _ = h.Write([]byte("QRS/TSIG/DKG/v1"))
	_, _ = h.Write(shared)
	_, _ = h.Write([]byte(r.cfg.SessionID))
	var buf [8 + 4 + 4]byte
	binary.BigEndian.PutUint64(buf[0:8], r.epoch)
	binary.BigEndian.PutUint32(buf[8:12], fromIndex)
	binary.BigEndian.PutUint32(buf[12:16], toIndex)
	_, _ = h.Write(buf[:])
	return h.Sum(nil), nil
}

func encryptShare(key []byte, pt []byte) (nonce []byte, ct []byte, err error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, nil, ErrCrypto
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	ct = gcm.Seal(nil, nonce, pt, nil)
	return nonce, ct, nil
}

func decryptShare(key []byte, nonce []byte, ct []byte) ([]byte, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, ErrCrypto
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrCrypto
	}
	return gcm.Open(nil, nonce, ct, nil)
}

func (r *Runner) broadcastCommitments(ctx context.Context) {
	r.mu.Lock()
	msg := wire.Ceremony{
		SessionID:   r.cfg.SessionID,
		Epoch:       r.epoch,
		Type:        wire.CeremonyCommitments,
		FromIndex:   r.cfg.Index,
		Commitments: pointsToBytes(r.selfCommitments),
	}
	r.mu.Unlock()
	signed, err := r.signMessage(msg)
	if err != nil {
		return
	}
	_ = r.tr.BroadcastCeremony(ctx, signed)
}

func (r *Runner) broadcastMissingShares(ctx context.Context) {
	r.mu.Lock()
	acks := r.acks[r.cfg.Index]
	poly := r.poly
	r.mu.Unlock()
	if poly == nil {
		return
	}

	for i := uint32(1); i <= r.cfg.N; i++ {
		if i == r.cfg.Index {
			continue
		}
		if acks != nil {
			if _, ok := acks[i]; ok {
				continue
			}
		}
		sh, err := poly.EvaluateAt(i)
		if err != nil {
			continue
		}
		key, err := r.deriveShareKey(r.cfg.Index, i)
		if err != nil {
			continue
		}
		nonce, ct, err := encryptShare(key, sh)
		if err != nil {
			continue
		}
		msg := wire.Ceremony{
			SessionID:  r.cfg.SessionID,
			Epoch:      r.epoch,
			Type:       wire.CeremonyShare,
			FromIndex:  r.cfg.Index,
			ToIndex:    i,
			Nonce:      nonce,
			Ciphertext: ct,
		}
		signed, err := r.signMessage(msg)
		if err != nil {
			continue
		}
		_ = r.tr.BroadcastCeremony(ctx, signed)
	}
}

func (r *Runner) maybeFinalize(ctx context.Context) {
	r.mu.Lock()
	if r.done || r.finalizing {
		r.mu.Unlock()
		return
	}
	// Too few remaining dealers to reach threshold: redeal via epoch bump.
	if r.cfg.N-uint32(len(r.badDealers)) < r.cfg.Threshold {
		epoch := r.epoch + 1
		r.mu.Unlock()
		r.bumpEpoch(ctx, epoch, "insufficient_qual")
		return
	}
	qual := make([]uint32, 0, r.cfg.N)
	for dealer := uint32(1); dealer <= r.cfg.N; dealer++ {
		if _, bad := r.badDealers[dealer]; bad {
			continue
		}
		if len(r.commitments[dealer]) == 0 {
			r.mu.Unlock()
			return
		}
		if c := r.complaints[dealer]; len(c) > 0 {
			r.mu.Unlock()
			return
		}
		if uint32(len(r.acks[dealer])) < r.cfg.N-1 {
			r.mu.Unlock()
			return
		}
		if r.shares[dealer] == nil {
			r.mu.Unlock()
			return
		}
		qual = append(qual, dealer)
	}
	if uint32(len(qual)) < r.cfg.Threshold {
		r.mu.Unlock()
		return
	}

	dealerComs := make([][]curve.Point, 0, len(qual))
	for _, dealer := range qual {
		dealerComs = append(dealerComs, r.commitments[dealer])
	}
	master, err := MasterPublicKey(r.ad, dealerComs)
	if err != nil {
		r.mu.Unlock()
		return
	}
	groupComs, err := SumCommitments(r.ad, dealerComs)
	if err != nil {
		r.mu.Unlock()
		return
	}
	share := r.ad.ScalarFromUint64(0)
	for _, dealer := range qual {
		share, err = r.ad.AddScalars(share, r.shares[dealer])
		if err != nil {
			r.mu.Unlock()
			return
		}
	}

	// Finalize outside the lock to avoid blocking gossip handling on I/O.
	r.finalizing = true
	epoch := r.epoch
	r.mu.Unlock()

	rec := KeyShareRecord{
		Curve:            r.cfg.Curve,
		Index:            r.cfg.Index,
		Threshold:        r.cfg.Threshold,
		Participants:     r.cfg.N,
		Epoch:            epoch,
		Secret:           share,
		MasterPublic:     master,
		GroupCommitments: pointsToBytes(groupComs),
		Qualified:        qual,
		CreatedAt:        time.Now().Unix(),
	}
	if err := r.store.SaveKeyShare(ctx, rec); err != nil {
		logger.ErrorJ("tsig_runner", map[string]any{"result": "keystore_save_failed", "epoch": epoch, "err": err.Error()})
	}

	r.mu.Lock()
	if r.done || r.epoch != epoch {
		r.finalizing = false
		r.mu.Unlock()
		return
	}
	r.done = true
	r.result = RunnerResult{
		Index:        r.cfg.Index,
		Threshold:    r.cfg.Threshold,
		Epoch:        epoch,
		MasterPublic: master,
		Share:        share,
		Qualified:    qual,
	}
	r.persistLocked()
	r.mu.Unlock()

	logger.InfoJ("tsig_runner", map[string]any{"result": "ok", "index": r.cfg.Index, "threshold": r.cfg.Threshold, "qualified": len(qual)})
	metrics.Inc("tsig_runner_total", map[string]string{"result": "ok"})
}

func (r *Runner) OnMessage(ctx context.Context, m wire.Ceremony) {
	if m.SessionID != r.cfg.SessionID {
		return
	}
	if m.Epoch == 0 {
		return
	}
	if m.FromIndex == 0 || m.FromIndex > r.cfg.N {
		return
	}
	if m.FromIndex == r.cfg.Index {
		return
	}
	if m.Type == "" {
		return
	}
	if !r.verifySig(m) {
		metrics.Inc("tsig_runner_total", map[string]string{"result": "bad_sig"})
		return
	}
	r.mu.Lock()
	done := r.done
	curEpoch := r.epoch
	r.mu.Unlock()
	if done {
		return
	}
	if m.Epoch < curEpoch {
		return
	}
	if m.Epoch > curEpoch {
		r.bumpEpoch(ctx, m.Epoch, "remote")
	}
	r.mu.Lock()
	curEpoch = r.epoch
	r.mu.Unlock()
	if m.Epoch != curEpoch {
		return
	}

	switch m.Type {
	case wire.CeremonyCommitments:
		r.onCommitments(m)
		r.tryProcessPending(ctx, m.FromIndex)
		r.broadcastMissingShares(ctx)
		r.maybeFinalize(ctx)
	case wire.CeremonyShare:
		if m.ToIndex != r.cfg.Index {
			return
		}
		r.onShare(ctx, m)
		r.maybeFinalize(ctx)
	case wire.CeremonyShareOpen:
		r.onShareOpen(ctx, m)
		r.maybeFinalize(ctx)
	case wire.CeremonyAck:
		r.onAck(m)
		r.maybeFinalize(ctx)
	case wire.CeremonyComplaint:
		r.onComplaint(ctx, m)
		r.maybeFinalize(ctx)
	default:
	}
}

func (r *Runner) disqualifyDealerLocked(dealer uint32, reason string) {
	if dealer == 0 {
		return
	}
	if _, ok := r.badDealers[dealer]; ok {
		return
	}
	r.badDealers[dealer] = struct{}{}
	delete(r.complaints, dealer)
	logger.InfoJ("tsig_runner", map[string]any{"result": "dealer_disqualified", "dealer": dealer, "reason": reason})
	metrics.Inc("tsig_runner_total", map[string]string{"result": "dealer_disqualified"})
}

func (r *Runner) onCommitments(m wire.Ceremony) {
	if len(m.Commitments) == 0 {
		return
	}
	if uint32(len(m.Commitments)) != r.cfg.Threshold {
		r.mu.Lock()
		r.disqualifyDealerLocked(m.FromIndex, "bad_commitments_len")
		r.persistLocked()
		r.mu.Unlock()
		return
	}
	for _, c := range m.Commitments {
		if r.ad.ValidatePoint(c) != nil {
			r.mu.Lock()
			r.disqualifyDealerLocked(m.FromIndex, "bad_commitments_point")
			r.persistLocked()
			r.mu.Unlock()
			return
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, bad := r.badDealers[m.FromIndex]; bad {
		return
	}
	if _, ok := r.commitments[m.FromIndex]; ok {
		return
	}
	r.commitments[m.FromIndex] = bytesToPoints(m.Commitments)
	r.persistLocked()
}

func (r *Runner) tryProcessPending(ctx context.Context, dealer uint32) {
	r.mu.Lock()
	msg, ok := r.pendingShare[dealer]
	r.mu.Unlock()
	if ok {
		r.onShare(ctx, msg)
	}

	r.mu.Lock()
	open, ok := r.pendingOpen[dealer]
	r.mu.Unlock()
	if ok {
		r.onShareOpen(ctx, open)
	}
}

func (r *Runner) onShare(ctx context.Context, m wire.Ceremony) {
	r.mu.Lock()
	if _, bad := r.badDealers[m.FromIndex]; bad {
		r.mu.Unlock()
		return
	}
	com := r.commitments[m.FromIndex]
	if len(com) == 0 {
		// wait for commitments
		r.pendingShare[m.FromIndex] = m
		r.mu.Unlock()
		return
	}
	if _, ok := r.shares[m.FromIndex]; ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	key, err := r.deriveShareKey(m.FromIndex, r.cfg.Index)
	if err != nil {
		return
	}
	pt, err := decryptShare(key, m.Nonce, m.Ciphertext)
	if err != nil || len(pt) != r.ad.ScalarSize() {
		r.broadcastComplaint(ctx, m.FromIndex)
		return
	}
	share := curve.Scalar(pt)
	ok, err := VerifyShare(r.ad, share, r.cfg.Index, com)
	if err != nil || !ok {
		r.broadcastComplaint(ctx, m.FromIndex)
		return
	}

	r.mu.Lock()
	delete(r.pendingShare, m.FromIndex)
	r.shares[m.FromIndex] = share
	r.persistLocked()
	r.mu.Unlock()

	r.broadcastAck(ctx, m.FromIndex)
}

func (r *Runner) broadcastAck(ctx context.Context, dealer uint32) {
	r.mu.Lock()
	bucket := r.acks[dealer]
	if bucket == nil {
		bucket = map[uint32]struct{}{}
		r.acks[dealer] = bucket
	}
	bucket[r.cfg.Index] = struct{}{}
	if c := r.complaints[dealer]; c != nil {
		delete(c, r.cfg.Index)
		if len(c) == 0 {
			delete(r.complaints, dealer)
		}
	}
	r.persistLocked()
	epoch := r.epoch
	r.mu.Unlock()

	msg := wire.Ceremony{
		SessionID: r.cfg.SessionID,
		Epoch:     epoch,
		Type:      wire.CeremonyAck,
		FromIndex: r.cfg.Index,
		ToIndex:   dealer,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		return
	}
	_ = r.tr.BroadcastCeremony(ctx, signed)
}

func (r *Runner) broadcastComplaint(ctx context.Context, dealer uint32) {
	r.mu.Lock()
	bucket := r.complaints[dealer]
	if bucket == nil {
		bucket = map[uint32]struct{}{}
		r.complaints[dealer] = bucket
	}
	bucket[r.cfg.Index] = struct{}{}
	r.persistLocked()
	epoch := r.epoch
	r.mu.Unlock()

	msg := wire.Ceremony{
		SessionID: r.cfg.SessionID,
		Epoch:     epoch,
		Type:      wire.CeremonyComplaint,
		FromIndex: r.cfg.Index,
		ToIndex:   dealer,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		return
	}
	_ = r.tr.BroadcastCeremony(ctx, signed)
	metrics.Inc("tsig_runner_total", map[string]string{"result": "complaint"})
}

func (r *Runner) onAck(m wire.Ceremony) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dealer := m.ToIndex
	if dealer == 0 || dealer > r.cfg.N {
		return
	}
	if _, bad := r.badDealers[dealer]; bad {
		return
	}
	bucket := r.acks[dealer]
	if bucket == nil {
		bucket = map[uint32]struct{}{}
		r.acks[dealer] = bucket
	}
	bucket[m.FromIndex] = struct{}{}
	if c := r.complaints[dealer]; c != nil {
		delete(c, m.FromIndex)
		if len(c) == 0 {
			delete(r.complaints, dealer)
		}
	}
	r.persistLocked()
}

func (r *Runner) onComplaint(ctx context.Context, m wire.Ceremony) {
	dealer := m.ToIndex
	if dealer == 0 || dealer > r.cfg.N {
		return
	}
	if dealer == r.cfg.Index {
		// Resolve by opening the complainant's share in public.
		r.broadcastShareOpen(ctx, m.FromIndex)
		return
	}
	r.mu.Lock()
	if _, bad := r.badDealers[dealer]; bad {
		r.mu.Unlock()
		return
	}
	bucket := r.complaints[dealer]
	if bucket == nil {
		bucket = map[uint32]struct{}{}
		r.complaints[dealer] = bucket
	}
	bucket[m.FromIndex] = struct{}{}
	r.persistLocked()
	r.mu.Unlock()
}

func (r *Runner) broadcastShareOpen(ctx context.Context, toIndex uint32) {
	if toIndex == 0 || toIndex > r.cfg.N || toIndex == r.cfg.Index {
		return
	}
	r.mu.Lock()
	poly := r.poly
	epoch := r.epoch
	r.mu.Unlock()
	if poly == nil {
		return
	}
	sh, err := poly.EvaluateAt(toIndex)
	if err != nil {
		return
	}
	msg := wire.Ceremony{
		SessionID: r.cfg.SessionID,
		Epoch:     epoch,
		Type:      wire.CeremonyShareOpen,
		FromIndex: r.cfg.Index,
		ToIndex:   toIndex,
		Share:     sh,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		return
	}
	_ = r.tr.BroadcastCeremony(ctx, signed)
}

func (r *Runner) onShareOpen(ctx context.Context, m wire.Ceremony) {
	if m.ToIndex == 0 || m.ToIndex > r.cfg.N {
		return
	}
	if len(m.Share) != r.ad.ScalarSize() {
		r.mu.Lock()
		r.disqualifyDealerLocked(m.FromIndex, "bad_open_share_len")
		r.persistLocked()
		r.mu.Unlock()
		return
	}
	r.mu.Lock()
	if _, bad := r.badDealers[m.FromIndex]; bad {
		r.mu.Unlock()
		return
	}
	com := r.commitments[m.FromIndex]
	if len(com) == 0 {
		r.pendingOpen[m.FromIndex] = m
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	share := curve.Scalar(m.Share)
	ok, err := VerifyShare(r.ad, share, m.ToIndex, com)
	if err != nil || !ok {
		r.mu.Lock()
		r.disqualifyDealerLocked(m.FromIndex, "bad_open_share_verify")
		r.persistLocked()
		r.mu.Unlock()
		return
	}

	// Complaint resolved: clear the complainant's entry for this dealer.
	r.mu.Lock()
	delete(r.pendingOpen, m.FromIndex)
	if c := r.complaints[m.FromIndex]; c != nil {
		delete(c, m.ToIndex)
		if len(c) == 0 {
			delete(r.complaints, m.FromIndex)
		}
	}
	if m.ToIndex == r.cfg.Index {
		if _, exists := r.shares[m.FromIndex]; !exists {
			r.shares[m.FromIndex] = share.Clone()
		}
	}
	r.persistLocked()
	r.mu.Unlock()

	if m.ToIndex == r.cfg.Index {
		r.broadcastAck(ctx, m.FromIndex)
	}
}
