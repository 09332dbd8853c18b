package dkg

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

var (
	ErrCeremonyAborted = errors.New("dkg: ceremony aborted")
	ErrCeremonyExpired = errors.New("dkg: ceremony deadline exceeded")
	ErrCeremonyDone    = errors.New("dkg: ceremony already finalized")
	ErrNotReady        = errors.New("dkg: ceremony not ready")
)

// QuorumError reports a ceremony that cannot reach threshold many qualified
// dealers. Mismatched lists dealers excluded because their commitments did
// not verify, distinguishing equivocation from plain absence.
type QuorumError struct {
	Qualified  int
	Needed     int
	Mismatched []uint32
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("dkg: %d qualified dealers, need %d (%d commitment mismatches)",
		e.Qualified, e.Needed, len(e.Mismatched))
}

// ExpiryError reports a ceremony that hit its deadline, naming the
// participants that never delivered both a commitment vector and a share.
// It unwraps to ErrCeremonyExpired.
type ExpiryError struct {
	Missing []uint32
}

func (e *ExpiryError) Error() string {
	return fmt.Sprintf("%v: no response from %v", ErrCeremonyExpired, e.Missing)
}

func (e *ExpiryError) Unwrap() error { return ErrCeremonyExpired }

// CeremonyParams configures one key-generation session.
type CeremonyParams struct {
	// ID is the session identifier; a fresh UUID is minted when empty.
	// Failed ceremonies are retried under a new ID, never reused.
	ID    string
	Epoch uint64

	Threshold    uint32
	Participants uint32
	// SelfIndex is this node's dealing index; 0 observes without dealing.
	SelfIndex uint32

	// Secret, when set, fixes this dealer's constant term (reshare).
	Secret curve.Scalar

	// Timeout bounds the ceremony; zero disables the deadline.
	Timeout time.Duration
	Clock   clock.Clock
	Rand    io.Reader
}

// Ceremony accumulates one session's commitments and shares, validates them
// as they arrive, and folds the qualified dealers into a key share. Message
// ordering and retransmission live in Runner; Ceremony is the protocol state.
type Ceremony struct {
	mu sync.Mutex

	ad        curve.Adapter
	id        string
	epoch     uint64
	n, t      uint32
	selfIndex uint32
	clk       clock.Clock
	rng       io.Reader
	deadline  time.Time

	poly        *Polynomial
	commitments map[uint32][]curve.Point
	shares      map[uint32]curve.Scalar
	excluded    map[uint32]string
	mismatched  map[uint32]struct{}

	aborted     bool
	abortDetail string
	done        bool
	result      *Result
}

// Result is one participant's output from a completed ceremony.
type Result struct {
	SessionID    string
	Epoch        uint64
	Index        uint32
	Threshold    uint32
	Participants uint32
	Qualified    []uint32

	MasterPublic     curve.Point
	GroupCommitments []curve.Point
	SecretShare      curve.Scalar
	PublicShares     map[uint32]curve.Point
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	ID           string    `json:"id"`
	Epoch        uint64    `json:"epoch"`
	Participants uint32    `json:"participants"`
	Threshold    uint32    `json:"threshold"`
	Commitments  int       `json:"commitments"`
	Shares       int       `json:"shares"`
	Excluded     []uint32  `json:"excluded,omitempty"`
	Done         bool      `json:"done"`
	Aborted      bool      `json:"aborted"`
	Deadline     time.Time `json:"deadline,omitempty"`
}

func NewCeremony(ad curve.Adapter, p CeremonyParams) (*Ceremony, error) {
	if ad == nil || p.Threshold == 0 || p.Participants == 0 || p.Threshold > p.Participants {
		return nil, ErrInvalidParams
	}
	if p.SelfIndex > p.Participants {
		return nil, ErrInvalidParams
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Epoch == 0 {
		p.Epoch = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	rng := p.Rand
	if rng == nil {
		rng = rand.Reader
	}
	c := &Ceremony{
		ad:          ad,
		id:          p.ID,
		epoch:       p.Epoch,
		n:           p.Participants,
		t:           p.Threshold,
		selfIndex:   p.SelfIndex,
		clk:         clk,
		rng:         rng,
		commitments: make(map[uint32][]curve.Point, p.Participants),
		shares:      make(map[uint32]curve.Scalar, p.Participants),
		excluded:    make(map[uint32]string),
		mismatched:  make(map[uint32]struct{}),
	}
	if p.Timeout > 0 {
		c.deadline = clk.Now().Add(p.Timeout)
	}
	if p.Secret != nil {
		poly, err := NewPolynomialFromSecret(ad, p.Secret, p.Threshold, rng)
		if err != nil {
			return nil, err
		}
		c.poly = poly
	}
	return c, nil
}

func (c *Ceremony) ID() string    { return c.id }
func (c *Ceremony) Epoch() uint64 { return c.epoch }

// Start deals this node's polynomial and returns the commitment vector to
// broadcast. Idempotent; observers (SelfIndex 0) get a nil vector.
func (c *Ceremony) Start() ([]curve.Point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfIndex == 0 {
		return nil, nil
	}
	if c.poly == nil {
		poly, err := NewPolynomial(c.ad, c.t, c.rng)
		if err != nil {
			return nil, err
		}
		c.poly = poly
	}
	if _, ok := c.commitments[c.selfIndex]; !ok {
		com, err := c.poly.Commitments()
		if err != nil {
			return nil, err
		}
		self, err := c.poly.EvaluateAt(c.selfIndex)
		if err != nil {
			return nil, err
		}
		c.commitments[c.selfIndex] = com
		c.shares[c.selfIndex] = self
	}
	return clonePoints(c.commitments[c.selfIndex]), nil
}

// ShareFor evaluates this node's polynomial at another participant's index.
func (c *Ceremony) ShareFor(index uint32) (curve.Scalar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poly == nil {
		return nil, ErrNotReady
	}
	if index == 0 || index > c.n {
		return nil, ErrInvalidParams
	}
	return c.poly.EvaluateAt(index)
}

// SubmitCommitments records a dealer's commitment vector. The first vector
// per dealer wins; malformed vectors disqualify the dealer.
func (c *Ceremony) SubmitCommitments(from uint32, coms []curve.Point) error {
	if from == 0 || from > c.n {
		return ErrInvalidParams
	}
	if len(coms) != int(c.t) {
		c.exclude(from, "bad_commitments_len", false)
		return ErrInvalidPoint
	}
	for _, p := range coms {
		if err := c.ad.ValidatePoint(p); err != nil {
			c.exclude(from, "bad_commitments_point", false)
			return ErrInvalidPoint
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, bad := c.excluded[from]; bad {
		return nil
	}
	if _, ok := c.commitments[from]; ok {
		return nil
	}
	c.commitments[from] = clonePoints(coms)
	return nil
}

// SubmitShare records the share dealer sent to this node after checking it
// against the dealer's commitments. A share that fails the Feldman check
// disqualifies the dealer.
func (c *Ceremony) SubmitShare(dealer uint32, share curve.Scalar) error {
	if dealer == 0 || dealer > c.n {
		return ErrInvalidParams
	}
	c.mu.Lock()
	if c.selfIndex == 0 {
		c.mu.Unlock()
		return ErrNotReady
	}
	if _, bad := c.excluded[dealer]; bad {
		c.mu.Unlock()
		return nil
	}
	com := c.commitments[dealer]
	if len(com) == 0 {
		c.mu.Unlock()
		return ErrNotReady
	}
	if _, ok := c.shares[dealer]; ok {
		c.mu.Unlock()
		return nil
	}
	index := c.selfIndex
	c.mu.Unlock()

	if err := c.ad.ValidateScalar(share); err != nil {
		c.exclude(dealer, "bad_share_scalar", true)
		return fmt.Errorf("%w: %w", ErrInvalidShare, err)
	}
	ok, err := VerifyShare(c.ad, share, index, com)
	if err != nil {
		c.exclude(dealer, "bad_share_verify", true)
		return err
	}
	if !ok {
		c.exclude(dealer, "commitment_mismatch", true)
		return ErrInvalidShare
	}

	c.mu.Lock()
	c.shares[dealer] = share.Clone()
	c.mu.Unlock()
	return nil
}

// Exclude disqualifies a participant for the rest of the ceremony.
func (c *Ceremony) Exclude(index uint32, detail string) {
	c.exclude(index, detail, false)
}

func (c *Ceremony) exclude(index uint32, detail string, mismatch bool) {
	if index == 0 || index > c.n {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.excluded[index]; ok {
		return
	}
	c.excluded[index] = detail
	if mismatch {
		c.mismatched[index] = struct{}{}
	}
	delete(c.commitments, index)
	delete(c.shares, index)
	logger.InfoJ("tsig_ceremony", map[string]any{
		"event":   "participant_excluded",
		"session": c.id,
		"index":   index,
		"reason":  detail,
	})
	metrics.Inc("tsig_ceremony_exclusions_total", map[string]string{"reason": detail})
}

// Abort cancels the ceremony; Finalize reports ErrCeremonyAborted afterwards.
func (c *Ceremony) Abort(detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done || c.aborted {
		return
	}
	c.aborted = true
	c.abortDetail = detail
}

// Expired reports whether the deadline has passed without completion.
func (c *Ceremony) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.done && !c.deadline.IsZero() && c.clk.Now().After(c.deadline)
}

// Finalize folds the qualified dealers into this node's key share. It can be
// called repeatedly; once it succeeds the cached result is returned.
func (c *Ceremony) Finalize() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.result, nil
	}
	if c.aborted {
		return nil, fmt.Errorf("%w: %s", ErrCeremonyAborted, c.abortDetail)
	}
	if !c.deadline.IsZero() && c.clk.Now().After(c.deadline) {
		return nil, &ExpiryError{Missing: c.missingLocked()}
	}
	if c.selfIndex == 0 {
		return nil, ErrNotReady
	}

	qual := make([]uint32, 0, c.n)
	for i := uint32(1); i <= c.n; i++ {
		if _, bad := c.excluded[i]; bad {
			continue
		}
		if len(c.commitments[i]) == 0 || c.shares[i] == nil {
			continue
		}
		qual = append(qual, i)
	}
	if len(qual) < int(c.t) {
		return nil, &QuorumError{
			Qualified:  len(qual),
			Needed:     int(c.t),
			Mismatched: setToSlice(c.mismatched),
		}
	}

	dealerComs := make([][]curve.Point, 0, len(qual))
	for _, d := range qual {
		dealerComs = append(dealerComs, c.commitments[d])
	}
	master, err := MasterPublicKey(c.ad, dealerComs)
	if err != nil {
		return nil, err
	}
	group, err := SumCommitments(c.ad, dealerComs)
	if err != nil {
		return nil, err
	}
	secret := c.ad.ScalarFromUint64(0)
	for _, d := range qual {
		secret, err = c.ad.AddScalars(secret, c.shares[d])
		if err != nil {
			return nil, err
		}
	}
	pubs := make(map[uint32]curve.Point, c.n)
	for i := uint32(1); i <= c.n; i++ {
		ps, err := PublicShare(c.ad, group, i)
		if err != nil {
			return nil, err
		}
		pubs[i] = ps
	}

	c.done = true
	c.result = &Result{
		SessionID:        c.id,
		Epoch:            c.epoch,
		Index:            c.selfIndex,
		Threshold:        c.t,
		Participants:     c.n,
		Qualified:        qual,
		MasterPublic:     master,
		GroupCommitments: group,
		SecretShare:      secret,
		PublicShares:     pubs,
	}
	logger.InfoJ("tsig_ceremony", map[string]any{
		"event":     "finalized",
		"session":   c.id,
		"epoch":     c.epoch,
		"qualified": len(qual),
	})
	metrics.Inc("tsig_ceremonies_total", map[string]string{"result": "ok"})
	return c.result, nil
}

// missingLocked lists participants with no commitment vector or no share on
// record. Excluded participants responded, just badly; they are not missing.
func (c *Ceremony) missingLocked() []uint32 {
	out := make([]uint32, 0, c.n)
	for i := uint32(1); i <= c.n; i++ {
		if _, bad := c.excluded[i]; bad {
			continue
		}
		if len(c.commitments[i]) == 0 || c.shares[i] == nil {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot returns the current status for operator surfaces.
func (c *Ceremony) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		ID:           c.id,
		Epoch:        c.epoch,
		Participants: c.n,
		Threshold:    c.t,
		Commitments:  len(c.commitments),
		Shares:       len(c.shares),
		Excluded:     excludedIndices(c.excluded),
		Done:         c.done,
		Aborted:      c.aborted,
		Deadline:     c.deadline,
	}
}

func clonePoints(in []curve.Point) []curve.Point {
	if len(in) == 0 {
		return nil
	}
	out := make([]curve.Point, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func setToSlice(in map[uint32]struct{}) []uint32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	return out
}

func excludedIndices(in map[uint32]string) []uint32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	return out
}
