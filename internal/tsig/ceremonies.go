package tsig

import (
	"context"
	"errors"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
)

// The explicit ceremony surface drives key generation one message at a time:
// the caller owns the exchange of commitments and shares (over whatever
// channel it trusts) and feeds them in by ceremony id. The networked runner
// behind GenerateDistributedKeys automates exactly this flow; orchestrators
// with their own broadcast layer use these methods directly.

// InitCeremony registers a ceremony under id (minting an id when empty),
// deals this node's polynomial, and returns the ceremony id plus the
// commitment vector to publish. Calling again with a live id returns the
// same ceremony and commitments.
func (c *Coordinator) InitCeremony(id string, epoch uint64) (string, []curve.Point, error) {
	cer, err := c.eng.Init(id, epoch)
	if err != nil {
		return "", nil, c.ceremonyErr(id, err)
	}
	coms, err := cer.Start()
	if err != nil {
		return "", nil, c.ceremonyErr(cer.ID(), err)
	}
	return cer.ID(), coms, nil
}

// CeremonyShareFor evaluates this node's ceremony polynomial at another
// participant's index; the caller delivers it to that participant.
func (c *Coordinator) CeremonyShareFor(id string, index uint32) (curve.Scalar, error) {
	cer, ok := c.eng.Get(id)
	if !ok {
		return nil, &CeremonyError{Session: id, Reason: CeremonyAborted, Detail: "unknown ceremony"}
	}
	share, err := cer.ShareFor(index)
	if err != nil {
		return nil, c.ceremonyErr(id, err)
	}
	return share, nil
}

// SubmitCommitments records a dealer's published commitment vector.
// Resubmission of the same vector is a no-op; a malformed vector excludes the
// dealer and reports a ShareValidationError.
func (c *Coordinator) SubmitCommitments(id string, from uint32, coms []curve.Point) error {
	cer, ok := c.eng.Get(id)
	if !ok {
		return &CeremonyError{Session: id, Reason: CeremonyAborted, Detail: "unknown ceremony"}
	}
	if err := cer.SubmitCommitments(from, coms); err != nil {
		if errors.Is(err, dkg.ErrInvalidPoint) {
			return &ShareValidationError{Participant: from, Reason: ShareCommitmentCheckFailed}
		}
		return c.ceremonyErr(id, err)
	}
	return nil
}

// SubmitShare records the share a dealer sent to this node. A share failing
// the Feldman check excludes that dealer without aborting the ceremony; the
// error names the dealer so callers can report it.
func (c *Coordinator) SubmitShare(id string, from uint32, share curve.Scalar) error {
	cer, ok := c.eng.Get(id)
	if !ok {
		return &CeremonyError{Session: id, Reason: CeremonyAborted, Detail: "unknown ceremony"}
	}
	if err := cer.SubmitShare(from, share); err != nil {
		if errors.Is(err, dkg.ErrInvalidShare) || errors.Is(err, curve.ErrScalarLength) || errors.Is(err, curve.ErrScalarRange) {
			return NewShareValidationError(from, err)
		}
		return c.ceremonyErr(id, err)
	}
	return nil
}

// FinalizeCeremony folds the qualified dealers into this node's key share and
// installs the result exactly like GenerateDistributedKeys. Idempotent once
// it has succeeded.
func (c *Coordinator) FinalizeCeremony(ctx context.Context, id string) (*dkg.Result, error) {
	res, err := c.eng.Finalize(ctx, id)
	if err != nil {
		return nil, c.ceremonyErr(id, err)
	}
	c.mu.Lock()
	if res.Epoch > c.epoch || c.state == StateUninitialized {
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
	} else {
		c.mu.Unlock()
	}
	return res, nil
}

// AbortCeremony cancels a live ceremony; collected data is discarded and the
// caller retries under a fresh id.
func (c *Coordinator) AbortCeremony(id, detail string) error {
	if err := c.eng.Abort(id, detail); err != nil {
		return &CeremonyError{Session: id, Reason: CeremonyAborted, Detail: "unknown ceremony"}
	}
	return nil
}

// CeremonyStatuses snapshots every registered ceremony, expired ones swept.
func (c *Coordinator) CeremonyStatuses() []dkg.Status {
	c.eng.Sweep()
	return c.eng.Statuses()
}
