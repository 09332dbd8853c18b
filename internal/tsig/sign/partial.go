// Package sign produces and combines partial signatures over a curve.Adapter.
// Schnorr backends run two rounds (nonce commitment, then response); BLS runs
// one. Combination scales each contribution by its Lagrange coefficient at
// zero so the result verifies as an ordinary single-key signature under the
// master public key.
package sign

import (
	"errors"
	"fmt"
	"io"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
)

var (
	// ErrCancelled reports a signing session abandoned by its caller.
	ErrCancelled = errors.New("sign: session cancelled")
	// ErrBusy reports that the node is at its concurrent-session limit.
	ErrBusy = errors.New("sign: too many open sessions")
	// ErrNoShare reports a signing attempt on a node that holds no key share.
	ErrNoShare = errors.New("sign: node holds no key share")
)

// InsufficientError reports too few usable partial signatures.
type InsufficientError struct {
	Have int
	Need int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("sign: %d partial signatures, need %d", e.Have, e.Need)
}

// MalformedError names the signer whose contribution broke the session.
type MalformedError struct {
	Signer uint32
	Detail string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("sign: malformed partial from signer %d: %s", e.Signer, e.Detail)
}

// PartialSignature is one signer's contribution to a threshold signature.
type PartialSignature struct {
	// SignerID is the signer's 1-based share index.
	SignerID uint32
	// Value is the response scalar for Schnorr schemes, the signature point
	// for BLS.
	Value []byte
	// NonceCommitment is the signer's R_i for Schnorr schemes; empty for BLS.
	NonceCommitment []byte
}

// Nonce is one signer's ephemeral secret for a single Schnorr session. It must
// never be reused: a second response under the same nonce leaks the share.
type Nonce struct {
	k curve.Scalar
	r curve.Point
}

// NewNonce draws a fresh nonce and its commitment.
func NewNonce(ad curve.Adapter, rand io.Reader) (*Nonce, error) {
	k, err := ad.RandomScalar(rand)
	if err != nil {
		return nil, err
	}
	r, err := ad.ScalarBaseMult(k)
	if err != nil {
		return nil, err
	}
	return &Nonce{k: k, r: r}, nil
}

// Commitment returns the public half of the nonce.
func (n *Nonce) Commitment() curve.Point { return n.r.Clone() }

// AggregateNonces folds the signers' nonce commitments into the session nonce
// R = sum(lambda_i * R_i) over the fixed signer set. Every signer computes the
// same R, so every signer derives the same challenge.
func AggregateNonces(ad curve.Adapter, nonces map[uint32]curve.Point, signers []uint32) (curve.Point, error) {
	if len(signers) == 0 {
		return nil, &InsufficientError{Have: 0, Need: 1}
	}
	var sum curve.Point
	for _, id := range signers {
		r, ok := nonces[id]
		if !ok {
			return nil, &InsufficientError{Have: len(nonces), Need: len(signers)}
		}
		lambda, err := dkg.LagrangeCoefficient(ad, id, signers)
		if err != nil {
			return nil, err
		}
		term, err := ad.ScalarMult(r, lambda)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = term
			continue
		}
		sum, err = ad.AddPoints(sum, term)
		if err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// Challenge derives the session challenge from the aggregated nonce, the
// master public key and the message hash. It matches the challenge the
// adapter's single-key verifier recomputes, which is what makes the combined
// signature verify as an ordinary one.
func Challenge(ad curve.Adapter, aggregateNonce, masterPublic curve.Point, msgHash []byte) curve.Scalar {
	return ad.HashToScalar(aggregateNonce, masterPublic, msgHash)
}

// SchnorrPartial completes round two for one signer: z_i = k_i + c*s_i. The
// Lagrange weighting happens at combination, not here, so a partial stays in
// the same shape as a single-key response.
func SchnorrPartial(ad curve.Adapter, signerID uint32, nonce *Nonce, challenge, secretShare curve.Scalar) (PartialSignature, error) {
	if nonce == nil {
		return PartialSignature{}, errors.New("sign: nil nonce")
	}
	if err := ad.ValidateScalar(secretShare); err != nil {
		return PartialSignature{}, err
	}
	cs, err := ad.MulScalars(challenge, secretShare)
	if err != nil {
		return PartialSignature{}, err
	}
	z, err := ad.AddScalars(nonce.k, cs)
	if err != nil {
		return PartialSignature{}, err
	}
	return PartialSignature{
		SignerID:        signerID,
		Value:           z,
		NonceCommitment: nonce.r.Clone(),
	}, nil
}

// BLSPartial produces the single-round contribution s_i * H(m), which is just
// the adapter's ordinary signature under the share.
func BLSPartial(ad curve.Adapter, signerID uint32, msgHash []byte, secretShare curve.Scalar) (PartialSignature, error) {
	sig, err := ad.Sign(msgHash, secretShare)
	if err != nil {
		return PartialSignature{}, err
	}
	return PartialSignature{SignerID: signerID, Value: sig}, nil
}

// VerifySchnorrPartial checks z_i*G == R_i + c*X_i against the signer's public
// share X_i.
func VerifySchnorrPartial(ad curve.Adapter, p PartialSignature, challenge curve.Scalar, publicShare curve.Point) bool {
	z, err := ad.ScalarFromBytes(p.Value)
	if err != nil {
		return false
	}
	lhs, err := ad.ScalarBaseMult(z)
	if err != nil {
		return false
	}
	cx, err := ad.ScalarMult(publicShare, challenge)
	if err != nil {
		return false
	}
	rhs, err := ad.AddPoints(curve.Point(p.NonceCommitment), cx)
	if err != nil {
		return false
	}
	return string(lhs) == string(rhs)
}

// VerifyBLSPartial checks the contribution as an ordinary signature under the
// signer's public share.
func VerifyBLSPartial(ad curve.Adapter, p PartialSignature, msgHash []byte, publicShare curve.Point) bool {
	return ad.Verify(msgHash, p.Value, publicShare)
}
