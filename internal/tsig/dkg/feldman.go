package dkg

import (
	"bytes"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// VerifyShare checks a dealt share against the dealer's commitment vector:
// g^share must equal Σ C_j * index^j. A false return with nil error means the
// share simply does not match; errors report malformed inputs.
func VerifyShare(ad curve.Adapter, share curve.Scalar, index uint32, commitments []curve.Point) (bool, error) {
	if ad == nil || index == 0 || len(commitments) == 0 {
		return false, ErrInvalidParams
	}
	if err := ad.ValidateScalar(share); err != nil {
		return false, err
	}
	lhs, err := ad.ScalarBaseMult(share)
	if err != nil {
		return false, err
	}
	rhs, err := evalCommitments(ad, commitments, index)
	if err != nil {
		return false, err
	}
	return bytes.Equal(lhs, rhs), nil
}

// evalCommitments evaluates the committed polynomial in the exponent:
// Σ C_j * x^j for a 1-based index x.
func evalCommitments(ad curve.Adapter, commitments []curve.Point, index uint32) (curve.Point, error) {
	x := ad.ScalarFromUint64(uint64(index))
	pow := ad.ScalarFromUint64(1)
	var acc curve.Point
	for _, c := range commitments {
		if err := ad.ValidatePoint(c); err != nil {
			return nil, ErrInvalidPoint
		}
		term, err := ad.ScalarMult(c, pow)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = term
		} else {
			acc, err = ad.AddPoints(acc, term)
			if err != nil {
				return nil, err
			}
		}
		pow, err = ad.MulScalars(pow, x)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// MasterPublicKey folds the qualified dealers' constant-term commitments into
// the group public key Σ C_d,0.
func MasterPublicKey(ad curve.Adapter, dealerCommitments [][]curve.Point) (curve.Point, error) {
	if ad == nil || len(dealerCommitments) == 0 {
		return nil, ErrInvalidParams
	}
	var acc curve.Point
	for _, com := range dealerCommitments {
		if len(com) == 0 {
			return nil, ErrInvalidParams
		}
		if err := ad.ValidatePoint(com[0]); err != nil {
			return nil, ErrInvalidPoint
		}
		if acc == nil {
			acc = com[0].Clone()
			continue
		}
		var err error
		acc, err = ad.AddPoints(acc, com[0])
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// SumCommitments adds dealer commitment vectors coefficient-wise, yielding
// the commitment vector of the summed group polynomial. All vectors must have
// the same length.
func SumCommitments(ad curve.Adapter, dealerCommitments [][]curve.Point) ([]curve.Point, error) {
	if ad == nil || len(dealerCommitments) == 0 {
		return nil, ErrInvalidParams
	}
	t := len(dealerCommitments[0])
	if t == 0 {
		return nil, ErrInvalidParams
	}
	acc := make([]curve.Point, t)
	for _, com := range dealerCommitments {
		if len(com) != t {
			return nil, ErrInvalidParams
		}
		for j, c := range com {
			if err := ad.ValidatePoint(c); err != nil {
				return nil, ErrInvalidPoint
			}
			if acc[j] == nil {
				acc[j] = c.Clone()
				continue
			}
			var err error
			acc[j], err = ad.AddPoints(acc[j], c)
			if err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

// PublicShare derives participant index's public key share from the group
// commitment vector, so anyone can verify that participant's partial
// signatures without seeing any secret.
func PublicShare(ad curve.Adapter, groupCommitments []curve.Point, index uint32) (curve.Point, error) {
	if ad == nil || index == 0 || len(groupCommitments) == 0 {
		return nil, ErrInvalidParams
	}
	return evalCommitments(ad, groupCommitments, index)
}
