package dkg

import (
	"io"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// SimResult is the complete output of an in-process key generation: every
// participant's secret share plus the public material any verifier needs.
type SimResult struct {
	MasterPublic     curve.Point
	GroupCommitments []curve.Point
	Shares           map[uint32]curve.Scalar
	PublicShares     map[uint32]curve.Point
}

// Simulate runs a full Feldman key generation with n honest dealers in one
// process: every participant deals a random polynomial, shares are verified
// against commitments, and each participant's final share is the sum of what
// it received. Used by local key generation, the dealer CLI and tests; the
// networked equivalent is Runner.
func Simulate(ad curve.Adapter, n, t uint32, r io.Reader) (*SimResult, error) {
	if ad == nil || n == 0 || t == 0 || t > n {
		return nil, ErrInvalidParams
	}
	polys := make([]*Polynomial, 0, n)
	commitments := make([][]curve.Point, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := NewPolynomial(ad, t, r)
		if err != nil {
			return nil, err
		}
		com, err := p.Commitments()
		if err != nil {
			return nil, err
		}
		polys = append(polys, p)
		commitments = append(commitments, com)
	}

	shares := make(map[uint32]curve.Scalar, n)
	for i := uint32(1); i <= n; i++ {
		sum := ad.ScalarFromUint64(0)
		for d, p := range polys {
			si, err := p.EvaluateAt(i)
			if err != nil {
				return nil, err
			}
			ok, err := VerifyShare(ad, si, i, commitments[d])
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrInvalidShare
			}
			sum, err = ad.AddScalars(sum, si)
			if err != nil {
				return nil, err
			}
		}
		shares[i] = sum
	}
	for _, p := range polys {
		p.Zeroize()
	}
	return assembleSim(ad, commitments, shares, n)
}

// SimulateReshare deals fresh shares of an existing secret, keeping the
// master public key stable across a rotation. At least oldT of the previous
// shares are interpolated back to the secret, then redealt at the new
// threshold.
func SimulateReshare(ad curve.Adapter, oldShares []Share, oldT int, n, t uint32, r io.Reader) (*SimResult, error) {
	if ad == nil || n == 0 || t == 0 || t > n {
		return nil, ErrInvalidParams
	}
	secret, err := CombineAtZero(ad, oldShares, oldT)
	if err != nil {
		return nil, err
	}
	poly, err := NewPolynomialFromSecret(ad, secret, t, r)
	for i := range secret {
		secret[i] = 0
	}
	if err != nil {
		return nil, err
	}
	com, err := poly.Commitments()
	if err != nil {
		return nil, err
	}
	shares := make(map[uint32]curve.Scalar, n)
	for i := uint32(1); i <= n; i++ {
		si, err := poly.EvaluateAt(i)
		if err != nil {
			return nil, err
		}
		shares[i] = si
	}
	poly.Zeroize()
	return assembleSim(ad, [][]curve.Point{com}, shares, n)
}

func assembleSim(ad curve.Adapter, dealerCommitments [][]curve.Point, shares map[uint32]curve.Scalar, n uint32) (*SimResult, error) {
	master, err := MasterPublicKey(ad, dealerCommitments)
	if err != nil {
		return nil, err
	}
	group, err := SumCommitments(ad, dealerCommitments)
	if err != nil {
		return nil, err
	}
	pubs := make(map[uint32]curve.Point, n)
	for i := uint32(1); i <= n; i++ {
		ps, err := PublicShare(ad, group, i)
		if err != nil {
			return nil, err
		}
		pubs[i] = ps
	}
	return &SimResult{
		MasterPublic:     master,
		GroupCommitments: group,
		Shares:           shares,
		PublicShares:     pubs,
	}, nil
}
