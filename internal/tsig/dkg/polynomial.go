// Package dkg implements Feldman verifiable secret sharing and the key
// generation ceremonies built on it: an in-process simulator, a per-session
// state machine with an engine registry, and a networked runner that deals
// encrypted shares over an authenticated broadcast channel.
package dkg

import (
	"errors"
	"io"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

var (
	ErrInvalidParams = errors.New("dkg: invalid params")
	ErrInvalidPoint  = errors.New("dkg: invalid point")
	ErrInvalidShare  = errors.New("dkg: invalid share")
)

// Polynomial is a random polynomial over the adapter's scalar field. The
// constant term is the dealt secret; shares are evaluations at participant
// indices 1..n.
type Polynomial struct {
	ad     curve.Adapter
	coeffs []curve.Scalar
}

// NewPolynomial draws threshold random coefficients, giving degree
// threshold-1 so any threshold shares reconstruct the secret.
func NewPolynomial(ad curve.Adapter, threshold uint32, r io.Reader) (*Polynomial, error) {
	if ad == nil || threshold == 0 {
		return nil, ErrInvalidParams
	}
	coeffs := make([]curve.Scalar, 0, threshold)
	for i := uint32(0); i < threshold; i++ {
		c, err := ad.RandomScalar(r)
		if err != nil {
			return nil, err
		}
		coeffs = append(coeffs, c)
	}
	return &Polynomial{ad: ad, coeffs: coeffs}, nil
}

// NewPolynomialFromSecret fixes the constant term, used by reshare rotations
// and trusted-dealer setup where the secret already exists.
func NewPolynomialFromSecret(ad curve.Adapter, secret curve.Scalar, threshold uint32, r io.Reader) (*Polynomial, error) {
	if ad == nil || threshold == 0 {
		return nil, ErrInvalidParams
	}
	if err := ad.ValidateScalar(secret); err != nil {
		return nil, err
	}
	coeffs := make([]curve.Scalar, 0, threshold)
	coeffs = append(coeffs, secret.Clone())
	for i := uint32(1); i < threshold; i++ {
		c, err := ad.RandomScalar(r)
		if err != nil {
			return nil, err
		}
		coeffs = append(coeffs, c)
	}
	return &Polynomial{ad: ad, coeffs: coeffs}, nil
}

// NewPolynomialFromCoefficients rebuilds a polynomial from a persisted
// coefficient vector, low to high degree.
func NewPolynomialFromCoefficients(ad curve.Adapter, coeffs []curve.Scalar) (*Polynomial, error) {
	if ad == nil || len(coeffs) == 0 {
		return nil, ErrInvalidParams
	}
	out := make([]curve.Scalar, 0, len(coeffs))
	for _, c := range coeffs {
		if err := ad.ValidateScalar(c); err != nil {
			return nil, err
		}
		out = append(out, c.Clone())
	}
	return &Polynomial{ad: ad, coeffs: out}, nil
}

func (p *Polynomial) Threshold() uint32 { return uint32(len(p.coeffs)) }

// Secret returns a copy of the constant term.
func (p *Polynomial) Secret() curve.Scalar { return p.coeffs[0].Clone() }

// Coefficients returns a deep copy of the coefficient vector, low to high.
func (p *Polynomial) Coefficients() []curve.Scalar {
	out := make([]curve.Scalar, 0, len(p.coeffs))
	for _, c := range p.coeffs {
		out = append(out, c.Clone())
	}
	return out
}

// EvaluateAt computes the share for a 1-based participant index by
// multiply-accumulating powers of the index.
func (p *Polynomial) EvaluateAt(index uint32) (curve.Scalar, error) {
	if index == 0 {
		return nil, ErrInvalidParams
	}
	ad := p.ad
	x := ad.ScalarFromUint64(uint64(index))
	acc := ad.ScalarFromUint64(0)
	pow := ad.ScalarFromUint64(1)
	for _, c := range p.coeffs {
		term, err := ad.MulScalars(c, pow)
		if err != nil {
			return nil, err
		}
		acc, err = ad.AddScalars(acc, term)
		if err != nil {
			return nil, err
		}
		pow, err = ad.MulScalars(pow, x)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Commitments returns the Feldman commitment vector C_j = g^{a_j}.
func (p *Polynomial) Commitments() ([]curve.Point, error) {
	out := make([]curve.Point, 0, len(p.coeffs))
	for _, c := range p.coeffs {
		pt, err := p.ad.ScalarBaseMult(c)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

// Zeroize best-effort clears the coefficients.
func (p *Polynomial) Zeroize() {
	for _, c := range p.coeffs {
		for i := range c {
			c[i] = 0
		}
	}
	p.coeffs = nil
}
