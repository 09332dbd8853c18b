package curve

import (
	"crypto/elliptic"
	"math/big"
)

// NewP256 returns the NIST P-256 backend on the standard library curve.
func NewP256() Adapter {
	c := elliptic.P256()
	params := c.Params()
	return &weierstrass{
		id:      P256,
		curve:   c,
		a:       new(big.Int).Sub(params.P, big.NewInt(3)),
		b:       params.B,
		p:       params.P,
		order:   params.N,
		byteLen: (params.BitSize + 7) / 8,
	}
}
