package curve

import (
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// NewSecp256k1 returns the secp256k1 backend. Group arithmetic runs on
// decred's optimized implementation; the coefficient a is zero, which is why
// decompression lives in the shared core instead of crypto/elliptic.
func NewSecp256k1() Adapter {
	c := secp256k1.S256()
	params := c.Params()
	return &weierstrass{
		id:      Secp256k1,
		curve:   c,
		a:       new(big.Int),
		b:       params.B,
		p:       params.P,
		order:   params.N,
		byteLen: (params.BitSize + 7) / 8,
	}
}
