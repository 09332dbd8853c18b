// Package curve abstracts the group arithmetic the threshold scheme runs on.
// An Adapter exposes scalar-field and group operations over a fixed generator
// plus the matching single-key signature scheme; everything above this layer
// (dealing, share validation, partial signing, combination) is written against
// the interface and never touches a concrete curve library.
package curve

import (
	"errors"
	"io"
	"math/big"
)

// ID names a supported curve.
type ID string

const (
	Secp256k1 ID = "secp256k1"
	P256      ID = "p256"
	Ed25519   ID = "ed25519"
	BLS12381  ID = "bls12-381"
)

// Scheme selects how partial signatures are produced and combined.
type Scheme string

const (
	// SchemeSchnorr covers the weierstrass and edwards backends: two-round
	// signing with a nonce commitment, final signature R||z.
	SchemeSchnorr Scheme = "schnorr"
	// SchemeBLS is single-round: partials are curve points and combination
	// is a weighted point sum.
	SchemeBLS Scheme = "bls"
)

// Scalar is a canonically encoded field element. Weierstrass and BLS backends
// use 32-byte big-endian; the edwards backend uses 32-byte canonical
// little-endian.
type Scalar []byte

// Point is a canonically encoded group element: 33-byte SEC1 compressed for
// weierstrass curves, 32-byte edwards encoding, 48-byte compressed G1 for
// BLS12-381.
type Point []byte

func (s Scalar) Clone() Scalar {
	if s == nil {
		return nil
	}
	out := make(Scalar, len(s))
	copy(out, s)
	return out
}

func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	out := make(Point, len(p))
	copy(out, p)
	return out
}

var (
	ErrScalarLength  = errors.New("curve: scalar length mismatch")
	ErrScalarRange   = errors.New("curve: scalar out of range")
	ErrPointFormat   = errors.New("curve: malformed point encoding")
	ErrPointInfinity = errors.New("curve: point at infinity has no encoding")
	ErrNotBuilt      = errors.New("curve: backend not built in, rebuild with -tags blst")
	ErrUnknownID     = errors.New("curve: unknown curve id")
)

// Hash domain tags. Every scalar derived from a hash carries dstScalar so
// transcript hashes cannot collide with other uses of the same hash function.
const (
	dstScalar = "QRS/TSIG/v1/H2S"
	// DSTSignatureG2 is the hash-to-curve suite for BLS signatures on G2.
	DSTSignatureG2 = "BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"
)

// Adapter is the group backend for one curve. Implementations are stateless
// and safe for concurrent use.
type Adapter interface {
	ID() ID
	Scheme() Scheme

	// Order returns the prime order of the scalar field. Callers must not
	// mutate the returned value.
	Order() *big.Int
	ScalarSize() int
	PointSize() int
	SignatureSize() int

	// RandomScalar draws a uniform scalar in [1, order-1].
	RandomScalar(r io.Reader) (Scalar, error)
	// ScalarFromBytes parses a canonical encoding; values >= order are
	// rejected, zero is accepted.
	ScalarFromBytes(b []byte) (Scalar, error)
	ScalarFromUint64(v uint64) Scalar

	AddScalars(a, b Scalar) (Scalar, error)
	SubScalars(a, b Scalar) (Scalar, error)
	MulScalars(a, b Scalar) (Scalar, error)
	// ModInverse returns a^-1 mod order; zero is not invertible.
	ModInverse(a Scalar) (Scalar, error)
	// HashToScalar maps arbitrary input to a scalar, domain-separated from
	// every other hash use in the module.
	HashToScalar(data ...[]byte) Scalar

	ScalarBaseMult(k Scalar) (Point, error)
	ScalarMult(p Point, k Scalar) (Point, error)
	AddPoints(a, b Point) (Point, error)

	// ValidateScalar checks a private key share: exact length and value in
	// [1, order-1]. Returns ErrScalarLength or ErrScalarRange.
	ValidateScalar(b []byte) error
	// ValidatePoint checks a group-element encoding, including subgroup
	// membership where the curve has a cofactor.
	ValidatePoint(b []byte) error

	// Sign produces a single-key signature over a message hash. For Schnorr
	// backends the nonce is derived deterministically from (priv, hash).
	Sign(hash []byte, priv Scalar) ([]byte, error)
	// Verify reports whether sig is valid for hash under pub.
	Verify(hash, sig []byte, pub Point) bool
}

// PointHasher is implemented by backends that hash messages onto the group,
// which pairing-based schemes need for signing.
type PointHasher interface {
	HashToPoint(msg []byte) (Point, error)
}

// AggregateOps is implemented by backends whose signatures live in the group
// and can therefore be scaled and summed directly. The combiner asserts this
// for SchemeBLS.
type AggregateOps interface {
	ScalarMultSig(sig []byte, k Scalar) ([]byte, error)
	AddSigs(a, b []byte) ([]byte, error)
}

// ByID returns the adapter for id. The BLS12-381 backend needs cgo and the
// blst build tag; without it the constructor reports ErrNotBuilt.
func ByID(id ID) (Adapter, error) {
	switch id {
	case Secp256k1:
		return NewSecp256k1(), nil
	case P256:
		return NewP256(), nil
	case Ed25519:
		return NewEd25519(), nil
	case BLS12381:
		return newBLS12381()
	default:
		return nil, ErrUnknownID
	}
}
