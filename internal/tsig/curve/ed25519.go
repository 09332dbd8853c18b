package curve

import (
	"crypto/sha512"
	"encoding/binary"
	"io"
	"math/big"

	"filippo.io/edwards25519"
)

// edGroupOrder is the prime order of the edwards25519 base-point subgroup,
// 2^252 + 27742317777372353535851937790883648493.
var edGroupOrder, _ = new(big.Int).SetString(
	"7237005577332262213973186563042994240857116359379907606001950938285454250989", 10)

// edwardsAdapter implements Adapter over edwards25519. Scalars are 32-byte
// canonical little-endian, points the standard 32-byte encoding, signatures
// Schnorr-shaped R||z like the weierstrass backends but with SHA-512 driving
// the challenge. Verification is cofactorless exact-point equality.
type edwardsAdapter struct{}

// NewEd25519 returns the edwards25519 backend.
func NewEd25519() Adapter { return &edwardsAdapter{} }

func (e *edwardsAdapter) ID() ID             { return Ed25519 }
func (e *edwardsAdapter) Scheme() Scheme     { return SchemeSchnorr }
func (e *edwardsAdapter) Order() *big.Int    { return edGroupOrder }
func (e *edwardsAdapter) ScalarSize() int    { return 32 }
func (e *edwardsAdapter) PointSize() int     { return 32 }
func (e *edwardsAdapter) SignatureSize() int { return 64 }

func (e *edwardsAdapter) scalarFrom(b []byte) (*edwards25519.Scalar, error) {
	if len(b) != 32 {
		return nil, ErrScalarLength
	}
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, ErrScalarRange
	}
	return sc, nil
}

func (e *edwardsAdapter) pointFrom(b []byte) (*edwards25519.Point, error) {
	if len(b) != 32 {
		return nil, ErrPointFormat
	}
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, ErrPointFormat
	}
	return p, nil
}

func (e *edwardsAdapter) RandomScalar(r io.Reader) (Scalar, error) {
	wide := make([]byte, 64)
	zero := edwards25519.NewScalar()
	for {
		if _, err := io.ReadFull(r, wide); err != nil {
			return nil, err
		}
		sc, err := edwards25519.NewScalar().SetUniformBytes(wide)
		if err != nil {
			return nil, err
		}
		if sc.Equal(zero) == 0 {
			return sc.Bytes(), nil
		}
	}
}

func (e *edwardsAdapter) ScalarFromBytes(b []byte) (Scalar, error) {
	sc, err := e.scalarFrom(b)
	if err != nil {
		return nil, err
	}
	return sc.Bytes(), nil
}

func (e *edwardsAdapter) ScalarFromUint64(v uint64) Scalar {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[:8], v)
	sc, _ := edwards25519.NewScalar().SetCanonicalBytes(buf[:])
	return sc.Bytes()
}

func (e *edwardsAdapter) AddScalars(a, b Scalar) (Scalar, error) {
	av, err := e.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	bv, err := e.scalarFrom(b)
	if err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().Add(av, bv).Bytes(), nil
}

func (e *edwardsAdapter) SubScalars(a, b Scalar) (Scalar, error) {
	av, err := e.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	bv, err := e.scalarFrom(b)
	if err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().Subtract(av, bv).Bytes(), nil
}

func (e *edwardsAdapter) MulScalars(a, b Scalar) (Scalar, error) {
	av, err := e.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	bv, err := e.scalarFrom(b)
	if err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().Multiply(av, bv).Bytes(), nil
}

func (e *edwardsAdapter) ModInverse(a Scalar) (Scalar, error) {
	av, err := e.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	if av.Equal(edwards25519.NewScalar()) == 1 {
		return nil, ErrScalarRange
	}
	return edwards25519.NewScalar().Invert(av).Bytes(), nil
}

func (e *edwardsAdapter) hashWide(tag string, data ...[]byte) *edwards25519.Scalar {
	h := sha512.New()
	h.Write([]byte(tag))
	h.Write([]byte(Ed25519))
	for _, d := range data {
		h.Write(d)
	}
	sc, _ := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	return sc
}

func (e *edwardsAdapter) HashToScalar(data ...[]byte) Scalar {
	return e.hashWide(dstScalar, data...).Bytes()
}

func (e *edwardsAdapter) ScalarBaseMult(k Scalar) (Point, error) {
	kv, err := e.scalarFrom(k)
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Point).ScalarBaseMult(kv).Bytes(), nil
}

func (e *edwardsAdapter) ScalarMult(p Point, k Scalar) (Point, error) {
	kv, err := e.scalarFrom(k)
	if err != nil {
		return nil, err
	}
	pv, err := e.pointFrom(p)
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Point).ScalarMult(kv, pv).Bytes(), nil
}

func (e *edwardsAdapter) AddPoints(a, b Point) (Point, error) {
	av, err := e.pointFrom(a)
	if err != nil {
		return nil, err
	}
	bv, err := e.pointFrom(b)
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Point).Add(av, bv).Bytes(), nil
}

func (e *edwardsAdapter) ValidateScalar(b []byte) error {
	if len(b) != 32 {
		return ErrScalarLength
	}
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return ErrScalarRange
	}
	if sc.Equal(edwards25519.NewScalar()) == 1 {
		return ErrScalarRange
	}
	return nil
}

func (e *edwardsAdapter) ValidatePoint(b []byte) error {
	_, err := e.pointFrom(b)
	return err
}

func (e *edwardsAdapter) Sign(hash []byte, priv Scalar) ([]byte, error) {
	x, err := e.scalarFrom(priv)
	if err != nil {
		return nil, err
	}
	if x.Equal(edwards25519.NewScalar()) == 1 {
		return nil, ErrScalarRange
	}
	k := e.hashWide(dstNonce, priv, hash)
	R := new(edwards25519.Point).ScalarBaseMult(k)
	A := new(edwards25519.Point).ScalarBaseMult(x)

	c := e.hashWide(dstScalar, R.Bytes(), A.Bytes(), hash)
	z := edwards25519.NewScalar().MultiplyAdd(c, x, k)

	sig := make([]byte, 0, 64)
	sig = append(sig, R.Bytes()...)
	sig = append(sig, z.Bytes()...)
	return sig, nil
}

func (e *edwardsAdapter) Verify(hash, sig []byte, pub Point) bool {
	if len(sig) != 64 {
		return false
	}
	R, err := e.pointFrom(sig[:32])
	if err != nil {
		return false
	}
	z, err := e.scalarFrom(sig[32:])
	if err != nil {
		return false
	}
	A, err := e.pointFrom(pub)
	if err != nil {
		return false
	}
	c := e.hashWide(dstScalar, sig[:32], pub, hash)
	negC := edwards25519.NewScalar().Negate(c)

	// z*B == R + c*A, rearranged to -c*A + z*B == R
	chk := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(negC, A, z)
	return chk.Equal(R) == 1
}
