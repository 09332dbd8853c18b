//go:build blst

package curve

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"
)

// blsOrder is the BLS12-381 scalar field modulus r.
var blsOrder, _ = new(big.Int).SetString(
	"73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

// blsAdapter implements Adapter over BLS12-381 in the min-pk layout: public
// keys and commitments on G1 (48-byte compressed), signatures on G2 (96-byte
// compressed). Signing is single-round, so it also implements PointHasher and
// AggregateOps for the combiner.
type blsAdapter struct{}

func newBLS12381() (Adapter, error) { return &blsAdapter{}, nil }

func (b *blsAdapter) ID() ID             { return BLS12381 }
func (b *blsAdapter) Scheme() Scheme     { return SchemeBLS }
func (b *blsAdapter) Order() *big.Int    { return blsOrder }
func (b *blsAdapter) ScalarSize() int    { return blst.BLST_SCALAR_BYTES }
func (b *blsAdapter) PointSize() int     { return 48 }
func (b *blsAdapter) SignatureSize() int { return 96 }

func (b *blsAdapter) scalarFrom(s []byte) (*blst.Scalar, error) {
	if len(s) != blst.BLST_SCALAR_BYTES {
		return nil, ErrScalarLength
	}
	var sc blst.Scalar
	if sc.Deserialize(s) == nil {
		return nil, ErrScalarRange
	}
	return &sc, nil
}

func (b *blsAdapter) RandomScalar(r io.Reader) (Scalar, error) {
	var ikm [32]byte
	if _, err := io.ReadFull(r, ikm[:]); err != nil {
		return nil, err
	}
	sk := blst.KeyGen(ikm[:])
	if sk == nil {
		return nil, errors.New("curve: bad randomness")
	}
	return sk.Serialize(), nil
}

func (b *blsAdapter) ScalarFromBytes(s []byte) (Scalar, error) {
	sc, err := b.scalarFrom(s)
	if err != nil {
		return nil, err
	}
	return sc.Serialize(), nil
}

func (b *blsAdapter) ScalarFromUint64(v uint64) Scalar {
	var buf [blst.BLST_SCALAR_BYTES]byte
	binary.BigEndian.PutUint64(buf[len(buf)-8:], v)
	var sc blst.Scalar
	_ = sc.FromBEndian(buf[:])
	return sc.Serialize()
}

func (b *blsAdapter) AddScalars(a, c Scalar) (Scalar, error) {
	av, err := b.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	cv, err := b.scalarFrom(c)
	if err != nil {
		return nil, err
	}
	out, ok := av.Add(cv)
	if !ok {
		return nil, ErrScalarRange
	}
	return out.Serialize(), nil
}

func (b *blsAdapter) SubScalars(a, c Scalar) (Scalar, error) {
	av, err := b.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	cv, err := b.scalarFrom(c)
	if err != nil {
		return nil, err
	}
	out, ok := av.Sub(cv)
	if !ok {
		return nil, ErrScalarRange
	}
	return out.Serialize(), nil
}

func (b *blsAdapter) MulScalars(a, c Scalar) (Scalar, error) {
	av, err := b.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	cv, err := b.scalarFrom(c)
	if err != nil {
		return nil, err
	}
	out, ok := av.Mul(cv)
	if !ok {
		return nil, ErrScalarRange
	}
	return out.Serialize(), nil
}

func (b *blsAdapter) ModInverse(a Scalar) (Scalar, error) {
	av, err := b.scalarFrom(a)
	if err != nil {
		return nil, err
	}
	if new(big.Int).SetBytes(a).Sign() == 0 {
		return nil, ErrScalarRange
	}
	return av.Inverse().Serialize(), nil
}

func (b *blsAdapter) HashToScalar(data ...[]byte) Scalar {
	h := sha256.New()
	h.Write([]byte(dstScalar))
	h.Write([]byte(BLS12381))
	for _, d := range data {
		h.Write(d)
	}
	v := new(big.Int).SetBytes(h.Sum(nil))
	v.Mod(v, blsOrder)
	out := make(Scalar, blst.BLST_SCALAR_BYTES)
	v.FillBytes(out)
	return out
}

func (b *blsAdapter) ScalarBaseMult(k Scalar) (Point, error) {
	sc, err := b.scalarFrom(k)
	if err != nil {
		return nil, err
	}
	return blst.P1Generator().Mult(sc).ToAffine().Compress(), nil
}

func (b *blsAdapter) ScalarMult(p Point, k Scalar) (Point, error) {
	sc, err := b.scalarFrom(k)
	if err != nil {
		return nil, err
	}
	var aff blst.P1Affine
	if aff.Uncompress(p) == nil {
		return nil, ErrPointFormat
	}
	var jac blst.P1
	jac.FromAffine(&aff)
	jac.MultAssign(sc)
	return jac.ToAffine().Compress(), nil
}

func (b *blsAdapter) AddPoints(a, c Point) (Point, error) {
	var affA, affC blst.P1Affine
	if affA.Uncompress(a) == nil || affC.Uncompress(c) == nil {
		return nil, ErrPointFormat
	}
	var pa, pc blst.P1
	pa.FromAffine(&affA)
	pc.FromAffine(&affC)
	pa.AddAssign(&pc)
	return pa.ToAffine().Compress(), nil
}

func (b *blsAdapter) ValidateScalar(s []byte) error {
	if len(s) != blst.BLST_SCALAR_BYTES {
		return ErrScalarLength
	}
	var sc blst.Scalar
	if sc.Deserialize(s) == nil {
		return ErrScalarRange
	}
	if new(big.Int).SetBytes(s).Sign() == 0 {
		return ErrScalarRange
	}
	return nil
}

func (b *blsAdapter) ValidatePoint(p []byte) error {
	var aff blst.P1Affine
	if aff.Uncompress(p) == nil {
		return ErrPointFormat
	}
	if !aff.InG1() {
		return ErrPointFormat
	}
	return nil
}

func (b *blsAdapter) Sign(hash []byte, priv Scalar) ([]byte, error) {
	sc, err := b.scalarFrom(priv)
	if err != nil {
		return nil, err
	}
	if new(big.Int).SetBytes(priv).Sign() == 0 {
		return nil, ErrScalarRange
	}
	sig := new(blst.P2Affine).Sign(sc, hash, []byte(DSTSignatureG2))
	return sig.Compress(), nil
}

func (b *blsAdapter) Verify(hash, sig []byte, pub Point) bool {
	var pkAff blst.P1Affine
	if pkAff.Uncompress(pub) == nil {
		return false
	}
	var sigAff blst.P2Affine
	if sigAff.Uncompress(sig) == nil {
		return false
	}
	return sigAff.Verify(true, &pkAff, true, hash, []byte(DSTSignatureG2))
}

// HashToPoint maps a message hash onto G2 with the signature domain tag, so
// manually assembled signatures agree with Sign.
func (b *blsAdapter) HashToPoint(msg []byte) (Point, error) {
	p := blst.HashToG2(msg, []byte(DSTSignatureG2), nil)
	return p.ToAffine().Compress(), nil
}

func (b *blsAdapter) ScalarMultSig(sig []byte, k Scalar) ([]byte, error) {
	sc, err := b.scalarFrom(k)
	if err != nil {
		return nil, err
	}
	var aff blst.P2Affine
	if aff.Uncompress(sig) == nil {
		return nil, ErrPointFormat
	}
	var jac blst.P2
	jac.FromAffine(&aff)
	jac.MultAssign(sc)
	return jac.ToAffine().Compress(), nil
}

func (b *blsAdapter) AddSigs(a, c []byte) ([]byte, error) {
	var affA, affC blst.P2Affine
	if affA.Uncompress(a) == nil || affC.Uncompress(c) == nil {
		return nil, ErrPointFormat
	}
	var pa, pc blst.P2
	pa.FromAffine(&affA)
	pc.FromAffine(&affC)
	pa.AddAssign(&pc)
	return pa.ToAffine().Compress(), nil
}
