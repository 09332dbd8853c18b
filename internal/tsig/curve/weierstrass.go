package curve

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"math/big"
)

// dstNonce separates deterministic nonce derivation from challenge hashing.
const dstNonce = "QRS/TSIG/v1/NONCE"

// weierstrass implements Adapter for short-Weierstrass curves over prime
// fields with cofactor one. Scalars are 32-byte big-endian, points SEC1
// compressed, signatures Schnorr-shaped R||z over the curve generator.
//
// Decompression is done locally because crypto/elliptic's version hardcodes
// the a = -3 curve polynomial, which is wrong for secp256k1.
type weierstrass struct {
	id      ID
	curve   ellipticCurve
	a       *big.Int
	b       *big.Int
	p       *big.Int
	order   *big.Int
	byteLen int
}

// ellipticCurve is the subset of crypto/elliptic.Curve the backend needs;
// both crypto/elliptic and decred's secp256k1 satisfy it.
type ellipticCurve interface {
	Add(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int)
	ScalarMult(x, y *big.Int, k []byte) (*big.Int, *big.Int)
	ScalarBaseMult(k []byte) (*big.Int, *big.Int)
	IsOnCurve(x, y *big.Int) bool
}

func (w *weierstrass) ID() ID             { return w.id }
func (w *weierstrass) Scheme() Scheme     { return SchemeSchnorr }
func (w *weierstrass) Order() *big.Int    { return w.order }
func (w *weierstrass) ScalarSize() int    { return w.byteLen }
func (w *weierstrass) PointSize() int     { return w.byteLen + 1 }
func (w *weierstrass) SignatureSize() int { return w.PointSize() + w.ScalarSize() }

func (w *weierstrass) scalarBytes(v *big.Int) Scalar {
	out := make(Scalar, w.byteLen)
	v.FillBytes(out)
	return out
}

func (w *weierstrass) scalarInt(s Scalar) (*big.Int, error) {
	if len(s) != w.byteLen {
		return nil, ErrScalarLength
	}
	v := new(big.Int).SetBytes(s)
	if v.Cmp(w.order) >= 0 {
		return nil, ErrScalarRange
	}
	return v, nil
}

func (w *weierstrass) RandomScalar(r io.Reader) (Scalar, error) {
	max := new(big.Int).Sub(w.order, big.NewInt(1))
	k, err := rand.Int(r, max)
	if err != nil {
		return nil, err
	}
	k.Add(k, big.NewInt(1))
	return w.scalarBytes(k), nil
}

func (w *weierstrass) ScalarFromBytes(b []byte) (Scalar, error) {
	v, err := w.scalarInt(b)
	if err != nil {
		return nil, err
	}
	return w.scalarBytes(v), nil
}

func (w *weierstrass) ScalarFromUint64(v uint64) Scalar {
	return w.scalarBytes(new(big.Int).SetUint64(v))
}

func (w *weierstrass) AddScalars(a, b Scalar) (Scalar, error) {
	av, err := w.scalarInt(a)
	if err != nil {
		return nil, err
	}
	bv, err := w.scalarInt(b)
	if err != nil {
		return nil, err
	}
	av.Add(av, bv)
	av.Mod(av, w.order)
	return w.scalarBytes(av), nil
}

func (w *weierstrass) SubScalars(a, b Scalar) (Scalar, error) {
	av, err := w.scalarInt(a)
	if err != nil {
		return nil, err
	}
	bv, err := w.scalarInt(b)
	if err != nil {
		return nil, err
	}
	av.Sub(av, bv)
	av.Mod(av, w.order)
	return w.scalarBytes(av), nil
}

func (w *weierstrass) MulScalars(a, b Scalar) (Scalar, error) {
	av, err := w.scalarInt(a)
	if err != nil {
		return nil, err
	}
	bv, err := w.scalarInt(b)
	if err != nil {
		return nil, err
	}
	av.Mul(av, bv)
	av.Mod(av, w.order)
	return w.scalarBytes(av), nil
}

func (w *weierstrass) ModInverse(a Scalar) (Scalar, error) {
	av, err := w.scalarInt(a)
	if err != nil {
		return nil, err
	}
	inv := new(big.Int).ModInverse(av, w.order)
	if inv == nil {
		return nil, ErrScalarRange
	}
	return w.scalarBytes(inv), nil
}

func (w *weierstrass) HashToScalar(data ...[]byte) Scalar {
	h := sha256.New()
	h.Write([]byte(dstScalar))
	h.Write([]byte(w.id))
	for _, d := range data {
		h.Write(d)
	}
	v := new(big.Int).SetBytes(h.Sum(nil))
	v.Mod(v, w.order)
	return w.scalarBytes(v)
}

func (w *weierstrass) compress(x, y *big.Int) Point {
	out := make(Point, w.byteLen+1)
	out[0] = 2 + byte(y.Bit(0))
	x.FillBytes(out[1:])
	return out
}

func (w *weierstrass) decompress(b []byte) (x, y *big.Int, err error) {
	if len(b) != w.byteLen+1 || (b[0] != 2 && b[0] != 3) {
		return nil, nil, ErrPointFormat
	}
	x = new(big.Int).SetBytes(b[1:])
	if x.Cmp(w.p) >= 0 {
		return nil, nil, ErrPointFormat
	}
	// y^2 = x^3 + a*x + b mod p
	y2 := new(big.Int).Mul(x, x)
	y2.Mul(y2, x)
	ax := new(big.Int).Mul(w.a, x)
	y2.Add(y2, ax)
	y2.Add(y2, w.b)
	y2.Mod(y2, w.p)
	y = new(big.Int).ModSqrt(y2, w.p)
	if y == nil {
		return nil, nil, ErrPointFormat
	}
	if y.Bit(0) != uint(b[0]&1) {
		y.Sub(w.p, y)
	}
	return x, y, nil
}

func (w *weierstrass) ScalarBaseMult(k Scalar) (Point, error) {
	kv, err := w.scalarInt(k)
	if err != nil {
		return nil, err
	}
	if kv.Sign() == 0 {
		return nil, ErrPointInfinity
	}
	x, y := w.curve.ScalarBaseMult(w.scalarBytes(kv))
	return w.compress(x, y), nil
}

func (w *weierstrass) ScalarMult(p Point, k Scalar) (Point, error) {
	kv, err := w.scalarInt(k)
	if err != nil {
		return nil, err
	}
	if kv.Sign() == 0 {
		return nil, ErrPointInfinity
	}
	px, py, err := w.decompress(p)
	if err != nil {
		return nil, err
	}
	x, y := w.curve.ScalarMult(px, py, w.scalarBytes(kv))
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, ErrPointInfinity
	}
	return w.compress(x, y), nil
}

func (w *weierstrass) AddPoints(a, b Point) (Point, error) {
	ax, ay, err := w.decompress(a)
	if err != nil {
		return nil, err
	}
	bx, by, err := w.decompress(b)
	if err != nil {
		return nil, err
	}
	x, y := w.curve.Add(ax, ay, bx, by)
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, ErrPointInfinity
	}
	return w.compress(x, y), nil
}

func (w *weierstrass) ValidateScalar(b []byte) error {
	if len(b) != w.byteLen {
		return ErrScalarLength
	}
	v := new(big.Int).SetBytes(b)
	if v.Sign() == 0 || v.Cmp(w.order) >= 0 {
		return ErrScalarRange
	}
	return nil
}

func (w *weierstrass) ValidatePoint(b []byte) error {
	_, _, err := w.decompress(b)
	return err
}

// Sign produces R||z with z = k + c*priv, c = H(R, pub, hash). The nonce k is
// derived deterministically so an adapter never depends on ambient randomness
// at signing time.
func (w *weierstrass) Sign(hash []byte, priv Scalar) ([]byte, error) {
	x, err := w.scalarInt(priv)
	if err != nil {
		return nil, err
	}
	if x.Sign() == 0 {
		return nil, ErrScalarRange
	}
	var k *big.Int
	for ctr := byte(0); ; ctr++ {
		ks := w.HashToScalar([]byte(dstNonce), priv, hash, []byte{ctr})
		k = new(big.Int).SetBytes(ks)
		if k.Sign() != 0 {
			break
		}
	}
	rx, ry := w.curve.ScalarBaseMult(w.scalarBytes(k))
	R := w.compress(rx, ry)
	px, py := w.curve.ScalarBaseMult(w.scalarBytes(x))
	P := w.compress(px, py)

	c := new(big.Int).SetBytes(w.HashToScalar(R, P, hash))
	z := new(big.Int).Mul(c, x)
	z.Add(z, k)
	z.Mod(z, w.order)

	sig := make([]byte, 0, w.SignatureSize())
	sig = append(sig, R...)
	sig = append(sig, w.scalarBytes(z)...)
	return sig, nil
}

func (w *weierstrass) Verify(hash, sig []byte, pub Point) bool {
	if len(sig) != w.SignatureSize() {
		return false
	}
	R := sig[:w.byteLen+1]
	rx, ry, err := w.decompress(R)
	if err != nil {
		return false
	}
	z := new(big.Int).SetBytes(sig[w.byteLen+1:])
	if z.Cmp(w.order) >= 0 {
		return false
	}
	px, py, err := w.decompress(pub)
	if err != nil {
		return false
	}
	c := new(big.Int).SetBytes(w.HashToScalar(R, Point(pub), hash))

	// z*G == R + c*P
	zx, zy := w.curve.ScalarBaseMult(w.scalarBytes(z))
	cx, cy := w.curve.ScalarMult(px, py, w.scalarBytes(c))
	rhsX, rhsY := w.curve.Add(rx, ry, cx, cy)
	return zx.Cmp(rhsX) == 0 && zy.Cmp(rhsY) == 0
}
