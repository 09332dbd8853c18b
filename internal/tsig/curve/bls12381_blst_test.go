//go:build blst

package curve

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"testing"
)

func TestBLS_SignVerify(t *testing.T) {
	a, err := ByID(BLS12381)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	msg := sha256.Sum256([]byte("hello"))
	priv, err := a.RandomScalar(rand.Reader)
	if err != nil {
		t.Fatalf("random scalar: %v", err)
	}
	pub, err := a.ScalarBaseMult(priv)
	if err != nil {
		t.Fatalf("pubkey: %v", err)
	}
	sig, err := a.Sign(msg[:], priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != a.SignatureSize() {
		t.Fatalf("signature length %d, want %d", len(sig), a.SignatureSize())
	}
	if !a.Verify(msg[:], sig, pub) {
		t.Fatalf("valid signature rejected")
	}
	other := sha256.Sum256([]byte("goodbye"))
	if a.Verify(other[:], sig, pub) {
		t.Fatalf("signature accepted for wrong message")
	}
}

// Signatures must be linear in the secret key for weighted combination to
// reconstruct the master signature.
func TestBLS_SignatureLinearity(t *testing.T) {
	a, err := ByID(BLS12381)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	agg, ok := a.(AggregateOps)
	if !ok {
		t.Fatalf("adapter does not expose aggregate ops")
	}
	msg := sha256.Sum256([]byte("linearity"))

	x, _ := a.RandomScalar(rand.Reader)
	y, _ := a.RandomScalar(rand.Reader)
	sum, err := a.AddScalars(x, y)
	if err != nil {
		t.Fatalf("add scalars: %v", err)
	}

	sigX, _ := a.Sign(msg[:], x)
	sigY, _ := a.Sign(msg[:], y)
	sigSum, _ := a.Sign(msg[:], sum)

	added, err := agg.AddSigs(sigX, sigY)
	if err != nil {
		t.Fatalf("add sigs: %v", err)
	}
	if !bytes.Equal(added, sigSum) {
		t.Fatalf("sig(x) + sig(y) != sig(x+y)")
	}

	k := a.ScalarFromUint64(3)
	kx, err := a.MulScalars(k, x)
	if err != nil {
		t.Fatalf("mul scalars: %v", err)
	}
	sigKX, _ := a.Sign(msg[:], kx)
	scaled, err := agg.ScalarMultSig(sigX, k)
	if err != nil {
		t.Fatalf("scale sig: %v", err)
	}
	if !bytes.Equal(scaled, sigKX) {
		t.Fatalf("k * sig(x) != sig(k*x)")
	}
}

func TestBLS_HashToPoint_MatchesSign(t *testing.T) {
	a, err := ByID(BLS12381)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	ph, ok := a.(PointHasher)
	if !ok {
		t.Fatalf("adapter does not expose point hashing")
	}
	msg := sha256.Sum256([]byte("h2c"))
	h, err := ph.HashToPoint(msg[:])
	if err != nil {
		t.Fatalf("hash to point: %v", err)
	}
	one := a.ScalarFromUint64(1)
	sig, err := a.Sign(msg[:], one)
	if err != nil {
		t.Fatalf("sign with one: %v", err)
	}
	if !bytes.Equal(h, sig) {
		t.Fatalf("H2(m) != 1 * H2(m)")
	}
}
