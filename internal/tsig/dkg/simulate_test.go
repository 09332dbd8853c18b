package dkg

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

func TestSimulate_ProducesConsistentKeys(t *testing.T) {
	for _, ad := range testAdapters() {
		t.Run(string(ad.ID()), func(t *testing.T) {
			const (
				n = uint32(5)
				k = uint32(3)
			)
			res, err := Simulate(ad, n, k, rand.Reader)
			if err != nil {
				t.Fatalf("simulate: %v", err)
			}
			if len(res.Shares) != int(n) || len(res.PublicShares) != int(n) {
				t.Fatalf("share count: %d/%d", len(res.Shares), len(res.PublicShares))
			}
			if uint32(len(res.GroupCommitments)) != k {
				t.Fatalf("group commitment count: %d", len(res.GroupCommitments))
			}

			// Every share verifies against the group commitments and matches
			// its derived public share.
			for i := uint32(1); i <= n; i++ {
				ok, err := VerifyShare(ad, res.Shares[i], i, res.GroupCommitments)
				if err != nil || !ok {
					t.Fatalf("share %d failed group verification: %v", i, err)
				}
				pub, err := ad.ScalarBaseMult(res.Shares[i])
				if err != nil {
					t.Fatalf("base mult: %v", err)
				}
				if !bytes.Equal(pub, res.PublicShares[i]) {
					t.Fatalf("public share %d mismatch", i)
				}
			}

			// Any k shares reconstruct a secret whose public key is the master key.
			shares := []Share{
				{Index: 1, Value: res.Shares[1]},
				{Index: 3, Value: res.Shares[3]},
				{Index: 4, Value: res.Shares[4]},
			}
			secret, err := CombineAtZero(ad, shares, int(k))
			if err != nil {
				t.Fatalf("combine: %v", err)
			}
			pub, err := ad.ScalarBaseMult(secret)
			if err != nil {
				t.Fatalf("base mult: %v", err)
			}
			if !bytes.Equal(pub, res.MasterPublic) {
				t.Fatalf("reconstructed key does not match the master public key")
			}
		})
	}
}

func TestSimulateReshare_KeepsMasterKey(t *testing.T) {
	ad := curve.NewSecp256k1()
	old, err := Simulate(ad, 5, 3, rand.Reader)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	oldShares := []Share{
		{Index: 1, Value: old.Shares[1]},
		{Index: 2, Value: old.Shares[2]},
		{Index: 3, Value: old.Shares[3]},
	}

	// Reshare to a new committee size and threshold.
	fresh, err := SimulateReshare(ad, oldShares, 3, 7, 4, rand.Reader)
	if err != nil {
		t.Fatalf("reshare: %v", err)
	}
	if !bytes.Equal(fresh.MasterPublic, old.MasterPublic) {
		t.Fatalf("reshare changed the master public key")
	}
	if len(fresh.Shares) != 7 {
		t.Fatalf("expected 7 fresh shares, got %d", len(fresh.Shares))
	}

	// New shares are unrelated to the old ones but reconstruct the same secret.
	for i := uint32(1); i <= 5; i++ {
		if bytes.Equal(fresh.Shares[i], old.Shares[i]) {
			t.Fatalf("share %d unchanged by reshare", i)
		}
	}
	secret, err := CombineAtZero(ad, []Share{
		{Index: 2, Value: fresh.Shares[2]},
		{Index: 5, Value: fresh.Shares[5]},
		{Index: 6, Value: fresh.Shares[6]},
		{Index: 7, Value: fresh.Shares[7]},
	}, 4)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	pub, err := ad.ScalarBaseMult(secret)
	if err != nil {
		t.Fatalf("base mult: %v", err)
	}
	if !bytes.Equal(pub, old.MasterPublic) {
		t.Fatalf("resharded secret does not open the master key")
	}
}

func TestSimulate_RejectsBadParams(t *testing.T) {
	ad := curve.NewP256()
	cases := []struct {
		n, k uint32
	}{
		{0, 0},
		{5, 0},
		{3, 4}, // threshold above committee size
	}
	for _, c := range cases {
		if _, err := Simulate(ad, c.n, c.k, rand.Reader); err == nil {
			t.Fatalf("n=%d t=%d accepted", c.n, c.k)
		}
	}
}
