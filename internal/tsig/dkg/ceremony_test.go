package dkg

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// exchange wires n ceremonies to each other: every node receives every other
// dealer's commitments and its dealt share.
func exchange(t *testing.T, nodes []*Ceremony) {
	t.Helper()
	n := len(nodes)
	coms := make([][]curve.Point, n+1)
	for i := 1; i <= n; i++ {
		c, err := nodes[i-1].Start()
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		coms[i] = c
	}
	for dealer := 1; dealer <= n; dealer++ {
		for rcpt := 1; rcpt <= n; rcpt++ {
			if dealer == rcpt {
				continue
			}
			if err := nodes[rcpt-1].SubmitCommitments(uint32(dealer), coms[dealer]); err != nil {
				t.Fatalf("commitments %d->%d: %v", dealer, rcpt, err)
			}
			sh, err := nodes[dealer-1].ShareFor(uint32(rcpt))
			if err != nil {
				t.Fatalf("share for %d: %v", rcpt, err)
			}
			if err := nodes[rcpt-1].SubmitShare(uint32(dealer), sh); err != nil {
				t.Fatalf("share %d->%d: %v", dealer, rcpt, err)
			}
		}
	}
}

func TestCeremony_FullExchange_AllHonest(t *testing.T) {
	ad := curve.NewSecp256k1()
	const (
		n = 3
		k = 2
	)
	nodes := make([]*Ceremony, n)
	for i := 1; i <= n; i++ {
		c, err := NewCeremony(ad, CeremonyParams{
			ID:           "sess",
			Threshold:    k,
			Participants: n,
			SelfIndex:    uint32(i),
		})
		if err != nil {
			t.Fatalf("ceremony %d: %v", i, err)
		}
		nodes[i-1] = c
	}
	exchange(t, nodes)

	var master curve.Point
	shares := make([]Share, 0, n)
	for i, c := range nodes {
		res, err := c.Finalize()
		if err != nil {
			t.Fatalf("finalize %d: %v", i+1, err)
		}
		if len(res.Qualified) != n {
			t.Fatalf("node %d qualified %v", i+1, res.Qualified)
		}
		if master == nil {
			master = res.MasterPublic
		} else if !bytes.Equal(master, res.MasterPublic) {
			t.Fatalf("master key disagreement at node %d", i+1)
		}
		ok, err := VerifyShare(ad, res.SecretShare, res.Index, res.GroupCommitments)
		if err != nil || !ok {
			t.Fatalf("node %d share fails group verification: %v", i+1, err)
		}
		if !bytes.Equal(res.PublicShares[res.Index], mustBaseMult(t, ad, res.SecretShare)) {
			t.Fatalf("node %d public share mismatch", i+1)
		}
		shares = append(shares, Share{Index: res.Index, Value: res.SecretShare})
	}

	secret, err := CombineAtZero(ad, shares[:k], k)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !bytes.Equal(mustBaseMult(t, ad, secret), master) {
		t.Fatalf("reconstructed secret does not open the master key")
	}
}

func mustBaseMult(t *testing.T, ad curve.Adapter, s curve.Scalar) curve.Point {
	t.Helper()
	p, err := ad.ScalarBaseMult(s)
	if err != nil {
		t.Fatalf("base mult: %v", err)
	}
	return p
}

func TestCeremony_BadShare_ExcludesDealerAndContinues(t *testing.T) {
	ad := curve.NewSecp256k1()
	me, err := NewCeremony(ad, CeremonyParams{ID: "sess", Threshold: 2, Participants: 3, SelfIndex: 1})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	if _, err := me.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	honest, err := NewPolynomial(ad, 2, rand.Reader)
	if err != nil {
		t.Fatalf("poly: %v", err)
	}
	honestComs, _ := honest.Commitments()
	if err := me.SubmitCommitments(2, honestComs); err != nil {
		t.Fatalf("commitments 2: %v", err)
	}
	sh, _ := honest.EvaluateAt(1)
	if err := me.SubmitShare(2, sh); err != nil {
		t.Fatalf("share 2: %v", err)
	}

	// Dealer 3 commits honestly but deals a share off its own polynomial.
	liar, err := NewPolynomial(ad, 2, rand.Reader)
	if err != nil {
		t.Fatalf("poly: %v", err)
	}
	liarComs, _ := liar.Commitments()
	if err := me.SubmitCommitments(3, liarComs); err != nil {
		t.Fatalf("commitments 3: %v", err)
	}
	junk, err := ad.RandomScalar(rand.Reader)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if err := me.SubmitShare(3, junk); err == nil {
		t.Fatalf("expected mismatched share to be rejected")
	}

	res, err := me.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(res.Qualified) != 2 {
		t.Fatalf("qualified: %v", res.Qualified)
	}
	for _, q := range res.Qualified {
		if q == 3 {
			t.Fatalf("excluded dealer still qualified")
		}
	}
	st := me.Snapshot()
	if len(st.Excluded) != 1 || st.Excluded[0] != 3 {
		t.Fatalf("excluded: %v", st.Excluded)
	}
}

func TestCeremony_QuorumFailure_ReportsMismatch(t *testing.T) {
	ad := curve.NewP256()
	me, err := NewCeremony(ad, CeremonyParams{ID: "sess", Threshold: 3, Participants: 3, SelfIndex: 1})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	if _, err := me.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	honest, _ := NewPolynomial(ad, 3, rand.Reader)
	honestComs, _ := honest.Commitments()
	_ = me.SubmitCommitments(2, honestComs)
	sh, _ := honest.EvaluateAt(1)
	if err := me.SubmitShare(2, sh); err != nil {
		t.Fatalf("share 2: %v", err)
	}

	liar, _ := NewPolynomial(ad, 3, rand.Reader)
	liarComs, _ := liar.Commitments()
	_ = me.SubmitCommitments(3, liarComs)
	junk, _ := ad.RandomScalar(rand.Reader)
	_ = me.SubmitShare(3, junk)

	_, err = me.Finalize()
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuorumError, got %v", err)
	}
	if qe.Qualified != 2 || qe.Needed != 3 {
		t.Fatalf("quorum counts: %+v", qe)
	}
	if len(qe.Mismatched) != 1 || qe.Mismatched[0] != 3 {
		t.Fatalf("mismatched: %v", qe.Mismatched)
	}
}

func TestCeremony_ShareBeforeCommitments_NotReady(t *testing.T) {
	ad := curve.NewSecp256k1()
	me, err := NewCeremony(ad, CeremonyParams{ID: "sess", Threshold: 2, Participants: 3, SelfIndex: 1})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	if _, err := me.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sc, _ := ad.RandomScalar(rand.Reader)
	if err := me.SubmitShare(2, sc); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestCeremony_ZeroShare_Excluded(t *testing.T) {
	ad := curve.NewSecp256k1()
	me, err := NewCeremony(ad, CeremonyParams{ID: "sess", Threshold: 2, Participants: 2, SelfIndex: 1})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	if _, err := me.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	poly, _ := NewPolynomial(ad, 2, rand.Reader)
	coms, _ := poly.Commitments()
	_ = me.SubmitCommitments(2, coms)

	zero := make([]byte, ad.ScalarSize())
	if err := me.SubmitShare(2, zero); err == nil {
		t.Fatalf("zero share accepted")
	}
	st := me.Snapshot()
	if len(st.Excluded) != 1 {
		t.Fatalf("dealer not excluded after zero share")
	}
}

func TestCeremony_AbortWins(t *testing.T) {
	ad := curve.NewEd25519()
	c, err := NewCeremony(ad, CeremonyParams{ID: "sess", Threshold: 2, Participants: 2, SelfIndex: 1})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	c.Abort("operator request")
	if _, err := c.Finalize(); !errors.Is(err, ErrCeremonyAborted) {
		t.Fatalf("expected ErrCeremonyAborted, got %v", err)
	}
}

func TestCeremony_DeadlineExpiry(t *testing.T) {
	ad := curve.NewSecp256k1()
	mock := clock.NewMock()
	c, err := NewCeremony(ad, CeremonyParams{
		ID:           "sess",
		Threshold:    2,
		Participants: 3,
		SelfIndex:    1,
		Timeout:      30 * time.Second,
		Clock:        mock,
	})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	if _, err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Expired() {
		t.Fatalf("expired before deadline")
	}
	mock.Add(31 * time.Second)
	if !c.Expired() {
		t.Fatalf("not expired after deadline")
	}
	_, err = c.Finalize()
	if !errors.Is(err, ErrCeremonyExpired) {
		t.Fatalf("expected ErrCeremonyExpired, got %v", err)
	}
	var ee *ExpiryError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExpiryError, got %v", err)
	}
	if len(ee.Missing) != 2 || ee.Missing[0] != 2 || ee.Missing[1] != 3 {
		t.Fatalf("missing participants: got %v want [2 3]", ee.Missing)
	}
	if !strings.Contains(err.Error(), "2 3") {
		t.Fatalf("error text does not name the silent participants: %v", err)
	}
}

func TestCeremony_ObserverCannotFinalize(t *testing.T) {
	ad := curve.NewSecp256k1()
	c, err := NewCeremony(ad, CeremonyParams{ID: "sess", Threshold: 2, Participants: 3, SelfIndex: 0})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	coms, err := c.Start()
	if err != nil || coms != nil {
		t.Fatalf("observer start: coms=%v err=%v", coms, err)
	}
	if _, err := c.Finalize(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestCeremony_FixedSecretKeepsMasterKey(t *testing.T) {
	ad := curve.NewSecp256k1()
	secret, err := ad.RandomScalar(rand.Reader)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	c, err := NewCeremony(ad, CeremonyParams{
		ID:           "sess",
		Threshold:    2,
		Participants: 3,
		SelfIndex:    1,
		Secret:       secret,
	})
	if err != nil {
		t.Fatalf("ceremony: %v", err)
	}
	coms, err := c.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !bytes.Equal(coms[0], mustBaseMult(t, ad, secret)) {
		t.Fatalf("constant-term commitment does not bind the fixed secret")
	}
}
