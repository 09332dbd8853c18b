package tsig

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/quorsig/quorsig/internal/transport"
	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
)

func testConfig(t, n, self uint32) Config {
	return Config{
		Curve:           curve.Secp256k1,
		Threshold:       t,
		Participants:    n,
		SelfIndex:       self,
		CeremonyTimeout: 10 * time.Second,
		SignTimeout:     10 * time.Second,
	}
}

// seedCluster installs one simulated key generation across n coordinators by
// writing each node's keystore record and letting construction restore it,
// which is the production restart path. All nodes share one in-process hub.
func seedCluster(t *testing.T, threshold, n uint32) (map[uint32]*Coordinator, *dkg.SimResult) {
	t.Helper()
	ad := curve.NewSecp256k1()
	sim, err := dkg.Simulate(ad, n, threshold, rand.Reader)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	qual := make([]uint32, 0, n)
	for i := uint32(1); i <= n; i++ {
		qual = append(qual, i)
	}
	dir := t.TempDir()
	hub := transport.NewMemory()
	nodes := make(map[uint32]*Coordinator, n)
	for i := uint32(1); i <= n; i++ {
		ks := dkg.NewKeyStore(filepath.Join(dir, fmt.Sprintf("node%d.dat", i)))
		rec := dkg.KeyShareRecord{
			Curve:            curve.Secp256k1,
			Index:            i,
			Threshold:        threshold,
			Participants:     n,
			Epoch:            1,
			Secret:           sim.Shares[i],
			MasterPublic:     sim.MasterPublic,
			GroupCommitments: pointBytes(sim.GroupCommitments),
			Qualified:        qual,
		}
		if err := ks.SaveKeyShare(context.Background(), rec); err != nil {
			t.Fatalf("seed node %d: %v", i, err)
		}
		c, err := New(testConfig(threshold, n, i), Deps{
			Transport: hub.Join(),
			KeyStore:  ks,
		})
		if err != nil {
			t.Fatalf("node %d: %v", i, err)
		}
		t.Cleanup(c.Close)
		nodes[i] = c
	}
	return nodes, sim
}

func TestCoordinator_LocalGenerateAndSign(t *testing.T) {
	c, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if c.State() != StateUninitialized {
		t.Fatalf("initial state: %s", c.State())
	}
	if _, err := c.CreateThresholdSignature(context.Background(), []byte("early"), []uint32{1}); err == nil {
		t.Fatal("signing before generation must fail")
	}

	res, err := c.GenerateDistributedKeys(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if c.State() != StateKeysGenerated || c.Epoch() != 1 {
		t.Fatalf("after generate: state %s epoch %d", c.State(), c.Epoch())
	}
	if len(res.GroupCommitments) != 1 {
		t.Fatalf("commitment vector length %d for threshold 1", len(res.GroupCommitments))
	}

	msg := []byte("hello")
	sig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !bytes.Equal(sig.MessageHash, MessageHash(msg)) {
		t.Fatal("signature does not carry the message hash")
	}
	ok, err := c.VerifyThresholdSignature(msg, sig.Value)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	ok, err = c.VerifyThresholdSignature([]byte("hello?"), sig.Value)
	if err != nil || ok {
		t.Fatalf("verify of wrong message: ok=%v err=%v", ok, err)
	}
	tampered := append([]byte(nil), sig.Value...)
	tampered[0] ^= 0x01
	ok, err = c.VerifyThresholdSignature(msg, tampered)
	if err != nil || ok {
		t.Fatalf("verify of tampered signature: ok=%v err=%v", ok, err)
	}
}

func TestCoordinator_ResultMutationDoesNotAliasState(t *testing.T) {
	c, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	res, err := c.GenerateDistributedKeys(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	share := res.SecretShare.Clone()
	for _, p := range res.GroupCommitments {
		for i := range p {
			p[i] ^= 0xFF
		}
	}
	if err := c.ValidateKeyShare(1, share); err != nil {
		t.Fatalf("installed commitments changed through the returned result: %v", err)
	}

	// The idempotent snapshot must not alias either.
	again, err := c.GenerateDistributedKeys(context.Background())
	if err != nil {
		t.Fatalf("repeat generate: %v", err)
	}
	for _, p := range again.GroupCommitments {
		p[0] ^= 0xFF
	}
	if err := c.ValidateKeyShare(1, share); err != nil {
		t.Fatalf("installed commitments changed through the snapshot: %v", err)
	}
}

func TestCoordinator_SingleMemberGroup(t *testing.T) {
	c, err := New(testConfig(1, 1, 1), Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if _, err := c.GenerateDistributedKeys(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("solo")
	sig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := c.VerifyThresholdSignature(msg, sig.Value)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
}

func TestCoordinator_GenerateIsIdempotent(t *testing.T) {
	c, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	first, err := c.GenerateDistributedKeys(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := c.GenerateDistributedKeys(context.Background())
	if err != nil {
		t.Fatalf("repeat generate: %v", err)
	}
	if second.Epoch != first.Epoch {
		t.Fatalf("repeat generation advanced the epoch: %d -> %d", first.Epoch, second.Epoch)
	}
	if !bytes.Equal(first.MasterPublic, second.MasterPublic) {
		t.Fatal("repeat generation replaced the master key")
	}
}

func TestCoordinator_ClusterSignsOverHub(t *testing.T) {
	nodes, sim := seedCluster(t, 3, 5)
	for i, c := range nodes {
		if c.State() != StateKeysGenerated {
			t.Fatalf("node %d not restored: %s", i, c.State())
		}
		pub, err := c.MasterPublicKey()
		if err != nil {
			t.Fatalf("node %d master key: %v", i, err)
		}
		if !bytes.Equal(pub, sim.MasterPublic) {
			t.Fatalf("node %d restored a different master key", i)
		}
	}

	msg := []byte("hello")
	sig, err := nodes[1].CreateThresholdSignature(context.Background(), msg, []uint32{1, 3, 4})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Any node verifies with plain single-key verification.
	ok, err := nodes[2].VerifyThresholdSignature(msg, sig.Value)
	if err != nil || !ok {
		t.Fatalf("peer verify: ok=%v err=%v", ok, err)
	}

	// A different subset signs; both signatures stand.
	sig2, err := nodes[5].CreateThresholdSignature(context.Background(), msg, []uint32{2, 4, 5})
	if err != nil {
		t.Fatalf("sign from second subset: %v", err)
	}
	ok, err = nodes[1].VerifyThresholdSignature(msg, sig2.Value)
	if err != nil || !ok {
		t.Fatalf("verify second subset: ok=%v err=%v", ok, err)
	}
}

func TestCoordinator_InsufficientSignatories(t *testing.T) {
	nodes, _ := seedCluster(t, 3, 5)
	_, err := nodes[1].CreateThresholdSignature(context.Background(), []byte("hello"), []uint32{1, 3})
	var se *SignatureError
	if !errors.As(err, &se) {
		t.Fatalf("expected SignatureError, got %v", err)
	}
	if se.Reason != SignatureInsufficientSignatories {
		t.Fatalf("reason: %s", se.Reason)
	}
	if se.Have != 2 || se.Need != 3 {
		t.Fatalf("counts: have %d need %d", se.Have, se.Need)
	}
	if !Retryable(err) {
		t.Fatal("insufficient signatories must be retryable")
	}
}

func TestCoordinator_ValidateKeyShare(t *testing.T) {
	nodes, sim := seedCluster(t, 3, 5)
	c := nodes[1]

	if err := c.ValidateKeyShare(2, sim.Shares[2]); err != nil {
		t.Fatalf("good share rejected: %v", err)
	}

	var sve *ShareValidationError
	if err := c.ValidateKeyShare(0, sim.Shares[2]); !errors.As(err, &sve) || sve.Reason != ShareOutOfRange {
		t.Fatalf("index 0: %v", err)
	}
	if err := c.ValidateKeyShare(7, sim.Shares[2]); !errors.As(err, &sve) || sve.Reason != ShareOutOfRange {
		t.Fatalf("index beyond group: %v", err)
	}
	if err := c.ValidateKeyShare(2, []byte{0x01, 0x02}); !errors.As(err, &sve) || sve.Reason != ShareWrongLength {
		t.Fatalf("short share: %v", err)
	}
	zero := make([]byte, 32)
	if err := c.ValidateKeyShare(2, zero); !errors.As(err, &sve) || sve.Reason != ShareOutOfRange {
		t.Fatalf("zero share: %v", err)
	}
	over := bytes.Repeat([]byte{0xff}, 32)
	if err := c.ValidateKeyShare(2, over); !errors.As(err, &sve) || sve.Reason != ShareOutOfRange {
		t.Fatalf("share beyond order: %v", err)
	}
	// A well-formed scalar that is not participant 3's share fails the
	// commitment consistency check.
	if err := c.ValidateKeyShare(3, sim.Shares[2]); !errors.As(err, &sve) || sve.Reason != ShareCommitmentCheckFailed {
		t.Fatalf("mismatched share: %v", err)
	}
}

func TestCoordinator_RotateRekey(t *testing.T) {
	dir := t.TempDir()
	ks := dkg.NewKeyStore(filepath.Join(dir, "keyshare.dat"))
	c, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}, KeyStore: ks})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if _, err := c.GenerateDistributedKeys(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello")
	oldSig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	res := rotationResult(t, 2)
	if err := c.RotateKeys(context.Background(), res); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if c.Epoch() != 2 || c.State() != StateKeysGenerated {
		t.Fatalf("after rotation: state %s epoch %d", c.State(), c.Epoch())
	}

	// Old signatures no longer verify against the current key but remain
	// reachable through the retained history.
	ok, err := c.VerifyThresholdSignature(msg, oldSig.Value)
	if err != nil || ok {
		t.Fatalf("old signature under new key: ok=%v err=%v", ok, err)
	}
	ok, epoch, err := c.VerifyWithHistory(msg, oldSig.Value)
	if err != nil || !ok {
		t.Fatalf("history verify: ok=%v err=%v", ok, err)
	}
	if epoch != 1 {
		t.Fatalf("history epoch: got %d want 1", epoch)
	}

	// The new share signs under the new key.
	newSig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign after rotation: %v", err)
	}
	ok, err = c.VerifyThresholdSignature(msg, newSig.Value)
	if err != nil || !ok {
		t.Fatalf("new signature: ok=%v err=%v", ok, err)
	}

	// The rotated state survives a restart through the keystore.
	c2, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}, KeyStore: ks})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer c2.Close()
	if c2.Epoch() != 2 {
		t.Fatalf("restored epoch: got %d want 2", c2.Epoch())
	}
}

// rotationResult fabricates a completed rekey ceremony for a 1-of-2 group.
func rotationResult(t *testing.T, epoch uint64) *dkg.Result {
	t.Helper()
	ad := curve.NewSecp256k1()
	sim, err := dkg.Simulate(ad, 2, 1, rand.Reader)
	if err != nil {
		t.Fatalf("simulate rotation: %v", err)
	}
	return &dkg.Result{
		SessionID:        "rotation",
		Epoch:            epoch,
		Index:            1,
		Threshold:        1,
		Participants:     2,
		Qualified:        []uint32{1, 2},
		MasterPublic:     sim.MasterPublic,
		GroupCommitments: sim.GroupCommitments,
		SecretShare:      sim.Shares[1],
		PublicShares:     sim.PublicShares,
	}
}

func TestCoordinator_RotateRejectsStaleAndMismatched(t *testing.T) {
	c, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()

	var ste *StateError
	if err := c.RotateKeys(context.Background(), rotationResult(t, 2)); !errors.As(err, &ste) || ste.Reason != StateNoKeys {
		t.Fatalf("rotation without keys: %v", err)
	}

	if _, err := c.GenerateDistributedKeys(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}

	var ce *CeremonyError
	if err := c.RotateKeys(context.Background(), rotationResult(t, 1)); !errors.As(err, &ce) || ce.Reason != CeremonyAborted {
		t.Fatalf("stale epoch: %v", err)
	}
	if err := c.RotateKeys(context.Background(), nil); !errors.As(err, &ce) {
		t.Fatalf("nil result: %v", err)
	}

	bad := rotationResult(t, 2)
	bad.Threshold = 2
	var cfe *ConfigurationError
	if err := c.RotateKeys(context.Background(), bad); !errors.As(err, &cfe) {
		t.Fatalf("group mismatch: %v", err)
	}
}

func TestCoordinator_ReshareKeepsMasterKey(t *testing.T) {
	cfg := testConfig(1, 2, 1)
	cfg.RotationMode = RotationReshare
	c, err := New(cfg, Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	first, err := c.GenerateDistributedKeys(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello")
	oldSig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// A rekey result changes the master key, which reshare mode refuses.
	var ce *CeremonyError
	if err := c.RotateKeys(context.Background(), rotationResult(t, 2)); !errors.As(err, &ce) || ce.Reason != CeremonyCommitmentMismatch {
		t.Fatalf("rekey result in reshare mode: %v", err)
	}

	ad := curve.NewSecp256k1()
	sim, err := dkg.SimulateReshare(ad, []dkg.Share{{Index: 1, Value: first.SecretShare}}, 1, 2, 1, rand.Reader)
	if err != nil {
		t.Fatalf("reshare: %v", err)
	}
	res := &dkg.Result{
		SessionID:        "reshare",
		Epoch:            2,
		Index:            1,
		Threshold:        1,
		Participants:     2,
		Qualified:        []uint32{1, 2},
		MasterPublic:     sim.MasterPublic,
		GroupCommitments: sim.GroupCommitments,
		SecretShare:      sim.Shares[1],
		PublicShares:     sim.PublicShares,
	}
	if err := c.RotateKeys(context.Background(), res); err != nil {
		t.Fatalf("reshare rotation: %v", err)
	}
	if c.Epoch() != 2 {
		t.Fatalf("epoch after reshare: %d", c.Epoch())
	}
	// The master key did not move, so pre-rotation signatures verify
	// against the current key with no history lookup.
	ok, err := c.VerifyThresholdSignature(msg, oldSig.Value)
	if err != nil || !ok {
		t.Fatalf("old signature after reshare: ok=%v err=%v", ok, err)
	}
	newSig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign with redealt share: %v", err)
	}
	ok, err = c.VerifyThresholdSignature(msg, newSig.Value)
	if err != nil || !ok {
		t.Fatalf("new signature after reshare: ok=%v err=%v", ok, err)
	}
}

func TestCoordinator_HistoryEviction(t *testing.T) {
	cfg := testConfig(1, 2, 1)
	cfg.KeyHistory = 1
	c, err := New(cfg, Deps{Transport: &transport.NoopTransport{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if _, err := c.GenerateDistributedKeys(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello")
	epoch1Sig, err := c.CreateThresholdSignature(context.Background(), msg, []uint32{1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := c.RotateKeys(context.Background(), rotationResult(t, 2)); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if err := c.RotateKeys(context.Background(), rotationResult(t, 3)); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
	// With a history of one, the second rotation evicted epoch 1's key.
	ok, _, err := c.VerifyWithHistory(msg, epoch1Sig.Value)
	if err != nil {
		t.Fatalf("history verify: %v", err)
	}
	if ok {
		t.Fatal("evicted key still verified a signature")
	}
}

func TestCoordinator_CeremonySurface(t *testing.T) {
	hub := transport.NewMemory()
	dir := t.TempDir()
	mk := func(self uint32) *Coordinator {
		ks := dkg.NewKeyStore(filepath.Join(dir, fmt.Sprintf("node%d.dat", self)))
		c, err := New(testConfig(2, 2, self), Deps{Transport: hub.Join(), KeyStore: ks})
		if err != nil {
			t.Fatalf("node %d: %v", self, err)
		}
		t.Cleanup(c.Close)
		return c
	}
	c1, c2 := mk(1), mk(2)

	id, coms1, err := c1.InitCeremony("cer-1", 1)
	if err != nil {
		t.Fatalf("init node 1: %v", err)
	}
	_, coms2, err := c2.InitCeremony("cer-1", 1)
	if err != nil {
		t.Fatalf("init node 2: %v", err)
	}
	if err := c1.SubmitCommitments(id, 2, coms2); err != nil {
		t.Fatalf("node 1 commitments: %v", err)
	}
	if err := c2.SubmitCommitments(id, 1, coms1); err != nil {
		t.Fatalf("node 2 commitments: %v", err)
	}

	s12, err := c1.CeremonyShareFor(id, 2)
	if err != nil {
		t.Fatalf("share for node 2: %v", err)
	}
	s21, err := c2.CeremonyShareFor(id, 1)
	if err != nil {
		t.Fatalf("share for node 1: %v", err)
	}
	if err := c1.SubmitShare(id, 2, s21); err != nil {
		t.Fatalf("node 1 share: %v", err)
	}
	if err := c2.SubmitShare(id, 1, s12); err != nil {
		t.Fatalf("node 2 share: %v", err)
	}

	res1, err := c1.FinalizeCeremony(context.Background(), id)
	if err != nil {
		t.Fatalf("finalize node 1: %v", err)
	}
	res2, err := c2.FinalizeCeremony(context.Background(), id)
	if err != nil {
		t.Fatalf("finalize node 2: %v", err)
	}
	if !bytes.Equal(res1.MasterPublic, res2.MasterPublic) {
		t.Fatal("nodes finalized to different master keys")
	}
	if c1.State() != StateKeysGenerated || c2.State() != StateKeysGenerated {
		t.Fatalf("states after finalize: %s %s", c1.State(), c2.State())
	}

	// The installed shares sign together over the hub.
	msg := []byte("hello")
	sig, err := c1.CreateThresholdSignature(context.Background(), msg, []uint32{1, 2})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := c2.VerifyThresholdSignature(msg, sig.Value)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	// A corrupted share names its dealer and excludes it.
	id2, _, err := c1.InitCeremony("cer-2", 2)
	if err != nil {
		t.Fatalf("init second ceremony: %v", err)
	}
	if err := c1.SubmitCommitments(id2, 2, coms2); err != nil {
		t.Fatalf("commitments: %v", err)
	}
	var sve *ShareValidationError
	if err := c1.SubmitShare(id2, 2, []byte{0x01}); !errors.As(err, &sve) || sve.Reason != ShareWrongLength {
		t.Fatalf("short ceremony share: %v", err)
	}

	statuses := c1.CeremonyStatuses()
	if len(statuses) == 0 {
		t.Fatal("no ceremony statuses reported")
	}
	if err := c1.AbortCeremony(id2, "test"); err != nil {
		t.Fatalf("abort: %v", err)
	}
}

func TestCoordinator_CeremonyTimeoutNamesSilentParticipants(t *testing.T) {
	mock := clock.NewMock()
	c, err := New(testConfig(2, 3, 1), Deps{Transport: &transport.NoopTransport{}, Clock: mock})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()

	id, _, err := c.InitCeremony("cer-slow", 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	mock.Add(11 * time.Second)

	_, err = c.FinalizeCeremony(context.Background(), id)
	var ce *CeremonyError
	if !errors.As(err, &ce) || ce.Reason != CeremonyTimeout {
		t.Fatalf("expected ceremony timeout, got %v", err)
	}
	if !strings.Contains(ce.Detail, "no response from [2 3]") {
		t.Fatalf("timeout detail does not name silent participants: %q", ce.Detail)
	}
}

func TestCoordinator_SinkObservesGenerationAndRotation(t *testing.T) {
	var got []CeremonyRecord
	snk := sinkFunc(func(rec CeremonyRecord) { got = append(got, rec) })
	c, err := New(testConfig(1, 2, 1), Deps{Transport: &transport.NoopTransport{}, Sink: snk})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if _, err := c.GenerateDistributedKeys(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := c.RotateKeys(context.Background(), rotationResult(t, 2)); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sink records: got %d want 2", len(got))
	}
	if got[0].Rotation || !got[1].Rotation {
		t.Fatalf("rotation flags: %v %v", got[0].Rotation, got[1].Rotation)
	}
	if got[0].Epoch != 1 || got[1].Epoch != 2 {
		t.Fatalf("epochs: %d %d", got[0].Epoch, got[1].Epoch)
	}
}

type sinkFunc func(CeremonyRecord)

func (f sinkFunc) Publish(rec CeremonyRecord) { f(rec) }

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown curve", func(c *Config) { c.Curve = "curve9000" }, "curve"},
		{"zero participants", func(c *Config) { c.Participants = 0 }, "participants"},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, "threshold"},
		{"threshold above group", func(c *Config) { c.Threshold = 6 }, "threshold"},
		{"self index beyond group", func(c *Config) { c.SelfIndex = 9 }, "self_index"},
		{"unknown rotation mode", func(c *Config) { c.RotationMode = "swap" }, "rotation_mode"},
		{"negative history", func(c *Config) { c.KeyHistory = -1 }, "key_history"},
		{"negative timeout", func(c *Config) { c.SignTimeout = -time.Second }, "timeouts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(3, 5, 1)
			tc.mutate(&cfg)
			err := cfg.Validate()
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if ce.Field != tc.field {
				t.Fatalf("field: got %q want %q", ce.Field, tc.field)
			}
			if Retryable(err) {
				t.Fatal("configuration errors are not retryable")
			}
		})
	}

	cfg := Config{Curve: curve.Ed25519, Threshold: 2, Participants: 3}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("minimal config: %v", err)
	}
	single := Config{Curve: curve.Ed25519, Threshold: 1, Participants: 1, SelfIndex: 1}
	if err := single.Validate(); err != nil {
		t.Fatalf("single-member group: %v", err)
	}
	if cfg.RotationMode != RotationRekey || cfg.KeyHistory != 4 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.CeremonyTimeout == 0 || cfg.SignTimeout == 0 {
		t.Fatal("timeout defaults not applied")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(&CeremonyError{Reason: CeremonyTimeout}) {
		t.Fatal("ceremony timeout should be retryable")
	}
	if Retryable(&CeremonyError{Reason: CeremonyAborted}) {
		t.Fatal("aborted ceremony is not retryable")
	}
	if Retryable(&SignatureError{Reason: SignatureMalformed}) {
		t.Fatal("malformed signature is not retryable")
	}
	if Retryable(&StateError{Reason: StateNoKeys}) {
		t.Fatal("state errors are not retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil is not retryable")
	}
}
