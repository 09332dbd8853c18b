package dkg

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

func sampleRecord() KeyShareRecord {
	return KeyShareRecord{
		Curve:            curve.Secp256k1,
		Index:            1,
		Threshold:        3,
		Participants:     5,
		Epoch:            1,
		Secret:           []byte{4, 5, 6},
		MasterPublic:     []byte{1, 2, 3},
		GroupCommitments: [][]byte{{7, 8}, {9}},
		Qualified:        []uint32{1, 2, 3, 4},
		CreatedAt:        1700000000,
	}
}

func bytesOf(v byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func mustWrite(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestKeyStore_SaveLoad_OK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	s := NewKeyStore(path)
	want := sampleRecord()
	if err := s.SaveKeyShare(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Curve != want.Curve || got.Index != want.Index || got.Epoch != want.Epoch {
		t.Fatalf("mismatch: got=%+v want=%+v", got, want)
	}
	if !bytes.Equal(got.Secret, want.Secret) || !bytes.Equal(got.MasterPublic, want.MasterPublic) {
		t.Fatalf("key material mismatch: got=%+v want=%+v", got, want)
	}
	if len(got.GroupCommitments) != len(want.GroupCommitments) || len(got.Qualified) != len(want.Qualified) {
		t.Fatalf("commitments mismatch: got=%+v want=%+v", got, want)
	}
}

func TestKeyStore_Load_Fallback_OnCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	s := NewKeyStore(path)
	// Save v1
	if err := s.SaveKeyShare(context.Background(), KeyShareRecord{Index: 1, Epoch: 1}); err != nil {
		t.Fatalf("save1: %v", err)
	}
	// Save v2 (creates .bak of v1)
	if err := s.SaveKeyShare(context.Background(), KeyShareRecord{Index: 1, Epoch: 2}); err != nil {
		t.Fatalf("save2: %v", err)
	}
	// Corrupt main
	if err := os.Truncate(path, 8); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	got, err := s.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load after corrupt: %v", err)
	}
	if got.Epoch != 1 {
		t.Fatalf("fallback mismatch: got=%+v want Epoch=1", got)
	}
}

func TestKeyStore_RejectsOversizedLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsig_keyshare.dat")
	// Valid magic and version, length field claiming 4 GiB.
	hdr := []byte{
		0x51, 0x53, 0x4b, 0x53,
		0x00, 0x01,
		0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
		0x00, 0x00, 0x00, 0x00,
	}
	if err := os.WriteFile(path, hdr, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewKeyStore(path)
	if _, err := s.LoadKeyShare(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for oversized length, got %v", err)
	}
}

func TestKeyStore_NotFound(t *testing.T) {
	dir := t.TempDir()
	s := NewKeyStore(filepath.Join(dir, "missing.dat"))
	if _, err := s.LoadKeyShare(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestKeyStore_EncryptRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	ks := NewKeyStoreEncrypted(path, append([]byte(nil), key...), true)
	want := sampleRecord()
	if err := ks.SaveKeyShare(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := ks.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Index != want.Index || !bytes.Equal(got.Secret, want.Secret) {
		t.Fatalf("mismatch: %+v vs %+v", got, want)
	}
	// The on-disk payload must not leak the plaintext secret.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if bytes.Contains(raw, []byte(`"secret"`)) {
		t.Fatalf("plaintext JSON visible in encrypted file")
	}
}

func TestKeyStore_EncryptedFileWithoutKey_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	enc := NewKeyStoreEncrypted(path, bytesOf(0xAB, 32), false)
	if err := enc.SaveKeyShare(context.Background(), KeyShareRecord{Index: 1}); err != nil {
		t.Fatalf("save enc: %v", err)
	}
	plain := NewKeyStore(path)
	if _, err := plain.LoadKeyShare(context.Background()); err == nil {
		t.Fatalf("expected error without key")
	}
}

func TestKeyStore_PassphraseRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	ks := NewKeyStoreWithPassphrase(path, []byte("correct horse"), false)
	if err := ks.SaveKeyShare(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := ks.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Index != 1 {
		t.Fatalf("mismatch: %+v", got)
	}

	wrong := NewKeyStoreWithPassphrase(path, []byte("battery staple"), false)
	if _, err := wrong.LoadKeyShare(context.Background()); err == nil {
		t.Fatalf("expected error with wrong passphrase")
	}
}

func TestKeyStore_FromEnv_HexKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	raw := bytesOf(0xCD, 32)
	os.Setenv("QUORSIG_KEYSTORE_ENCRYPT", "1")
	os.Setenv("QUORSIG_KEYSTORE_KEY", hex.EncodeToString(raw))
	os.Setenv("QUORSIG_ZEROIZE", "1")
	t.Cleanup(func() {
		os.Unsetenv("QUORSIG_KEYSTORE_ENCRYPT")
		os.Unsetenv("QUORSIG_KEYSTORE_KEY")
		os.Unsetenv("QUORSIG_ZEROIZE")
	})

	ks := NewKeyStoreFromEnv(path)
	if err := ks.SaveKeyShare(context.Background(), KeyShareRecord{Index: 9}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := ks.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Index != 9 {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestKeyStore_FromEnv_Disabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	os.Unsetenv("QUORSIG_KEYSTORE_ENCRYPT")
	ks := NewKeyStoreFromEnv(path)
	if err := ks.SaveKeyShare(context.Background(), KeyShareRecord{Index: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"index":3`)) {
		t.Fatalf("expected plaintext JSON payload")
	}
}

func TestKeyStore_BakFallback_Encrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsig_keyshare.dat")
	ks := NewKeyStoreEncrypted(path, bytesOf(0xEF, 32), false)
	if err := ks.SaveKeyShare(context.Background(), KeyShareRecord{Index: 1, Epoch: 1}); err != nil {
		t.Fatalf("save1: %v", err)
	}
	if err := ks.SaveKeyShare(context.Background(), KeyShareRecord{Index: 1, Epoch: 2}); err != nil {
		t.Fatalf("save2: %v", err)
	}
	mustWrite(t, path, []byte("bad"))
	got, err := ks.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("fallback load: %v", err)
	}
	if got.Epoch != 1 {
		t.Fatalf("fallback mismatch: %+v", got)
	}
}

func TestKeyStore_ZeroizeKeySlice(t *testing.T) {
	key := bytesOf(0x11, 32)
	_ = NewKeyStoreEncrypted("/dev/null", key, true)
	for _, b := range key {
		if b != 0 {
			t.Fatalf("key not zeroized")
		}
	}
}
