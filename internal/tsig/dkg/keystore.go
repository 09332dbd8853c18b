package dkg

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// KeyShareRecord is the persisted key material for one participant after a
// completed ceremony. GroupCommitments lets a verifier recompute every
// participant's public share without touching any secret.
type KeyShareRecord struct {
	Curve            curve.ID `json:"curve"`
	Index            uint32   `json:"index"`
	Threshold        uint32   `json:"threshold"`
	Participants     uint32   `json:"participants"`
	Epoch            uint64   `json:"epoch"`
	Secret           []byte   `json:"secret"`
	MasterPublic     []byte   `json:"master_public"`
	GroupCommitments [][]byte `json:"group_commitments,omitempty"`
	Qualified        []uint32 `json:"qualified,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

// KeyStore persists key shares with atomic writes (tmp+fsync+rename) and a
// .bak fallback. Encryption is optional: either a fixed 32-byte AES-256-GCM
// key or a passphrase run through scrypt with a per-write salt.
type KeyStore struct {
	mu         sync.Mutex
	path       string
	aead       cipher.AEAD
	passphrase []byte
	encrypt    bool
	zeroize    bool
}

var ErrNotFound = errors.New("not found")

const (
	magicKeyStore uint32 = 0x51534b53 // 'QSKS'
	storeVersion  uint16 = 1
	flagEncrypt   uint16 = 1 << 0
	flagKDF       uint16 = 1 << 1

	kdfSaltLen = 16
	kdfN       = 1 << 15
	kdfR       = 8
	kdfP       = 1

	// maxRecordLen bounds the payload a header may claim, so a corrupt or
	// crafted file cannot force a huge allocation. Records are small JSON.
	maxRecordLen = 1 << 20
)

// Disk layout:
// [magic u32][version u16][flags u16][length u32][crc32 u32][payload ...]
// payload = JSON record; when encrypted, nonce(12B)||ciphertext, prefixed
// with salt(16B) when the key comes from a passphrase.

// NewKeyStore returns an unencrypted store at path.
func NewKeyStore(path string) *KeyStore { return &KeyStore{path: path} }

// NewKeyStoreEncrypted enables AES-256-GCM with the given 32-byte key. An
// invalid key length silently degrades to an unencrypted store, matching the
// load path which refuses encrypted records without a key. The key slice is
// zeroed before return.
func NewKeyStoreEncrypted(path string, key []byte, zeroize bool) *KeyStore {
	ks := &KeyStore{path: path}
	if len(key) != 32 {
		return ks
	}
	if a, err := newAESGCM(key); err == nil {
		ks.aead = a
		ks.encrypt = true
		ks.zeroize = zeroize
	}
	zero(key)
	return ks
}

// NewKeyStoreWithPassphrase enables encryption with a key derived per write
// via scrypt and a fresh salt stored in the envelope.
func NewKeyStoreWithPassphrase(path string, passphrase []byte, zeroize bool) *KeyStore {
	ks := &KeyStore{path: path}
	if len(passphrase) == 0 {
		return ks
	}
	ks.passphrase = append([]byte(nil), passphrase...)
	ks.encrypt = true
	ks.zeroize = zeroize
	return ks
}

// NewKeyStoreFromEnv builds a store from the environment. Encryption is off
// unless QUORSIG_KEYSTORE_ENCRYPT=1; the key comes from QUORSIG_KEYSTORE_KEY
// (64 hex chars), QUORSIG_KEYSTORE_KEY_FILE (raw 32 bytes) or
// QUORSIG_KEYSTORE_PASSPHRASE (scrypt). QUORSIG_ZEROIZE=1 clears plaintext
// buffers after use.
func NewKeyStoreFromEnv(path string) *KeyStore {
	if os.Getenv("QUORSIG_KEYSTORE_ENCRYPT") != "1" {
		return NewKeyStore(path)
	}
	zeroize := os.Getenv("QUORSIG_ZEROIZE") == "1"
	if hexStr := os.Getenv("QUORSIG_KEYSTORE_KEY"); hexStr != "" {
		if b, err := hex.DecodeString(hexStr); err == nil {
			return NewKeyStoreEncrypted(path, b, zeroize)
		}
	}
	if f := os.Getenv("QUORSIG_KEYSTORE_KEY_FILE"); f != "" {
		if b, err := os.ReadFile(f); err == nil {
			return NewKeyStoreEncrypted(path, b, zeroize)
		}
	}
	if p := os.Getenv("QUORSIG_KEYSTORE_PASSPHRASE"); p != "" {
		return NewKeyStoreWithPassphrase(path, []byte(p), zeroize)
	}
	return NewKeyStore(path)
}

func (s *KeyStore) seal(payload []byte) (flags uint16, body []byte, err error) {
	if !s.encrypt {
		return 0, payload, nil
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return 0, nil, err
	}
	aead := s.aead
	var salt []byte
	if aead == nil {
		salt = make([]byte, kdfSaltLen)
		if _, err := rand.Read(salt); err != nil {
			return 0, nil, err
		}
		key, err := scrypt.Key(s.passphrase, salt, kdfN, kdfR, kdfP, 32)
		if err != nil {
			return 0, nil, err
		}
		aead, err = newAESGCM(key)
		zero(key)
		if err != nil {
			return 0, nil, err
		}
		flags |= flagKDF
	}
	sealed := aead.Seal(nil, nonce, payload, nil)
	body = make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	body = append(body, salt...)
	body = append(body, nonce...)
	body = append(body, sealed...)
	flags |= flagEncrypt
	if s.zeroize {
		zero(payload)
	}
	return flags, body, nil
}

func (s *KeyStore) open(flags uint16, body []byte) ([]byte, error) {
	if flags&flagEncrypt == 0 {
		return body, nil
	}
	aead := s.aead
	if flags&flagKDF != 0 {
		if len(s.passphrase) == 0 {
			return nil, errors.New("encrypted but no passphrase")
		}
		if len(body) < kdfSaltLen {
			return nil, errors.New("bad salt")
		}
		key, err := scrypt.Key(s.passphrase, body[:kdfSaltLen], kdfN, kdfR, kdfP, 32)
		if err != nil {
			return nil, err
		}
		aead, err = newAESGCM(key)
		zero(key)
		if err != nil {
			return nil, err
		}
		body = body[kdfSaltLen:]
	}
	if aead == nil {
		return nil, errors.New("encrypted but no key")
	}
	if len(body) < 12 {
		return nil, errors.New("bad nonce")
	}
	return aead.Open(nil, body[:12], body[12:], nil)
}

func (s *KeyStore) writeAtomic(path string, rec KeyShareRecord) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	flags, body, err := s.seal(payload)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	var hdr [4 + 2 + 2 + 4 + 4]byte
	off := 0
	binary.BigEndian.PutUint32(hdr[off:], magicKeyStore)
	off += 4
	binary.BigEndian.PutUint16(hdr[off:], storeVersion)
	off += 2
	binary.BigEndian.PutUint16(hdr[off:], flags)
	off += 2
	binary.BigEndian.PutUint32(hdr[off:], uint32(len(body)))
	off += 4
	binary.BigEndian.PutUint32(hdr[off:], crc32.ChecksumIEEE(body))

	if _, err = f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err = f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if d, err2 := os.Open(dir); err2 == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	bak := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, bak)
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	if d, err2 := os.Open(dir); err2 == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *KeyStore) readFile(path string) (KeyShareRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return KeyShareRecord{}, err
	}
	defer f.Close()
	var hdr [4 + 2 + 2 + 4 + 4]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		return KeyShareRecord{}, err
	}
	off := 0
	if binary.BigEndian.Uint32(hdr[off:]) != magicKeyStore {
		return KeyShareRecord{}, errors.New("bad magic")
	}
	off += 4
	_ = binary.BigEndian.Uint16(hdr[off:]) // version
	off += 2
	flags := binary.BigEndian.Uint16(hdr[off:])
	off += 2
	length := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	want := binary.BigEndian.Uint32(hdr[off:])
	if length == 0 || length > maxRecordLen {
		return KeyShareRecord{}, errors.New("bad length")
	}
	body := make([]byte, int(length))
	if _, err = io.ReadFull(f, body); err != nil {
		return KeyShareRecord{}, err
	}
	if crc32.ChecksumIEEE(body) != want {
		return KeyShareRecord{}, errors.New("crc mismatch")
	}

	plain, err := s.open(flags, body)
	if err != nil {
		return KeyShareRecord{}, err
	}
	var rec KeyShareRecord
	err = json.Unmarshal(plain, &rec)
	if s.zeroize && flags&flagEncrypt != 0 {
		zero(plain)
	}
	if err != nil {
		return KeyShareRecord{}, err
	}
	return rec, nil
}

// SaveKeyShare persists the record.
func (s *KeyStore) SaveKeyShare(_ context.Context, rec KeyShareRecord) error {
	begin := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(s.path, rec); err != nil {
		metrics.Inc("tsig_persist_errors_total", nil)
		logger.ErrorJ("tsig_storage", map[string]any{"op": "persist", "result": "error", "err": err.Error()})
		return err
	}
	ms := float64(time.Since(begin).Milliseconds())
	metrics.ObserveSummary("tsig_persist_ms", nil, ms)
	logger.InfoJ("tsig_storage", map[string]any{"op": "persist", "result": "ok", "latency_ms": ms})
	return nil
}

// LoadKeyShare reads the record, falling back to .bak when the primary file
// is corrupt or missing.
func (s *KeyStore) LoadKeyShare(_ context.Context) (KeyShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, err := s.readFile(s.path); err == nil {
		metrics.Inc("tsig_recovery_total", map[string]string{"result": "ok"})
		return rec, nil
	}
	if rec, err := s.readFile(s.path + ".bak"); err == nil {
		metrics.Inc("tsig_recovery_total", map[string]string{"result": "fallback"})
		logger.WarnJ("tsig_storage", map[string]any{"op": "recovery", "result": "fallback"})
		return rec, nil
	}
	metrics.Inc("tsig_recovery_total", map[string]string{"result": "fail"})
	return KeyShareRecord{}, ErrNotFound
}

func (s *KeyStore) Close() error {
	zero(s.passphrase)
	return nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// zero best-effort clears sensitive buffers.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
