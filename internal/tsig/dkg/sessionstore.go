package dkg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/quorsig/quorsig/pkg/metrics"
)

// SessionStore persists an in-progress ceremony so a node can resume after a
// restart without changing its dealt polynomial. Same envelope as the key
// store, different magic.
type SessionStore struct {
	dir string
	mu  sync.Mutex
}

func NewSessionStore(dir string) *SessionStore { return &SessionStore{dir: dir} }

var ErrSessionNotFound = errors.New("session not found")

const (
	magicSession   uint32 = 0x51535353 // 'QSSS'
	sessionVersion uint16 = 1
)

// RunnerState is everything a runner needs to rejoin its ceremony: the local
// polynomial, observed commitments, verified shares and the ack/complaint
// bookkeeping. Scalars and points use the adapter's canonical encodings.
type RunnerState struct {
	Epoch uint64 `json:"epoch"`

	Coeffs          [][]byte `json:"coeffs,omitempty"`
	SelfCommitments [][]byte `json:"self_commitments,omitempty"`

	Commitments map[uint32][][]byte `json:"commitments,omitempty"`
	Shares      map[uint32][]byte   `json:"shares,omitempty"`

	Acks         map[uint32][]uint32 `json:"acks,omitempty"`
	Complaints   map[uint32][]uint32 `json:"complaints,omitempty"`
	Disqualified []uint32            `json:"disqualified,omitempty"`

	Done         bool     `json:"done,omitempty"`
	MasterPublic []byte   `json:"master_public,omitempty"`
	Share        []byte   `json:"share,omitempty"`
	Qualified    []uint32 `json:"qualified,omitempty"`
}

func (s *SessionStore) pathFor(id string) string {
	return filepath.Join(s.dir, "ceremony_"+id+".dat")
}

func writeSession(path string, st RunnerState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	var hdr [4 + 2 + 2 + 4 + 4]byte
	off := 0
	binary.BigEndian.PutUint32(hdr[off:], magicSession)
	off += 4
	binary.BigEndian.PutUint16(hdr[off:], sessionVersion)
	off += 2
	binary.BigEndian.PutUint16(hdr[off:], 0)
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
	return os.Rename(tmp, path)
}

func readSession(path string) (RunnerState, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunnerState{}, err
	}
	defer f.Close()
	var hdr [4 + 2 + 2 + 4 + 4]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		return RunnerState{}, err
	}
	off := 0
	if binary.BigEndian.Uint32(hdr[off:]) != magicSession {
		return RunnerState{}, errors.New("bad magic")
	}
	off += 4
	_ = binary.BigEndian.Uint16(hdr[off:])
	off += 2
	off += 2
	length := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	want := binary.BigEndian.Uint32(hdr[off:])
	body := make([]byte, int(length))
	if _, err = io.ReadFull(f, body); err != nil {
		return RunnerState{}, err
	}
	if crc32.ChecksumIEEE(body) != want {
		return RunnerState{}, errors.New("crc mismatch")
	}
	var st RunnerState
	if err := json.Unmarshal(body, &st); err != nil {
		return RunnerState{}, err
	}
	return st, nil
}

func (s *SessionStore) Save(id string, st RunnerState) error {
	if id == "" {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeSession(s.pathFor(id), st); err != nil {
		metrics.Inc("tsig_session_persist_total", map[string]string{"result": "error"})
		return err
	}
	metrics.Inc("tsig_session_persist_total", map[string]string{"result": "ok"})
	return nil
}

func (s *SessionStore) Load(id string) (RunnerState, error) {
	if id == "" {
		return RunnerState{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := readSession(s.pathFor(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunnerState{}, ErrSessionNotFound
		}
		return RunnerState{}, err
	}
	return st, nil
}

// Drop removes a persisted session, used once its ceremony has finalized and
// the key share is in the key store.
func (s *SessionStore) Drop(id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
