package dkg

import (
	"errors"
	"os"
	"testing"
)

func TestSessionStore_SaveLoad_OK(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)
	want := RunnerState{
		Epoch: 2,
		Coeffs: [][]byte{
			{1, 2, 3},
		},
		SelfCommitments: [][]byte{
			make([]byte, 33),
		},
		Commitments: map[uint32][][]byte{
			1: {make([]byte, 33)},
		},
		Shares: map[uint32][]byte{
			1: make([]byte, 32),
		},
		Acks: map[uint32][]uint32{
			1: {2, 3},
		},
		Disqualified: []uint32{4},
		Done:         true,
		MasterPublic: make([]byte, 33),
		Share:        make([]byte, 32),
		Qualified:    []uint32{1, 2, 3},
	}
	if err := s.Save("sess", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load("sess")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Epoch != want.Epoch || got.Done != want.Done ||
		len(got.Coeffs) != len(want.Coeffs) ||
		len(got.Commitments) != len(want.Commitments) ||
		len(got.Shares) != len(want.Shares) ||
		len(got.Acks[1]) != 2 || len(got.Disqualified) != 1 {
		t.Fatalf("mismatch: got=%+v want=%+v", got, want)
	}
}

func TestSessionStore_CorruptFile_Errors(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)
	if err := s.Save("sess", RunnerState{Epoch: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A corrupt session file must surface an error so the runner starts a
	// fresh ceremony instead of resuming broken state.
	if err := os.Truncate(s.pathFor("sess"), 8); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, err := s.Load("sess"); err == nil {
		t.Fatalf("expected error on corrupt session")
	}
}

func TestSessionStore_NotFound(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)
	if _, err := s.Load("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_Drop(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)
	if err := s.Save("sess", RunnerState{Epoch: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Drop("sess"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := s.Load("sess"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session survived drop: %v", err)
	}
	// Dropping twice is fine.
	if err := s.Drop("sess"); err != nil {
		t.Fatalf("second drop: %v", err)
	}
}
