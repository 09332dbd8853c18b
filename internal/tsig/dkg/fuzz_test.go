package dkg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// FuzzKeyStore_Envelope_NoPanic round-trips a record, then replaces the file
// and its backup with arbitrary bytes: loading either fails cleanly or yields
// a record, and never panics regardless of what the header claims.
func FuzzKeyStore_Envelope_NoPanic(f *testing.F) {
	f.Add([]byte{}, uint8(1))
	f.Add([]byte{0x51, 0x53, 0x4b, 0x53}, uint8(2))
	// Well-formed header claiming a 4 GiB payload.
	f.Add([]byte{
		0x51, 0x53, 0x4b, 0x53,
		0x00, 0x01,
		0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
		0x00, 0x00, 0x00, 0x00,
	}, uint8(3))
	f.Fuzz(func(t *testing.T, raw []byte, idx uint8) {
		path := filepath.Join(t.TempDir(), "share.dat")
		s := NewKeyStore(path)
		ctx := context.Background()
		rec := KeyShareRecord{
			Curve:        curve.Secp256k1,
			Index:        uint32(idx),
			Threshold:    1,
			Participants: 1,
			Epoch:        1,
			Secret:       []byte{idx},
			MasterPublic: []byte{idx, idx},
		}
		_ = s.SaveKeyShare(ctx, rec)
		_, _ = s.LoadKeyShare(ctx)

		_ = os.WriteFile(path, raw, 0o600)
		_ = os.WriteFile(path+".bak", raw, 0o600)
		_, _ = s.LoadKeyShare(ctx)

		_ = os.Truncate(path, int64(len(raw)/2))
		_, _ = s.LoadKeyShare(ctx)
	})
}
