package dkg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

func baseCommittee() CommitteeConfig {
	return CommitteeConfig{
		SessionID: "sess",
		Curve:     curve.Secp256k1,
		N:         2,
		Threshold: 2,
		Index:     1,
		SigPriv:   make([]byte, 64),
		EncPriv:   make([]byte, 32),
		Committee: []Member{
			{Index: 1, SigPub: make([]byte, 32), EncPub: make([]byte, 32)},
			{Index: 2, SigPub: make([]byte, 32), EncPub: make([]byte, 32)},
		},
	}
}

func TestCommitteeConfig_Validate_OK(t *testing.T) {
	cfg := CommitteeConfig{
		SessionID: "sess",
		Curve:     curve.Ed25519,
		N:         4,
		Threshold: 3,
		Index:     2,
		SigPriv:   make([]byte, 64),
		EncPriv:   make([]byte, 32),
		Committee: []Member{
			{Index: 1, SigPub: make([]byte, 32), EncPub: make([]byte, 32)},
			{Index: 2, SigPub: make([]byte, 32), EncPub: make([]byte, 32)},
			{Index: 3, SigPub: make([]byte, 32), EncPub: make([]byte, 32)},
			{Index: 4, SigPub: make([]byte, 32), EncPub: make([]byte, 32)},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCommitteeConfig_Validate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CommitteeConfig)
	}{
		{"missing_session_id", func(c *CommitteeConfig) { c.SessionID = "" }},
		{"bad_curve", func(c *CommitteeConfig) { c.Curve = "curve9000" }},
		{"invalid_n", func(c *CommitteeConfig) { c.N = 0 }},
		{"invalid_threshold", func(c *CommitteeConfig) { c.Threshold = 3 }},
		{"invalid_index", func(c *CommitteeConfig) { c.Index = 3 }},
		{"bad_sig_priv", func(c *CommitteeConfig) { c.SigPriv = make([]byte, 1) }},
		{"bad_enc_priv", func(c *CommitteeConfig) { c.EncPriv = make([]byte, 1) }},
		{"committee_size_mismatch", func(c *CommitteeConfig) { c.Committee = c.Committee[:1] }},
		{"dup_committee_index", func(c *CommitteeConfig) { c.Committee[1].Index = 1 }},
		{"bad_committee_sig_pub", func(c *CommitteeConfig) { c.Committee[0].SigPub = make([]byte, 1) }},
		{"bad_committee_enc_pub", func(c *CommitteeConfig) { c.Committee[0].EncPub = make([]byte, 1) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseCommittee()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadCommitteeConfig_OK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.json")
	want := baseCommittee()
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadCommitteeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionID != "sess" || cfg.Curve != curve.Secp256k1 || cfg.N != 2 || cfg.Threshold != 2 || cfg.Index != 1 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadCommitteeConfig_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.json")
	bad := baseCommittee()
	bad.Threshold = 5
	b, _ := json.Marshal(bad)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCommitteeConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := LoadCommitteeConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCommitteeConfig_MemberLookup(t *testing.T) {
	cfg := baseCommittee()
	m, ok := cfg.Member(2)
	if !ok || m.Index != 2 {
		t.Fatalf("member 2: ok=%v m=%+v", ok, m)
	}
	if _, ok := cfg.Member(7); ok {
		t.Fatalf("lookup of absent member succeeded")
	}
}
