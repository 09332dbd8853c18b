package dkg

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// CommitteeConfig describes one node's view of a networked ceremony: the
// group parameters, its own long-term keys, and every member's public keys.
// Generated out of band (see the committee-config generator script) and
// loaded at startup.
type CommitteeConfig struct {
	SessionID string `json:"session_id"`
	Epoch     uint64 `json:"epoch,omitempty"`

	Curve     curve.ID `json:"curve"`
	N         uint32   `json:"n"`
	Threshold uint32   `json:"threshold"`
	Index     uint32   `json:"index"`

	// Persistence.
	KeySharePath string `json:"keyshare_path,omitempty"` // default: tsig_keyshare.dat
	SessionDir   string `json:"session_dir,omitempty"`   // optional; enables resume

	// Local keys (node-specific).
	SigPriv []byte `json:"sig_priv,omitempty"` // ed25519 private key (64B)
	EncPriv []byte `json:"enc_priv,omitempty"` // X25519 private key (32B)

	// Committee public keys (all nodes).
	Committee []Member `json:"committee"`
}

// Member holds one committee node's public authentication material.
type Member struct {
	Index  uint32 `json:"index"`
	SigPub []byte `json:"sig_pub,omitempty"` // ed25519 public key (32B)
	EncPub []byte `json:"enc_pub,omitempty"` // X25519 public key (32B)
}

func LoadCommitteeConfig(path string) (CommitteeConfig, error) {
	if path == "" {
		return CommitteeConfig{}, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return CommitteeConfig{}, err
	}
	var cfg CommitteeConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return CommitteeConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return CommitteeConfig{}, err
	}
	return cfg, nil
}

func (c CommitteeConfig) Validate() error {
	if c.SessionID == "" {
		return errors.New("missing session_id")
	}
	if _, err := curve.ByID(c.Curve); err != nil {
		return err
	}
	if c.N == 0 {
		return errors.New("invalid n")
	}
	if c.Threshold == 0 || c.Threshold > c.N {
		return errors.New("invalid threshold")
	}
	if c.Index == 0 || c.Index > c.N {
		return errors.New("invalid index")
	}
	if len(c.SigPriv) != ed25519.PrivateKeySize {
		return errors.New("invalid sig_priv")
	}
	if len(c.EncPriv) != 32 {
		return errors.New("invalid enc_priv")
	}
	if len(c.Committee) != int(c.N) {
		return errors.New("committee size mismatch")
	}
	seen := map[uint32]struct{}{}
	for _, m := range c.Committee {
		if m.Index == 0 || m.Index > c.N {
			return errors.New("invalid committee index")
		}
		if _, ok := seen[m.Index]; ok {
			return errors.New("duplicate committee index")
		}
		if len(m.SigPub) != ed25519.PublicKeySize {
			return errors.New("invalid committee sig_pub")
		}
		if len(m.EncPub) != 32 {
			return errors.New("invalid committee enc_pub")
		}
		seen[m.Index] = struct{}{}
	}
	return nil
}

// Member returns the committee entry for index.
func (c CommitteeConfig) Member(index uint32) (Member, bool) {
	for _, m := range c.Committee {
		if m.Index == index {
			return m, true
		}
	}
	return Member{}, false
}
