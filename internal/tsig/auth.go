package tsig

import (
	"crypto/ed25519"

	"github.com/quorsig/quorsig/internal/tsig/dkg"
	"github.com/quorsig/quorsig/internal/tsig/sign"
)

// CommitteeAuth authenticates signing-session messages with the same ed25519
// identities the ceremony runner uses, so one committee config covers both
// protocols.
type CommitteeAuth struct {
	priv ed25519.PrivateKey
	pubs map[uint32]ed25519.PublicKey
}

func NewCommitteeAuth(cfg dkg.CommitteeConfig) *CommitteeAuth {
	pubs := make(map[uint32]ed25519.PublicKey, len(cfg.Committee))
	for _, m := range cfg.Committee {
		if len(m.SigPub) == ed25519.PublicKeySize {
			pubs[m.Index] = ed25519.PublicKey(m.SigPub)
		}
	}
	var priv ed25519.PrivateKey
	if len(cfg.SigPriv) == ed25519.PrivateKeySize {
		priv = ed25519.PrivateKey(cfg.SigPriv)
	}
	return &CommitteeAuth{priv: priv, pubs: pubs}
}

func (a *CommitteeAuth) Sign(payload []byte) ([]byte, error) {
	if a.priv == nil {
		return nil, sign.ErrNoShare
	}
	return ed25519.Sign(a.priv, payload), nil
}

func (a *CommitteeAuth) Verify(from uint32, payload, sig []byte) bool {
	pub, ok := a.pubs[from]
	if !ok {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

var _ sign.Authenticator = (*CommitteeAuth)(nil)
