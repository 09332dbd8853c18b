package tsig

import (
	"fmt"
	"time"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/logger"
)

// RotationMode selects what a rotation ceremony replaces.
type RotationMode string

const (
	// RotationRekey runs a fresh ceremony: new master key, new shares.
	// Signatures made under the old key verify only through the retained
	// key history.
	RotationRekey RotationMode = "rekey"
	// RotationReshare redeals shares of the existing secret: the master
	// public key is unchanged and old signatures keep verifying under it.
	RotationReshare RotationMode = "reshare"
)

const (
	defaultCeremonyTimeout = 30 * time.Second
	defaultSignTimeout     = 10 * time.Second
	defaultKeyHistory      = 4
)

// Config fixes the threshold group a coordinator operates.
type Config struct {
	// Curve names the group backend; see curve.ByID.
	Curve curve.ID `json:"curve" mapstructure:"curve"`
	// Threshold is the minimum number of signatories t.
	Threshold uint32 `json:"threshold" mapstructure:"threshold"`
	// Participants is the group size n. Indices run 1..n.
	Participants uint32 `json:"participants" mapstructure:"participants"`
	// SelfIndex is this node's 1-based index, 0 for a combine-only node
	// that holds no share.
	SelfIndex uint32 `json:"self_index" mapstructure:"self_index"`

	RotationMode RotationMode `json:"rotation_mode" mapstructure:"rotation_mode"`
	// KeyHistory bounds how many superseded master keys stay available to
	// VerifyWithHistory after rekey rotations.
	KeyHistory int `json:"key_history" mapstructure:"key_history"`

	CeremonyTimeout time.Duration `json:"ceremony_timeout" mapstructure:"ceremony_timeout"`
	SignTimeout     time.Duration `json:"sign_timeout" mapstructure:"sign_timeout"`

	// CanonicalSubset makes the combiner pick the t smallest signer
	// indices instead of the first t valid partials, so repeated requests
	// over the same partial set produce byte-identical signatures.
	CanonicalSubset bool `json:"canonical_subset" mapstructure:"canonical_subset"`
}

// Normalize fills zero values with defaults. Called by Validate.
func (c *Config) Normalize() {
	if c.RotationMode == "" {
		c.RotationMode = RotationRekey
	}
	if c.KeyHistory == 0 {
		c.KeyHistory = defaultKeyHistory
	}
	if c.CeremonyTimeout == 0 {
		c.CeremonyTimeout = defaultCeremonyTimeout
	}
	if c.SignTimeout == 0 {
		c.SignTimeout = defaultSignTimeout
	}
}

// Validate normalizes and checks the configuration. Any failure is a
// ConfigurationError and construction must not proceed.
func (c *Config) Validate() error {
	c.Normalize()
	if _, err := curve.ByID(c.Curve); err != nil {
		return &ConfigurationError{Field: "curve", Reason: err.Error()}
	}
	if c.Participants == 0 {
		return &ConfigurationError{Field: "participants", Reason: "participants must be positive"}
	}
	if c.Threshold == 0 {
		return &ConfigurationError{Field: "threshold", Reason: "threshold must be positive"}
	}
	if c.Threshold > c.Participants {
		return &ConfigurationError{
			Field:  "threshold",
			Reason: fmt.Sprintf("threshold %d exceeds participants %d", c.Threshold, c.Participants),
		}
	}
	if c.SelfIndex > c.Participants {
		return &ConfigurationError{
			Field:  "self_index",
			Reason: fmt.Sprintf("index %d outside 1..%d", c.SelfIndex, c.Participants),
		}
	}
	if c.RotationMode != RotationRekey && c.RotationMode != RotationReshare {
		return &ConfigurationError{Field: "rotation_mode", Reason: "unknown mode " + string(c.RotationMode)}
	}
	if c.KeyHistory < 0 {
		return &ConfigurationError{Field: "key_history", Reason: "must not be negative"}
	}
	if c.CeremonyTimeout <= 0 || c.SignTimeout <= 0 {
		return &ConfigurationError{Field: "timeouts", Reason: "must be positive"}
	}
	if c.Threshold*2 <= c.Participants {
		logger.WarnJ("tsig_config", map[string]any{
			"event":        "weak_threshold",
			"threshold":    c.Threshold,
			"participants": c.Participants,
		})
	}
	return nil
}

// ThresholdConfig is the read-only view returned by the coordinator.
type ThresholdConfig struct {
	Threshold    uint32       `json:"threshold"`
	Participants uint32       `json:"participants"`
	Curve        curve.ID     `json:"curve"`
	RotationMode RotationMode `json:"rotation_mode"`
}
