// Package tsig exposes threshold-signature operations behind a single
// coordinator facade: distributed key generation, partial signing and
// combination, share validation, and key rotation. Group arithmetic is
// delegated to a curve.Adapter so the same flows run on secp256k1, P-256,
// ed25519 and BLS12-381.
package tsig

import (
	"errors"
	"fmt"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// ConfigurationError reports an invalid threshold configuration. It is fatal:
// construction fails and nothing retries it.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tsig: invalid configuration: %s: %s", e.Field, e.Reason)
}

// CeremonyReason classifies a failed key-generation ceremony.
type CeremonyReason string

const (
	CeremonyTimeout                  CeremonyReason = "timeout"
	CeremonyInsufficientParticipants CeremonyReason = "insufficient_participants"
	CeremonyCommitmentMismatch       CeremonyReason = "commitment_mismatch"
	CeremonyAborted                  CeremonyReason = "aborted"
)

// CeremonyError reports a ceremony that did not complete. Ceremonies are
// retryable: run a fresh one under a new session id, never resubmit into the
// failed session.
type CeremonyError struct {
	Session string
	Reason  CeremonyReason
	Detail  string
}

func (e *CeremonyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tsig: ceremony %s failed: %s", e.Session, e.Reason)
	}
	return fmt.Sprintf("tsig: ceremony %s failed: %s: %s", e.Session, e.Reason, e.Detail)
}

// ShareReason classifies a rejected key share.
type ShareReason string

const (
	ShareOutOfRange            ShareReason = "out_of_range"
	ShareWrongLength           ShareReason = "wrong_length"
	ShareCommitmentCheckFailed ShareReason = "commitment_check_failed"
)

// ShareValidationError reports one participant's invalid share. The holder is
// excluded; the operation continues when enough valid participants remain.
type ShareValidationError struct {
	Participant uint32
	Reason      ShareReason
}

func (e *ShareValidationError) Error() string {
	return fmt.Sprintf("tsig: participant %d share rejected: %s", e.Participant, e.Reason)
}

// NewShareValidationError maps a curve-level validation failure onto the
// share taxonomy.
func NewShareValidationError(participant uint32, err error) *ShareValidationError {
	reason := ShareCommitmentCheckFailed
	switch {
	case errors.Is(err, curve.ErrScalarLength):
		reason = ShareWrongLength
	case errors.Is(err, curve.ErrScalarRange):
		reason = ShareOutOfRange
	}
	return &ShareValidationError{Participant: participant, Reason: reason}
}

// SignatureReason classifies a failed signing request.
type SignatureReason string

const (
	SignatureInsufficientSignatories SignatureReason = "insufficient_signatories"
	SignatureMalformed               SignatureReason = "malformed"
	SignatureCancelled               SignatureReason = "cancelled"
)

// SignatureError reports a signing session that produced no signature.
type SignatureError struct {
	Session string
	Reason  SignatureReason
	Have    int
	Need    int
}

func (e *SignatureError) Error() string {
	if e.Reason == SignatureInsufficientSignatories {
		return fmt.Sprintf("tsig: signing %s failed: %s: have %d, need %d",
			e.Session, e.Reason, e.Have, e.Need)
	}
	return fmt.Sprintf("tsig: signing %s failed: %s", e.Session, e.Reason)
}

// StateReason classifies an operation rejected by the coordinator's state.
type StateReason string

const (
	StateNoKeys             StateReason = "no_keys"
	StateRotationInProgress StateReason = "rotation_in_progress"
)

// StateError reports an operation invoked in a state that cannot serve it,
// such as signing before any ceremony has completed or rotating twice
// concurrently.
type StateError struct {
	Reason StateReason
}

func (e *StateError) Error() string {
	return fmt.Sprintf("tsig: invalid state: %s", e.Reason)
}

// Retryable reports whether err names a transient failure worth retrying
// under a fresh session. Configuration and state errors are not retryable;
// neither is an individual share rejection.
func Retryable(err error) bool {
	var ce *CeremonyError
	if errors.As(err, &ce) {
		return ce.Reason != CeremonyAborted
	}
	var se *SignatureError
	if errors.As(err, &se) {
		return se.Reason == SignatureInsufficientSignatories
	}
	return false
}
