// Package wire defines the JSON messages nodes exchange during key
// ceremonies and signing sessions.
//
// Encoding is JSON with lower_snake_case keys and base64 for []byte fields.
// Sig authenticates the message under the sender's committee signing key and
// is computed over the JSON form with Sig itself nil'd out.
package wire

// Topic names for pubsub channels (stable identifiers).
const (
	TopicCeremony = "quorsig/ceremony/v1"
	TopicSign     = "quorsig/sign/v1"
)

// Ceremony message types.
const (
	CeremonyCommitments = "commitments"
	CeremonyShare       = "share"
	CeremonyShareOpen   = "share_open"
	CeremonyAck         = "ack"
	CeremonyComplaint   = "complaint"
)

// Ceremony is the wire message for Feldman-style key ceremonies.
//   - commitments: broadcast of the dealer's verification commitments.
//   - share: a share encrypted to ToIndex (Nonce+Ciphertext); gossiped via
//     pubsub, non-recipients ignore it.
//   - share_open: a plaintext share (Share) published by the dealer in
//     response to a complaint so everyone can verify it.
//   - ack: FromIndex verified the share dealt by ToIndex.
//   - complaint: FromIndex could not verify the share dealt by ToIndex.
type Ceremony struct {
	SessionID   string   `json:"session_id"`
	Epoch       uint64   `json:"epoch"`
	Type        string   `json:"type"`
	FromIndex   uint32   `json:"from_index"`
	ToIndex     uint32   `json:"to_index,omitempty"`
	Commitments [][]byte `json:"commitments,omitempty"`
	Nonce       []byte   `json:"nonce,omitempty"`
	Ciphertext  []byte   `json:"ciphertext,omitempty"`
	Share       []byte   `json:"share,omitempty"`
	Sig         []byte   `json:"sig,omitempty"`
}
