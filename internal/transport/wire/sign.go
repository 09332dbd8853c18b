package wire

// Sign message types.
const (
	SignRequest = "request"
	SignNonce   = "nonce"
	SignPartial = "partial"
)

// Sign is the wire message for threshold signing sessions.
//   - request: the initiating node proposes a signing subset for MsgHash.
//   - nonce: a subset member publishes its nonce commitment (Schnorr round one).
//   - partial: a subset member publishes its partial signature Value; Schnorr
//     partials repeat the member's NonceCommitment so late joiners can bind
//     the value to the right nonce.
type Sign struct {
	SessionID       string   `json:"session_id"`
	Type            string   `json:"type"`
	FromIndex       uint32   `json:"from_index"`
	MsgHash         []byte   `json:"msg_hash,omitempty"`
	Subset          []uint32 `json:"subset,omitempty"`
	NonceCommitment []byte   `json:"nonce_commitment,omitempty"`
	Value           []byte   `json:"value,omitempty"`
	Sig             []byte   `json:"sig,omitempty"`
}
