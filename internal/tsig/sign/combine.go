package sign

import (
	"errors"
	"sort"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// ErrKeyMismatch reports a combined signature that does not verify under the
// master public key, which means the public shares and the master key do not
// describe the same group polynomial.
var ErrKeyMismatch = errors.New("sign: combined signature fails under the master public key")

// Params carries the group material a combination runs against.
type Params struct {
	MsgHash      []byte
	MasterPublic curve.Point
	// PublicShares maps signer index to g^share, derived from the group
	// commitments; partials from indices absent here are rejected.
	PublicShares map[uint32]curve.Point
	// Threshold is the minimum number of contributions.
	Threshold int
	// Canonical makes BLS combination use the smallest qualifying signer
	// indices so identical partial sets yield byte-identical signatures.
	// Schnorr combination always consumes the full signer set, which is
	// fixed before responses exist.
	Canonical bool
}

// Combine folds partial signatures into a single signature that the adapter's
// ordinary Verify accepts under the master public key.
//
// Schnorr: every supplied partial belongs to the session's fixed signer set,
// and all of them are required, because each response was computed against the
// challenge over that exact set. A bad contribution therefore fails the whole
// combination and names the offender; the caller excludes it and reruns the
// session.
//
// BLS: contributions are independent, so invalid ones are dropped and any
// Threshold valid ones combine.
func Combine(ad curve.Adapter, p Params, partials []PartialSignature) ([]byte, error) {
	if p.Threshold <= 0 || len(p.MsgHash) == 0 || len(p.MasterPublic) == 0 {
		return nil, errors.New("sign: incomplete combine parameters")
	}
	var (
		sig []byte
		err error
	)
	switch ad.Scheme() {
	case curve.SchemeBLS:
		sig, err = combineBLS(ad, p, partials)
	default:
		sig, err = combineSchnorr(ad, p, partials)
	}
	if err != nil {
		metrics.Inc("tsig_combine_total", map[string]string{"result": "error"})
		return nil, err
	}
	metrics.Inc("tsig_combine_total", map[string]string{"result": "ok"})
	return sig, nil
}

// checkSigners deduplicates and resolves each partial's public share.
func checkSigners(p Params, partials []PartialSignature) (map[uint32]curve.Point, error) {
	seen := make(map[uint32]struct{}, len(partials))
	shares := make(map[uint32]curve.Point, len(partials))
	for _, part := range partials {
		if part.SignerID == 0 {
			return nil, &MalformedError{Signer: part.SignerID, Detail: "zero signer index"}
		}
		if _, dup := seen[part.SignerID]; dup {
			return nil, &MalformedError{Signer: part.SignerID, Detail: "duplicate contribution"}
		}
		seen[part.SignerID] = struct{}{}
		ps, ok := p.PublicShares[part.SignerID]
		if !ok {
			return nil, &MalformedError{Signer: part.SignerID, Detail: "no public share for signer"}
		}
		shares[part.SignerID] = ps
	}
	return shares, nil
}

func combineSchnorr(ad curve.Adapter, p Params, partials []PartialSignature) ([]byte, error) {
	if len(partials) < p.Threshold {
		return nil, &InsufficientError{Have: len(partials), Need: p.Threshold}
	}
	shares, err := checkSigners(p, partials)
	if err != nil {
		return nil, err
	}

	signers := make([]uint32, 0, len(partials))
	nonces := make(map[uint32]curve.Point, len(partials))
	for _, part := range partials {
		if err := ad.ValidatePoint(part.NonceCommitment); err != nil {
			return nil, &MalformedError{Signer: part.SignerID, Detail: "bad nonce commitment"}
		}
		if _, err := ad.ScalarFromBytes(part.Value); err != nil {
			return nil, &MalformedError{Signer: part.SignerID, Detail: "bad response scalar"}
		}
		signers = append(signers, part.SignerID)
		nonces[part.SignerID] = curve.Point(part.NonceCommitment)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })

	aggNonce, err := AggregateNonces(ad, nonces, signers)
	if err != nil {
		return nil, err
	}
	challenge := Challenge(ad, aggNonce, p.MasterPublic, p.MsgHash)

	for _, part := range partials {
		if !VerifySchnorrPartial(ad, part, challenge, shares[part.SignerID]) {
			metrics.Inc("tsig_partials_total", map[string]string{"result": "invalid"})
			return nil, &MalformedError{Signer: part.SignerID, Detail: "response does not match nonce and public share"}
		}
		metrics.Inc("tsig_partials_total", map[string]string{"result": "ok"})
	}

	z := ad.ScalarFromUint64(0)
	for _, part := range partials {
		lambda, err := dkg.LagrangeCoefficient(ad, part.SignerID, signers)
		if err != nil {
			return nil, err
		}
		term, err := ad.MulScalars(lambda, part.Value)
		if err != nil {
			return nil, err
		}
		z, err = ad.AddScalars(z, term)
		if err != nil {
			return nil, err
		}
	}

	sig := make([]byte, 0, ad.SignatureSize())
	sig = append(sig, aggNonce...)
	sig = append(sig, z...)
	if !ad.Verify(p.MsgHash, sig, p.MasterPublic) {
		return nil, ErrKeyMismatch
	}
	return sig, nil
}

func combineBLS(ad curve.Adapter, p Params, partials []PartialSignature) ([]byte, error) {
	shares, err := checkSigners(p, partials)
	if err != nil {
		return nil, err
	}
	agg, ok := ad.(curve.AggregateOps)
	if !ok {
		return nil, errors.New("sign: adapter does not support signature aggregation")
	}

	valid := make([]PartialSignature, 0, len(partials))
	for _, part := range partials {
		if !VerifyBLSPartial(ad, part, p.MsgHash, shares[part.SignerID]) {
			metrics.Inc("tsig_partials_total", map[string]string{"result": "invalid"})
			logger.WarnJ("tsig_combine", map[string]any{
				"event":  "partial_rejected",
				"signer": part.SignerID,
			})
			continue
		}
		metrics.Inc("tsig_partials_total", map[string]string{"result": "ok"})
		valid = append(valid, part)
	}
	if len(valid) < p.Threshold {
		return nil, &InsufficientError{Have: len(valid), Need: p.Threshold}
	}
	if p.Canonical {
		sort.Slice(valid, func(i, j int) bool { return valid[i].SignerID < valid[j].SignerID })
	}
	chosen := valid[:p.Threshold]

	signers := make([]uint32, 0, len(chosen))
	for _, part := range chosen {
		signers = append(signers, part.SignerID)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })

	var sig []byte
	for _, part := range chosen {
		lambda, err := dkg.LagrangeCoefficient(ad, part.SignerID, signers)
		if err != nil {
			return nil, err
		}
		term, err := agg.ScalarMultSig(part.Value, lambda)
		if err != nil {
			return nil, &MalformedError{Signer: part.SignerID, Detail: "bad signature point"}
		}
		if sig == nil {
			sig = term
			continue
		}
		sig, err = agg.AddSigs(sig, term)
		if err != nil {
			return nil, err
		}
	}
	if !ad.Verify(p.MsgHash, sig, p.MasterPublic) {
		return nil, ErrKeyMismatch
	}
	return sig, nil
}
