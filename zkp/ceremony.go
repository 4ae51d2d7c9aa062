package zkp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/google/uuid"

	"github.com/sp-consortium/settlementd/crypto"
)

// ParticipantContribution records one consortium operator's contribution
// to a circuit's trusted setup, identified by the Blake2b hash of the
// circuit name, the operator and its position in the participant order
// (the setup parameters are not part of that hash). This mirrors the
// demo ceremony coordinator that seeded these circuits' original Rust
// prototype: a simulated multi-party ceremony rather than a production
// MPC powers-of-tau run, recorded here for auditability rather than
// security.
type ParticipantContribution struct {
	Operator      string `json:"operator"`
	ParameterHash string `json:"parameter_hash"`
	Timestamp     int64  `json:"timestamp"`
}

// CeremonyTranscript is the record of a completed trusted-setup ceremony
// for one circuit: who participated, in what order, and the final
// proving/verifying key digests.
type CeremonyTranscript struct {
	CeremonyID      string                     `json:"ceremony_id"`
	Circuit         CircuitName                `json:"circuit"`
	Contributions   []ParticipantContribution  `json:"contributions"`
	ProvingKeyHash  string                     `json:"proving_key_hash"`
	VerifyingKeyHash string                    `json:"verifying_key_hash"`
	CompletedAt     int64                      `json:"completed_at"`
}

// RunCeremony runs the (simulated) trusted setup for a single circuit's
// constraint system, recording one ParticipantContribution per listed
// operator. The participant order affects only the transcript, not the
// resulting keys: gnark's groth16.Setup is a single-shot operation, so
// participants "witness" the setup rather than sequentially perturbing
// it, matching how the original ceremony binary logged contributions
// around one generation step.
func RunCeremony(circuit CircuitName, ccs constraint.ConstraintSystem, operators []string) (groth16.ProvingKey, groth16.VerifyingKey, *CeremonyTranscript, error) {
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("groth16 setup for %s: %w", circuit, err)
	}

	var pkBuf, vkBuf bytes.Buffer
	if _, err := pk.WriteTo(&pkBuf); err != nil {
		return nil, nil, nil, fmt.Errorf("serialize proving key: %w", err)
	}
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		return nil, nil, nil, fmt.Errorf("serialize verifying key: %w", err)
	}
	pkHash := crypto.Hash(pkBuf.Bytes())
	vkHash := crypto.Hash(vkBuf.Bytes())

	now := time.Now().UnixNano()
	contributions := make([]ParticipantContribution, len(operators))
	for i, op := range operators {
		contributions[i] = ParticipantContribution{
			Operator:      op,
			ParameterHash: crypto.Hash([]byte(fmt.Sprintf("%s:%s:%d", circuit, op, i))),
			Timestamp:     now,
		}
	}

	transcript := &CeremonyTranscript{
		CeremonyID:       uuid.NewString(),
		Circuit:          circuit,
		Contributions:    contributions,
		ProvingKeyHash:   pkHash,
		VerifyingKeyHash: vkHash,
		CompletedAt:      now,
	}
	return pk, vk, transcript, nil
}

// VerifyCeremony checks that a transcript's recorded key digests match the
// actual serialized proving/verifying keys, and that every listed operator
// contributed exactly once.
func VerifyCeremony(transcript *CeremonyTranscript, pk groth16.ProvingKey, vk groth16.VerifyingKey, expectedOperators []string) error {
	var pkBuf, vkBuf bytes.Buffer
	if _, err := pk.WriteTo(&pkBuf); err != nil {
		return fmt.Errorf("serialize proving key: %w", err)
	}
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		return fmt.Errorf("serialize verifying key: %w", err)
	}
	if crypto.Hash(pkBuf.Bytes()) != transcript.ProvingKeyHash {
		return fmt.Errorf("ceremony %s: proving key hash mismatch", transcript.CeremonyID)
	}
	if crypto.Hash(vkBuf.Bytes()) != transcript.VerifyingKeyHash {
		return fmt.Errorf("ceremony %s: verifying key hash mismatch", transcript.CeremonyID)
	}
	counts := make(map[string]int, len(transcript.Contributions))
	for _, c := range transcript.Contributions {
		counts[c.Operator]++
	}
	for _, op := range expectedOperators {
		switch n := counts[op]; {
		case n == 0:
			return fmt.Errorf("ceremony %s: missing contribution from %s", transcript.CeremonyID, op)
		case n > 1:
			return fmt.Errorf("ceremony %s: duplicate contribution from %s", transcript.CeremonyID, op)
		}
	}
	return nil
}

// ExportVerifyingKey serializes a verifying key for distribution, so peers
// can independently verify proofs without re-running the ceremony.
func ExportVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// EccCurve is the curve all consortium circuits are compiled for.
var EccCurve = ecc.BN254
