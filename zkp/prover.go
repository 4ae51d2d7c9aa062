package zkp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// CircuitName identifies which of the two consortium circuits a key set,
// proof, or ceremony artifact belongs to.
type CircuitName string

const (
	CircuitBcePrivacy    CircuitName = "bce_privacy"
	CircuitSettlementCalc CircuitName = "settlement_calc"
)

// System holds the compiled constraint systems and Groth16 key pairs for
// both consortium circuits. It is built once at node startup from the
// ceremony's output (or generated ad hoc in development via RunCeremony).
type System struct {
	bceCS  constraint.ConstraintSystem
	bcePK  groth16.ProvingKey
	bceVK  groth16.VerifyingKey

	settleCS constraint.ConstraintSystem
	settlePK groth16.ProvingKey
	settleVK groth16.VerifyingKey
}

// CompileCircuits compiles both circuits into R1CS constraint systems over
// BN254, independent of any proving/verifying key material.
func CompileCircuits() (bceCS, settleCS constraint.ConstraintSystem, err error) {
	bceCS, err = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &BcePrivacyCircuit{})
	if err != nil {
		return nil, nil, fmt.Errorf("compile BCE privacy circuit: %w", err)
	}
	settleCS, err = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &SettlementCalcCircuit{})
	if err != nil {
		return nil, nil, fmt.Errorf("compile settlement calculation circuit: %w", err)
	}
	return bceCS, settleCS, nil
}

// NewSystem assembles a System from compiled constraint systems and the
// key pairs produced for them (normally via a CeremonyTranscript).
func NewSystem(bceCS constraint.ConstraintSystem, bcePK groth16.ProvingKey, bceVK groth16.VerifyingKey,
	settleCS constraint.ConstraintSystem, settlePK groth16.ProvingKey, settleVK groth16.VerifyingKey) *System {
	return &System{
		bceCS: bceCS, bcePK: bcePK, bceVK: bceVK,
		settleCS: settleCS, settlePK: settlePK, settleVK: settleVK,
	}
}

// CommitBcePrivacy computes the MiMC commitment to a BCE usage witness the
// same way BcePrivacyCircuit.Define's in-circuit mimc gadget does, in field
// order (usage counters, then rates, then salt). A submitting operator calls
// this before signing a record, binding CommitmentHash to the private
// witness so a later proof over the same values will verify; it is also
// used to check a record's declared CommitmentHash against its (disclosed,
// post-settlement) witness during dispute resolution.
func CommitBcePrivacy(callMinutes, dataMB, smsCount, roamingMinutes, roamingDataMB,
	callRateCents, dataRateCents, smsRateCents, roamingRateCents, roamingDataRateCents, salt uint64) []byte {
	h := mimc.NewMiMC()
	for _, v := range []uint64{
		callMinutes, dataMB, smsCount, roamingMinutes, roamingDataMB,
		callRateCents, dataRateCents, smsRateCents, roamingRateCents, roamingDataRateCents,
		salt,
	} {
		var buf [32]byte
		binary.BigEndian.PutUint64(buf[24:], v)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// ProveBcePrivacy generates a Groth16 proof that witness satisfies the BCE
// privacy circuit.
func (s *System) ProveBcePrivacy(witness *BcePrivacyCircuit) ([]byte, error) {
	assignment, err := frontend.NewWitness(witness, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(s.bceCS, s.bcePK, assignment)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifyBcePrivacy checks a Groth16 proof against the public portion of a
// BCE privacy witness. It returns (false, nil) rather than an error when
// the proof is simply invalid, matching Groth16's verification contract;
// errors are reserved for malformed input.
func (s *System) VerifyBcePrivacy(proofBytes []byte, publicWitness *BcePrivacyCircuit) (bool, error) {
	public, err := frontend.NewWitness(publicWitness, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("build public witness: %w", err)
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("deserialize proof: %w", err)
	}
	if err := groth16.Verify(proof, s.bceVK, public); err != nil {
		return false, nil
	}
	return true, nil
}

// ProveSettlementCalc generates a Groth16 proof that witness satisfies the
// settlement calculation circuit.
func (s *System) ProveSettlementCalc(witness *SettlementCalcCircuit) ([]byte, error) {
	assignment, err := frontend.NewWitness(witness, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(s.settleCS, s.settlePK, assignment)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifySettlementCalc checks a Groth16 proof against the public portion
// of a settlement calculation witness.
func (s *System) VerifySettlementCalc(proofBytes []byte, publicWitness *SettlementCalcCircuit) (bool, error) {
	public, err := frontend.NewWitness(publicWitness, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("build public witness: %w", err)
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("deserialize proof: %w", err)
	}
	if err := groth16.Verify(proof, s.settleVK, public); err != nil {
		return false, nil
	}
	return true, nil
}
