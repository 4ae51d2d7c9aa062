package core

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/zkp"
)

// ConsortiumID is the public consortium identifier bound into every BCE
// privacy proof, matching the genesis configuration's Genesis.ConsortiumID.
const ConsortiumID = 12345

// ChargeToleranceCents is the maximum allowed absolute difference between a
// record's declared TotalChargesCents and the sum of usage x rate across its
// billable categories, absorbing integer rounding in per-unit rates.
const ChargeToleranceCents = 50

// RecordStatus tracks a BceRecord's settlement lifecycle, independent of the
// SettlementBlock status of whichever block eventually references it.
type RecordStatus int

const (
	RecordPending RecordStatus = iota
	RecordInProgress
	RecordSettled
	RecordDisputed
)

func (s RecordStatus) String() string {
	switch s {
	case RecordPending:
		return "pending"
	case RecordInProgress:
		return "in_progress"
	case RecordSettled:
		return "settled"
	case RecordDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether a status change is legal. Settled is
// terminal for the normal consensus path; Disputed is reachable only through
// an out-of-band administrative action, never automatically.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	switch s {
	case RecordPending:
		return next == RecordInProgress
	case RecordInProgress:
		return next == RecordSettled || next == RecordPending
	case RecordSettled:
		return false
	case RecordDisputed:
		return false
	default:
		return false
	}
}

// BceRecord is a single bilateral CDR (call detail record) usage summary
// submitted by the home operator for a roaming period between two
// consortium members. Usage counters and their per-unit rates are part of
// the record itself: the ZKP privacy circuit exists to let a block carry
// only record_ids rather than full records on the wire, not to hide usage
// data from the two bilateral counterparties, who both already have it.
type BceRecord struct {
	ID              string `json:"id"`
	IMSI            string `json:"imsi"` // subscriber identity the usage was recorded against
	HomeOperator    string `json:"home_operator"`
	VisitedOperator string `json:"visited_operator"`
	PeriodHash      string `json:"period_hash"`       // hash of the billing period bounds
	NetworkPairHash string `json:"network_pair_hash"` // hash of (home, visited) pair

	CallMinutes          uint64 `json:"call_minutes"`
	DataMB               uint64 `json:"data_mb"`
	SMSCount             uint64 `json:"sms_count"`
	RoamingMinutes       uint64 `json:"roaming_minutes"`
	RoamingDataMB        uint64 `json:"roaming_data_mb"`
	CallRateCents        uint64 `json:"call_rate_cents"`
	DataRateCents        uint64 `json:"data_rate_cents"`
	SMSRateCents         uint64 `json:"sms_rate_cents"`
	RoamingRateCents     uint64 `json:"roaming_rate_cents"`
	RoamingDataRateCents uint64 `json:"roaming_data_rate_cents"`

	// TotalChargesCents is the declared wholesale charge, proven equal (within
	// ChargeToleranceCents) to usage x rate across all categories above.
	TotalChargesCents uint64 `json:"wholesale_charge_cents"`
	CommitmentHash    string `json:"commitment_hash"` // public: commitment to the private usage witness
	Proof             []byte `json:"proof,omitempty"` // serialized Groth16 proof for the BCE privacy circuit
	ProofVerified     bool   `json:"proof_verified"`

	Status           RecordStatus `json:"status"`
	SettledInBlock   string       `json:"settled_in_block,omitempty"`
	SettlementID     string       `json:"settlement_id,omitempty"`
	SettledTimestamp int64        `json:"settled_timestamp,omitempty"`

	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"` // home operator's signature over signingBody
}

// BceCommitmentWitness holds the two values that never leave the submitting
// operator: the salt bound into CommitmentHash and the randomness used when
// opening it for dispute resolution. Everything else the original private
// usage witness needed is now carried directly on BceRecord, since the
// privacy circuit's job is bandwidth (one record_id on the wire instead of a
// full record), not hiding usage from the bilateral counterparty.
type BceCommitmentWitness struct {
	PrivacySalt          uint64
	CommitmentRandomness uint64
}

// NewBceRecord builds an unsigned record. Call Sign to finalize it.
func NewBceRecord(id, home, visited, periodHash, networkPairHash string, totalChargesCents uint64, commitmentHash string, timestamp int64) *BceRecord {
	return &BceRecord{
		ID:                id,
		HomeOperator:      home,
		VisitedOperator:   visited,
		PeriodHash:        periodHash,
		NetworkPairHash:   networkPairHash,
		TotalChargesCents: totalChargesCents,
		CommitmentHash:    commitmentHash,
		Timestamp:         timestamp,
		Status:            RecordPending,
	}
}

// ValidateStructure checks that the fields needed to place a record against
// the consortium's ledger are present and self-consistent, independent of
// its charge arithmetic or signature.
func (r *BceRecord) ValidateStructure() error {
	switch {
	case r.HomeOperator == "":
		return fmt.Errorf("record %s: missing home_operator: %w", r.ID, ErrInvalidRecord)
	case r.VisitedOperator == "":
		return fmt.Errorf("record %s: missing visited_operator: %w", r.ID, ErrInvalidRecord)
	case r.HomeOperator == r.VisitedOperator:
		return fmt.Errorf("record %s: home and visited operator must differ: %w", r.ID, ErrInvalidRecord)
	case r.IMSI == "":
		return fmt.Errorf("record %s: missing imsi: %w", r.ID, ErrInvalidRecord)
	case r.PeriodHash == "":
		return fmt.Errorf("record %s: missing period_hash: %w", r.ID, ErrInvalidRecord)
	case r.NetworkPairHash == "":
		return fmt.Errorf("record %s: missing network_pair_hash: %w", r.ID, ErrInvalidRecord)
	case r.CommitmentHash == "":
		return fmt.Errorf("record %s: missing commitment_hash: %w", r.ID, ErrInvalidRecord)
	}
	return nil
}

// ValidateChargeEquation checks that the declared wholesale charge matches
// usage x rate across every billable category, within ChargeToleranceCents.
func (r *BceRecord) ValidateChargeEquation() error {
	calculated := r.CallMinutes*r.CallRateCents + r.DataMB*r.DataRateCents + r.SMSCount*r.SMSRateCents +
		r.RoamingMinutes*r.RoamingRateCents + r.RoamingDataMB*r.RoamingDataRateCents

	diff := int64(calculated) - int64(r.TotalChargesCents)
	if diff < 0 {
		diff = -diff
	}
	if diff > ChargeToleranceCents {
		return fmt.Errorf("record %s: Charge mismatch: calculated %d, actual %d: %w", r.ID, calculated, r.TotalChargesCents, ErrInvalidRecord)
	}
	return nil
}

// BindCommitment sets CommitmentHash to the MiMC commitment over this
// record's usage fields and salt, matching the BCE privacy circuit's
// in-circuit commitment gadget. The submitting operator must call this
// (with the same salt later passed to Pipeline.Submit) before Sign, so the
// signature covers the real commitment and a freshly generated proof
// verifies against it.
func (r *BceRecord) BindCommitment(salt uint64) {
	r.CommitmentHash = hex.EncodeToString(zkp.CommitBcePrivacy(
		r.CallMinutes, r.DataMB, r.SMSCount, r.RoamingMinutes, r.RoamingDataMB,
		r.CallRateCents, r.DataRateCents, r.SMSRateCents, r.RoamingRateCents, r.RoamingDataRateCents,
		salt,
	))
}

// PrivacyWitness builds the BCE privacy circuit assignment for this record.
// Pass the operator's chosen salt when generating a fresh proof; pass 0 when
// only verifying an existing proof, since frontend.PublicOnly() witness
// extraction discards every secret-tagged field during verification.
func (r *BceRecord) PrivacyWitness(salt uint64) *zkp.BcePrivacyCircuit {
	return &zkp.BcePrivacyCircuit{
		CallMinutes:          r.CallMinutes,
		DataMB:               r.DataMB,
		SMSCount:             r.SMSCount,
		RoamingMinutes:       r.RoamingMinutes,
		RoamingDataMB:        r.RoamingDataMB,
		CallRateCents:        r.CallRateCents,
		DataRateCents:        r.DataRateCents,
		SMSRateCents:         r.SMSRateCents,
		RoamingRateCents:     r.RoamingRateCents,
		RoamingDataRateCents: r.RoamingDataRateCents,
		PrivacySalt:          salt,
		TotalChargesCents:    r.TotalChargesCents,
		PeriodHash:           hashToField(r.PeriodHash),
		NetworkPairHash:      hashToField(r.NetworkPairHash),
		ConsortiumID:         ConsortiumID,
		CommitmentHash:       hashToField(r.CommitmentHash),
	}
}

// hashToField reduces a hex-encoded hash (or, for test fixtures that are not
// valid hex, its raw bytes) to a big.Int suitable for a BN254 circuit input;
// gnark's witness builder reduces it mod the scalar field.
func hashToField(hexHash string) *big.Int {
	if b, err := hex.DecodeString(hexHash); err == nil {
		return new(big.Int).SetBytes(b)
	}
	return new(big.Int).SetBytes([]byte(hexHash))
}

// signingBody returns the canonical byte representation signed by the home
// operator. The record ID, proof bytes and settlement-status fields are
// excluded: the ID may be assigned by Pipeline.Submit after the operator has
// signed, the proof is attached after signing and verified independently by
// the ZKP subsystem, and status only changes after the signature has already
// been checked.
func (r *BceRecord) signingBody() []byte {
	var buf bytes.Buffer
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf.Write(lenBuf[:])
		buf.WriteString(s)
	}
	writeField(r.IMSI)
	writeField(r.HomeOperator)
	writeField(r.VisitedOperator)
	writeField(r.PeriodHash)
	writeField(r.NetworkPairHash)
	writeField(r.CommitmentHash)
	var numBuf [16]byte
	binary.BigEndian.PutUint64(numBuf[:8], r.TotalChargesCents)
	binary.BigEndian.PutUint64(numBuf[8:], uint64(r.Timestamp))
	buf.Write(numBuf[:])
	var usageBuf [80]byte
	binary.BigEndian.PutUint64(usageBuf[0:8], r.CallMinutes)
	binary.BigEndian.PutUint64(usageBuf[8:16], r.DataMB)
	binary.BigEndian.PutUint64(usageBuf[16:24], r.SMSCount)
	binary.BigEndian.PutUint64(usageBuf[24:32], r.RoamingMinutes)
	binary.BigEndian.PutUint64(usageBuf[32:40], r.RoamingDataMB)
	binary.BigEndian.PutUint64(usageBuf[40:48], r.CallRateCents)
	binary.BigEndian.PutUint64(usageBuf[48:56], r.DataRateCents)
	binary.BigEndian.PutUint64(usageBuf[56:64], r.SMSRateCents)
	binary.BigEndian.PutUint64(usageBuf[64:72], r.RoamingRateCents)
	binary.BigEndian.PutUint64(usageBuf[72:80], r.RoamingDataRateCents)
	buf.Write(usageBuf[:])
	return buf.Bytes()
}

// Hash returns the canonical Blake2b hash of the record body.
func (r *BceRecord) Hash() string {
	return crypto.Hash(r.signingBody())
}

// Sign signs the record with the home operator's private key.
func (r *BceRecord) Sign(priv crypto.PrivateKey) {
	r.Signature = crypto.Sign(priv, r.signingBody())
}

// Verify checks the home operator's signature over the record body. It does
// not verify the attached ZKP proof; callers must separately invoke the
// zkp package's verifier against r.Proof and r.CommitmentHash.
func (r *BceRecord) Verify(pub crypto.PublicKey) error {
	if err := crypto.Verify(pub, r.signingBody(), r.Signature); err != nil {
		return fmt.Errorf("record %s: %w", r.ID, err)
	}
	return nil
}

// BilateralKey identifies a directed pair of consortium members for netting
// and VM storage purposes.
func BilateralKey(home, visited string) string {
	return fmt.Sprintf("bilateral:%s:%s", home, visited)
}
