package zkp

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/test"
)

// mimcSum computes the native MiMC hash of the given field elements the
// same way the in-circuit hash/mimc gadget does, so test witnesses can
// supply a commitment that actually satisfies the circuit's constraint.
func mimcSum(values ...int64) []byte {
	h := mimc.NewMiMC()
	for _, v := range values {
		var buf [32]byte
		b := bigEndianFromInt64(v)
		copy(buf[32-len(b):], b)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

func bigEndianFromInt64(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}

func TestBcePrivacyCircuitValidAssignment(t *testing.T) {
	commitment := mimcSum(100, 500, 20, 30, 200, 10, 5, 2, 15, 8, 42)
	assignment := &BcePrivacyCircuit{
		CallMinutes: 100, DataMB: 500, SMSCount: 20,
		RoamingMinutes: 30, RoamingDataMB: 200,
		CallRateCents: 10, DataRateCents: 5, SMSRateCents: 2,
		RoamingRateCents: 15, RoamingDataRateCents: 8,
		PrivacySalt: 42,
		// call:1000 + data:2500 + sms:40 + roaming:450 + roamingData:1600 = 5590
		TotalChargesCents: 5590,
		PeriodHash:        111,
		NetworkPairHash:   222,
		ConsortiumID:      12345,
		CommitmentHash:    commitment,
	}
	assert := test.NewAssert(t)
	assert.SolvingSucceeded(&BcePrivacyCircuit{}, assignment)
}

func TestBcePrivacyCircuitRejectsWrongTotal(t *testing.T) {
	assignment := &BcePrivacyCircuit{
		CallMinutes: 100, DataMB: 0, SMSCount: 0,
		RoamingMinutes: 0, RoamingDataMB: 0,
		CallRateCents: 10, DataRateCents: 0, SMSRateCents: 0,
		RoamingRateCents: 0, RoamingDataRateCents: 0,
		PrivacySalt:       1,
		TotalChargesCents: 999, // wrong: should be 1000
		PeriodHash:        1,
		NetworkPairHash:   1,
		ConsortiumID:      1,
		CommitmentHash:    mimcSum(100, 0, 0, 0, 0, 10, 0, 0, 0, 0, 1),
	}
	assert := test.NewAssert(t)
	assert.SolvingFailed(&BcePrivacyCircuit{}, assignment)
}

func TestSettlementCalcCircuitConservation(t *testing.T) {
	var amounts [BilateralPairCount]int
	amounts[0] = 1000
	assignment := &SettlementCalcCircuit{
		PositionOffset:     1_000_000, // large fixed offset so all encoded positions stay non-negative
		NetSettlementCount: 1,
		TotalNetAmount:     1000,
		PeriodHash:         1,
		SavingsPercentage:  0,
		ConsortiumHash:     1,
	}
	for i := range assignment.BilateralAmounts {
		assignment.BilateralAmounts[i] = amounts[i]
	}
	// Two operators: one owes 1000 (position -1000), the other is owed
	// 1000 (position +1000); the remaining three net to zero. Encoded with
	// the shared offset so every NetPositions entry is non-negative.
	assignment.NetPositions[0] = 1_000_000 - 1000
	assignment.NetPositions[1] = 1_000_000 + 1000
	assignment.NetPositions[2] = 1_000_000
	assignment.NetPositions[3] = 1_000_000
	assignment.NetPositions[4] = 1_000_000

	assert := test.NewAssert(t)
	assert.SolvingSucceeded(&SettlementCalcCircuit{}, assignment)
}
