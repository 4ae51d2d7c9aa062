// Package zkp implements the consortium's zero-knowledge proof subsystem:
// the two Groth16/BN254 circuits that let an operator prove a settlement
// amount is correct without revealing the underlying usage counters or
// per-pair bilateral amounts, the trusted-setup ceremony that produces
// their proving/verifying keys, and the prover/verifier wrapping gnark.
package zkp

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// BilateralPairCount is the number of directed operator pairs in the
// five-member consortium (5 x 4, excluding self-pairs).
const BilateralPairCount = 20

// BcePrivacyCircuit proves that TotalChargesCents is the correct sum of
// usage x rate across five billable categories for a single roaming
// period, and that CommitmentHash is a MiMC commitment to the private
// usage/rate/salt witness, without revealing any of those private values.
type BcePrivacyCircuit struct {
	// Private witness: raw usage counters, billing rates, and a salt
	// binding the commitment to this specific record.
	CallMinutes          frontend.Variable `gnark:",secret"`
	DataMB               frontend.Variable `gnark:",secret"`
	SMSCount             frontend.Variable `gnark:",secret"`
	RoamingMinutes       frontend.Variable `gnark:",secret"`
	RoamingDataMB        frontend.Variable `gnark:",secret"`
	CallRateCents        frontend.Variable `gnark:",secret"`
	DataRateCents        frontend.Variable `gnark:",secret"`
	SMSRateCents         frontend.Variable `gnark:",secret"`
	RoamingRateCents     frontend.Variable `gnark:",secret"`
	RoamingDataRateCents frontend.Variable `gnark:",secret"`
	PrivacySalt          frontend.Variable `gnark:",secret"`

	// Public inputs: what the verifier is allowed to learn.
	TotalChargesCents frontend.Variable `gnark:",public"`
	PeriodHash        frontend.Variable `gnark:",public"`
	NetworkPairHash   frontend.Variable `gnark:",public"`
	ConsortiumID      frontend.Variable `gnark:",public"`
	CommitmentHash    frontend.Variable `gnark:",public"`
}

// Define constrains the billing arithmetic and the commitment opening.
func (c *BcePrivacyCircuit) Define(api frontend.API) error {
	callCharge := api.Mul(c.CallMinutes, c.CallRateCents)
	dataCharge := api.Mul(c.DataMB, c.DataRateCents)
	smsCharge := api.Mul(c.SMSCount, c.SMSRateCents)
	roamingCharge := api.Mul(c.RoamingMinutes, c.RoamingRateCents)
	roamingDataCharge := api.Mul(c.RoamingDataMB, c.RoamingDataRateCents)

	total := api.Add(callCharge, dataCharge, smsCharge, roamingCharge, roamingDataCharge)
	api.AssertIsEqual(total, c.TotalChargesCents)

	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(
		c.CallMinutes, c.DataMB, c.SMSCount,
		c.RoamingMinutes, c.RoamingDataMB,
		c.CallRateCents, c.DataRateCents, c.SMSRateCents,
		c.RoamingRateCents, c.RoamingDataRateCents,
		c.PrivacySalt,
	)
	api.AssertIsEqual(h.Sum(), c.CommitmentHash)
	return nil
}

// SettlementCalcCircuit proves that a batch's total net amount and savings
// percentage are consistent with a set of private bilateral amounts, and
// that the private offset-encoded net positions sum to zero, without
// revealing the amounts owed between any individual pair of operators.
// The net positions are not constrained against the bilateral amounts,
// and NetSettlementCount, PeriodHash and ConsortiumHash are public inputs
// that no constraint reads.
type SettlementCalcCircuit struct {
	// Private witness: the directed bilateral amounts for every pair in
	// the batch, and the net position each operator ends up with.
	BilateralAmounts [BilateralPairCount]frontend.Variable `gnark:",secret"`
	NetPositions     [5]frontend.Variable                  `gnark:",secret"` // offset-encoded: true value = NetPositions[i] - PositionOffset
	PositionOffset    frontend.Variable                     `gnark:",secret"`

	// Public inputs.
	NetSettlementCount frontend.Variable `gnark:",public"`
	TotalNetAmount     frontend.Variable `gnark:",public"`
	PeriodHash         frontend.Variable `gnark:",public"`
	SavingsPercentage  frontend.Variable `gnark:",public"` // scaled by 100 (integer percent x100)
	ConsortiumHash     frontend.Variable `gnark:",public"`
}

// Define constrains conservation of the net positions (they decode to a
// zero sum) and the relationship between gross bilateral exposure, the
// settled net amount, and the claimed savings percentage.
func (c *SettlementCalcCircuit) Define(api frontend.API) error {
	// Conservation: sum(NetPositions[i] - offset) == 0, i.e.
	// sum(NetPositions[i]) == 5 * offset.
	sumPositions := frontend.Variable(0)
	for _, p := range c.NetPositions {
		sumPositions = api.Add(sumPositions, p)
	}
	api.AssertIsEqual(sumPositions, api.Mul(c.PositionOffset, 5))

	totalGross := frontend.Variable(0)
	for _, a := range c.BilateralAmounts {
		totalGross = api.Add(totalGross, a)
	}

	// TotalNetAmount * 10000 == totalGross * (10000 - SavingsPercentage)
	// (SavingsPercentage expressed in basis points relative to 100x percent).
	lhs := api.Mul(c.TotalNetAmount, 10000)
	rhs := api.Mul(totalGross, api.Sub(10000, c.SavingsPercentage))
	api.AssertIsEqual(lhs, rhs)

	return nil
}
