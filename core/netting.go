package core

import (
	"sort"
)

// BilateralAmount is one directed bilateral charge: home owes visited
// TotalCents for the roaming usage described by a batch of records.
type BilateralAmount struct {
	Home            string
	Visited         string
	TotalCents      uint64
}

// ComputeNetPositions reduces a set of directed bilateral amounts to one net
// position per operator: positive means the operator is a net receiver,
// negative means it is a net payer. The sum of all net positions is always
// zero, which callers should treat as a conservation invariant.
func ComputeNetPositions(amounts []BilateralAmount) map[string]int64 {
	net := make(map[string]int64)
	for _, a := range amounts {
		net[a.Home] -= int64(a.TotalCents)
		net[a.Visited] += int64(a.TotalCents)
	}
	return net
}

// NetMultilateral computes the multilateral netting result for a batch of
// bilateral amounts: the per-operator net position, a minimal transfer set
// realizing those net positions, and the savings achieved relative to
// settling every bilateral amount individually.
//
// The minimal transfer set is built greedily: sort payers (negative net
// position) and receivers (positive net position), then repeatedly match
// the largest payer against the largest receiver, which is the standard
// approach for this debt-netting problem and always converges to at most
// n-1 transfers for n participants.
func NetMultilateral(amounts []BilateralAmount) SettlementSummary {
	net := ComputeNetPositions(amounts)

	var totalGross uint64
	for _, a := range amounts {
		totalGross += a.TotalCents
	}

	type position struct {
		operator string
		amount   int64 // positive: owed to them; negative: they owe
	}
	var positions []position
	for op, amt := range net {
		if amt != 0 {
			positions = append(positions, position{op, amt})
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].amount != positions[j].amount {
			return positions[i].amount < positions[j].amount
		}
		return positions[i].operator < positions[j].operator
	})

	var transfers []Transfer
	i, j := 0, len(positions)-1 // i: most-negative payer, j: most-positive receiver
	for i < j {
		payer := &positions[i]
		receiver := &positions[j]
		owed := -payer.amount
		if owed <= 0 {
			i++
			continue
		}
		if receiver.amount <= 0 {
			j--
			continue
		}
		amount := owed
		if receiver.amount < amount {
			amount = receiver.amount
		}
		transfers = append(transfers, Transfer{
			From:        payer.operator,
			To:          receiver.operator,
			AmountCents: uint64(amount),
		})
		payer.amount += amount
		receiver.amount -= amount
		if payer.amount == 0 {
			i++
		}
		if receiver.amount == 0 {
			j--
		}
	}

	var totalNet uint64
	for _, t := range transfers {
		totalNet += t.AmountCents
	}

	savings := 0.0
	if totalGross > 0 {
		savings = (1 - float64(totalNet)/float64(totalGross)) * 100
	}

	return SettlementSummary{
		NetPositions:      net,
		Transfers:         transfers,
		TotalGrossCents:   totalGross,
		TotalNetCents:     totalNet,
		SavingsPercentage: savings,
	}
}
