package vm

import "github.com/sp-consortium/settlementd/crypto"

// ContractName identifies one of the consortium's standard contract
// programs.
type ContractName string

const (
	// ContractValidator checks that both parties of a bilateral settlement
	// are registered consortium members before any balance moves.
	ContractValidator ContractName = "validator"

	// ContractNetting computes the multilateral netting reduction for a
	// batch of bilateral totals already folded into storage.
	ContractNetting ContractName = "netting"

	// ContractExecutor gates final settlement execution behind both a ZKP
	// proof check and a multi-party signature check, then computes the
	// payable amount.
	ContractExecutor ContractName = "executor"
)

// ValidatorProgram builds a membership-check contract for one bilateral
// pair: it halts with 1 if both home and visited are registered consortium
// members, 0 otherwise.
func ValidatorProgram(home, visited string) []Instruction {
	return []Instruction{
		ValidateConsortiumMember(home),
		ValidateConsortiumMember(visited),
		Add(),
		Push(2),
		Eq(),
		Halt(),
	}
}

// NettingProgram builds a netting contract for one bilateral pair: it loads
// the pair's accumulated total from storageKey and applies the standard
// multilateral netting reduction, halting with the reduced amount.
func NettingProgram(storageKey crypto.Hash32) []Instruction {
	return []Instruction{
		Load(storageKey),
		CalculateMultilateralNetting(),
		Halt(),
	}
}

// ExecutorProgram builds a settlement-execution contract: it expects the
// caller's VM storage to already hold the proof witness at
// inputsKey/proofKey, the signature witnesses under sigKeys (one
// message/pubkey/signature triple per required signer), and the bilateral
// amount at amountKey, and computes amount*rateBasisPoints/10000 once both
// the proof check and the signature quorum pass. Either gate failing halts
// with 0.
func ExecutorProgram(inputsKey, proofKey, amountKey crypto.Hash32, rateBasisPoints uint64, sigKeys [][3]crypto.Hash32) []Instruction {
	var prog []Instruction

	prog = append(prog, Load(inputsKey), Load(proofKey), VerifyProof())
	prog = append(prog, JumpIf(len(prog)+3), Push(0), Halt())

	for _, keys := range sigKeys {
		prog = append(prog, Load(keys[0]), Load(keys[1]), Load(keys[2]), CheckSignature())
	}
	prog = append(prog, CheckMultiPartySignatures(uint8(len(sigKeys))))
	prog = append(prog, JumpIf(len(prog)+3), Push(0), Halt())

	prog = append(prog, Load(amountKey), Push(rateBasisPoints), CalculateSettlement(), Halt())
	return prog
}
