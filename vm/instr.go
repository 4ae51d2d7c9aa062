// Package vm implements the consortium's deterministic contract stack
// machine: a fixed instruction set operating on a uint64 stack and a
// Blake2b-keyed storage map, used to run the settlement pipeline's
// standard contracts (validator membership checks, netting calculation,
// and proof/signature-gated settlement execution) identically on every
// node.
package vm

import "github.com/sp-consortium/settlementd/crypto"

// Op identifies a VM instruction.
type Op int

const (
	OpPush Op = iota
	OpPop
	OpDup
	OpSwap
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpLt
	OpGt
	OpJump
	OpJumpIf
	OpHalt
	OpLoad
	OpStore
	OpVerifyProof
	OpCheckSignature
	OpCalculateSettlement
	OpGetTimestamp
	OpLog
	OpValidateConsortiumMember
	OpCheckMultiPartySignatures
	OpCalculateMultilateralNetting
)

// Instruction is one step of a contract program. Only the fields relevant
// to Op are populated; the others are zero.
type Instruction struct {
	Op       Op
	Value    uint64      // OpPush
	Addr     int         // OpJump, OpJumpIf
	Key      crypto.Hash32 // OpLoad, OpStore
	Text     string      // OpLog
	Member   string      // OpValidateConsortiumMember
	Required uint8       // OpCheckMultiPartySignatures
}

func Push(v uint64) Instruction                { return Instruction{Op: OpPush, Value: v} }
func Pop() Instruction                          { return Instruction{Op: OpPop} }
func Dup() Instruction                           { return Instruction{Op: OpDup} }
func Swap() Instruction                          { return Instruction{Op: OpSwap} }
func Add() Instruction                           { return Instruction{Op: OpAdd} }
func Sub() Instruction                           { return Instruction{Op: OpSub} }
func Mul() Instruction                           { return Instruction{Op: OpMul} }
func Div() Instruction                           { return Instruction{Op: OpDiv} }
func Mod() Instruction                           { return Instruction{Op: OpMod} }
func Eq() Instruction                            { return Instruction{Op: OpEq} }
func Lt() Instruction                            { return Instruction{Op: OpLt} }
func Gt() Instruction                            { return Instruction{Op: OpGt} }
func Jump(addr int) Instruction                  { return Instruction{Op: OpJump, Addr: addr} }
func JumpIf(addr int) Instruction                { return Instruction{Op: OpJumpIf, Addr: addr} }
func Halt() Instruction                          { return Instruction{Op: OpHalt} }
func Load(key crypto.Hash32) Instruction          { return Instruction{Op: OpLoad, Key: key} }
func Store(key crypto.Hash32) Instruction         { return Instruction{Op: OpStore, Key: key} }
func VerifyProof() Instruction                   { return Instruction{Op: OpVerifyProof} }
func CheckSignature() Instruction                { return Instruction{Op: OpCheckSignature} }
func CalculateSettlement() Instruction           { return Instruction{Op: OpCalculateSettlement} }
func GetTimestamp() Instruction                  { return Instruction{Op: OpGetTimestamp} }
func Log(text string) Instruction                { return Instruction{Op: OpLog, Text: text} }
func ValidateConsortiumMember(member string) Instruction {
	return Instruction{Op: OpValidateConsortiumMember, Member: member}
}
func CheckMultiPartySignatures(required uint8) Instruction {
	return Instruction{Op: OpCheckMultiPartySignatures, Required: required}
}
func CalculateMultilateralNetting() Instruction { return Instruction{Op: OpCalculateMultilateralNetting} }
