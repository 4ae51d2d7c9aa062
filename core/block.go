package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sp-consortium/settlementd/crypto"
)

// SettlementStatus tracks a settlement block through its lifecycle.
// Transitions only move forward: Pending -> InProgress -> Settled, with
// InProgress able to revert to Pending on rejection or round timeout.
// Settled is terminal; no further transition is valid.
type SettlementStatus int

const (
	StatusPending SettlementStatus = iota
	StatusInProgress
	StatusSettled
)

func (s SettlementStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// settlement-pipeline transition.
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusSettled || next == StatusPending
	case StatusSettled:
		return false
	default:
		return false
	}
}

// SettlementBlockHeader is the portion of a settlement block that is hashed
// and signed by the proposing validator.
type SettlementBlockHeader struct {
	Height      int64  `json:"height"`
	PrevHash    string `json:"prev_hash"`
	RecordRoot  string `json:"record_root"`  // root over the record IDs included in this block
	SummaryHash string `json:"summary_hash"` // hash of the committed SettlementSummary
	Timestamp   int64  `json:"timestamp"`
	Proposer    string `json:"proposer"` // proposing validator's pubkey hex
}

// SettlementBlock bundles a batch of BCE record IDs (not the records
// themselves, to keep block propagation cheap and privacy-preserving) with
// the multilateral netting summary computed over them.
type SettlementBlock struct {
	Header    SettlementBlockHeader `json:"header"`
	RecordIDs []string              `json:"record_ids"`
	Summary   SettlementSummary     `json:"summary"`
	Status    SettlementStatus      `json:"status"`
	Hash      string                `json:"hash"`
	Signature string                `json:"signature"`
}

// Transfer is one leg of the minimal transfer set produced by netting.
type Transfer struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AmountCents uint64 `json:"amount_cents"`
}

// SettlementSummary is the result of running multilateral netting over the
// bilateral amounts owed between every pair of operators in a settlement
// block.
type SettlementSummary struct {
	NetPositions      map[string]int64 `json:"net_positions"` // positive: operator receives; negative: operator owes
	Transfers         []Transfer       `json:"transfers"`
	TotalGrossCents   uint64           `json:"total_gross_cents"`
	TotalNetCents     uint64           `json:"total_net_cents"`
	SavingsPercentage float64          `json:"savings_percentage"`
	Proof             []byte           `json:"proof,omitempty"` // settlement-calculation circuit proof
	ConsortiumHash    string           `json:"consortium_hash"`
}

// ComputeHash returns the Blake2b hash of the serialized header.
func (b *SettlementBlock) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *SettlementBlock) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks that b.Hash matches the recomputed header hash and that the
// proposer's signature over it is valid.
func (b *SettlementBlock) Verify(pub crypto.PublicKey) error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// VerifyIntegrity checks structural integrity independent of the proposer
// signature: hash consistency, record-root correctness, and summary-hash
// correctness.
func (b *SettlementBlock) VerifyIntegrity() error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	if root := ComputeRecordRoot(b.RecordIDs); b.Header.RecordRoot != root {
		return errors.New("record_root mismatch")
	}
	if sh := SummaryHash(&b.Summary); b.Header.SummaryHash != sh {
		return errors.New("summary_hash mismatch")
	}
	return nil
}

// ComputeRecordRoot builds a deterministic root hash over the included
// record IDs, each length-prefixed to prevent boundary ambiguity.
func ComputeRecordRoot(ids []string) string {
	if len(ids) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, id := range ids {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
		buf.Write(lenBuf[:])
		buf.WriteString(id)
	}
	return crypto.Hash(buf.Bytes())
}

// SummaryHash returns a deterministic hash of a SettlementSummary, used to
// bind the summary to the block header without embedding it in the signed
// portion directly.
func SummaryHash(s *SettlementSummary) string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// NewSettlementBlock creates an unsigned, Pending settlement block.
func NewSettlementBlock(height int64, prevHash, proposer string, recordIDs []string, summary SettlementSummary) *SettlementBlock {
	b := &SettlementBlock{
		RecordIDs: recordIDs,
		Summary:   summary,
		Status:    StatusPending,
	}
	b.Header = SettlementBlockHeader{
		Height:      height,
		PrevHash:    prevHash,
		RecordRoot:  ComputeRecordRoot(recordIDs),
		SummaryHash: SummaryHash(&summary),
		Timestamp:   time.Now().UnixNano(),
		Proposer:    proposer,
	}
	return b
}
