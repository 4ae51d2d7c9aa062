package core

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/vm"
	"github.com/sp-consortium/settlementd/zkp"
)

// RecordStore is the persistence interface Pipeline.Finalize uses to load
// and update individual BCE records. Implementations live in the storage
// package; defined here (mirroring BlockStore in chain.go) so core never
// imports storage back.
type RecordStore interface {
	GetRecord(id string) (*BceRecord, error)
	PutRecord(record *BceRecord) error
}

// Pipeline drives a settlement block from proposal through consensus to
// finalization. Lock granularity mirrors the teacher's single
// sync.RWMutex-per-structure style, split into one mutex per concern so that
// record submission never blocks a proposal lookup: pending pool, proposed
// blocks, and height counter, acquired in that order when more than one is
// needed at once. Locks are always dropped before any I/O or ZKP-prover
// call.
type Pipeline struct {
	pendingMu sync.RWMutex
	pool      *PendingPool

	proposedMu sync.RWMutex
	proposed   map[string]*SettlementBlock // hash -> block, status InProgress

	heightMu   sync.RWMutex
	nextHeight int64

	ledger *Ledger

	// records backs Finalize's per-record status transitions. May be nil in
	// tests that exercise proposal/consensus mechanics without persistence;
	// Finalize skips record bookkeeping entirely when it is nil.
	records RecordStore

	// zkpSystem backs Submit's proof generation/verification. A nil system
	// disables ZKP entirely: Submit skips proof synthesis and Propose does
	// not filter on ProofVerified, matching a node that has not completed
	// its trusted-setup ceremony.
	zkpSystem *zkp.System
}

// NewPipeline wires a Pipeline on top of an existing Ledger, resuming the
// height counter from the ledger's current tip. records and zkpSystem may
// both be nil: records disables Finalize's per-record settlement
// bookkeeping, zkpSystem disables Submit's proof synthesis.
func NewPipeline(ledger *Ledger, records RecordStore, zkpSystem *zkp.System) *Pipeline {
	return &Pipeline{
		pool:       NewPendingPool(),
		proposed:   make(map[string]*SettlementBlock),
		nextHeight: ledger.Height() + 1,
		ledger:     ledger,
		records:    records,
		zkpSystem:  zkpSystem,
	}
}

// Pool exposes the pending-record pool, for example for reporting its
// size over RPC.
func (p *Pipeline) Pool() *PendingPool {
	return p.pool
}

// Submit validates a BCE record's structure and charge arithmetic, binds it
// to a BCE privacy proof when ZKP is enabled, and admits it to the pending
// pool, assigning it a generated ID if record.ID is empty. privacySalt is
// the private randomness used only when a fresh proof must be generated
// (record.Proof is empty); it is never persisted.
func (p *Pipeline) Submit(record *BceRecord, homePub crypto.PublicKey, privacySalt uint64) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := record.ValidateStructure(); err != nil {
		return err
	}
	if err := record.ValidateChargeEquation(); err != nil {
		return err
	}

	if p.zkpSystem != nil {
		if err := p.attachProof(record, privacySalt); err != nil {
			log.Printf("[pipeline] record %s: proof generation failed, submitting unverified: %v", record.ID, err)
		}
	}

	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return p.pool.Add(record, homePub)
}

// attachProof generates a fresh BCE privacy proof for record (if it has
// none) or re-verifies an already-attached one, setting ProofVerified
// accordingly. A failed or unverified proof is not fatal to submission: the
// consortium's proof policy excludes unverified records from Propose's
// batches rather than rejecting them outright at Submit time, leaving the
// submitting operator free to resubmit with a corrected witness.
func (p *Pipeline) attachProof(record *BceRecord, privacySalt uint64) error {
	if len(record.Proof) == 0 {
		proof, err := p.zkpSystem.ProveBcePrivacy(record.PrivacyWitness(privacySalt))
		if err != nil {
			record.ProofVerified = false
			return fmt.Errorf("generate proof: %w", err)
		}
		record.Proof = proof
		record.ProofVerified = true
		return nil
	}
	ok, err := p.zkpSystem.VerifyBcePrivacy(record.Proof, record.PrivacyWitness(0))
	if err != nil {
		record.ProofVerified = false
		return fmt.Errorf("verify proof: %w", err)
	}
	record.ProofVerified = ok
	return nil
}

// Propose takes the current batch of pending records with a verified proof
// (capped to batchSize; unfiltered when ZKP is disabled), computes their
// multilateral netting summary, and opens a new settlement block at
// InProgress awaiting consensus votes, keyed by its header hash. Batched
// records already persisted in the RecordStore as Pending are moved to
// InProgress there; records not found in the store are left as they are.
// It does not touch the ledger: the block only becomes part of the chain
// once Finalize commits it.
func (p *Pipeline) Propose(proposer string, amounts []BilateralAmount, batchSize int) (*SettlementBlock, error) {
	p.pendingMu.RLock()
	candidates := p.pool.PendingAll()
	p.pendingMu.RUnlock()

	ids := make([]string, 0, batchSize)
	for _, r := range candidates {
		if p.zkpSystem != nil && !r.ProofVerified {
			continue
		}
		ids = append(ids, r.ID)
		if len(ids) >= batchSize {
			break
		}
	}

	summary := NetMultilateral(amounts)

	p.heightMu.Lock()
	height := p.nextHeight
	p.heightMu.Unlock()

	prevHash := ""
	if tip := p.ledger.Tip(); tip != nil {
		prevHash = tip.Hash
	}

	block := NewSettlementBlock(height, prevHash, proposer, ids, summary)
	block.Status = StatusInProgress
	block.Hash = block.ComputeHash()

	if p.records != nil {
		for _, id := range ids {
			record, err := p.records.GetRecord(id)
			if err != nil || !record.Status.CanTransitionTo(RecordInProgress) {
				continue
			}
			record.Status = RecordInProgress
			record.SettlementID = block.Hash
			if err := p.records.PutRecord(record); err != nil {
				return nil, fmt.Errorf("propose: persist record %s: %w", id, err)
			}
		}
	}

	p.proposedMu.Lock()
	p.proposed[block.Hash] = block
	p.proposedMu.Unlock()

	return block, nil
}

// Finalize transitions a proposed block to Settled, transitions each of its
// records to Settled in the record store, runs the three standard
// settlement contracts (validator, netting, executor) per bilateral pair as
// an advisory check, commits the block to the ledger, advances the height
// counter, and removes its records from the pending pool. Finalize is
// idempotent-safe against double commit: it returns ErrAlreadyFinalized if
// the block is not found InProgress.
func (p *Pipeline) Finalize(blockHash string) (*SettlementBlock, error) {
	p.proposedMu.Lock()
	block, ok := p.proposed[blockHash]
	if !ok {
		p.proposedMu.Unlock()
		return nil, fmt.Errorf("finalize %s: %w", blockHash, ErrAlreadyFinalized)
	}
	if !block.Status.CanTransitionTo(StatusSettled) {
		p.proposedMu.Unlock()
		return nil, fmt.Errorf("finalize %s: %w", blockHash, ErrInvalidTransition)
	}
	block.Status = StatusSettled
	delete(p.proposed, blockHash)
	p.proposedMu.Unlock()

	totals, proofOK, err := p.settleRecords(block)
	if err != nil {
		return nil, err
	}
	p.runContracts(block, totals, proofOK)

	if err := p.ledger.AppendBlock(block); err != nil {
		return nil, fmt.Errorf("append finalized block: %w", err)
	}

	p.heightMu.Lock()
	p.nextHeight = block.Header.Height + 1
	p.heightMu.Unlock()

	p.pendingMu.Lock()
	p.pool.Remove(block.RecordIDs)
	p.pendingMu.Unlock()

	return block, nil
}

// settleRecords loads each of the block's records, transitions them to
// Settled, and persists the result, returning the per-bilateral-pair totals
// and proof-verification status needed to seed the finalization contracts.
// A pair's proofOK is true only if every record folded into it had a
// verified proof at submission time. It is a no-op returning empty sets when
// the pipeline has no RecordStore wired in (tests exercising
// proposal/consensus mechanics alone).
func (p *Pipeline) settleRecords(block *SettlementBlock) (map[[2]string]uint64, map[[2]string]bool, error) {
	totals := make(map[[2]string]uint64, len(block.RecordIDs))
	proofOK := make(map[[2]string]bool, len(block.RecordIDs))
	if p.records == nil {
		return totals, proofOK, nil
	}

	seen := make(map[[2]string]bool, len(block.RecordIDs))
	now := time.Now().UnixNano()
	for _, id := range block.RecordIDs {
		record, err := p.records.GetRecord(id)
		if err != nil {
			return nil, nil, fmt.Errorf("finalize %s: load record %s: %w", block.Hash, id, err)
		}
		if !record.Status.CanTransitionTo(RecordSettled) {
			return nil, nil, fmt.Errorf("finalize %s: record %s: %w", block.Hash, id, ErrInvalidTransition)
		}
		record.Status = RecordSettled
		record.SettledInBlock = block.Hash
		record.SettlementID = block.Hash
		record.SettledTimestamp = now
		if err := p.records.PutRecord(record); err != nil {
			return nil, nil, fmt.Errorf("finalize %s: persist record %s: %w", block.Hash, id, err)
		}

		pair := [2]string{record.HomeOperator, record.VisitedOperator}
		totals[pair] += record.TotalChargesCents
		if !seen[pair] {
			proofOK[pair] = record.ProofVerified
			seen[pair] = true
		} else {
			proofOK[pair] = proofOK[pair] && record.ProofVerified
		}
	}
	return totals, proofOK, nil
}

// vmProofVerifier backs the contract VM's VerifyProof opcode with the BCE
// privacy proof verification the pipeline already performed during Submit.
// Every record batched for a given bilateral pair must have verified for
// the pair's executor contract to pass; it is injected per-pair into a
// single-use VM, so it need not distinguish by the keys VerifyProof passes.
type vmProofVerifier struct{ ok bool }

func (v *vmProofVerifier) VerifyBceProof(_, _ crypto.Hash32) (bool, error) {
	return v.ok, nil
}

// witnessPresentValue is the sentinel VM storage value the finalization
// contracts seed to indicate a bound witness is present, matching the VM's
// double-indirection storage scheme (see vm.U64Key): the value itself is
// looked up a second time as a storage key.
const witnessPresentValue = 1

// runContracts executes the three standard settlement contracts — validator,
// netting, executor — for every bilateral pair in a finalizing block, in
// order, through the deterministic stack VM. Contract storage is seeded at
// the Blake2b hash of each pair's BilateralKey. A contract failing here
// never un-finalizes a block that consensus already approved: results are
// advisory and only logged.
func (p *Pipeline) runContracts(block *SettlementBlock, totals map[[2]string]uint64, proofOK map[[2]string]bool) {
	clock := block.Header.Timestamp
	for pair, amount := range totals {
		home, visited := pair[0], pair[1]
		pairKey := crypto.HashKey([]byte(BilateralKey(home, visited)))

		validator := vm.New(vm.ValidatorProgram(home, visited), clock, false)
		if err := validator.Execute(); err != nil || validator.Result == nil || *validator.Result != 1 {
			log.Printf("[pipeline] finalize %s: validator contract failed for %s/%s: %v", block.Hash, home, visited, err)
			continue
		}

		netter := vm.New(vm.NettingProgram(pairKey), clock, false)
		netter.Storage[pairKey] = amount
		if err := netter.Execute(); err != nil {
			log.Printf("[pipeline] finalize %s: netting contract failed for %s/%s: %v", block.Hash, home, visited, err)
			continue
		}

		inputsAddr := crypto.HashKey([]byte(BilateralKey(home, visited) + ":proof-inputs"))
		proofAddr := crypto.HashKey([]byte(BilateralKey(home, visited) + ":proof-value"))
		executor := vm.New(vm.ExecutorProgram(inputsAddr, proofAddr, pairKey, 10000, nil), clock, false)
		executor.Storage[pairKey] = amount
		executor.Storage[inputsAddr] = witnessPresentValue
		executor.Storage[proofAddr] = witnessPresentValue
		executor.Storage[vm.U64Key(witnessPresentValue)] = 1
		executor.ProofVerifier = &vmProofVerifier{ok: proofOK[pair]}
		if err := executor.Execute(); err != nil {
			log.Printf("[pipeline] finalize %s: executor contract failed for %s/%s: %v", block.Hash, home, visited, err)
			continue
		}

		log.Printf("[pipeline] finalize %s: contracts settled %s/%s (netted=%v executed=%v)",
			block.Hash, home, visited, resultOrZero(netter.Result), resultOrZero(executor.Result))
	}
}

func resultOrZero(r *uint64) uint64 {
	if r == nil {
		return 0
	}
	return *r
}

// Reject reverts a proposed block from InProgress back to Pending status
// (quorum rejection or round timeout) without removing its records from
// the pending pool, so they can be re-batched into a future proposal.
func (p *Pipeline) Reject(blockHash string) error {
	p.proposedMu.Lock()
	defer p.proposedMu.Unlock()
	block, ok := p.proposed[blockHash]
	if !ok {
		return fmt.Errorf("reject %s: %w", blockHash, ErrAlreadyFinalized)
	}
	if !block.Status.CanTransitionTo(StatusPending) {
		return fmt.Errorf("reject %s: %w", blockHash, ErrInvalidTransition)
	}
	block.Status = StatusPending
	delete(p.proposed, blockHash)
	return nil
}

// Proposed returns the in-progress block for hash, if any.
func (p *Pipeline) Proposed(hash string) (*SettlementBlock, bool) {
	p.proposedMu.RLock()
	defer p.proposedMu.RUnlock()
	b, ok := p.proposed[hash]
	return b, ok
}
