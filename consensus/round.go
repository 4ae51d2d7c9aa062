// Package consensus implements quorum-based settlement consensus. Rather
// than Proof-of-Authority round-robin block production, each settlement
// block proposal opens a consensus round that collects signed votes from
// the five consortium validators; the round finalizes once enough votes
// approve it, is rejected once every validator has voted without reaching
// the approval threshold, and is abandoned if neither happens before its
// timeout.
package consensus

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sp-consortium/settlementd/config"
	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/events"
)

// ApprovalThreshold is the fraction of validator votes (by weight of 1 each)
// required to approve a settlement block.
const ApprovalThreshold = 0.67

// MinValidators is the minimum validator-set size consensus can run with;
// below this the quorum math degenerates.
const MinValidators = 3

// DefaultRoundTimeout bounds how long a round waits for votes before it is
// abandoned and reverted to Pending.
const DefaultRoundTimeout = 30 * time.Second

// MaxConcurrentRounds caps the number of settlement blocks with open
// consensus rounds at once, bounding validator vote-processing load.
const MaxConcurrentRounds = 10

var (
	// ErrRoundAlreadyExists is returned when opening a round for a block
	// hash that already has one in flight.
	ErrRoundAlreadyExists = errors.New("consensus round already exists for block")
	// ErrUnknownValidator is returned when a vote arrives from a pubkey not
	// in the configured validator set.
	ErrUnknownValidator = errors.New("vote from unknown validator")
	// ErrRoundNotFound is returned when voting on or cleaning up a round
	// that is not open.
	ErrRoundNotFound = errors.New("no open consensus round for block")
	// ErrDuplicateVote is returned when a validator votes twice in the same
	// round.
	ErrDuplicateVote = errors.New("validator already voted in this round")
	// ErrTooManyRounds is returned when MaxConcurrentRounds is reached.
	ErrTooManyRounds = errors.New("too many concurrent consensus rounds")
)

// VoteDecision is a validator's decision on a proposed settlement block.
type VoteDecision int

const (
	VoteApprove VoteDecision = iota
	VoteReject
)

// Vote is a single validator's signed decision on a settlement block
// proposal.
type Vote struct {
	BlockHash string       `json:"block_hash"`
	Validator string       `json:"validator"` // validator pubkey hex
	Decision  VoteDecision `json:"decision"`
	Timestamp int64        `json:"timestamp"`
	Signature string       `json:"signature"`
}

func (v *Vote) signingBody() []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%d", v.BlockHash, v.Validator, v.Decision, v.Timestamp))
}

// Sign signs the vote with the validator's private key.
func (v *Vote) Sign(priv crypto.PrivateKey) {
	v.Signature = crypto.Sign(priv, v.signingBody())
}

// Verify checks the validator's signature over the vote.
func (v *Vote) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, v.signingBody(), v.Signature)
}

// Round tracks the votes cast for a single settlement block proposal.
type Round struct {
	BlockHash string
	Block     *core.SettlementBlock
	Votes     map[string]Vote // validator pubkey hex -> vote
	Opened    time.Time
	Timeout   time.Duration
}

func (r *Round) approvals() int {
	n := 0
	for _, v := range r.Votes {
		if v.Decision == VoteApprove {
			n++
		}
	}
	return n
}

func (r *Round) rejections() int {
	n := 0
	for _, v := range r.Votes {
		if v.Decision == VoteReject {
			n++
		}
	}
	return n
}

// expired reports whether the round has outlived its timeout.
func (r *Round) expired(now time.Time) bool {
	return now.Sub(r.Opened) > r.Timeout
}

// Engine runs consensus rounds for settlement block proposals across the
// five-operator validator set. A single sync.RWMutex guards the rounds map;
// callers that also touch core.Pipeline's locks must acquire this one after
// the pending and proposed locks and before the height lock, per the
// pending -> proposed -> consensus -> height lock order.
type Engine struct {
	mu     sync.RWMutex
	rounds map[string]*Round

	cfg      *config.Config
	pipeline *core.Pipeline
	emitter  *events.Emitter
	validators map[string]bool // pubkey hex -> is validator
}

// NewEngine creates a quorum consensus engine for the given configuration.
func NewEngine(cfg *config.Config, pipeline *core.Pipeline, emitter *events.Emitter) *Engine {
	validators := make(map[string]bool, len(cfg.Validators))
	for _, v := range cfg.Validators {
		validators[v] = true
	}
	return &Engine{
		rounds:     make(map[string]*Round),
		cfg:        cfg,
		pipeline:   pipeline,
		emitter:    emitter,
		validators: validators,
	}
}

// approvalThreshold returns the configured approval fraction, falling back
// to ApprovalThreshold when the config leaves it unset.
func (e *Engine) approvalThreshold() float64 {
	if e.cfg.Consensus.ApprovalThreshold > 0 {
		return e.cfg.Consensus.ApprovalThreshold
	}
	return ApprovalThreshold
}

// minValidators returns the configured participation floor, falling back to
// MinValidators when the config leaves it unset.
func (e *Engine) minValidators() int {
	if e.cfg.Consensus.MinValidators > 0 {
		return e.cfg.Consensus.MinValidators
	}
	return MinValidators
}

// StartConsensus opens a new round for a proposed settlement block. It
// fails if a round is already open for this block hash or the concurrent
// round cap is reached.
func (e *Engine) StartConsensus(block *core.SettlementBlock) (*Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rounds[block.Hash]; exists {
		return nil, fmt.Errorf("start consensus for %s: %w", block.Hash, ErrRoundAlreadyExists)
	}
	maxRounds := MaxConcurrentRounds
	if e.cfg.Consensus.MaxConcurrentRounds > 0 {
		maxRounds = e.cfg.Consensus.MaxConcurrentRounds
	}
	if len(e.rounds) >= maxRounds {
		return nil, fmt.Errorf("start consensus for %s: %w", block.Hash, ErrTooManyRounds)
	}
	timeout := DefaultRoundTimeout
	if e.cfg.Consensus.RoundTimeout > 0 {
		timeout = e.cfg.Consensus.RoundTimeout
	}

	round := &Round{
		BlockHash: block.Hash,
		Block:     block,
		Votes:     make(map[string]Vote),
		Opened:    time.Now(),
		Timeout:   timeout,
	}
	e.rounds[block.Hash] = round
	log.Printf("[consensus] round opened for block %s at height %d", block.Hash, block.Header.Height)
	return round, nil
}

// ProcessVote applies a validator's vote to the round for vote.BlockHash.
// It verifies the validator is a known consortium member and the signature
// is valid, then checks whether quorum has been reached in either
// direction. When approved, it finalizes the block via the pipeline; when
// rejected, it reverts the block to Pending. Returns the round's
// terminal decision if the round just concluded, or nil if more votes are
// needed.
func (e *Engine) ProcessVote(vote Vote, validatorPub crypto.PublicKey) (*VoteDecision, error) {
	if !e.validators[vote.Validator] {
		return nil, fmt.Errorf("process vote: %w", ErrUnknownValidator)
	}
	if err := vote.Verify(validatorPub); err != nil {
		return nil, fmt.Errorf("process vote: invalid signature: %w", err)
	}

	e.mu.Lock()
	round, ok := e.rounds[vote.BlockHash]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("process vote for %s: %w", vote.BlockHash, ErrRoundNotFound)
	}
	if _, voted := round.Votes[vote.Validator]; voted {
		e.mu.Unlock()
		return nil, fmt.Errorf("process vote for %s: %w", vote.BlockHash, ErrDuplicateVote)
	}
	round.Votes[vote.Validator] = vote

	// Require minimum participation before the quorum math below is
	// meaningful: a lone early vote must never be enough to decide a round.
	votesCast := len(round.Votes)
	if votesCast < e.minValidators() {
		e.mu.Unlock()
		return nil, nil
	}

	activeValidators := len(e.validators)
	approvals := round.approvals()
	rejections := round.rejections()
	approvalRate := float64(approvals) / float64(votesCast)

	var decision *VoteDecision
	if votesCast >= activeValidators || approvalRate >= e.approvalThreshold() {
		d := VoteReject
		if approvalRate >= e.approvalThreshold() {
			d = VoteApprove
		}
		decision = &d
		delete(e.rounds, vote.BlockHash)
	}
	e.mu.Unlock()

	if decision == nil {
		return nil, nil
	}

	switch *decision {
	case VoteApprove:
		if _, err := e.pipeline.Finalize(vote.BlockHash); err != nil {
			return decision, fmt.Errorf("finalize approved block: %w", err)
		}
		log.Printf("[consensus] block %s approved (%d/%d votes), finalized", vote.BlockHash, approvals, votesCast)
		e.emitter.Emit(events.Event{Type: events.EventBlockFinalized, BlockHash: vote.BlockHash})
	case VoteReject:
		if err := e.pipeline.Reject(vote.BlockHash); err != nil {
			return decision, fmt.Errorf("revert rejected block: %w", err)
		}
		log.Printf("[consensus] block %s rejected (%d/%d votes), reverted to pending", vote.BlockHash, rejections, votesCast)
		e.emitter.Emit(events.Event{Type: events.EventBlockRejected, BlockHash: vote.BlockHash})
	}
	return decision, nil
}

// CleanupExpiredRounds reverts any round that has outlived its timeout
// back to Pending without waiting on further votes. It should be called
// periodically from Run.
func (e *Engine) CleanupExpiredRounds() {
	now := time.Now()

	e.mu.Lock()
	var expired []string
	for hash, round := range e.rounds {
		if round.expired(now) {
			expired = append(expired, hash)
			delete(e.rounds, hash)
		}
	}
	e.mu.Unlock()

	for _, hash := range expired {
		if err := e.pipeline.Reject(hash); err != nil {
			log.Printf("[consensus] cleanup: revert expired round %s: %v", hash, err)
			continue
		}
		log.Printf("[consensus] round %s timed out, reverted to pending", hash)
		e.emitter.Emit(events.Event{Type: events.EventRoundTimeout, BlockHash: hash})
	}
}

// OpenRound returns the in-flight round for a block hash, if any.
func (e *Engine) OpenRound(hash string) (*Round, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rounds[hash]
	return r, ok
}

// Run periodically sweeps expired rounds until done is closed, mirroring
// the teacher's ticker-driven block-production loop.
func (e *Engine) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.CleanupExpiredRounds()
		}
	}
}
