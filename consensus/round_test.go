package consensus_test

import (
	"testing"

	"github.com/sp-consortium/settlementd/config"
	"github.com/sp-consortium/settlementd/consensus"
	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/events"
	"github.com/sp-consortium/settlementd/internal/testutil"
)

type validatorSet struct {
	privs []crypto.PrivateKey
	pubs  []crypto.PublicKey
}

func newValidatorSet(t *testing.T, n int) *validatorSet {
	t.Helper()
	vs := &validatorSet{}
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		vs.privs = append(vs.privs, priv)
		vs.pubs = append(vs.pubs, pub)
	}
	return vs
}

func (vs *validatorSet) hexes() []string {
	out := make([]string, len(vs.pubs))
	for i, p := range vs.pubs {
		out[i] = p.Hex()
	}
	return out
}

func newTestEngine(t *testing.T, vs *validatorSet) (*consensus.Engine, *core.Pipeline, *core.Ledger) {
	t.Helper()
	store := testutil.NewMemBlockStore()
	ledger := core.NewLedger(store)
	if err := ledger.Init(); err != nil {
		t.Fatal(err)
	}
	pipeline := core.NewPipeline(ledger, nil, nil)
	cfg := config.DefaultConfig()
	cfg.Validators = vs.hexes()
	emitter := events.NewEmitter()
	return consensus.NewEngine(cfg, pipeline, emitter), pipeline, ledger
}

func TestConsensusUnanimousEarlyVotesFinalizeBeforeFullParticipation(t *testing.T) {
	vs := newValidatorSet(t, 5)
	engine, pipeline, ledger := newTestEngine(t, vs)

	block, err := pipeline.Propose(vs.pubs[0].Hex(), nil, core.ProposalThreshold)
	if err != nil {
		t.Fatal(err)
	}
	block.Sign(vs.privs[0])

	if _, err := engine.StartConsensus(block); err != nil {
		t.Fatalf("StartConsensus: %v", err)
	}

	// 3 of 5 validators vote, all approving: votes_cast (3) >= min_validators
	// (3) and approval_rate (3/3 = 1.0) >= threshold (0.67), so the round
	// finalizes immediately without waiting on the remaining 2 validators.
	var lastDecision *consensus.VoteDecision
	for i := 0; i < 3; i++ {
		vote := consensus.Vote{BlockHash: block.Hash, Validator: vs.pubs[i].Hex()}
		vote.Sign(vs.privs[i])
		decision, err := engine.ProcessVote(vote, vs.pubs[i])
		if err != nil {
			t.Fatalf("ProcessVote %d: %v", i, err)
		}
		lastDecision = decision
	}
	if lastDecision == nil || *lastDecision != consensus.VoteApprove {
		t.Fatalf("expected an approval decision after 3/3 unanimous votes, got %v", lastDecision)
	}
	if ledger.Height() != 1 {
		t.Errorf("ledger height after finalize: got %d want 1", ledger.Height())
	}
}

func TestConsensusBelowMinValidatorsStaysInProgress(t *testing.T) {
	vs := newValidatorSet(t, 5)
	engine, pipeline, _ := newTestEngine(t, vs)

	block, err := pipeline.Propose(vs.pubs[0].Hex(), nil, core.ProposalThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.StartConsensus(block); err != nil {
		t.Fatal(err)
	}

	// Only 2 of 5 validators vote (below min_validators=3); even though both
	// approve, the round must not finalize yet.
	for i := 0; i < 2; i++ {
		vote := consensus.Vote{BlockHash: block.Hash, Validator: vs.pubs[i].Hex()}
		vote.Sign(vs.privs[i])
		decision, err := engine.ProcessVote(vote, vs.pubs[i])
		if err != nil {
			t.Fatalf("ProcessVote %d: %v", i, err)
		}
		if decision != nil {
			t.Fatalf("expected no decision below min_validators, got %v", *decision)
		}
	}
}

func TestConsensusSplitVoteAfterFullParticipationRejects(t *testing.T) {
	vs := newValidatorSet(t, 5)
	engine, pipeline, _ := newTestEngine(t, vs)

	block, err := pipeline.Propose(vs.pubs[0].Hex(), nil, core.ProposalThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.StartConsensus(block); err != nil {
		t.Fatal(err)
	}

	// The rejections arrive first so the approval rate stays below the
	// threshold after every vote and the round is still open for the fifth.
	decisions := []consensus.VoteDecision{
		consensus.VoteReject, consensus.VoteReject,
		consensus.VoteApprove, consensus.VoteApprove, consensus.VoteApprove,
	}
	var lastDecision *consensus.VoteDecision
	for i, d := range decisions {
		vote := consensus.Vote{BlockHash: block.Hash, Validator: vs.pubs[i].Hex(), Decision: d}
		vote.Sign(vs.privs[i])
		decision, err := engine.ProcessVote(vote, vs.pubs[i])
		if err != nil {
			t.Fatalf("ProcessVote %d: %v", i, err)
		}
		lastDecision = decision
	}
	// All 5 have voted (votes_cast >= active_validators) but approval_rate
	// (3/5 = 0.6) is below the 0.67 threshold, so the round rejects rather
	// than staying open forever.
	if lastDecision == nil || *lastDecision != consensus.VoteReject {
		t.Fatalf("expected a reject decision once all validators voted below threshold, got %v", lastDecision)
	}
}

func TestConsensusRejectsUnknownValidator(t *testing.T) {
	vs := newValidatorSet(t, 5)
	engine, pipeline, _ := newTestEngine(t, vs)

	block, err := pipeline.Propose(vs.pubs[0].Hex(), nil, core.ProposalThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.StartConsensus(block); err != nil {
		t.Fatal(err)
	}

	stranger, strangerPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	vote := consensus.Vote{BlockHash: block.Hash, Validator: strangerPub.Hex()}
	vote.Sign(stranger)
	if _, err := engine.ProcessVote(vote, strangerPub); err == nil {
		t.Error("expected ErrUnknownValidator for a non-validator signer")
	}
}

func TestConsensusRejectsDuplicateVote(t *testing.T) {
	vs := newValidatorSet(t, 5)
	engine, pipeline, _ := newTestEngine(t, vs)

	block, err := pipeline.Propose(vs.pubs[0].Hex(), nil, core.ProposalThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.StartConsensus(block); err != nil {
		t.Fatal(err)
	}

	vote := consensus.Vote{BlockHash: block.Hash, Validator: vs.pubs[0].Hex()}
	vote.Sign(vs.privs[0])
	if _, err := engine.ProcessVote(vote, vs.pubs[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ProcessVote(vote, vs.pubs[0]); err == nil {
		t.Error("expected ErrDuplicateVote on second vote from the same validator")
	}
}
