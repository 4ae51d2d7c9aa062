package identity

import (
	"testing"

	"github.com/sp-consortium/settlementd/consensus"
)

func TestGenerateAndSubmitRecord(t *testing.T) {
	id, err := Generate("T-Mobile-DE")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id.OperatorName != "T-Mobile-DE" {
		t.Errorf("operator name: got %s want T-Mobile-DE", id.OperatorName)
	}

	record := id.SubmitRecord("Vodafone-UK", "period-1", "pair-1", 2000, "commit-1")
	if record.HomeOperator != "T-Mobile-DE" || record.VisitedOperator != "Vodafone-UK" {
		t.Errorf("unexpected record parties: %+v", record)
	}
	if err := record.Verify(id.priv.Public()); err != nil {
		t.Errorf("submitted record should verify against its own identity: %v", err)
	}
}

func TestCastVoteSignsWithOwnKey(t *testing.T) {
	id, err := Generate("Orange-FR")
	if err != nil {
		t.Fatal(err)
	}
	vote := id.CastVote("block-hash-1", consensus.VoteApprove)
	if vote.Validator != id.PubKey() {
		t.Errorf("vote validator: got %s want %s", vote.Validator, id.PubKey())
	}
	if err := vote.Verify(id.priv.Public()); err != nil {
		t.Errorf("cast vote should verify against the identity's own public key: %v", err)
	}
}
