package core

import (
	"testing"
	"time"
)

func TestPendingPoolAddAndPending(t *testing.T) {
	priv, pub, err := generateTestKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}

	pool := NewPendingPool()
	record := NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1234, "commit-1", time.Now().UnixNano())
	record.IMSI = "310150123456789"
	record.CallMinutes = 1234
	record.CallRateCents = 1
	record.Sign(priv)

	if err := pool.Add(record, pub); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if pool.Size() != 1 {
		t.Errorf("size: got %d want 1", pool.Size())
	}
	if err := pool.Add(record, pub); err == nil {
		t.Error("adding the same record ID twice should fail")
	}

	pending := pool.Pending(10)
	if len(pending) != 1 || pending[0].ID != "rec-1" {
		t.Errorf("unexpected pending set: %+v", pending)
	}

	pool.Remove([]string{"rec-1"})
	if pool.Size() != 0 {
		t.Error("pool should be empty after Remove")
	}
}

func TestPendingPoolRejectsBadSignature(t *testing.T) {
	_, pub, err := generateTestKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	record := NewBceRecord("rec-2", "T-Mobile-DE", "Orange-FR", "period-1", "pair-2", 500, "commit-2", 1_700_000_000)
	// record is never signed: Verify should fail against any public key.
	if err := NewPendingPool().Add(record, pub); err == nil {
		t.Error("expected Add to reject an unsigned/invalid record")
	}
}

func TestPendingPoolReadyForProposal(t *testing.T) {
	priv, pub, err := generateTestKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewPendingPool()
	for i := 0; i < ProposalThreshold-1; i++ {
		r := NewBceRecord(idFor(i), "T-Mobile-DE", "Vodafone-UK", "p", "pair", 100, "c", time.Now().UnixNano())
		r.IMSI = "310150123456789"
		r.CallMinutes = 100
		r.CallRateCents = 1
		r.Sign(priv)
		if err := pool.Add(r, pub); err != nil {
			t.Fatal(err)
		}
	}
	if pool.ReadyForProposal() {
		t.Error("pool should not be ready below ProposalThreshold")
	}
	last := NewBceRecord(idFor(ProposalThreshold), "T-Mobile-DE", "Vodafone-UK", "p", "pair", 100, "c", time.Now().UnixNano())
	last.IMSI = "310150123456789"
	last.CallMinutes = 100
	last.CallRateCents = 1
	last.Sign(priv)
	if err := pool.Add(last, pub); err != nil {
		t.Fatal(err)
	}
	if !pool.ReadyForProposal() {
		t.Error("pool should be ready at ProposalThreshold")
	}
}

func TestPendingPoolRejectsUnknownOperator(t *testing.T) {
	priv, pub, err := generateTestKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	record := NewBceRecord("rec-3", "T-Mobile-DE", "Not-A-Consortium-Member", "period-1", "pair-3", 1000, "commit-3", 1_700_000_000)
	record.IMSI = "310150123456789"
	record.CallMinutes = 1000
	record.CallRateCents = 1
	record.Sign(priv)
	if err := NewPendingPool().Add(record, pub); err == nil {
		t.Error("expected Add to reject a record with a non-consortium operator")
	}
}

func TestPendingPoolRejectsChargeMismatch(t *testing.T) {
	priv, pub, err := generateTestKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	record := NewBceRecord("rec-4", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-4", 999999, "commit-4", 1_700_000_000)
	record.IMSI = "310150123456789"
	record.CallMinutes = 1000
	record.CallRateCents = 1
	record.Sign(priv)
	if err := NewPendingPool().Add(record, pub); err == nil {
		t.Error("expected Add to reject a record whose declared charge doesn't match usage x rate")
	}
}

func idFor(i int) string {
	return "rec-" + string(rune('a'+i))
}
