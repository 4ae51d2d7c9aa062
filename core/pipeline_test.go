package core_test

import (
	"testing"
	"time"

	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/internal/testutil"
	"github.com/sp-consortium/settlementd/storage"
)

func TestPipelineSubmitProposeFinalize(t *testing.T) {
	priv, pub, err := testKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	store := testutil.NewMemBlockStore()
	ledger := core.NewLedger(store)
	if err := ledger.Init(); err != nil {
		t.Fatal(err)
	}
	records := storage.NewRecordStore(testutil.NewMemDB())
	pipeline := core.NewPipeline(ledger, records, nil)

	record := core.NewBceRecord("", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 2500, "commit-1", time.Now().UnixNano())
	record.IMSI = "310150123456789"
	record.CallMinutes = 2500
	record.CallRateCents = 1
	record.Sign(priv)
	if err := pipeline.Submit(record, pub, 0); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if record.ID == "" {
		t.Fatal("Submit should assign a record ID when empty")
	}
	if pipeline.Pool().Size() != 1 {
		t.Errorf("pool size: got %d want 1", pipeline.Pool().Size())
	}
	if err := records.PutRecord(record); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	amounts := []core.BilateralAmount{{Home: "T-Mobile-DE", Visited: "Vodafone-UK", TotalCents: 2500}}
	block, err := pipeline.Propose(pub.Hex(), amounts, core.ProposalThreshold)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if block.Status != core.StatusInProgress {
		t.Errorf("proposed block status: got %s want in_progress", block.Status)
	}
	if len(block.RecordIDs) != 1 || block.RecordIDs[0] != record.ID {
		t.Errorf("proposed block should reference the submitted record, got %v", block.RecordIDs)
	}

	block.Sign(priv)
	finalized, err := pipeline.Finalize(block.Hash)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if finalized.Status != core.StatusSettled {
		t.Errorf("finalized block status: got %s want settled", finalized.Status)
	}
	if ledger.Height() != 1 {
		t.Errorf("ledger height after finalize: got %d want 1", ledger.Height())
	}
	if pipeline.Pool().Size() != 0 {
		t.Error("finalize should drain settled records from the pending pool")
	}

	settled, err := records.GetRecord(record.ID)
	if err != nil {
		t.Fatalf("GetRecord after finalize: %v", err)
	}
	if settled.Status != core.RecordSettled {
		t.Errorf("settled record status: got %s want settled", settled.Status)
	}
	if settled.SettledInBlock != finalized.Hash {
		t.Errorf("settled_in_block: got %s want %s", settled.SettledInBlock, finalized.Hash)
	}
}

func TestPipelineReject(t *testing.T) {
	priv, pub, err := testKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	store := testutil.NewMemBlockStore()
	ledger := core.NewLedger(store)
	if err := ledger.Init(); err != nil {
		t.Fatal(err)
	}
	pipeline := core.NewPipeline(ledger, nil, nil)

	record := core.NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1000, "commit-1", time.Now().UnixNano())
	record.IMSI = "310150123456789"
	record.CallMinutes = 1000
	record.CallRateCents = 1
	record.Sign(priv)
	if err := pipeline.Submit(record, pub, 0); err != nil {
		t.Fatal(err)
	}

	block, err := pipeline.Propose(pub.Hex(), nil, core.ProposalThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Reject(block.Hash); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	// Records stay pending after rejection, so they can be re-batched.
	if pipeline.Pool().Size() != 1 {
		t.Error("rejected proposal should not drain the pending pool")
	}
}
