package rpc_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/events"
	"github.com/sp-consortium/settlementd/indexer"
	"github.com/sp-consortium/settlementd/internal/testutil"
	"github.com/sp-consortium/settlementd/rpc"
	"github.com/sp-consortium/settlementd/storage"
)

func newTestHandler(t *testing.T) (*rpc.Handler, crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	blockStore := testutil.NewMemBlockStore()
	ledger := core.NewLedger(blockStore)
	if err := ledger.Init(); err != nil {
		t.Fatal(err)
	}
	db := testutil.NewMemDB()
	records := storage.NewRecordStore(db)
	pipeline := core.NewPipeline(ledger, records, nil)
	idx := indexer.New(db, ledger, records, events.NewEmitter())
	return rpc.NewHandler(pipeline, ledger, records, idx, 12345), priv, pub
}

func TestDispatchGetChainHeight(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(rpc.Request{ID: 1, Method: "getChainHeight"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result != int64(0) {
		t.Errorf("expected a fresh ledger's height to be 0, got %v", resp.Result)
	}
}

func TestDispatchGetConsortiumID(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(rpc.Request{ID: 1, Method: "getConsortiumID"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result != int64(12345) {
		t.Errorf("expected consortium ID 12345, got %v", resp.Result)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(rpc.Request{ID: 1, Method: "doesNotExist"})
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown method")
	}
	if resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("expected CodeMethodNotFound, got %d", resp.Error.Code)
	}
}

func TestDispatchGetRecordMissing(t *testing.T) {
	h, _, _ := newTestHandler(t)
	params, _ := json.Marshal(map[string]string{"id": "no-such-record"})
	resp := h.Dispatch(rpc.Request{ID: 1, Method: "getRecord", Params: params})
	if resp.Error == nil {
		t.Fatal("expected an error for a missing record")
	}
}

func TestDispatchSubmitRecord(t *testing.T) {
	h, priv, pub := newTestHandler(t)
	record := core.NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1000, "commit-1", time.Now().UnixNano())
	record.IMSI = "310150123456789"
	record.CallMinutes = 1000
	record.CallRateCents = 1
	record.Sign(priv)

	params, _ := json.Marshal(map[string]any{
		"record":        record,
		"submitter_pub": pub.Hex(),
	})
	resp := h.Dispatch(rpc.Request{ID: 1, Method: "submitRecord", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	poolResp := h.Dispatch(rpc.Request{ID: 2, Method: "getPendingPoolSize"})
	if poolResp.Result != 1 {
		t.Errorf("expected the pending pool to contain the submitted record, got %v", poolResp.Result)
	}
}

func TestDispatchSubmitRecordRejectsBadSignature(t *testing.T) {
	h, _, pub := newTestHandler(t)
	otherPriv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	record := core.NewBceRecord("rec-2", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1000, "commit-1", 1_700_000_000)
	record.IMSI = "310150123456789"
	record.CallMinutes = 1000
	record.CallRateCents = 1
	record.Sign(otherPriv) // signed by the wrong key

	params, _ := json.Marshal(map[string]any{
		"record":        record,
		"submitter_pub": pub.Hex(),
	})
	resp := h.Dispatch(rpc.Request{ID: 1, Method: "submitRecord", Params: params})
	if resp.Error == nil {
		t.Fatal("expected submitRecord to reject a record signed by a different key than submitter_pub")
	}
}
