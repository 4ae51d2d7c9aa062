package storage_test

import (
	"testing"

	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/internal/testutil"
	"github.com/sp-consortium/settlementd/storage"
)

func TestRecordStorePutGet(t *testing.T) {
	db := testutil.NewMemDB()
	store := storage.NewRecordStore(db)

	record := core.NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1500, "commit-1", 1_700_000_000)
	if err := store.PutRecord(record); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := store.GetRecord("rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.HomeOperator != "T-Mobile-DE" || got.TotalChargesCents != 1500 {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestRecordStoreGetMissing(t *testing.T) {
	db := testutil.NewMemDB()
	store := storage.NewRecordStore(db)
	if _, err := store.GetRecord("nope"); err == nil {
		t.Error("expected an error for a missing record")
	}
}

func TestRecordStoreIterate(t *testing.T) {
	db := testutil.NewMemDB()
	store := storage.NewRecordStore(db)
	for _, id := range []string{"rec-a", "rec-b", "rec-c"} {
		r := core.NewBceRecord(id, "T-Mobile-DE", "Vodafone-UK", "p", "pair", 100, "c", 1_700_000_000)
		if err := store.PutRecord(r); err != nil {
			t.Fatal(err)
		}
	}
	seen := make(map[string]bool)
	err := store.IterateRecords(func(r *core.BceRecord) bool {
		seen[r.ID] = true
		return true
	})
	if err != nil {
		t.Fatalf("IterateRecords: %v", err)
	}
	for _, id := range []string{"rec-a", "rec-b", "rec-c"} {
		if !seen[id] {
			t.Errorf("expected to see record %s during iteration", id)
		}
	}
}
