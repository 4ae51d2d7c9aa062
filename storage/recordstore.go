package storage

import (
	"encoding/json"
	"fmt"

	"github.com/sp-consortium/settlementd/core"
)

// RecordStore persists BCE records under "record:<id>" keys, independent of
// the settlement blocks that reference them by ID.
type RecordStore struct {
	db DB
}

// NewRecordStore wraps a DB as a RecordStore.
func NewRecordStore(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// PutRecord persists a BCE record.
func (s *RecordStore) PutRecord(r *core.BceRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Set(recordKey(r.ID), data)
}

// GetRecord loads a BCE record by ID.
func (s *RecordStore) GetRecord(id string) (*core.BceRecord, error) {
	data, err := s.db.Get(recordKey(id))
	if err != nil {
		return nil, err
	}
	var r core.BceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &r, nil
}

// IterateRecords calls fn for every stored record in key order, stopping
// early if fn returns false.
func (s *RecordStore) IterateRecords(fn func(*core.BceRecord) bool) error {
	it := s.db.NewIterator([]byte(prefixRecord))
	defer it.Release()
	for it.Next() {
		var r core.BceRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if !fn(&r) {
			break
		}
	}
	return it.Error()
}

// IterateBlocksAscending calls fn for every settlement block in ascending
// height order (the "block:<zero-padded height>" key scheme sorts
// lexicographically in height order), stopping early if fn returns false.
func IterateBlocksAscending(db DB, fn func(*core.SettlementBlock) bool) error {
	it := db.NewIterator([]byte(prefixBlockByHeight))
	defer it.Release()
	for it.Next() {
		var b core.SettlementBlock
		if err := json.Unmarshal(it.Value(), &b); err != nil {
			return fmt.Errorf("decode block: %w", err)
		}
		if !fn(&b) {
			break
		}
	}
	return it.Error()
}
