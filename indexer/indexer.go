// Package indexer maintains secondary indexes over finalized settlement
// blocks so operators can query their own records and transfers without
// scanning the whole ledger.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/events"
	"github.com/sp-consortium/settlementd/storage"
)

const (
	prefixOperatorRecord   = "idx:operator:record:"
	prefixOperatorTransfer = "idx:operator:transfer:"
)

// Indexer subscribes to settlement events and updates per-operator lookup
// tables as blocks finalize.
type Indexer struct {
	db      storage.DB
	ledger  *core.Ledger
	records *storage.RecordStore
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to settlement
// finalization events. ledger and records are consulted to resolve a
// finalized block's transfers and member records, since the event itself
// only carries the block hash.
func New(db storage.DB, ledger *core.Ledger, records *storage.RecordStore, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, ledger: ledger, records: records, emitter: emitter}
	emitter.Subscribe(events.EventBlockFinalized, idx.onBlockFinalized)
	return idx
}

// GetRecordsByOperator returns all BCE record IDs involving operator, either
// as home or visited party, across every finalized settlement block.
func (idx *Indexer) GetRecordsByOperator(operator string) ([]string, error) {
	return idx.getList(prefixOperatorRecord + operator)
}

// GetTransfersByOperator returns the settlement block hashes whose net
// transfer set moves funds into or out of operator.
func (idx *Indexer) GetTransfersByOperator(operator string) ([]string, error) {
	return idx.getList(prefixOperatorTransfer + operator)
}

// ---- event handlers ----

func (idx *Indexer) onBlockFinalized(ev events.Event) {
	if ev.BlockHash == "" {
		return
	}
	block, err := idx.ledger.GetBlock(ev.BlockHash)
	if err != nil {
		log.Printf("[indexer] load finalized block %s: %v", ev.BlockHash, err)
		return
	}

	for _, t := range block.Summary.Transfers {
		if err := idx.addToList(prefixOperatorTransfer+t.From, block.Hash); err != nil {
			log.Printf("[indexer] transfer index write failed (operator=%s block=%s): %v", t.From, block.Hash, err)
		}
		if err := idx.addToList(prefixOperatorTransfer+t.To, block.Hash); err != nil {
			log.Printf("[indexer] transfer index write failed (operator=%s block=%s): %v", t.To, block.Hash, err)
		}
	}

	for _, id := range block.RecordIDs {
		record, err := idx.records.GetRecord(id)
		if err != nil {
			log.Printf("[indexer] load record %s for block %s: %v", id, block.Hash, err)
			continue
		}
		if err := idx.addToList(prefixOperatorRecord+record.HomeOperator, id); err != nil {
			log.Printf("[indexer] record index write failed (operator=%s record=%s): %v", record.HomeOperator, id, err)
		}
		if err := idx.addToList(prefixOperatorRecord+record.VisitedOperator, id); err != nil {
			log.Printf("[indexer] record index write failed (operator=%s record=%s): %v", record.VisitedOperator, id, err)
		}
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, id := range ids {
		if id == value {
			return nil // already present
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
