package storage

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sp-consortium/settlementd/core"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{batch: new(leveldb.Batch), db: l.db}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	batch *leveldb.Batch
	db    *leveldb.DB
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)      { b.batch.Delete(key) }
func (b *levelBatch) Reset()                 { b.batch.Reset() }
func (b *levelBatch) Write() error           { return b.db.Write(b.batch, nil) }

// ---- BlockStore implementation ----

// LevelBlockStore implements core.BlockStore on top of LevelDB.
type LevelBlockStore struct {
	db *LevelDB
}

// NewLevelBlockStore wraps a LevelDB instance as a BlockStore.
func NewLevelBlockStore(db *LevelDB) *LevelBlockStore {
	return &LevelBlockStore{db: db}
}

func (s *LevelBlockStore) PutBlock(block *core.SettlementBlock) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	if err := s.db.Set(blockHeightKey(block.Header.Height), data); err != nil {
		return err
	}
	return s.db.Set(blockHashKey(block.Hash), []byte(fmt.Sprintf("%d", block.Header.Height)))
}

func (s *LevelBlockStore) GetBlock(hash string) (*core.SettlementBlock, error) {
	heightBytes, err := s.db.Get(blockHashKey(hash))
	if err != nil {
		return nil, err
	}
	var height int64
	if _, err := fmt.Sscanf(string(heightBytes), "%d", &height); err != nil {
		return nil, fmt.Errorf("decode height index for %s: %w", hash, err)
	}
	return s.GetBlockByHeight(height)
}

func (s *LevelBlockStore) PutBlockByHeight(height int64, hash string) error {
	// Height indexing is folded into PutBlock via blockHeightKey; this exists to
	// satisfy core.BlockStore for explicit re-indexing callers.
	return s.db.Set(blockHashKey(hash), []byte(fmt.Sprintf("%d", height)))
}

func (s *LevelBlockStore) GetBlockByHeight(height int64) (*core.SettlementBlock, error) {
	data, err := s.db.Get(blockHeightKey(height))
	if err != nil {
		return nil, err
	}
	var b core.SettlementBlock
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *LevelBlockStore) GetTip() (string, error) {
	val, err := s.db.Get([]byte(keyChainTip))
	if err == core.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (s *LevelBlockStore) SetTip(hash string) error {
	return s.db.Set([]byte(keyChainTip), []byte(hash))
}

// CommitBlock atomically writes the block under its height and hash keys
// and advances the tip pointer in a single batch.
func (s *LevelBlockStore) CommitBlock(block *core.SettlementBlock) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Set(blockHeightKey(block.Header.Height), data)
	batch.Set(blockHashKey(block.Hash), []byte(fmt.Sprintf("%d", block.Header.Height)))
	batch.Set([]byte(keyChainTip), []byte(block.Hash))
	return batch.Write()
}
