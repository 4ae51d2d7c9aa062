package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sp-consortium/settlementd/crypto"
)

const (
	maxPoolSize = 10_000
	maxRecordAge    = int64(time.Hour)       // reject records older than 1 hour
	maxRecordFuture = int64(5 * time.Minute) // reject records more than 5 min in the future

	// ProposalThreshold is the number of pending records that triggers a
	// settlement block proposal, per the privacy-preserving batching
	// design: batches of BCE records are proposed once 10 are pending
	// rather than on a fixed timer, to bound the worst-case linkability of
	// any single record against a small anonymity set.
	ProposalThreshold = 10
)

// ConsortiumMembers is the fixed five-operator roaming settlement
// consortium a record's home and visited operators must both belong to.
// Duplicated locally (rather than imported from package config) since core
// is imported by config and an import back would cycle.
var ConsortiumMembers = []string{
	"T-Mobile-DE", "Vodafone-UK", "Orange-FR", "Telefónica-ES", "SFR-FR",
}

func isConsortiumMember(name string) bool {
	for _, m := range ConsortiumMembers {
		if m == name {
			return true
		}
	}
	return false
}

// PendingPool is a thread-safe pool of BCE records awaiting inclusion in a
// settlement block proposal. It mirrors a mempool's admission checks
// (signature, pool capacity, timestamp window) but batches by count rather
// than by block-interval timer.
type PendingPool struct {
	mu  sync.RWMutex
	rec map[string]*BceRecord
	ord []string // insertion-ordered IDs for deterministic batch selection
}

// NewPendingPool creates an empty pool.
func NewPendingPool() *PendingPool {
	return &PendingPool{rec: make(map[string]*BceRecord)}
}

// Add validates a record's signature against the home operator's known
// public key, its structure, its charge arithmetic, consortium membership
// of both parties, and its timestamp window, then inserts it. The pool
// holds no identity state itself; callers resolve submitterPub from the
// consortium's validator/operator registry.
func (p *PendingPool) Add(record *BceRecord, submitterPub crypto.PublicKey) error {
	if err := record.Verify(submitterPub); err != nil {
		return fmt.Errorf("add record %s: %w", record.ID, ErrInvalidRecord)
	}
	if err := record.ValidateStructure(); err != nil {
		return fmt.Errorf("add record %s: %w", record.ID, err)
	}
	if err := record.ValidateChargeEquation(); err != nil {
		return fmt.Errorf("add record %s: %w", record.ID, err)
	}
	if !isConsortiumMember(record.HomeOperator) || !isConsortiumMember(record.VisitedOperator) {
		return fmt.Errorf("add record %s: %w", record.ID, ErrUnknownOperator)
	}

	now := time.Now().UnixNano()
	if now-record.Timestamp > maxRecordAge {
		return fmt.Errorf("record %s: %w", record.ID, ErrRecordExpired)
	}
	if record.Timestamp-now > maxRecordFuture {
		return fmt.Errorf("record %s: %w", record.ID, ErrRecordExpired)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rec) >= maxPoolSize {
		return fmt.Errorf("add record %s: %w", record.ID, ErrPoolFull)
	}
	if _, exists := p.rec[record.ID]; exists {
		return fmt.Errorf("add record %s: %w", record.ID, ErrRecordAlreadyExists)
	}
	p.rec[record.ID] = record
	p.ord = append(p.ord, record.ID)
	return nil
}

// Get returns a record by ID.
func (p *PendingPool) Get(id string) (*BceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rec[id]
	return r, ok
}

// Pending returns up to n pending records in insertion order.
func (p *PendingPool) Pending(n int) []*BceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]*BceRecord, 0, n)
	for _, id := range p.ord {
		if len(result) >= n {
			break
		}
		if r, ok := p.rec[id]; ok {
			result = append(result, r)
		}
	}
	return result
}

// PendingAll returns every pending record in insertion order.
func (p *PendingPool) PendingAll() []*BceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]*BceRecord, 0, len(p.ord))
	for _, id := range p.ord {
		if r, ok := p.rec[id]; ok {
			result = append(result, r)
		}
	}
	return result
}

// ReadyForProposal reports whether enough records are pending to trigger a
// settlement block proposal.
func (p *PendingPool) ReadyForProposal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ord) >= ProposalThreshold
}

// Remove deletes records by ID, called after a settlement block referencing
// them reaches Settled (or is permanently rejected).
func (p *PendingPool) Remove(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(p.rec, id)
		removed[id] = true
	}
	filtered := p.ord[:0]
	for _, id := range p.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	p.ord = filtered
}

// Size returns the current number of pending records.
func (p *PendingPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rec)
}
