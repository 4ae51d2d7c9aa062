package network

import (
	"encoding/json"
	"log"

	"github.com/sp-consortium/settlementd/core"
)

// ChainValidator validates a settled block's structural integrity and
// proposer signature before it is appended to the local ledger.
type ChainValidator interface {
	ValidateBlock(block *core.SettlementBlock) error
}

// Syncer follows the consortium's chain state: it asks a peer for its tip,
// and when the peer is ahead it requests that tip block, validates it and
// appends it to the ledger. Only the tip block is requested, never the
// blocks between, so the append succeeds only when the tip is the next
// consecutive height of the local ledger.
type Syncer struct {
	node      *Node
	ledger    *core.Ledger
	validator ChainValidator
}

// NewSyncer wires a Syncer on top of node and ledger. validator may be nil,
// in which case only structural integrity (not proposer signature) is
// checked before a synced block is appended.
func NewSyncer(node *Node, ledger *core.Ledger, validator ChainValidator) *Syncer {
	s := &Syncer{node: node, ledger: ledger, validator: validator}
	node.Handle(MsgChainStateResponse, s.handleChainState)
	node.Handle(MsgBlockResponse, s.handleBlockResponse)
	return s
}

// RequestChainState asks peer for its current tip.
func (s *Syncer) RequestChainState(peer *Peer) error {
	data, err := json.Marshal(RequestChainStatePayload{})
	if err != nil {
		return err
	}
	return peer.Send(Message{Type: MsgRequestChainState, Payload: data})
}

func (s *Syncer) handleChainState(peer *Peer, msg Message) {
	var resp ChainStateResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	if resp.Hash == "" || resp.Height <= s.ledger.Height() {
		return // we are caught up or ahead
	}
	req, err := json.Marshal(RequestBlockPayload{BlockHash: resp.Hash})
	if err != nil {
		return
	}
	if err := peer.Send(Message{Type: MsgRequestBlock, Payload: req}); err != nil {
		log.Printf("[sync] request block %s from %s: %v", resp.Hash, peer.ID, err)
	}
}

func (s *Syncer) handleBlockResponse(_ *Peer, msg Message) {
	var block core.SettlementBlock
	if err := json.Unmarshal(msg.Payload, &block); err != nil {
		log.Printf("[sync] unmarshal block response: %v", err)
		return
	}
	if block.Status != core.StatusSettled {
		return // only settled blocks belong on the chain
	}
	if err := block.VerifyIntegrity(); err != nil {
		log.Printf("[sync] block %d integrity check failed: %v", block.Header.Height, err)
		return
	}
	if s.validator != nil {
		if err := s.validator.ValidateBlock(&block); err != nil {
			log.Printf("[sync] block %d validation failed: %v", block.Header.Height, err)
			return
		}
	}
	if err := s.ledger.AppendBlock(&block); err != nil {
		log.Printf("[sync] append block %d failed: %v", block.Header.Height, err)
	}
}
