package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sp-consortium/settlementd/consensus"
	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// ValidatorKeys resolves a validator pubkey hex to its crypto.PublicKey, so
// the node can verify incoming votes without holding private key material.
type ValidatorKeys interface {
	PublicKey(pubkeyHex string) (crypto.PublicKey, bool)
}

// Node listens for incoming peers and manages outgoing connections,
// gossiping settlement block proposals and validator votes across the
// consortium.
type Node struct {
	nodeID     string
	listenAddr string
	pipeline   *core.Pipeline
	ledger     *core.Ledger
	engine     *consensus.Engine
	keys       ValidatorKeys
	tlsConfig  *tls.Config // nil -> plain TCP
	maxPeers   int

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, listenAddr string, pipeline *core.Pipeline, ledger *core.Ledger, engine *consensus.Engine, keys ValidatorKeys, tlsCfg *tls.Config) *Node {
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		pipeline:   pipeline,
		ledger:     ledger,
		engine:     engine,
		keys:       keys,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgNewBlock, n.handleNewBlock)
	n.Handle(MsgRequestBlock, n.handleRequestBlock)
	n.Handle(MsgVote, n.handleVote)
	n.Handle(MsgRequestChainState, n.handleRequestChainState)
	n.Handle(MsgPing, n.handlePing)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Broadcast sends msg to all connected peers.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.Printf("[network] broadcast to %s: %v", p.ID, err)
		}
	}
}

// BroadcastNewBlock announces a freshly proposed settlement block.
func (n *Node) BroadcastNewBlock(block *core.SettlementBlock) {
	data, err := json.Marshal(NewBlockPayload{BlockHash: block.Hash, Height: block.Header.Height})
	if err != nil {
		log.Printf("[network] marshal new_block: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgNewBlock, Payload: data})
}

// BroadcastVote gossips a validator vote on a proposed block.
func (n *Node) BroadcastVote(vote consensus.Vote) {
	data, err := json.Marshal(VotePayload{
		BlockHash: vote.BlockHash,
		Validator: vote.Validator,
		Decision:  int(vote.Decision),
		Timestamp: vote.Timestamp,
		Signature: vote.Signature,
	})
	if err != nil {
		log.Printf("[network] marshal vote: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgVote, Payload: data})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[network] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleNewBlock(peer *Peer, msg Message) {
	var payload NewBlockPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("[network] unmarshal new_block: %v", err)
		return
	}
	if _, ok := n.pipeline.Proposed(payload.BlockHash); ok {
		return // already known
	}
	req, err := json.Marshal(RequestBlockPayload{BlockHash: payload.BlockHash})
	if err != nil {
		return
	}
	if err := peer.Send(Message{Type: MsgRequestBlock, Payload: req}); err != nil {
		log.Printf("[network] request block from %s: %v", peer.ID, err)
	}
}

func (n *Node) handleRequestBlock(peer *Peer, msg Message) {
	var req RequestBlockPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	block, ok := n.pipeline.Proposed(req.BlockHash)
	if !ok {
		var err error
		block, err = n.ledger.GetBlock(req.BlockHash)
		if err != nil {
			return
		}
	}
	data, err := json.Marshal(block)
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgBlockResponse, Payload: data})
}

func (n *Node) handleVote(_ *Peer, msg Message) {
	var payload VotePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("[network] unmarshal vote: %v", err)
		return
	}
	pub, ok := n.keys.PublicKey(payload.Validator)
	if !ok {
		log.Printf("[network] vote from unregistered validator %s", payload.Validator)
		return
	}
	vote := consensus.Vote{
		BlockHash: payload.BlockHash,
		Validator: payload.Validator,
		Decision:  consensus.VoteDecision(payload.Decision),
		Timestamp: payload.Timestamp,
		Signature: payload.Signature,
	}
	if _, err := n.engine.ProcessVote(vote, pub); err != nil {
		log.Printf("[network] process vote: %v", err)
	}
}

func (n *Node) handleRequestChainState(peer *Peer, _ Message) {
	tip := n.ledger.Tip()
	var resp ChainStateResponsePayload
	if tip != nil {
		resp = ChainStateResponsePayload{Height: tip.Header.Height, Hash: tip.Hash}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgChainStateResponse, Payload: data})
}

func (n *Node) handlePing(peer *Peer, _ Message) {
	_ = peer.Send(Message{Type: MsgPong})
}
