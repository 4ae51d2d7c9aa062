package identity

import (
	"time"

	"github.com/sp-consortium/settlementd/consensus"
	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
)

// Identity holds a consortium operator's key pair and provides the signing
// helpers used when submitting BCE records and casting consensus votes.
type Identity struct {
	OperatorName string
	priv         crypto.PrivateKey
	pub          crypto.PublicKey
}

// New creates an Identity from an existing private key.
func New(operatorName string, priv crypto.PrivateKey) *Identity {
	return &Identity{OperatorName: operatorName, priv: priv, pub: priv.Public()}
}

// Generate creates an Identity with a freshly generated key pair.
func Generate(operatorName string) (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(operatorName, priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (id *Identity) PrivKey() crypto.PrivateKey {
	return id.priv
}

// PubKey returns the hex-encoded ed25519 public key used as this operator's
// validator identifier.
func (id *Identity) PubKey() string {
	return id.pub.Hex()
}

// Address returns the short human-readable address derived from the
// public key.
func (id *Identity) Address() string {
	return id.pub.Address()
}

// SubmitRecord builds and signs a BceRecord as the home operator.
func (id *Identity) SubmitRecord(visitedOperator, periodHash, networkPairHash string, totalChargesCents uint64, commitmentHash string) *core.BceRecord {
	record := core.NewBceRecord("", id.OperatorName, visitedOperator, periodHash, networkPairHash, totalChargesCents, commitmentHash, time.Now().UnixNano())
	record.Sign(id.priv)
	return record
}

// CastVote builds and signs a consensus vote on a proposed settlement
// block.
func (id *Identity) CastVote(blockHash string, decision consensus.VoteDecision) consensus.Vote {
	vote := consensus.Vote{
		BlockHash: blockHash,
		Validator: id.PubKey(),
		Decision:  decision,
		Timestamp: time.Now().UnixNano(),
	}
	vote.Sign(id.priv)
	return vote
}
