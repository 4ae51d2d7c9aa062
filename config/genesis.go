package config

import (
	"strings"

	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs settlement block #0: an empty,
// already-Settled block whose summary carries a zero net position for every
// consortium operator, establishing the conservation invariant's starting
// point.
func CreateGenesisBlock(cfg *Config, proposerPriv crypto.PrivateKey) *core.SettlementBlock {
	proposerPub := proposerPriv.Public()

	net := make(map[string]int64, len(cfg.Genesis.Operators))
	for _, op := range cfg.Genesis.Operators {
		net[op] = 0
	}
	summary := core.SettlementSummary{
		NetPositions:   net,
		ConsortiumHash: crypto.Hash([]byte(strings.Join(cfg.Genesis.Operators, ","))),
	}

	block := core.NewSettlementBlock(0, GenesisHash, proposerPub.Hex(), nil, summary)
	block.Status = core.StatusSettled
	block.Sign(proposerPriv)
	return block
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
