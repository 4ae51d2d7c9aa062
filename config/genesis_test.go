package config_test

import (
	"testing"

	"github.com/sp-consortium/settlementd/config"
	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
)

func TestCreateGenesisBlockIsSettledAndBalanced(t *testing.T) {
	cfg := validTestConfig()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	block := config.CreateGenesisBlock(cfg, priv)

	if block.Status != core.StatusSettled {
		t.Errorf("genesis block status: got %v want Settled", block.Status)
	}
	if block.Header.Height != 0 {
		t.Errorf("genesis block height: got %d want 0", block.Header.Height)
	}
	if !config.IsGenesisHash(block.Header.PrevHash) {
		t.Errorf("genesis block prev hash should be the canonical genesis hash, got %q", block.Header.PrevHash)
	}
	if err := block.Verify(pub); err != nil {
		t.Errorf("genesis block should verify against its proposer key: %v", err)
	}
	for _, op := range cfg.Genesis.Operators {
		if pos, ok := block.Summary.NetPositions[op]; !ok || pos != 0 {
			t.Errorf("expected genesis net position for %s to be zero, got %d (present=%v)", op, pos, ok)
		}
	}
}

func TestIsGenesisHashRejectsNonZeroHash(t *testing.T) {
	if config.IsGenesisHash("deadbeef") {
		t.Error("expected a short non-zero hash to be rejected")
	}
}
