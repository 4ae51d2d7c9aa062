package config_test

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/sp-consortium/settlementd/config"
)

func validTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Validators = []string{
		hex.EncodeToString(make([]byte, 32)),
	}
	return cfg
}

func TestDefaultConfigMissingValidatorsFailsValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected DefaultConfig (no validators) to fail validation")
	}
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected a well-formed config to validate, got: %v", err)
	}
}

func TestValidateRejectsOperatorNotInGenesis(t *testing.T) {
	cfg := validTestConfig()
	cfg.Operator = "Deutsche-Telekom-XX"
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject an operator not listed in genesis.operators")
	}
}

func TestValidateRejectsWrongOperatorCount(t *testing.T) {
	cfg := validTestConfig()
	cfg.Genesis.Operators = cfg.Genesis.Operators[:3]
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject fewer than 5 genesis operators")
	}
}

func TestValidateRejectsMalformedValidatorHex(t *testing.T) {
	cfg := validTestConfig()
	cfg.Validators = []string{"not-hex"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject a malformed validator pubkey")
	}
}

func TestValidateRejectsSamePorts(t *testing.T) {
	cfg := validTestConfig()
	cfg.P2PPort = cfg.RPCPort
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject identical rpc_port and p2p_port")
	}
}

func TestValidateRejectsPartialTLS(t *testing.T) {
	cfg := validTestConfig()
	cfg.TLS = &config.TLSConfig{CACert: "ca.pem"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject a partially-set TLS config")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	cfg := validTestConfig()
	path := filepath.Join(t.TempDir(), "node.json")

	if err := config.Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NodeID != cfg.NodeID || loaded.Operator != cfg.Operator {
		t.Errorf("round-tripped config mismatch: %+v", loaded)
	}
	if len(loaded.Validators) != 1 || loaded.Validators[0] != cfg.Validators[0] {
		t.Errorf("validators did not round-trip: %+v", loaded.Validators)
	}
}
