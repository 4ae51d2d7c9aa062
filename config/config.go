package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote consortium node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// GenesisConfig describes the consortium's initial state.
type GenesisConfig struct {
	ConsortiumID int64    `json:"consortium_id"`
	Operators    []string `json:"operators"` // the five consortium member names, e.g. "T-Mobile-DE"
}

// ConsensusConfig tunes the quorum-voting parameters. Zero values fall back
// to the defaults in the consensus package.
type ConsensusConfig struct {
	ApprovalThreshold   float64       `json:"approval_threshold,omitempty"`
	MinValidators       int           `json:"min_validators,omitempty"`
	RoundTimeout        time.Duration `json:"round_timeout,omitempty"`
	MaxConcurrentRounds int           `json:"max_concurrent_rounds,omitempty"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string          `json:"node_id"`
	Operator     string          `json:"operator"` // which consortium member this node represents, must be one of Genesis.Operators
	DataDir      string          `json:"data_dir"`
	RPCPort      int             `json:"rpc_port"`
	P2PPort      int             `json:"p2p_port"`
	MetricsPort  int             `json:"metrics_port"` // Prometheus /metrics endpoint; 0 disables it
	Validators   []string        `json:"validators"` // authorised validator pubkey hexes, one per operator
	Genesis      GenesisConfig   `json:"genesis"`
	Consensus    ConsensusConfig `json:"consensus,omitempty"`
	SeedPeers    []SeedPeer      `json:"seed_peers,omitempty"`      // initial peers to connect to
	TLS          *TLSConfig      `json:"tls,omitempty"`             // nil -> plain TCP
	RPCAuthToken string          `json:"rpc_auth_token,omitempty"`  // empty -> no auth
	AllowDemoVM  bool            `json:"allow_demo_vm,omitempty"`   // enables the contract VM's demo-mode proof/signature fallback; must stay false in production
	GasLimit     uint64          `json:"gas_limit,omitempty"`       // not read: contract VMs always run with vm.DefaultGasLimit (1,000,000)
}

// DefaultConsortium is the five-operator roaming settlement consortium this
// ledger is permissioned for.
var DefaultConsortium = []string{
	"T-Mobile-DE", "Vodafone-UK", "Orange-FR", "Telefónica-ES", "SFR-FR",
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		Operator:    DefaultConsortium[0],
		DataDir:     "./data",
		RPCPort:     8545,
		P2PPort:     30303,
		MetricsPort: 9090,
		Genesis: GenesisConfig{
			ConsortiumID: 12345,
			Operators:    append([]string(nil), DefaultConsortium...),
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ConsortiumID == 0 {
		return fmt.Errorf("genesis.consortium_id must not be zero")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("validators list must not be empty")
	}
	for i, v := range c.Validators {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("validators[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v)
		}
	}
	if len(c.Genesis.Operators) != 5 {
		return fmt.Errorf("genesis.operators must list exactly 5 consortium members, got %d", len(c.Genesis.Operators))
	}
	operatorKnown := false
	for _, op := range c.Genesis.Operators {
		if op == c.Operator {
			operatorKnown = true
			break
		}
	}
	if !operatorKnown {
		return fmt.Errorf("operator %q is not one of genesis.operators", c.Operator)
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
