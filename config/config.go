package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/tolelom/tolchain/consensus"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `toml:"ca_cert"`   // CA certificate PEM path
	NodeCert string `toml:"node_cert"` // node certificate PEM path
	NodeKey  string `toml:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `toml:"id"`   // remote node ID
	Addr string `toml:"addr"` // host:port
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID            string            `toml:"chain_id"`
	Alloc              map[string]uint64 `toml:"alloc"`                // pubkey hex → initial balance
	GenesisTimestampMs int64             `toml:"genesis_timestamp_ms"` // epoch ms stamped on block #1
}

// ConsensusConfig is the TOML-facing mirror of consensus.Settings. It exists
// separately so config stays the only package that knows about file formats;
// ToConsensusSettings() is the single translation point.
type ConsensusConfig struct {
	BlockVersion                           int    `toml:"block_version"`
	AverageBlockDelaySeconds               int64  `toml:"average_block_delay_seconds"`
	AvgBlockTimeDepth                      int64  `toml:"avg_block_time_depth"`
	GeneratingBalanceDepthBumpHeight       int64  `toml:"generating_balance_depth_bump_height"`
	MinimalGeneratingBalanceAfterTimestamp int64  `toml:"minimal_generating_balance_after_timestamp"`
	MinGeneratingBalance                   uint64 `toml:"min_generating_balance"`
	RequireSortedTransactionsAfter         int64  `toml:"require_sorted_transactions_after"`
	MaxTxPerBlock                          int    `toml:"max_tx_per_block"`
	MaxTimeDriftMs                         int64  `toml:"max_time_drift_ms"`
	MaxTxAgeInPoolPastMs                   int64  `toml:"max_tx_age_in_pool_past_ms"`
	MaxTxAgeInPoolFutureMs                 int64  `toml:"max_tx_age_in_pool_future_ms"`

	// InitialBaseTarget seeds the genesis block's difficulty. It is not part
	// of consensus.Settings (which holds chain-wide constants, not one-off
	// genesis parameters) — only config.CreateGenesisBlock reads it.
	InitialBaseTarget uint64 `toml:"initial_base_target"`
}

// ToConsensusSettings translates the file-facing config into the in-memory
// Settings the consensus core consumes.
func (c ConsensusConfig) ToConsensusSettings() consensus.Settings {
	return consensus.Settings{
		BlockVersion:                           c.BlockVersion,
		AverageBlockDelaySeconds:               c.AverageBlockDelaySeconds,
		AvgBlockTimeDepth:                      c.AvgBlockTimeDepth,
		GeneratingBalanceDepthBumpHeight:       c.GeneratingBalanceDepthBumpHeight,
		MinimalGeneratingBalanceAfterTimestamp: c.MinimalGeneratingBalanceAfterTimestamp,
		MinGeneratingBalance:                   c.MinGeneratingBalance,
		RequireSortedTransactionsAfter:         c.RequireSortedTransactionsAfter,
		MaxTxPerBlock:                          c.MaxTxPerBlock,
		MaxTimeDrift:                           c.MaxTimeDriftMs,
		MaxTxAgeInPoolPast:                     c.MaxTxAgeInPoolPastMs,
		MaxTxAgeInPoolFuture:                   c.MaxTxAgeInPoolFutureMs,
	}
}

func defaultConsensusConfig() ConsensusConfig {
	s := consensus.DefaultSettings()
	return ConsensusConfig{
		BlockVersion:                           s.BlockVersion,
		AverageBlockDelaySeconds:               s.AverageBlockDelaySeconds,
		AvgBlockTimeDepth:                      s.AvgBlockTimeDepth,
		GeneratingBalanceDepthBumpHeight:       s.GeneratingBalanceDepthBumpHeight,
		MinimalGeneratingBalanceAfterTimestamp: s.MinimalGeneratingBalanceAfterTimestamp,
		MinGeneratingBalance:                   s.MinGeneratingBalance,
		RequireSortedTransactionsAfter:         s.RequireSortedTransactionsAfter,
		MaxTxPerBlock:                          s.MaxTxPerBlock,
		MaxTimeDriftMs:                         s.MaxTimeDrift,
		MaxTxAgeInPoolPastMs:                   s.MaxTxAgeInPoolPast,
		MaxTxAgeInPoolFutureMs:                 s.MaxTxAgeInPoolFuture,
		InitialBaseTarget:                      s.MaxBaseTarget() / 50,
	}
}

// Config holds all node configuration.
type Config struct {
	NodeID       string          `toml:"node_id"`
	DataDir      string          `toml:"data_dir"`
	RPCPort      int             `toml:"rpc_port"`
	P2PPort      int             `toml:"p2p_port"`
	Genesis      GenesisConfig   `toml:"genesis"`
	Consensus    ConsensusConfig `toml:"consensus"`
	SeedPeers    []SeedPeer      `toml:"seed_peers,omitempty"`
	TLS          *TLSConfig      `toml:"tls,omitempty"`
	RPCAuthToken string          `toml:"rpc_auth_token,omitempty"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:  "node0",
		DataDir: "./data",
		RPCPort: 8545,
		P2PPort: 30303,
		Genesis: GenesisConfig{
			ChainID: "tolchain-dev",
			Alloc:   map[string]uint64{},
		},
		Consensus: defaultConsensusConfig(),
	}
}

// Load reads a TOML config file from path and validates required fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
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
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
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
	if err := c.Consensus.ToConsensusSettings().Validate(); err != nil {
		return err
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

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
