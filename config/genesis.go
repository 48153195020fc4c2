package config

import (
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// CreateGenesisBlock builds and signs the chain's first block (height 1)
// from the config's Alloc map. It also sets initial account balances in
// state and commits them.
//
// Height starts at 1, not 0: the consensus core's parent-height-parity
// retarget rule and generating-balance depth bump are both phrased in terms
// of "height of genesis is 1", so matching that convention here avoids an
// off-by-one translation everywhere else a height is read.
func CreateGenesisBlock(cfg *Config, state core.State, generatorPriv crypto.PrivateKey) (*core.Block, error) {
	generatorPub := generatorPriv.Public()

	state.BeginBlock(1)
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: balance,
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	consensusData := core.ConsensusData{
		BaseTarget: cfg.Consensus.InitialBaseTarget,
		// No parent exists to derive a generation signature from, so genesis
		// seeds it deterministically from the chain id; every subsequent
		// signature is derived from this one.
		GenerationSignature: crypto.Hash([]byte(cfg.Genesis.ChainID)),
	}

	block := core.NewBlock(1, core.GenesisParentID, generatorPub.Hex(), consensusData, nil)
	block.Header.StateRoot = stateRoot
	block.Header.Timestamp = cfg.Genesis.GenesisTimestampMs
	block.Sign(generatorPriv)
	return block, nil
}
