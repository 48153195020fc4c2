package consensus

import (
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// History is the read-only view over the chain that the consensus core
// needs. core.Blockchain satisfies this interface; the core package never
// imports consensus, so the dependency only runs one way.
type History interface {
	// LastBlock returns the current tip, or an error (core.ErrNotFound) if
	// the chain has no genesis yet.
	LastBlock() (*core.Block, error)
	// BlockByID looks up any block by id, tip or not.
	BlockByID(id string) (*core.Block, error)
	// Parent walks depth hops back along ParentID links from block.
	Parent(block *core.Block, depth int) (*core.Block, error)
	// HeightOf returns the height of the block with the given id, if known.
	HeightOf(id string) (int64, bool)
	// Height returns the current tip height.
	Height() int64
}

// TransactionValidator is the pool's oracle for which pending transactions
// may be packed into the next block. It is intentionally narrow: Pool.Pack
// treats it as a black box that may reject transactions for any reason
// (insufficient balance, bad nonce, unknown tx type, ...).
type TransactionValidator interface {
	// Validate partitions txs (already pool-ordered) into those that should
	// be dropped from the pool outright (rejected) and those acceptable for
	// inclusion (accepted), evaluated against state as of atHeight.
	Validate(settings Settings, state core.State, txs []*core.Transaction, atHeight int64, nowMs int64) (rejected, accepted []*core.Transaction)
}

// BlockBuilder assembles, executes and signs a new block. The consensus core
// never inspects a signing algorithm directly; it only calls BuildAndSign.
type BlockBuilder interface {
	BuildAndSign(version int, timestampMs int64, parentID string, consensusData core.ConsensusData, txs []*core.Transaction, signer crypto.PrivateKey) (*core.Block, error)
}

// TimeSource supplies the local node's corrected clock, abstracted so tests
// can inject deterministic timestamps.
type TimeSource interface {
	CorrectedTimeMs() int64
}
