package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// BlockStore is the persistence interface used by Blockchain.
// Implementations live in the storage package.
type BlockStore interface {
	GetBlock(id string) (*Block, error)
	PutBlock(block *Block) error
	GetBlockByHeight(height int64) (*Block, error)
	PutBlockByHeight(height int64, id string) error
	// GetTip returns the current tip id, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	SetTip(id string) error
	// CommitBlock atomically writes the block, its height index entry, and
	// updates the tip pointer in a single batch operation.
	CommitBlock(block *Block) error
}

// Blockchain manages the canonical chain: stores blocks, tracks the tip, and
// maintains each block's cumulative fork-weight score.
//
// Blockchain satisfies consensus.History structurally (LastBlock, BlockByID,
// Parent, HeightOf, Height) without core importing consensus, keeping the
// dependency arrow pointing the conventional way: consensus depends on core,
// never the reverse.
type Blockchain struct {
	mu     sync.RWMutex
	store  BlockStore
	tip    *Block
	height int64
	log    *logrus.Entry
}

// NewBlockchain returns a Blockchain backed by store.
// Call Init() to load an existing chain tip from storage.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{
		store: store,
		log:   logrus.NewEntry(logrus.StandardLogger()).WithField("component", "chain"),
	}
}

// Init loads the persisted tip from the block store.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipID, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipID == "" {
		return nil // fresh chain
	}
	tip, err := bc.store.GetBlock(tipID)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	bc.tip = tip
	bc.height = tip.Header.Height
	return nil
}

// scoreIncrement returns the fork-weight a block with the given base target
// contributes, using the conventional 2^64/base_target rule. A zero base
// target (only possible for a not-yet-retargeted genesis) contributes zero.
func scoreIncrement(baseTarget uint64) *big.Int {
	if baseTarget == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Lsh(big.NewInt(1), 64)
	return num.Div(num, new(big.Int).SetUint64(baseTarget))
}

// computeScore returns parentScore + scoreIncrement(baseTarget) as a decimal
// string. An unparsable parentScore (including "") is treated as zero, which
// is exactly the genesis case.
func computeScore(parentScore string, baseTarget uint64) string {
	prev, ok := new(big.Int).SetString(parentScore, 10)
	if !ok {
		prev = big.NewInt(0)
	}
	return prev.Add(prev, scoreIncrement(baseTarget)).String()
}

// AddBlock validates height continuity and ParentID linkage, stamps the
// block's cumulative Score, then persists the block and advances the tip.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.tip != nil {
		if block.Header.Height != bc.height+1 {
			return fmt.Errorf("block height %d does not follow tip %d", block.Header.Height, bc.height)
		}
		if block.Header.ParentID != bc.tip.ID {
			return fmt.Errorf("parent_id mismatch: got %s want %s", block.Header.ParentID, bc.tip.ID)
		}
		block.Score = computeScore(bc.tip.Score, block.Header.Consensus.BaseTarget)
	} else {
		block.Score = computeScore("0", block.Header.Consensus.BaseTarget)
	}

	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	bc.tip = block
	bc.height = block.Header.Height
	bc.log.WithFields(logrus.Fields{
		"height": block.Header.Height,
		"id":     block.ID,
		"txs":    len(block.Transactions),
	}).Debug("block committed")
	return nil
}

// GetBlock returns a block by its id.
func (bc *Blockchain) GetBlock(id string) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlock(id)
}

// GetBlockByHeight returns the block at the given height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlockByHeight(height)
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the height of the current tip (0 for a fresh chain).
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}

// LastBlock returns the current tip. It is the consensus core's entry point
// into chain state and returns ErrNotFound on a chain with no genesis yet,
// which callers (Forger, Validator) treat as a stale/not-ready view.
func (bc *Blockchain) LastBlock() (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return nil, ErrNotFound
	}
	return bc.tip, nil
}

// BlockByID looks up a block by its id, regardless of whether it is the tip.
func (bc *Blockchain) BlockByID(id string) (*Block, error) {
	return bc.GetBlock(id)
}

// Parent walks depth hops back from block along ParentID links.
func (bc *Blockchain) Parent(block *Block, depth int) (*Block, error) {
	cur := block
	for i := 0; i < depth; i++ {
		if cur.Header.ParentID == "" || IsGenesisParentID(cur.Header.ParentID) {
			return nil, ErrNotFound
		}
		p, err := bc.GetBlock(cur.Header.ParentID)
		if err != nil {
			return nil, err
		}
		cur = p
	}
	return cur, nil
}

// HeightOf returns the height of the block with the given id, if known.
func (bc *Blockchain) HeightOf(id string) (int64, bool) {
	b, err := bc.GetBlock(id)
	if err != nil {
		return 0, false
	}
	return b.Header.Height, true
}
