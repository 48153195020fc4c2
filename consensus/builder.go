package consensus

import (
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/vm"
)

// defaultBuilder is the production BlockBuilder: it assembles a block on top
// of the current tip, executes its transactions against state, stamps the
// resulting StateRoot, and signs. Grounded on the original ProduceBlock
// sequence (assemble -> execute -> root -> sign), generalized behind the
// BlockBuilder interface so Forger never touches core.NewBlock directly.
type defaultBuilder struct {
	history History
	exec    *vm.Executor
	state   core.State
}

// NewBlockBuilder returns the production BlockBuilder.
func NewBlockBuilder(history History, exec *vm.Executor, state core.State) BlockBuilder {
	return &defaultBuilder{history: history, exec: exec, state: state}
}

func (b *defaultBuilder) BuildAndSign(version int, timestampMs int64, parentID string, consensusData core.ConsensusData, txs []*core.Transaction, signer crypto.PrivateKey) (*core.Block, error) {
	last, err := b.history.LastBlock()
	if err != nil {
		return nil, fmt.Errorf("last block: %w", err)
	}

	block := core.NewBlock(last.Header.Height+1, parentID, signer.Public().Hex(), consensusData, txs)
	block.Header.Version = version
	block.Header.Timestamp = timestampMs

	b.state.BeginBlock(block.Header.Height)
	if err := b.exec.ExecuteBlock(block); err != nil {
		return nil, fmt.Errorf("execute block: %w", err)
	}

	// Compute root from the write buffer before flushing so a later failure
	// to persist leaves the state exactly as it was before this attempt.
	block.Header.StateRoot = b.state.ComputeRoot()
	block.Sign(signer)
	return block, nil
}
