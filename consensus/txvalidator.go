package consensus

import (
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/vm"
)

// ExecutorTransactionValidator is the production TransactionValidator. It
// dry-runs the candidate transactions in sequence through a vm.Executor bound
// to a nil emitter (so validation never emits spurious events), then rolls
// the state back — acceptance here never mutates committed state.
type ExecutorTransactionValidator struct {
	exec *vm.Executor
}

// NewExecutorTransactionValidator wraps state in a validation-only executor.
func NewExecutorTransactionValidator(state core.State) *ExecutorTransactionValidator {
	return &ExecutorTransactionValidator{exec: vm.NewExecutor(state, nil)}
}

// Validate runs txs in order against a snapshot of state, each on top of the
// ones accepted before it (so a sender's consecutive nonces can all be
// accepted), partitions them into rejected/accepted, and reverts the state
// afterwards regardless of outcome.
func (v *ExecutorTransactionValidator) Validate(settings Settings, state core.State, txs []*core.Transaction, atHeight, nowMs int64) (rejected, accepted []*core.Transaction) {
	probe := &core.Block{Header: core.BlockHeader{Height: atHeight, Timestamp: nowMs}}
	snapID, err := state.Snapshot()
	if err != nil {
		return txs, nil
	}
	for _, tx := range txs {
		// ExecuteTx rolls back a failing tx by itself.
		if err := v.exec.ExecuteTx(probe, tx); err != nil {
			rejected = append(rejected, tx)
			continue
		}
		accepted = append(accepted, tx)
	}
	_ = state.RevertToSnapshot(snapID)
	return rejected, accepted
}
