package consensus

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// Validator checks an inbound block against every consensus acceptance
// predicate. Grounded on the original ValidateBlock's linkage/timestamp/
// signature checks, generalized to the full predicate chain and its
// log-don't-propagate rule: a structurally-bad block is logged and
// rejected, never returned up the call stack as an error by IsValid.
type Validator struct {
	settings Settings
	history  History
	state    core.State
	log      *logrus.Entry
}

// NewValidator wires a Validator. log may be nil, in which case a default
// logrus entry is used.
func NewValidator(settings Settings, history History, state core.State, log *logrus.Entry) *Validator {
	if log == nil {
		log = defaultLogger()
	}
	return &Validator{settings: settings, history: history, state: state, log: log}
}

// IsValid reports whether block is acceptable, logging any rejection reason
// at error level and swallowing it: callers that only need a boolean should
// use this.
func (v *Validator) IsValid(block *core.Block, nowMs int64) bool {
	ok, reason := v.check(block, nowMs)
	if !ok {
		v.log.WithField("id", block.ID).Error(reason)
	}
	return ok
}

// IsValidErr reports the same verdict as IsValid but returns ErrInvalidBlock
// (wrapping the reason) instead of swallowing it, for callers that need to
// propagate the failure (e.g. a sync handler rejecting a peer's block).
func (v *Validator) IsValidErr(block *core.Block, nowMs int64) error {
	ok, reason := v.check(block, nowMs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidBlock, reason)
	}
	return nil
}

// check runs the acceptance predicates in order, short-circuiting on the
// first failure and returning a human-readable reason.
func (v *Validator) check(block *core.Block, nowMs int64) (bool, string) {
	// 1. Timestamp drift.
	drift := block.Header.Timestamp - nowMs
	if drift < 0 {
		drift = -drift
	}
	if drift >= v.settings.MaxTimeDrift {
		return false, "timestamp outside allowed drift"
	}

	// 2. Transaction order, once the network requires it.
	if block.Header.Timestamp > v.settings.RequireSortedTransactionsAfter {
		if !sort.SliceIsSorted(block.Transactions, func(i, j int) bool {
			return TxBlockOrder(block.Transactions[i], block.Transactions[j])
		}) {
			return false, "transactions not in block order"
		}
	}

	// 3. Parent lookup, unless this is the genesis special case.
	parent, err := v.history.BlockByID(block.Header.ParentID)
	if err != nil {
		if v.history.Height() == 0 {
			return true, ""
		}
		return false, "parent block not found"
	}

	// 4. Height continuity.
	if block.Header.Height != parent.Header.Height+1 {
		return false, "height does not follow parent"
	}

	// 5. Structural integrity: id and tx_root.
	if err := block.VerifyIntegrity(); err != nil {
		return false, "integrity check failed: " + err.Error()
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Generator)
	if err != nil {
		return false, "invalid generator pubkey"
	}
	if err := block.Verify(pub); err != nil {
		return false, "signature invalid"
	}

	// 6. base_target must match what BaseTarget recomputes.
	wantBT, err := BaseTarget(v.history, v.settings, parent, block.Header.Timestamp)
	if err != nil {
		return false, "base target recomputation failed"
	}
	if block.Header.Consensus.BaseTarget != wantBT {
		return false, "base_target mismatch"
	}

	// 7. generation_signature must match what the parent predicts for this
	// generator.
	wantSig, err := GeneratorSignature(parent.Header.Consensus, pub)
	if err != nil {
		return false, "generator signature recomputation failed"
	}
	if block.Header.Consensus.GenerationSignature != wantSig {
		return false, "generation_signature mismatch"
	}

	// 8. Minimum generating balance, gated on timestamp for backward
	// compatibility with history predating the rule.
	bal, err := GeneratingBalance(v.state, pub, parent.Header.Height, v.settings)
	if err != nil {
		return false, "generating balance lookup failed"
	}
	if block.Header.Timestamp >= v.settings.MinimalGeneratingBalanceAfterTimestamp {
		if bal < v.settings.MinGeneratingBalance {
			return false, "generator below minimum generating balance"
		}
	}

	// 9. Hit/target eligibility, evaluated as of the parent's height (the
	// generator's eligibility was decided there). Unconditional: unlike step
	// 8, there is no timestamp gate on this check.
	hitV, err := Hit(parent.Header.Consensus, pub)
	if err != nil {
		return false, "hit recomputation failed"
	}
	targetV := Target(parent, block.Header.Timestamp, bal)
	if hitV.Cmp(targetV) >= 0 {
		return false, "hit does not clear target"
	}

	return true, ""
}
