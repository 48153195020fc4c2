package consensus

import (
	"math"
	"math/big"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// SiblingOrdering implements the total order over competing sibling blocks
// (same height, different ids) used to pick a canonical chain tip during
// reorg: the pair (score, -projected_generation_time), ascending, per
// spec.md §4.5. The caller picks whichever of two blocks Compare ranks
// greater, so higher score wins outright, and a score tie is broken by
// whichever block's generator had the earlier projected generation time
// (an earlier time negates to a larger value, so it still sorts greater).
// Only if both are indistinguishable does it fall back to lexicographically
// smaller ID, to keep the comparison total.
type SiblingOrdering struct {
	history  History
	state    core.State
	settings Settings
}

// NewSiblingOrdering builds a SiblingOrdering backed by history/state.
func NewSiblingOrdering(history History, state core.State, settings Settings) *SiblingOrdering {
	return &SiblingOrdering{history: history, state: state, settings: settings}
}

// Compare returns a positive number if b1 is preferred over b2, a negative
// number if b2 is preferred, and 0 if they are indistinguishable (only
// possible if b1 and b2 are the same block).
func (o *SiblingOrdering) Compare(b1, b2 *core.Block) int {
	s1, ok1 := new(big.Int).SetString(b1.Score, 10)
	if !ok1 {
		s1 = big.NewInt(0)
	}
	s2, ok2 := new(big.Int).SetString(b2.Score, 10)
	if !ok2 {
		s2 = big.NewInt(0)
	}
	if c := s1.Cmp(s2); c != 0 {
		return c // higher score => b1 preferred => positive
	}

	t1 := o.projectedGenerationTime(b1)
	t2 := o.projectedGenerationTime(b2)
	switch {
	case t1 < t2:
		return 1 // b1 projected earlier => -t1 > -t2 => b1 preferred
	case t1 > t2:
		return -1
	}

	if b1.ID < b2.ID {
		return 1
	}
	if b1.ID > b2.ID {
		return -1
	}
	return 0
}

// projectedGenerationTime returns next_block_generation_time(parent,
// b.generator), or b.Header.Timestamp if the parent/generator cannot be
// resolved or the projection is otherwise undefined, per spec.md §4.5.
func (o *SiblingOrdering) projectedGenerationTime(b *core.Block) int64 {
	parent, err := o.history.BlockByID(b.Header.ParentID)
	if err != nil {
		return b.Header.Timestamp
	}
	pub, err := crypto.PubKeyFromHex(b.Header.Generator)
	if err != nil {
		return b.Header.Timestamp
	}
	if t := o.NextBlockGenerationTime(parent, pub, o.settings); t != nil {
		return *t
	}
	return b.Header.Timestamp
}

// NextBlockGenerationTime estimates when account is expected to be able to
// forge on top of prev, assuming its effective balance stays fixed:
// hit*1000 / (base_target*balance) + prev.timestamp, in milliseconds. It
// returns nil if account's generating balance is zero (it will never clear
// the target), if computing the balance fails, or if the projection falls
// outside (0, MaxInt64).
func (o *SiblingOrdering) NextBlockGenerationTime(prev *core.Block, account crypto.PublicKey, settings Settings) *int64 {
	balance, err := GeneratingBalance(o.state, account, prev.Header.Height, settings)
	if err != nil || balance == 0 {
		return nil
	}
	hit, err := Hit(prev.Header.Consensus, account)
	if err != nil {
		return nil
	}
	if prev.Header.Consensus.BaseTarget == 0 {
		return nil
	}
	denom := new(big.Int).SetUint64(prev.Header.Consensus.BaseTarget)
	denom.Mul(denom, new(big.Int).SetUint64(balance))
	t := new(big.Int).Mul(hit, big.NewInt(1000))
	t.Div(t, denom)
	t.Add(t, big.NewInt(prev.Header.Timestamp))
	if t.Sign() <= 0 || t.Cmp(maxGenerationTime) >= 0 {
		return nil
	}
	genTimeMs := t.Int64()
	return &genTimeMs
}

var maxGenerationTime = big.NewInt(math.MaxInt64)
