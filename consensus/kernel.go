package consensus

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// generationSignatureBytes decodes a block's stored hex generation signature
// back into its 32 raw bytes.
func generationSignatureBytes(consensusData core.ConsensusData) ([]byte, error) {
	b, err := hex.DecodeString(consensusData.GenerationSignature)
	if err != nil {
		return nil, fmt.Errorf("decode generation_signature: %w", err)
	}
	return b, nil
}

// GeneratorSignature derives the next generation signature from the parent
// block's consensus data and the candidate generator's public key. It is
// pure: same inputs always produce the same 32-byte digest, hex-encoded.
func GeneratorSignature(parentConsensus core.ConsensusData, generator crypto.PublicKey) (string, error) {
	prevSig, err := generationSignatureBytes(parentConsensus)
	if err != nil {
		return "", err
	}
	digest := Digest(prevSig, []byte(generator))
	return hex.EncodeToString(digest[:]), nil
}

// Hit derives the generator's hit value for this round from the generation
// signature it would produce on top of parentConsensus. The first 8 bytes of
// the digest are byte-reversed and read as an unsigned big-endian integer,
// following the classic Nxt hit derivation.
func Hit(parentConsensus core.ConsensusData, generator crypto.PublicKey) (*big.Int, error) {
	prevSig, err := generationSignatureBytes(parentConsensus)
	if err != nil {
		return nil, err
	}
	digest := Digest(prevSig, []byte(generator))
	first8 := make([]byte, 8)
	copy(first8, digest[:8])
	for i, j := 0, len(first8)-1; i < j; i, j = i+1, j-1 {
		first8[i], first8[j] = first8[j], first8[i]
	}
	return new(big.Int).SetBytes(first8), nil
}

// Target returns the threshold the generator's hit must stay below to be
// eligible this round: base_target * elapsed_seconds * effective_balance.
// elapsed_seconds (and hence Target) can be zero or negative if nowMs is not
// after the parent block's timestamp, which correctly denies eligibility
// since Hit is never negative.
func Target(parent *core.Block, nowMs int64, effectiveBalance uint64) *big.Int {
	etaSeconds := (nowMs - parent.Header.Timestamp) / 1000
	t := big.NewInt(etaSeconds)
	t.Mul(t, new(big.Int).SetUint64(parent.Header.Consensus.BaseTarget))
	t.Mul(t, new(big.Int).SetUint64(effectiveBalance))
	return t
}

// normalize rescales a limit expressed for a 60s block time to the network's
// configured average block delay. float64 is sufficient precision here since
// avg_delay_s is a fixed, node-configured constant, not expected to change at
// runtime.
func normalize(avgDelayS int64, v float64) float64 {
	return v * float64(avgDelayS) / 60.0
}

// BaseTarget computes the difficulty parameter for the block that extends
// parent. Retargeting only happens when the parent's own height is even;
// otherwise the parent's base target carries forward unchanged. history is
// used to find the anchor block AvgBlockTimeDepth-1 hops back from parent,
// over which the recent mean block time is measured.
func BaseTarget(history History, settings Settings, parent *core.Block, nowMs int64) (uint64, error) {
	if parent.Header.Height%2 != 0 {
		return parent.Header.Consensus.BaseTarget, nil
	}

	maxBT := settings.MaxBaseTarget()
	avgDelayS := settings.AverageBlockDelaySeconds

	var blocktimeAvgS float64
	anchor, err := history.Parent(parent, int(settings.AvgBlockTimeDepth-1))
	if err == nil && anchor != nil {
		blocktimeAvgS = float64(nowMs-anchor.Header.Timestamp) / float64(settings.AvgBlockTimeDepth) / 1000.0
	} else {
		blocktimeAvgS = float64(nowMs-parent.Header.Timestamp) / 1000.0
	}

	minLimit := normalize(avgDelayS, 53)
	maxLimit := normalize(avgDelayS, 67)
	gamma := normalize(avgDelayS, 64)
	prevBT := float64(parent.Header.Consensus.BaseTarget)

	var bt float64
	if blocktimeAvgS > float64(avgDelayS) {
		lim := blocktimeAvgS
		if lim > maxLimit {
			lim = maxLimit
		}
		bt = prevBT * lim / float64(avgDelayS)
	} else {
		lim := blocktimeAvgS
		if lim < minLimit {
			lim = minLimit
		}
		bt = prevBT - prevBT*gamma*(float64(avgDelayS)-lim)/(float64(avgDelayS)*100)
	}

	// Truncate toward zero, then clamp to [1, max]. A base target of zero
	// would make every future target zero and halt the chain; retargeting
	// from a non-zero value must stay non-zero.
	btTrunc := math.Trunc(bt)
	btInt := uint64(1)
	if btTrunc >= 1 {
		btInt = uint64(btTrunc)
	}
	if btInt > maxBT {
		btInt = maxBT
	}
	return btInt, nil
}

// GeneratingBalance returns account's effective balance for forging purposes
// at atHeight: the minimum balance held over the last 50 blocks, or the last
// 1000 once the chain has passed GeneratingBalanceDepthBumpHeight.
func GeneratingBalance(state core.State, account crypto.PublicKey, atHeight int64, settings Settings) (uint64, error) {
	depth := int64(50)
	if atHeight >= settings.GeneratingBalanceDepthBumpHeight {
		depth = 1000
	}
	return state.EffectiveBalanceWithConfirmations(account.Hex(), atHeight, depth)
}
