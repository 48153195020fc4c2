package consensus

import (
	"errors"
	"math"
)

// Settings holds the chain-wide, immutable consensus constants. It is the
// consensus-core analogue of config.Config: every node on the same network
// must run with identical Settings or they will reject each other's blocks.
type Settings struct {
	// BlockVersion is stamped into every forged block's header.
	BlockVersion int

	// AverageBlockDelaySeconds is the target mean seconds between blocks.
	AverageBlockDelaySeconds int64

	// AvgBlockTimeDepth is how many blocks back BaseTarget averages over
	// when computing the recent mean block time (3, matching the classic
	// Nxt retarget window).
	AvgBlockTimeDepth int64

	// GeneratingBalanceDepthBumpHeight is the height at which the required
	// confirmation depth for generating balance increases from 50 to 1000
	// blocks (a one-time network hardening, mirroring Nxt's own history).
	GeneratingBalanceDepthBumpHeight int64

	// MinimalGeneratingBalanceAfterTimestamp gates the minimum effective
	// balance check: before this (ms) timestamp the check is skipped, to
	// accommodate a bootstrapping period with few funded accounts.
	MinimalGeneratingBalanceAfterTimestamp int64

	// MinGeneratingBalance is the minimum effective balance an account must
	// hold before it may forge at all.
	MinGeneratingBalance uint64

	// RequireSortedTransactionsAfter gates the in-block sort-order check:
	// blocks timestamped after this (ms) must list transactions in
	// TxBlockOrder.
	RequireSortedTransactionsAfter int64

	// MaxTxPerBlock caps how many transactions Pool.Pack may place in one
	// block.
	MaxTxPerBlock int

	// MaxTimeDrift is the maximum allowed difference (ms) between a block's
	// timestamp and the validator's corrected clock.
	MaxTimeDrift int64

	// MaxTxAgeInPoolPast is how long (ms) a transaction may sit in the pool
	// before it is pruned as stale.
	MaxTxAgeInPoolPast int64

	// MaxTxAgeInPoolFuture is how far (ms) into the future a transaction's
	// timestamp may be before it is rejected/pruned.
	MaxTxAgeInPoolFuture int64
}

// MaxBaseTarget returns the ceiling BaseTarget may ever retarget to:
// floor(MaxInt64 / AverageBlockDelaySeconds). This bounds how far
// retargeting can raise the base target (and so ease forging) when blocks
// keep arriving slower than the target delay.
func (s Settings) MaxBaseTarget() uint64 {
	if s.AverageBlockDelaySeconds <= 0 {
		return uint64(math.MaxInt64)
	}
	return uint64(math.MaxInt64) / uint64(s.AverageBlockDelaySeconds)
}

// Validate sanity-checks Settings, mirroring the shape of config.Config's
// own Validate.
func (s Settings) Validate() error {
	if s.AverageBlockDelaySeconds <= 0 {
		return errors.New("consensus: average_block_delay_seconds must be positive")
	}
	if s.AvgBlockTimeDepth <= 0 {
		return errors.New("consensus: avg_block_time_depth must be positive")
	}
	if s.MaxTxPerBlock <= 0 {
		return errors.New("consensus: max_tx_per_block must be positive")
	}
	if s.MaxTimeDrift <= 0 {
		return errors.New("consensus: max_time_drift must be positive")
	}
	if s.BlockVersion <= 0 {
		return errors.New("consensus: block_version must be positive")
	}
	return nil
}

// DefaultSettings returns the constants used by the reference network,
// expressed in milliseconds/seconds consistently with core.BlockHeader's
// millisecond timestamps.
func DefaultSettings() Settings {
	return Settings{
		BlockVersion:                           1,
		AverageBlockDelaySeconds:               60,
		AvgBlockTimeDepth:                      3,
		GeneratingBalanceDepthBumpHeight:       1_000_000,
		MinimalGeneratingBalanceAfterTimestamp: 0,
		MinGeneratingBalance:                   0,
		RequireSortedTransactionsAfter:         0,
		MaxTxPerBlock:                          255,
		MaxTimeDrift:                           15_000,
		MaxTxAgeInPoolPast:                     int64(60 * 60 * 1000),
		MaxTxAgeInPoolFuture:                   int64(5 * 60 * 1000),
	}
}
