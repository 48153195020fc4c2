package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

func TestGeneratorSignatureDeterministic(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	parent := core.ConsensusData{GenerationSignature: "ab"}

	sig1, err := GeneratorSignature(parent, pub)
	require.NoError(t, err)
	sig2, err := GeneratorSignature(parent, pub)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64) // 32 bytes hex-encoded
}

func TestGeneratorSignatureVariesByGenerator(t *testing.T) {
	_, pub1, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, pub2, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	parent := core.ConsensusData{GenerationSignature: "ab"}
	sig1, err := GeneratorSignature(parent, pub1)
	require.NoError(t, err)
	sig2, err := GeneratorSignature(parent, pub2)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig2)
}

func TestHitIsNonNegative(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	hit, err := Hit(core.ConsensusData{GenerationSignature: "cd"}, pub)
	require.NoError(t, err)
	assert.True(t, hit.Sign() >= 0)
}

func TestTargetGrowsWithElapsedTimeAndBalance(t *testing.T) {
	parent := &core.Block{Header: core.BlockHeader{
		Timestamp: 0,
		Consensus: core.ConsensusData{BaseTarget: 1000},
	}}

	t10 := Target(parent, 10_000, 100)
	t20 := Target(parent, 20_000, 100)
	assert.True(t, t20.Cmp(t10) > 0, "target should grow as time passes")

	tLowBal := Target(parent, 10_000, 10)
	assert.True(t, t10.Cmp(tLowBal) > 0, "target should grow with balance")
}

func TestTargetBeforeParentTimestampIsNonPositive(t *testing.T) {
	parent := &core.Block{Header: core.BlockHeader{
		Timestamp: 100_000,
		Consensus: core.ConsensusData{BaseTarget: 1000},
	}}
	target := Target(parent, 50_000, 100)
	assert.True(t, target.Sign() <= 0)
}

func TestBaseTargetCarriesForwardOnOddParentHeight(t *testing.T) {
	settings := DefaultSettings()
	parent := &core.Block{Header: core.BlockHeader{
		Height:    3,
		Timestamp: 0,
		Consensus: core.ConsensusData{BaseTarget: 12345},
	}}
	bt, err := BaseTarget(&stubHistory{}, settings, parent, 60_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), bt)
}

func TestBaseTargetRetargetsOnEvenParentHeight(t *testing.T) {
	settings := DefaultSettings()
	parent := &core.Block{Header: core.BlockHeader{
		Height:    4,
		Timestamp: 0,
		Consensus: core.ConsensusData{BaseTarget: 100_000},
	}}
	// Blocks arriving much slower than the target delay should push base
	// target up (easier future blocks).
	hist := &stubHistory{
		parent: &core.Block{Header: core.BlockHeader{Height: 2, Timestamp: -600_000}},
	}
	bt, err := BaseTarget(hist, settings, parent, 600_000)
	require.NoError(t, err)
	assert.Greater(t, bt, uint64(100_000))
}

func TestBaseTargetNeverExceedsMax(t *testing.T) {
	settings := DefaultSettings()
	maxBT := settings.MaxBaseTarget()
	parent := &core.Block{Header: core.BlockHeader{
		Height:    4,
		Timestamp: 0,
		Consensus: core.ConsensusData{BaseTarget: maxBT},
	}}
	hist := &stubHistory{
		parent: &core.Block{Header: core.BlockHeader{Height: 2, Timestamp: -10_000_000}},
	}
	bt, err := BaseTarget(hist, settings, parent, 10_000_000)
	require.NoError(t, err)
	assert.LessOrEqual(t, bt, maxBT)
}

func TestNormalizeScalesToAverageDelay(t *testing.T) {
	assert.Equal(t, float64(53), normalize(60, 53))
	assert.InDelta(t, 26.5, normalize(30, 53), 0.0001)
}

// stubHistory is a minimal History double for kernel-level tests that never
// need LastBlock/BlockByID/HeightOf/Height.
type stubHistory struct {
	parent *core.Block
}

func (s *stubHistory) LastBlock() (*core.Block, error)            { return nil, core.ErrNotFound }
func (s *stubHistory) BlockByID(id string) (*core.Block, error)   { return nil, core.ErrNotFound }
func (s *stubHistory) HeightOf(id string) (int64, bool)           { return 0, false }
func (s *stubHistory) Height() int64                              { return 0 }
func (s *stubHistory) Parent(block *core.Block, depth int) (*core.Block, error) {
	if s.parent == nil {
		return nil, core.ErrNotFound
	}
	return s.parent, nil
}
