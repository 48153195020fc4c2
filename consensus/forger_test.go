package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolchain/crypto"
)

// TestForgerZeroBalanceNeverForges: an account with no stake has a target of
// zero at every timestamp, so it can never clear its hit.
func TestForgerZeroBalanceNeverForges(t *testing.T) {
	f := newChainFixture(t)
	otherPriv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	block, err := f.forger.TryGenerateNextBlock(otherPriv, 60_000)
	require.NoError(t, err)
	assert.Nil(t, block)
}

// TestForgerBelowMinimumBalanceAborts: with a minimum generating balance
// above the account's effective balance, the attempt is abandoned before the
// hit/target comparison is even reached.
func TestForgerBelowMinimumBalanceAborts(t *testing.T) {
	f := newChainFixture(t)
	settings := f.settings
	settings.MinGeneratingBalance = 100_000_000 // fixture funds only 10M

	forger := NewForger(settings, f.bc, f.state, NewPool(), acceptAllValidator{}, nil, nil)
	block, err := forger.TryGenerateNextBlock(f.priv, 60_000)
	require.NoError(t, err)
	assert.Nil(t, block)
}

// TestForgerEmptyHistoryReturnsNothing: a node without a genesis block yet
// treats "no last block" as a routine not-ready view, not an error.
func TestForgerEmptyHistoryReturnsNothing(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	forger := NewForger(DefaultSettings(), emptyHistory{}, nil, NewPool(), acceptAllValidator{}, nil, nil)
	block, err := forger.TryGenerateNextBlock(priv, 60_000)
	require.NoError(t, err)
	assert.Nil(t, block)
}

// TestForgedBlockCarriesDerivedGenerationSignature: the generation signature
// of a forged block must equal the digest of the parent's signature
// concatenated with the generator's public key — the sole derivation rule.
func TestForgedBlockCarriesDerivedGenerationSignature(t *testing.T) {
	f := newChainFixture(t)
	block := forgeEventually(t, f)

	parent, err := f.bc.LastBlock()
	require.NoError(t, err)
	require.Equal(t, parent.ID, block.Header.ParentID)

	wantSig, err := GeneratorSignature(parent.Header.Consensus, f.priv.Public())
	require.NoError(t, err)
	assert.Equal(t, wantSig, block.Header.Consensus.GenerationSignature)

	wantBT, err := BaseTarget(f.bc, f.settings, parent, block.Header.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, wantBT, block.Header.Consensus.BaseTarget)
}
