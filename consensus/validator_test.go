package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/vm"
)

// chainFixture wires a minimal in-memory chain with a single, well-funded
// generator, ready to forge and validate blocks on top of genesis.
type chainFixture struct {
	bc       *core.Blockchain
	state    core.State
	settings Settings
	priv     crypto.PrivateKey
	forger   *Forger
	v        *Validator
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	state := testutil.NewStateDB()
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	require.NoError(t, bc.Init())

	settings := DefaultSettings()

	state.BeginBlock(1)
	require.NoError(t, state.SetAccount(&core.Account{Address: pub.Hex(), Balance: 10_000_000}))
	root := state.ComputeRoot()
	require.NoError(t, state.Commit())

	genesis := core.NewBlock(1, core.GenesisParentID, pub.Hex(), core.ConsensusData{
		BaseTarget:          settings.MaxBaseTarget() / 50,
		GenerationSignature: crypto.Hash([]byte("test-chain")),
	}, nil)
	genesis.Header.StateRoot = root
	genesis.Header.Timestamp = 0
	genesis.Sign(priv)
	require.NoError(t, bc.AddBlock(genesis))

	emitter := events.NewEmitter()
	exec := vm.NewExecutor(state, emitter)
	pool := NewPool()
	builder := NewBlockBuilder(bc, exec, state)
	txValidator := NewExecutorTransactionValidator(state)
	forger := NewForger(settings, bc, state, pool, txValidator, builder, nil)
	v := NewValidator(settings, bc, state, nil)

	return &chainFixture{bc: bc, state: state, settings: settings, priv: priv, forger: forger, v: v}
}

// forgeEventually retries TryGenerateNextBlock at increasing timestamps
// until the single generator clears its target, which is guaranteed given
// enough elapsed time since it holds the entire genesis balance.
func forgeEventually(t *testing.T, f *chainFixture) *core.Block {
	t.Helper()
	for nowMs := int64(1000); nowMs < 24*60*60*1000; nowMs += 1000 {
		block, err := f.forger.TryGenerateNextBlock(f.priv, nowMs)
		require.NoError(t, err)
		if block != nil {
			return block
		}
	}
	t.Fatal("generator never became eligible")
	return nil
}

func TestValidatorAcceptsForgedBlock(t *testing.T) {
	f := newChainFixture(t)
	block := forgeEventually(t, f)
	assert.True(t, f.v.IsValid(block, block.Header.Timestamp))
	assert.NoError(t, f.v.IsValidErr(block, block.Header.Timestamp))
}

func TestValidatorRejectsBadSignature(t *testing.T) {
	f := newChainFixture(t)
	block := forgeEventually(t, f)
	block.Signature = "00"
	assert.False(t, f.v.IsValid(block, block.Header.Timestamp))
	assert.ErrorIs(t, f.v.IsValidErr(block, block.Header.Timestamp), ErrInvalidBlock)
}

func TestValidatorRejectsTamperedHeight(t *testing.T) {
	f := newChainFixture(t)
	block := forgeEventually(t, f)
	block.Header.Height = block.Header.Height + 5
	assert.False(t, f.v.IsValid(block, block.Header.Timestamp))
}

func TestValidatorRejectsExcessiveTimeDrift(t *testing.T) {
	f := newChainFixture(t)
	block := forgeEventually(t, f)
	farFuture := block.Header.Timestamp + f.settings.MaxTimeDrift + 1000
	assert.False(t, f.v.IsValid(block, farFuture))
}

// emptyHistory reports an empty chain (Height() == 0, no block resolvable),
// the state an actual fresh node's History is in right before genesis is
// validated and committed.
type emptyHistory struct{}

func (emptyHistory) LastBlock() (*core.Block, error)          { return nil, core.ErrNotFound }
func (emptyHistory) BlockByID(id string) (*core.Block, error) { return nil, core.ErrNotFound }
func (emptyHistory) HeightOf(id string) (int64, bool)         { return 0, false }
func (emptyHistory) Height() int64                            { return 0 }
func (emptyHistory) Parent(block *core.Block, depth int) (*core.Block, error) {
	return nil, core.ErrNotFound
}

// TestValidatorAcceptsGenesisFromEmptyHistory exercises the genesis special
// case through IsValid itself (not by bypassing it via bc.AddBlock), against
// a History that has never seen a block, matching core.Blockchain.Height()'s
// documented 0-before-genesis behavior.
func TestValidatorAcceptsGenesisFromEmptyHistory(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	genesis := core.NewBlock(1, core.GenesisParentID, pub.Hex(), core.ConsensusData{
		BaseTarget:          1000,
		GenerationSignature: crypto.Hash([]byte("genesis")),
	}, nil)
	genesis.Header.Timestamp = 0
	genesis.Sign(priv)

	v := NewValidator(DefaultSettings(), emptyHistory{}, nil, nil)
	assert.True(t, v.IsValid(genesis, 0))
	assert.NoError(t, v.IsValidErr(genesis, 0))
}

func TestValidatorRejectsWrongBaseTarget(t *testing.T) {
	f := newChainFixture(t)
	block := forgeEventually(t, f)
	block.Header.Consensus.BaseTarget++
	block.Sign(f.priv) // re-sign so the tamper isn't caught by the signature check first
	assert.False(t, f.v.IsValid(block, block.Header.Timestamp))
}
