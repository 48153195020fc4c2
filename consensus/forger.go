package consensus

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// Forger decides, once per round, whether the local account may produce the
// next block, and if so builds and signs it. Grounded on the original
// ProduceBlock flow (assemble -> execute -> sign -> commit -> emit -> clear
// pool), re-expressed around hit/target eligibility instead of a round-robin
// proposer index.
type Forger struct {
	settings  Settings
	history   History
	state     core.State
	pool      *Pool
	validator TransactionValidator
	builder   BlockBuilder
	log       *logrus.Entry
}

// NewForger wires a Forger from its collaborators. log may be nil, in which
// case a default logrus entry is used.
func NewForger(settings Settings, history History, state core.State, pool *Pool, validator TransactionValidator, builder BlockBuilder, log *logrus.Entry) *Forger {
	if log == nil {
		log = defaultLogger()
	}
	return &Forger{
		settings:  settings,
		history:   history,
		state:     state,
		pool:      pool,
		validator: validator,
		builder:   builder,
		log:       log,
	}
}

// TryGenerateNextBlock attempts to forge the next block for account at
// nowMs. It returns (nil, nil) whenever the account simply isn't eligible
// this round or the view is momentarily stale — both are routine outcomes,
// never surfaced as an error. A missing last block and a below-minimum
// balance are logged at debug; a hit that does not clear the target is not
// logged. Any other non-nil error is
// a genuine failure (e.g. a collaborator returned an unexpected error) that
// callers should treat as fatal to the forging attempt.
func (f *Forger) TryGenerateNextBlock(account crypto.PrivateKey, nowMs int64) (*core.Block, error) {
	last, err := f.history.LastBlock()
	if err != nil {
		f.log.WithError(err).Debug("no last block yet; cannot forge")
		return nil, nil
	}

	pub := account.Public()
	bal, err := GeneratingBalance(f.state, pub, last.Header.Height, f.settings)
	if err != nil {
		return nil, fmt.Errorf("generating balance: %w", err)
	}
	if bal < f.settings.MinGeneratingBalance {
		f.log.WithFields(logrus.Fields{"account": pub.Hex(), "balance": bal}).Debug("below minimum generating balance")
		return nil, nil
	}

	hitV, err := Hit(last.Header.Consensus, pub)
	if err != nil {
		return nil, fmt.Errorf("hit: %w", err)
	}
	targetV := Target(last, nowMs, bal)
	if hitV.Cmp(targetV) >= 0 {
		return nil, nil // not eligible this round: not logged, this is the common case
	}

	baseTarget, err := BaseTarget(f.history, f.settings, last, nowMs)
	if err != nil {
		return nil, fmt.Errorf("base target: %w", err)
	}
	genSig, err := GeneratorSignature(last.Header.Consensus, pub)
	if err != nil {
		return nil, fmt.Errorf("generator signature: %w", err)
	}

	txs, err := f.pool.Pack(f.settings, f.state, f.validator, last.Header.Height, nowMs)
	if err != nil {
		return nil, fmt.Errorf("pack pool: %w", err)
	}

	consensusData := core.ConsensusData{BaseTarget: baseTarget, GenerationSignature: genSig}
	block, err := f.builder.BuildAndSign(f.settings.BlockVersion, nowMs, last.ID, consensusData, txs, account)
	if err != nil {
		return nil, fmt.Errorf("build block: %w", err)
	}

	f.log.WithFields(logrus.Fields{"height": block.Header.Height, "id": block.ID, "txs": len(txs)}).Info("forged block")
	return block, nil
}
