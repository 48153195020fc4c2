package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolchain/core"
)

// feePerByte approximates a transaction's fee density using its JSON-encoded
// length as the byte-size proxy. Returns 0 if the transaction cannot be
// marshaled (which cannot happen in practice) or has zero size.
func feePerByte(tx *core.Transaction) float64 {
	data, err := json.Marshal(tx)
	if err != nil || len(data) == 0 {
		return 0
	}
	return float64(tx.Fee) / float64(len(data))
}

// TxPoolOrder is the order transactions are considered in when packing a
// block: highest fee-per-byte first (so dense-paying transactions get
// priority over merely high-fee ones), ties broken by earliest timestamp,
// then by ID for a fully deterministic order.
func TxPoolOrder(a, b *core.Transaction) bool {
	fa, fb := feePerByte(a), feePerByte(b)
	if fa != fb {
		return fa > fb
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// TxBlockOrder is the order transactions must appear in within a signed
// block: grouped by sender then by nonce, so a single sender's transactions
// always apply in nonce order regardless of pool arrival order. Ties (same
// sender, same nonce — which should never both be accepted) break on ID.
func TxBlockOrder(a, b *core.Transaction) bool {
	if a.From != b.From {
		return a.From < b.From
	}
	if a.Nonce != b.Nonce {
		return a.Nonce < b.Nonce
	}
	return a.ID < b.ID
}

// Pool is the unconfirmed-transaction buffer. Its mutators (Add,
// RemoveApplied, Prune, Pack) are serialized under a single mutex: unlike
// Kernel/Validator, Pool carries real state and is not safe for concurrent
// mutation without coordination.
type Pool struct {
	mu  sync.Mutex
	txs map[string]*core.Transaction
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{txs: make(map[string]*core.Transaction)}
}

// Add validates and inserts tx. Returns an error if the signature is
// invalid, the transaction already sits in the pool, or its timestamp falls
// outside [now-MaxTxAgeInPoolPast, now+MaxTxAgeInPoolFuture].
func (p *Pool) Add(settings Settings, tx *core.Transaction, nowMs int64) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid transaction signature: %w", err)
	}
	age := nowMs - tx.Timestamp
	if age > settings.MaxTxAgeInPoolPast {
		return errors.New("transaction too old for the pool")
	}
	if -age > settings.MaxTxAgeInPoolFuture {
		return errors.New("transaction timestamped too far in the future")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.txs[tx.ID]; exists {
		return errors.New("transaction already in pool")
	}
	p.txs[tx.ID] = tx
	return nil
}

// pruneLocked drops transactions that have aged out of the acceptance
// window. Callers must hold p.mu.
func (p *Pool) pruneLocked(settings Settings, nowMs int64) {
	for id, tx := range p.txs {
		age := nowMs - tx.Timestamp
		if age > settings.MaxTxAgeInPoolPast || -age > settings.MaxTxAgeInPoolFuture {
			delete(p.txs, id)
		}
	}
}

// Prune removes stale transactions without packing a block.
func (p *Pool) Prune(settings Settings, nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(settings, nowMs)
}

// RemoveApplied drops transactions that were just included in a committed
// block, then runs the normal prune pass.
func (p *Pool) RemoveApplied(ids []string, settings Settings, nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.txs, id)
	}
	p.pruneLocked(settings, nowMs)
}

// Size returns the current number of pooled transactions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Pack runs the five-step pipeline a Forger uses to fill a new block: prune
// stale entries, order the remainder by TxPoolOrder, ask validator which
// survive (dropping rejects from the pool), cap at MaxTxPerBlock, then
// re-sort the chosen set into TxBlockOrder and re-validate once more since
// reordering can change which nonce-sequence is valid for a given sender.
func (p *Pool) Pack(settings Settings, state core.State, validator TransactionValidator, atHeight, nowMs int64) ([]*core.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(settings, nowMs)

	candidates := make([]*core.Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		candidates = append(candidates, tx)
	}
	sort.Slice(candidates, func(i, j int) bool { return TxPoolOrder(candidates[i], candidates[j]) })

	rejected, accepted := validator.Validate(settings, state, candidates, atHeight, nowMs)
	for _, tx := range rejected {
		delete(p.txs, tx.ID)
	}

	if len(accepted) > settings.MaxTxPerBlock {
		accepted = accepted[:settings.MaxTxPerBlock]
	}
	sort.Slice(accepted, func(i, j int) bool { return TxBlockOrder(accepted[i], accepted[j]) })

	rejected2, accepted2 := validator.Validate(settings, state, accepted, atHeight, nowMs)
	for _, tx := range rejected2 {
		delete(p.txs, tx.ID)
	}
	return accepted2, nil
}
