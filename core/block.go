package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/crypto"
)

// GenesisParentID is the canonical all-zeros parent id used by the genesis block.
const GenesisParentID = "0000000000000000000000000000000000000000000000000000000000000000"

// IsGenesisParentID reports whether id is the canonical genesis parent id.
func IsGenesisParentID(id string) bool {
	return id == GenesisParentID
}

// ConsensusData carries the fields that make a block's forging weight
// verifiable: the retargeted difficulty parameter and the chain-carried
// generation signature.
type ConsensusData struct {
	BaseTarget          uint64 `json:"base_target"`
	GenerationSignature string `json:"generation_signature"` // hex-encoded, 32 bytes
}

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Version   int           `json:"version"`
	Height    int64         `json:"height"`
	ParentID  string        `json:"parent_id"`
	StateRoot string        `json:"state_root"` // hash of state after executing this block
	TxRoot    string        `json:"tx_root"`    // hash of all transaction IDs
	Timestamp int64         `json:"timestamp"`  // milliseconds since the chain epoch
	Generator string        `json:"generator"`  // generator's pubkey hex
	Consensus ConsensusData `json:"consensus"`
}

// Block is a collection of transactions with a signed header.
//
// Score sits outside Header deliberately: it is a fork-weight the chain
// computes after the block is accepted (Blockchain.AddBlock), not something
// the generator signs for. It is carried as a decimal big-integer string
// since it grows unbounded over a long chain.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	ID           string         `json:"id"`
	Signature    string         `json:"signature"`
	Score        string         `json:"score,omitempty"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets ID and signs the block with the generator's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.ID = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.ID))
}

// Verify checks that b.ID matches the recomputed header hash and that the
// signature is valid. This prevents accepting blocks whose header was
// tampered with after signing.
func (b *Block) Verify(pub crypto.PublicKey) error {
	if computed := b.ComputeHash(); b.ID != computed {
		return fmt.Errorf("block id mismatch: stored %s computed %s", b.ID, computed)
	}
	return crypto.Verify(pub, []byte(b.ID), b.Signature)
}

// VerifyIntegrity checks the structural integrity of a block independently of
// the generator signature: id consistency and TxRoot correctness.
func (b *Block) VerifyIntegrity() error {
	if computed := b.ComputeHash(); b.ID != computed {
		return fmt.Errorf("block id mismatch: stored %s computed %s", b.ID, computed)
	}
	if txRoot := ComputeTxRoot(b.Transactions); b.Header.TxRoot != txRoot {
		return errors.New("tx_root mismatch")
	}
	return nil
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
// Each ID is length-prefixed (4-byte big-endian) to prevent boundary ambiguity
// where different ID sets could otherwise produce the same byte sequence.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, tx := range txs {
		id := []byte(tx.ID)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
		buf.Write(lenBuf[:])
		buf.Write(id)
	}
	return crypto.Hash(buf.Bytes())
}

// NewBlock creates an unsigned, unexecuted block. StateRoot is left blank;
// callers fill it in after executing Transactions and before calling Sign.
func NewBlock(height int64, parentID, generator string, consensus ConsensusData, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Version:   1,
			Height:    height,
			ParentID:  parentID,
			TxRoot:    ComputeTxRoot(txs),
			Generator: generator,
			Consensus: consensus,
		},
		Transactions: txs,
	}
}
