package chain

import (
	"strings"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
)

// Block groups an ordered list of transactions and links to its predecessor
// through PreviousHash. A block is never mutated once appended to the chain.
type Block struct {
	Index        int            `json:"index"`
	Transactions []*Transaction `json:"transactions"`
	Timestamp    float64        `json:"timestamp"`
	PreviousHash string         `json:"previous_hash"`
	Nonce        int            `json:"nonce"`
	Hash         string         `json:"hash"`
}

// NewBlock creates a block at the given position and computes its hash with
// nonce 0.
func NewBlock(index int, transactions []*Transaction, previousHash string) *Block {
	block := &Block{
		Index:        index,
		Transactions: transactions,
		Timestamp:    unixNow(),
		PreviousHash: previousHash,
	}
	block.Hash = block.ComputeHash()
	return block
}

// NewGenesisBlock creates the first block of a chain. Every field is fixed so
// all nodes derive the same genesis hash.
func NewGenesisBlock() *Block {
	block := &Block{
		Index:        0,
		Transactions: []*Transaction{},
		Timestamp:    0,
		PreviousHash: "0",
	}
	block.Hash = block.ComputeHash()
	return block
}

// ComputeHash returns the hex SHA256 of the canonical JSON encoding of the
// block fields, excluding the hash itself.
func (b *Block) ComputeHash() string {
	txs := make([]interface{}, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.fields(true)
	}

	return crypto.HashObject(map[string]interface{}{
		"index":         b.Index,
		"transactions":  txs,
		"timestamp":     b.Timestamp,
		"previous_hash": b.PreviousHash,
		"nonce":         b.Nonce,
	})
}

// MerkleRoot returns the merkle root of the block's transaction hashes. It is
// derived on demand and not part of the block hash.
func (b *Block) MerkleRoot() string {
	hashes := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return crypto.MerkleRoot(hashes)
}

// Mine searches nonce = 0, 1, 2, ... until the block hash has difficulty
// leading zero characters. There is no upper bound on the search.
func (b *Block) Mine(difficulty int) {
	target := strings.Repeat("0", difficulty)

	for !strings.HasPrefix(b.Hash, target) {
		b.Nonce++
		b.Hash = b.ComputeHash()
	}
}

// IsValid reports whether the stored hash matches the recomputed hash.
func (b *Block) IsValid() bool {
	return b.Hash == b.ComputeHash()
}

// MeetsDifficulty reports whether the block hash has the required number of
// leading zero characters.
func (b *Block) MeetsDifficulty(difficulty int) bool {
	return strings.HasPrefix(b.Hash, strings.Repeat("0", difficulty))
}

// ValidateNext checks that next is a valid successor of b under the given
// difficulty: index continuity, hash linkage, hash correctness and the
// difficulty prefix.
func (b *Block) ValidateNext(next *Block, difficulty int) bool {
	if next.Index != b.Index+1 {
		return false
	}

	if next.PreviousHash != b.Hash {
		return false
	}

	if !next.IsValid() {
		return false
	}

	return next.MeetsDifficulty(difficulty)
}
