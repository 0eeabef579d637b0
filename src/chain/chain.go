package chain

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Chain is the consensus engine. It owns the block chain and the pool of
// pending transactions, mines new blocks, validates external blocks and
// adjusts the mining difficulty.
//
// The lock guards in-memory state only; it is never held across the nonce
// search.
type Chain struct {
	lock sync.Mutex

	blocks       []*Block
	pending      map[string]*Transaction
	pendingOrder []string

	difficulty         int
	targetBlockTime    time.Duration
	adjustmentInterval int
	lastAdjustment     time.Time

	logger *logrus.Entry
}

// NewChain creates a chain holding only the genesis block.
func NewChain(difficulty int, targetBlockTime time.Duration, adjustmentInterval int, logger *logrus.Entry) *Chain {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Chain{
		blocks:             []*Block{NewGenesisBlock()},
		pending:            make(map[string]*Transaction),
		difficulty:         difficulty,
		targetBlockTime:    targetBlockTime,
		adjustmentInterval: adjustmentInterval,
		lastAdjustment:     time.Now(),
		logger:             logger,
	}
}

// AddTransaction inserts a transaction into the pending pool. It rejects
// invalid transactions and duplicates of already-pending ids.
func (c *Chain) AddTransaction(tx *Transaction) bool {
	if !tx.IsValid() {
		c.logger.WithField("tx", tx.ID).Debug("Rejected invalid transaction")
		return false
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.pending[tx.ID]; ok {
		return false
	}

	c.pending[tx.ID] = tx
	c.pendingOrder = append(c.pendingOrder, tx.ID)

	return true
}

// MinePending mines a block containing every pending transaction plus a
// coinbase reward for minerAddress. It returns nil if the pool is empty, or
// if the chain advanced while the nonce search was running and the candidate
// no longer extends the tip.
func (c *Chain) MinePending(minerAddress string) *Block {
	c.lock.Lock()

	if len(c.pending) == 0 {
		c.lock.Unlock()
		return nil
	}

	txs := make([]*Transaction, 0, len(c.pending)+1)
	for _, id := range c.pendingOrder {
		txs = append(txs, c.pending[id])
	}
	txs = append(txs, NewRewardTransaction(minerAddress))

	last := c.blocks[len(c.blocks)-1]
	candidate := NewBlock(len(c.blocks), txs, last.Hash)
	difficulty := c.difficulty

	c.lock.Unlock()

	start := time.Now()
	candidate.Mine(difficulty)

	c.lock.Lock()
	defer c.lock.Unlock()

	// The tip may have moved while we were searching.
	tip := c.blocks[len(c.blocks)-1]
	if candidate.PreviousHash != tip.Hash {
		c.logger.WithField("index", candidate.Index).Debug("Discarding stale mined block")
		return nil
	}

	c.blocks = append(c.blocks, candidate)
	c.pending = make(map[string]*Transaction)
	c.pendingOrder = nil

	c.logger.WithFields(logrus.Fields{
		"index":    candidate.Index,
		"hash":     candidate.Hash,
		"nonce":    candidate.Nonce,
		"txs":      len(candidate.Transactions),
		"duration": time.Since(start),
	}).Info("Mined block")

	if len(c.blocks)%c.adjustmentInterval == 0 {
		c.adjustDifficulty()
	}

	return candidate
}

// AddBlock validates an externally produced block against the current tip and
// appends it. Transactions committed by the block are dropped from the
// pending pool. On any validation failure the chain is left untouched.
func (c *Chain) AddBlock(block *Block) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	last := c.blocks[len(c.blocks)-1]
	if !last.ValidateNext(block, c.difficulty) {
		c.logger.WithFields(logrus.Fields{
			"index": block.Index,
			"hash":  block.Hash,
		}).Debug("Rejected block")
		return false
	}

	c.blocks = append(c.blocks, block)

	for _, tx := range block.Transactions {
		if _, ok := c.pending[tx.ID]; ok {
			delete(c.pending, tx.ID)
			c.pendingOrder = removeID(c.pendingOrder, tx.ID)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"index": block.Index,
		"hash":  block.Hash,
		"txs":   len(block.Transactions),
	}).Info("Appended block")

	if len(c.blocks)%c.adjustmentInterval == 0 {
		c.adjustDifficulty()
	}

	return true
}

// adjustDifficulty compares the wall-clock time since the last adjustment to
// the expected time for adjustmentInterval blocks, and moves difficulty one
// step at most. The anchor resets regardless of the outcome. Callers hold the
// lock.
func (c *Chain) adjustDifficulty() {
	if len(c.blocks) <= c.adjustmentInterval {
		return
	}

	now := time.Now()
	elapsed := now.Sub(c.lastAdjustment)
	expected := c.targetBlockTime * time.Duration(c.adjustmentInterval)

	switch {
	case elapsed < expected/2:
		c.difficulty++
		c.logger.WithField("difficulty", c.difficulty).Info("Increased difficulty")
	case elapsed > expected*2:
		if c.difficulty > 1 {
			c.difficulty--
		}
		c.logger.WithField("difficulty", c.difficulty).Info("Decreased difficulty")
	}

	c.lastAdjustment = now
}

// IsValid validates every consecutive pair of blocks in the chain.
func (c *Chain) IsValid() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return validateChain(c.blocks, c.difficulty)
}

func validateChain(blocks []*Block, difficulty int) bool {
	for i := 1; i < len(blocks); i++ {
		if !blocks[i-1].ValidateNext(blocks[i], difficulty) {
			return false
		}
	}
	return true
}

// ReplaceChain adopts candidate if it is strictly longer than the current
// chain and fully valid. The swap is all-or-nothing. Only length is compared,
// not cumulative work.
func (c *Chain) ReplaceChain(candidate []*Block) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if len(candidate) <= len(c.blocks) {
		return false
	}

	if !validateChain(candidate, c.difficulty) {
		c.logger.Debug("Rejected invalid candidate chain")
		return false
	}

	c.blocks = candidate

	c.logger.WithField("length", len(candidate)).Info("Replaced chain")

	return true
}

// Balance scans every transaction in every block, crediting receipts and
// debiting spends. It is a full scan, not an indexed ledger.
func (c *Chain) Balance(address string) float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	balance := 0.0
	for _, block := range c.blocks {
		for _, tx := range block.Transactions {
			if tx.Receiver == address {
				balance += tx.Amount
			}
			if tx.Sender == address {
				balance -= tx.Amount
			}
		}
	}

	return balance
}

// TxRecord is a committed transaction annotated with its containing block.
type TxRecord struct {
	*Transaction
	BlockIndex int    `json:"block_index"`
	BlockHash  string `json:"block_hash"`
}

// TransactionHistory returns every committed transaction involving address.
func (c *Chain) TransactionHistory(address string) []TxRecord {
	c.lock.Lock()
	defer c.lock.Unlock()

	history := []TxRecord{}
	for _, block := range c.blocks {
		for _, tx := range block.Transactions {
			if tx.Sender == address || tx.Receiver == address {
				history = append(history, TxRecord{
					Transaction: tx,
					BlockIndex:  block.Index,
					BlockHash:   block.Hash,
				})
			}
		}
	}

	return history
}

// LatestBlock returns the current tip.
func (c *Chain) LatestBlock() *Block {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.blocks[len(c.blocks)-1]
}

// Block returns the block at the given index, or nil.
func (c *Chain) Block(index int) *Block {
	c.lock.Lock()
	defer c.lock.Unlock()

	if index < 0 || index >= len(c.blocks) {
		return nil
	}

	return c.blocks[index]
}

// Blocks returns a snapshot of the chain.
func (c *Chain) Blocks() []*Block {
	c.lock.Lock()
	defer c.lock.Unlock()

	blocks := make([]*Block, len(c.blocks))
	copy(blocks, c.blocks)

	return blocks
}

// Length returns the number of blocks including genesis.
func (c *Chain) Length() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.blocks)
}

// Difficulty returns the current mining difficulty.
func (c *Chain) Difficulty() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.difficulty
}

// PendingCount returns the number of pooled transactions.
func (c *Chain) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.pending)
}

// PendingTransactions returns a snapshot of the pool in insertion order.
func (c *Chain) PendingTransactions() []*Transaction {
	c.lock.Lock()
	defer c.lock.Unlock()

	txs := make([]*Transaction, 0, len(c.pending))
	for _, id := range c.pendingOrder {
		txs = append(txs, c.pending[id])
	}

	return txs
}

// Stats returns a snapshot of the engine's state.
func (c *Chain) Stats() map[string]interface{} {
	c.lock.Lock()
	defer c.lock.Unlock()

	return map[string]interface{}{
		"length":              len(c.blocks),
		"difficulty":          c.difficulty,
		"pending":             len(c.pending),
		"target_block_time":   c.targetBlockTime.Seconds(),
		"adjustment_interval": c.adjustmentInterval,
	}
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
