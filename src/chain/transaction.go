package chain

import (
	"time"

	"github.com/google/uuid"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
)

const (
	// RewardSender is the synthetic sender address of coinbase transactions.
	RewardSender = "0"

	// RewardAmount is the fixed amount credited to a miner per block.
	RewardAmount = 1.0

	// RewardSignature is the pseudo-signature carried by coinbase
	// transactions.
	RewardSignature = "SYSTEM"
)

// Transaction transfers value from a sender to a receiver. It is immutable
// once broadcast.
type Transaction struct {
	ID        string  `json:"id"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Timestamp float64 `json:"timestamp"`
	Signature string  `json:"signature,omitempty"`
}

// NewTransaction creates an unsigned transaction with a fresh id.
func NewTransaction(sender, receiver string, amount float64) *Transaction {
	return &Transaction{
		ID:        uuid.New().String(),
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: unixNow(),
	}
}

// NewRewardTransaction creates the coinbase transaction crediting a miner.
func NewRewardTransaction(minerAddress string) *Transaction {
	tx := NewTransaction(RewardSender, minerAddress, RewardAmount)
	tx.Signature = RewardSignature
	return tx
}

// fields returns the canonical key-value form of the transaction. The
// signature is only included when present, matching the wire encoding.
func (t *Transaction) fields(includeSignature bool) map[string]interface{} {
	fields := map[string]interface{}{
		"id":        t.ID,
		"sender":    t.Sender,
		"receiver":  t.Receiver,
		"amount":    t.Amount,
		"timestamp": t.Timestamp,
	}

	if includeSignature && t.Signature != "" {
		fields["signature"] = t.Signature
	}

	return fields
}

// Hash returns the hex SHA256 of the transaction without its signature.
func (t *Transaction) Hash() string {
	return crypto.HashObject(t.fields(false))
}

// Sign attaches a signature produced by the given signer.
func (t *Transaction) Sign(signer crypto.Signer, privateKey string) {
	t.Signature = signer.Sign(t.fields(false), privateKey)
}

// IsValid reports whether the transaction has a positive amount, distinct
// endpoints and a signature.
func (t *Transaction) IsValid() bool {
	if t.Amount <= 0 {
		return false
	}

	if t.Sender == t.Receiver {
		return false
	}

	return t.Signature != ""
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
