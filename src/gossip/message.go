package gossip

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/chain"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/peers"
)

// MessageType enumerates the eight kinds of wire messages. The set is closed;
// dispatch matches it exhaustively.
type MessageType string

const (
	TypeTransaction MessageType = "TRANSACTION"
	TypeBlock       MessageType = "BLOCK"
	TypePing        MessageType = "PING"
	TypePong        MessageType = "PONG"
	TypePeerList    MessageType = "PEER_LIST"
	TypeDigest      MessageType = "DIGEST"
	TypeSyncReq     MessageType = "SYNC_REQ"
	TypeSyncResp    MessageType = "SYNC_RESP"
)

// Known reports whether t is one of the eight message kinds.
func (t MessageType) Known() bool {
	switch t {
	case TypeTransaction, TypeBlock, TypePing, TypePong,
		TypePeerList, TypeDigest, TypeSyncReq, TypeSyncResp:
		return true
	}
	return false
}

// Message is the wire unit of the gossip protocol. TTL is the remaining hop
// budget; it strictly decreases on every hop and is never reset.
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Sender    string                 `json:"sender"`
	Timestamp float64                `json:"timestamp"`
	TTL       int                    `json:"ttl"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewMessage allocates a message with a fresh id derived from the sender, the
// current time and a random component.
func NewMessage(msgType MessageType, sender string, payload map[string]interface{}, ttl int) *Message {
	now := time.Now()
	return &Message{
		ID:        fmt.Sprintf("%s:%d:%d", sender, now.UnixNano(), rand.Int31()),
		Type:      msgType,
		Sender:    sender,
		Timestamp: float64(now.UnixNano()) / 1e9,
		TTL:       ttl,
		Payload:   payload,
	}
}

// remarshal converts between payload maps and typed structs through their
// JSON forms.
func remarshal(from interface{}, to interface{}) error {
	raw, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, to)
}

// TransactionPayload wraps a transaction for a TRANSACTION message.
func TransactionPayload(tx *chain.Transaction) map[string]interface{} {
	return map[string]interface{}{"transaction": tx}
}

// TransactionFromPayload extracts the transaction of a TRANSACTION message.
func TransactionFromPayload(m *Message) (*chain.Transaction, error) {
	raw, ok := m.Payload["transaction"]
	if !ok {
		return nil, fmt.Errorf("message %s carries no transaction", m.ID)
	}

	tx := new(chain.Transaction)
	if err := remarshal(raw, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

// BlockPayload wraps a block for a BLOCK message.
func BlockPayload(b *chain.Block) map[string]interface{} {
	return map[string]interface{}{"block": b}
}

// BlockFromPayload extracts the block of a BLOCK message.
func BlockFromPayload(m *Message) (*chain.Block, error) {
	raw, ok := m.Payload["block"]
	if !ok {
		return nil, fmt.Errorf("message %s carries no block", m.ID)
	}

	block := new(chain.Block)
	if err := remarshal(raw, block); err != nil {
		return nil, err
	}

	return block, nil
}

// PeerListPayload wraps a peer list for a PEER_LIST message.
func PeerListPayload(list []*peers.Peer) map[string]interface{} {
	return map[string]interface{}{"peers": list}
}

// PeerListFromPayload extracts the peers of a PEER_LIST message.
func PeerListFromPayload(m *Message) ([]*peers.Peer, error) {
	raw, ok := m.Payload["peers"]
	if !ok {
		return nil, fmt.Errorf("message %s carries no peer list", m.ID)
	}

	var list []*peers.Peer
	if err := remarshal(raw, &list); err != nil {
		return nil, err
	}

	return list, nil
}

// idsFromPayload extracts a list of message ids under the given payload key.
func idsFromPayload(m *Message, key string) []string {
	raw, ok := m.Payload[key]
	if !ok {
		return nil
	}

	var ids []string
	if err := remarshal(raw, &ids); err != nil {
		return nil
	}

	return ids
}

// messagesFromPayload extracts the full message bodies of a SYNC_RESP.
func messagesFromPayload(m *Message) []*Message {
	raw, ok := m.Payload["messages"]
	if !ok {
		return nil
	}

	var msgs []*Message
	if err := remarshal(raw, &msgs); err != nil {
		return nil
	}

	return msgs
}
