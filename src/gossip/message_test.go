package gossip

import (
	"testing"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/chain"
)

func TestMessageTypeKnown(t *testing.T) {
	for _, mt := range []MessageType{
		TypeTransaction, TypeBlock, TypePing, TypePong,
		TypePeerList, TypeDigest, TypeSyncReq, TypeSyncResp,
	} {
		if !mt.Known() {
			t.Fatalf("%s should be known", mt)
		}
	}
	if MessageType("HELLO").Known() {
		t.Fatal("HELLO should not be known")
	}
}

func TestMessageIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		m := NewMessage(TypePing, "node", nil, 1)
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestPayloadExtractionErrors(t *testing.T) {
	m := NewMessage(TypeTransaction, "node", map[string]interface{}{}, 1)

	if _, err := TransactionFromPayload(m); err == nil {
		t.Fatal("expected error for missing transaction")
	}
	if _, err := BlockFromPayload(m); err == nil {
		t.Fatal("expected error for missing block")
	}
	if _, err := PeerListFromPayload(m); err == nil {
		t.Fatal("expected error for missing peer list")
	}
}

func TestBlockPayloadRoundTrip(t *testing.T) {
	block := chain.NewBlock(1, []*chain.Transaction{
		chain.NewRewardTransaction("miner-address"),
	}, "prev-hash")

	m := NewMessage(TypeBlock, "node", BlockPayload(block), 1)

	// Payload survives a trip through the generic map form.
	got, err := BlockFromPayload(m)
	if err != nil {
		t.Fatal(err)
	}
	if got.Index != block.Index || got.Hash != block.Hash {
		t.Fatalf("block round trip: got %+v, want %+v", got, block)
	}
	if len(got.Transactions) != 1 || got.Transactions[0].Receiver != "miner-address" {
		t.Fatalf("transactions lost in round trip: %+v", got.Transactions)
	}
}
