package service

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/chain"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/common"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/config"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/node"
)

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func getJSON(t *testing.T, url string, into interface{}) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatal(err)
		}
	}

	return resp
}

// The handlers register with the DefaultServeMux, so one node and one service
// serve every subtest.
func TestService(t *testing.T) {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.Host = "127.0.0.1"
	conf.Port = freePort(t)
	conf.Difficulty = 1
	conf.GossipInterval = 20 * time.Millisecond

	wallet, err := crypto.GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := crypto.GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}

	n, err := node.NewNode(conf, wallet)
	if err != nil {
		t.Fatal(err)
	}

	NewService(conf.ServiceAddr, n, common.NewTestEntry(t, logrus.DebugLevel))

	srv := httptest.NewServer(http.DefaultServeMux)
	defer srv.Close()

	if _, err := n.CreateTransaction(receiver.Address, 5); err != nil {
		t.Fatal(err)
	}

	t.Run("pending", func(t *testing.T) {
		var pending []*chain.Transaction
		getJSON(t, srv.URL+"/pending", &pending)
		if len(pending) != 1 {
			t.Fatalf("pending: got %d, want 1", len(pending))
		}
	})

	block := n.Mine()
	if block == nil {
		t.Fatal("mine returned no block")
	}

	t.Run("stats", func(t *testing.T) {
		var stats map[string]interface{}
		getJSON(t, srv.URL+"/stats", &stats)
		for _, section := range []string{"node", "transport", "peers", "gossip", "chain"} {
			if _, ok := stats[section]; !ok {
				t.Fatalf("stats missing section %s", section)
			}
		}
	})

	t.Run("chain", func(t *testing.T) {
		var blocks []*chain.Block
		getJSON(t, srv.URL+"/chain", &blocks)
		if len(blocks) != 2 {
			t.Fatalf("chain length: got %d, want 2", len(blocks))
		}
	})

	t.Run("block", func(t *testing.T) {
		var got struct {
			Block      chain.Block `json:"block"`
			MerkleRoot string      `json:"merkle_root"`
		}
		getJSON(t, srv.URL+"/block/1", &got)
		if got.Block.Hash != block.Hash {
			t.Fatalf("block hash: got %s, want %s", got.Block.Hash, block.Hash)
		}
		if got.MerkleRoot != block.MerkleRoot() {
			t.Fatalf("merkle root: got %s, want %s", got.MerkleRoot, block.MerkleRoot())
		}

		if resp := getJSON(t, srv.URL+"/block/99", nil); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("missing block status: got %d", resp.StatusCode)
		}
		if resp := getJSON(t, srv.URL+"/block/abc", nil); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("bad index status: got %d", resp.StatusCode)
		}
	})

	t.Run("balance", func(t *testing.T) {
		var got map[string]interface{}
		getJSON(t, fmt.Sprintf("%s/balance/%s", srv.URL, receiver.Address), &got)
		if got["balance"] != 5.0 {
			t.Fatalf("balance: got %v, want 5", got["balance"])
		}

		if resp := getJSON(t, srv.URL+"/balance/bogus", nil); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("bad address status: got %d", resp.StatusCode)
		}
	})

	t.Run("history", func(t *testing.T) {
		var history []chain.TxRecord
		getJSON(t, fmt.Sprintf("%s/history/%s", srv.URL, receiver.Address), &history)
		if len(history) != 1 {
			t.Fatalf("history: got %d records, want 1", len(history))
		}
		if history[0].BlockIndex != 1 {
			t.Fatalf("history block index: got %d, want 1", history[0].BlockIndex)
		}
	})

	t.Run("peers", func(t *testing.T) {
		resp := getJSON(t, srv.URL+"/peers", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("peers status: got %d", resp.StatusCode)
		}
	})
}
