package gossip

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/chain"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/common"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/peers"
)

type sentMessage struct {
	peerID  string
	message *Message
}

type fakeSender struct {
	lock sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Send(peerID string, m *Message) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sent = append(s.sent, sentMessage{peerID: peerID, message: m})
	return true
}

func (s *fakeSender) all() []sentMessage {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSender) ofType(t MessageType) []sentMessage {
	out := []sentMessage{}
	for _, sm := range s.all() {
		if sm.message.Type == t {
			out = append(out, sm)
		}
	}
	return out
}

type fakePeerView struct {
	lock      sync.Mutex
	ids       []string
	active    []string
	exchanges [][]*peers.Peer
}

func (v *fakePeerView) SampleIDs(n int, exclude string) []string {
	out := []string{}
	for _, id := range v.ids {
		if id == exclude {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, id)
	}
	return out
}

func (v *fakePeerView) ActivePeers() []*peers.Peer {
	out := []*peers.Peer{}
	for i, id := range v.ids {
		out = append(out, peers.NewPeer(id, "127.0.0.1", 9000+i))
	}
	return out
}

func (v *fakePeerView) MarkActive(id string) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.active = append(v.active, id)
}

func (v *fakePeerView) ExchangePeerLists(from string, list []*peers.Peer) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.exchanges = append(v.exchanges, list)
}

type countingSink struct {
	lock   sync.Mutex
	txs    []*chain.Transaction
	blocks []*chain.Block
}

func (s *countingSink) AddTransaction(tx *chain.Transaction) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.txs = append(s.txs, tx)
	return true
}

func (s *countingSink) AddBlock(b *chain.Block) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.blocks = append(s.blocks, b)
	return true
}

func (s *countingSink) txCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.txs)
}

func testProtocol(t *testing.T, peerIDs ...string) (*Protocol, *fakeSender, *fakePeerView, *countingSink) {
	t.Helper()

	sender := &fakeSender{}
	view := &fakePeerView{ids: peerIDs}
	sink := &countingSink{}

	opts := Options{
		Fanout:              3,
		TTL:                 10,
		GossipInterval:      time.Second,
		AntiEntropyInterval: time.Second,
		CacheExpiry:         300 * time.Second,
	}

	g := NewProtocol("self", opts, sender, view, common.NewTestEntry(t, logrus.DebugLevel))
	g.SetSinks(sink, sink)

	return g, sender, view, sink
}

func signedTx(t *testing.T) *chain.Transaction {
	t.Helper()

	tx := chain.NewTransaction("alice", "bob", 5)
	tx.Sign(&crypto.SimpleSigner{}, "alice-key")
	if !tx.IsValid() {
		t.Fatal("test transaction is not valid")
	}
	return tx
}

func TestBroadcastFanout(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1", "p2", "p3", "p4", "p5")

	id := g.Broadcast(TypeTransaction, TransactionPayload(signedTx(t)), 0)

	sent := sender.all()
	if len(sent) != 3 {
		t.Fatalf("sends: got %d, want fanout 3", len(sent))
	}
	for _, sm := range sent {
		if sm.message.ID != id {
			t.Fatalf("message id: got %s, want %s", sm.message.ID, id)
		}
		if sm.message.TTL != 10 {
			t.Fatalf("ttl: got %d, want 10", sm.message.TTL)
		}
	}
	if !g.Seen(id) {
		t.Fatal("broadcast message not marked seen")
	}
}

func TestReceiveDeduplicates(t *testing.T) {
	g, _, _, sink := testProtocol(t, "p1")

	m := NewMessage(TypeTransaction, "p1", TransactionPayload(signedTx(t)), 5)

	if !g.Receive(m, "p1") {
		t.Fatal("first receive rejected")
	}
	if g.Receive(m, "p1") {
		t.Fatal("duplicate receive accepted")
	}
	if got := sink.txCount(); got != 1 {
		t.Fatalf("transactions ingested: got %d, want 1", got)
	}
}

func TestReceiveRelaysWithDecrementedTTL(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1", "p2", "p3")

	m := NewMessage(TypeTransaction, "p1", TransactionPayload(signedTx(t)), 3)
	g.Receive(m, "p1")

	sent := sender.ofType(TypeTransaction)
	if len(sent) != 2 {
		t.Fatalf("relays: got %d, want 2 (p1 excluded)", len(sent))
	}
	for _, sm := range sent {
		if sm.peerID == "p1" {
			t.Fatal("relayed back to the originating peer")
		}
		if sm.message.TTL != 2 {
			t.Fatalf("relayed ttl: got %d, want 2", sm.message.TTL)
		}
	}
}

func TestTTLExhaustionStopsRelayNotDelivery(t *testing.T) {
	g, sender, _, sink := testProtocol(t, "p2", "p3")

	m := NewMessage(TypeTransaction, "p1", TransactionPayload(signedTx(t)), 1)
	g.Receive(m, "p1")

	if got := sink.txCount(); got != 1 {
		t.Fatalf("transactions ingested: got %d, want 1", got)
	}
	if sent := sender.ofType(TypeTransaction); len(sent) != 0 {
		t.Fatalf("relays after ttl exhaustion: got %d, want 0", len(sent))
	}
}

func TestPingAnswersPong(t *testing.T) {
	g, sender, _, _ := testProtocol(t)

	ping := NewMessage(TypePing, "p1", nil, 1)
	g.Receive(ping, "p1")

	pongs := sender.ofType(TypePong)
	if len(pongs) != 1 {
		t.Fatalf("pongs: got %d, want 1", len(pongs))
	}
	if pongs[0].peerID != "p1" {
		t.Fatalf("pong target: got %s, want p1", pongs[0].peerID)
	}
	if pongs[0].message.Payload["ping_id"] != ping.ID {
		t.Fatalf("ping_id: got %v, want %s", pongs[0].message.Payload["ping_id"], ping.ID)
	}
}

func TestPongMarksPeerActive(t *testing.T) {
	g, _, view, _ := testProtocol(t, "p1")

	g.Receive(NewMessage(TypePong, "p1", nil, 1), "p1")

	view.lock.Lock()
	defer view.lock.Unlock()
	if len(view.active) != 1 || view.active[0] != "p1" {
		t.Fatalf("active marks: got %v, want [p1]", view.active)
	}
}

func TestPeerListReachesRegistry(t *testing.T) {
	g, _, view, _ := testProtocol(t)

	list := []*peers.Peer{peers.NewPeer("p9", "10.0.0.9", 8000)}
	g.Receive(NewMessage(TypePeerList, "p1", PeerListPayload(list), 1), "p1")

	view.lock.Lock()
	defer view.lock.Unlock()
	if len(view.exchanges) != 1 || len(view.exchanges[0]) != 1 {
		t.Fatalf("exchanges: got %v", view.exchanges)
	}
	if view.exchanges[0][0].ID != "p9" {
		t.Fatalf("exchanged peer: got %s, want p9", view.exchanges[0][0].ID)
	}
}

func TestDigestRequestsOnlyMissing(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1")

	known := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	g.Receive(known, "p2")

	digest := NewMessage(TypeDigest, "p1", map[string]interface{}{
		"message_ids": []string{known.ID, "missing-1", "missing-2"},
	}, 1)
	g.Receive(digest, "p1")

	reqs := sender.ofType(TypeSyncReq)
	if len(reqs) != 1 {
		t.Fatalf("sync requests: got %d, want 1", len(reqs))
	}
	missing := reqs[0].message.Payload["missing_ids"].([]string)
	if len(missing) != 2 {
		t.Fatalf("missing ids: got %v, want the 2 unknown ids", missing)
	}
	for _, id := range missing {
		if id == known.ID {
			t.Fatal("requested an id that was already seen")
		}
	}
}

func TestDigestFullyCoveredSendsNothing(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1")

	known := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	g.Receive(known, "p2")

	digest := NewMessage(TypeDigest, "p1", map[string]interface{}{
		"message_ids": []string{known.ID},
	}, 1)
	g.Receive(digest, "p1")

	if reqs := sender.ofType(TypeSyncReq); len(reqs) != 0 {
		t.Fatalf("sync requests: got %d, want 0", len(reqs))
	}
}

func TestSyncReqServesCachedBodies(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1")

	cached := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	g.Receive(cached, "p2")

	req := NewMessage(TypeSyncReq, "p1", map[string]interface{}{
		"missing_ids": []string{cached.ID, "never-seen"},
	}, 1)
	g.Receive(req, "p1")

	resps := sender.ofType(TypeSyncResp)
	if len(resps) != 1 {
		t.Fatalf("sync responses: got %d, want 1", len(resps))
	}
	bodies := resps[0].message.Payload["messages"].([]*Message)
	if len(bodies) != 1 || bodies[0].ID != cached.ID {
		t.Fatalf("served bodies: got %v, want [%s]", bodies, cached.ID)
	}
}

func TestCachedBodyCarriesSpentTTL(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1")

	cached := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 3)
	g.Receive(cached, "p2")

	req := NewMessage(TypeSyncReq, "p1", map[string]interface{}{
		"missing_ids": []string{cached.ID},
	}, 1)
	g.Receive(req, "p1")

	resps := sender.ofType(TypeSyncResp)
	if len(resps) != 1 {
		t.Fatalf("sync responses: got %d, want 1", len(resps))
	}

	// The hop was spent before the body entered the cache; a served copy
	// never carries the pre-decrement budget.
	bodies := resps[0].message.Payload["messages"].([]*Message)
	if got := bodies[0].TTL; got != 2 {
		t.Fatalf("cached ttl: got %d, want 2", got)
	}
}

func TestConcurrentReceiveAndSync(t *testing.T) {
	g, _, _, _ := testProtocol(t, "p1", "p2", "p3")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			m := NewMessage(TypePing, "p1", map[string]interface{}{
				"ping_id": fmt.Sprintf("ping-%d", i),
			}, 3)
			g.Receive(m, "p1")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			g.antiEntropyRound()
			for _, id := range g.CachedIDs() {
				req := NewMessage(TypeSyncReq, "p2", map[string]interface{}{
					"missing_ids": []string{id},
				}, 1)
				g.Receive(req, "p2")
				break
			}
		}
	}()

	wg.Wait()
}

func TestSyncRespReinjectsMessages(t *testing.T) {
	g, _, _, sink := testProtocol(t)

	inner := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	resp := NewMessage(TypeSyncResp, "p1", map[string]interface{}{
		"messages": []*Message{inner},
	}, 1)
	g.Receive(resp, "p1")

	if got := sink.txCount(); got != 1 {
		t.Fatalf("transactions ingested: got %d, want 1", got)
	}
	if !g.Seen(inner.ID) {
		t.Fatal("re-injected message not marked seen")
	}
}

func TestAntiEntropyRoundSendsDigest(t *testing.T) {
	g, sender, _, _ := testProtocol(t, "p1")

	m := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	g.Receive(m, "p2")

	g.antiEntropyRound()

	digests := sender.ofType(TypeDigest)
	if len(digests) != 1 {
		t.Fatalf("digests: got %d, want 1", len(digests))
	}
	ids := digests[0].message.Payload["message_ids"].([]string)
	found := false
	for _, id := range ids {
		if id == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("digest ids %v missing %s", ids, m.ID)
	}
}

func TestEvictionKeepsDedup(t *testing.T) {
	g, _, _, sink := testProtocol(t, "p1")
	g.opts.CacheExpiry = 0

	m := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	g.Receive(m, "p2")

	time.Sleep(time.Millisecond)
	g.evictExpired()

	if len(g.CachedIDs()) != 0 {
		t.Fatal("cache still holds entries after eviction")
	}
	if !g.Seen(m.ID) {
		t.Fatal("seen set lost the id after eviction")
	}
	if g.Receive(m, "p2") {
		t.Fatal("evicted message accepted again")
	}
	if got := sink.txCount(); got != 1 {
		t.Fatalf("transactions ingested: got %d, want 1", got)
	}
}

func TestMessageWithoutIDDropped(t *testing.T) {
	g, _, _, sink := testProtocol(t, "p1")

	m := NewMessage(TypeTransaction, "p2", TransactionPayload(signedTx(t)), 2)
	m.ID = ""

	if g.Receive(m, "p2") {
		t.Fatal("message without id accepted")
	}
	if got := sink.txCount(); got != 0 {
		t.Fatalf("transactions ingested: got %d, want 0", got)
	}
}
