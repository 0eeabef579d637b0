package gossip

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/chain"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/peers"
)

// MessageSender delivers an encoded message to one peer. Implemented by the
// transport.
type MessageSender interface {
	Send(peerID string, m *Message) bool
}

// PeerView is the slice of the peer registry the protocol needs: sampling for
// fanout, liveness updates and peer-list merging.
type PeerView interface {
	SampleIDs(n int, exclude string) []string
	ActivePeers() []*peers.Peer
	MarkActive(id string)
	ExchangePeerLists(from string, list []*peers.Peer)
}

// TransactionSink ingests transactions received from the network.
type TransactionSink interface {
	AddTransaction(tx *chain.Transaction) bool
}

// BlockSink ingests blocks received from the network.
type BlockSink interface {
	AddBlock(b *chain.Block) bool
}

// Options are the tuning knobs of the protocol.
type Options struct {
	// Fanout is the number of peers a single relay step forwards to.
	Fanout int

	// TTL is the default hop budget of a broadcast.
	TTL int

	// GossipInterval is the period of the rumor-mongering rounds.
	GossipInterval time.Duration

	// AntiEntropyInterval is the period of the digest reconciliation rounds.
	AntiEntropyInterval time.Duration

	// CacheExpiry bounds how long message bodies are kept for relay. The
	// dedup set is permanent; it outlives the cache on purpose.
	CacheExpiry time.Duration
}

type cacheEntry struct {
	message *Message
	added   time.Time
}

// Protocol floods messages with bounded hops, deduplicates by message id and
// repairs losses through periodic anti-entropy reconciliation.
type Protocol struct {
	lock sync.Mutex

	nodeID string
	opts   Options

	sender MessageSender
	peers  PeerView

	// self is this node's own registry entry, advertised in peer lists so
	// that peers learn our listen address rather than an ephemeral one.
	self *peers.Peer

	txSink    TransactionSink
	blockSink BlockSink

	seen  map[string]struct{}
	cache map[string]*cacheEntry

	running    bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	logger *logrus.Entry
}

// NewProtocol creates a protocol for the given node. Sinks are wired
// separately with SetSinks because the consensus engine is constructed after
// the network stack.
func NewProtocol(nodeID string, opts Options, sender MessageSender, peerView PeerView, logger *logrus.Entry) *Protocol {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Protocol{
		nodeID:     nodeID,
		opts:       opts,
		sender:     sender,
		peers:      peerView,
		seen:       make(map[string]struct{}),
		cache:      make(map[string]*cacheEntry),
		shutdownCh: make(chan struct{}),
		logger:     logger.WithField("component", "gossip"),
	}
}

// SetSinks wires the consensus engine handlers for TRANSACTION and BLOCK
// messages.
func (g *Protocol) SetSinks(txSink TransactionSink, blockSink BlockSink) {
	g.txSink = txSink
	g.blockSink = blockSink
}

// SetSelf wires the node's own advertised peer entry. Must be called before
// Start.
func (g *Protocol) SetSelf(p *peers.Peer) {
	g.self = p
}

// Start launches the gossip and anti-entropy rounds.
func (g *Protocol) Start() {
	g.lock.Lock()
	if g.running {
		g.lock.Unlock()
		return
	}
	g.running = true
	g.lock.Unlock()

	g.wg.Add(2)
	go g.gossipLoop()
	go g.antiEntropyLoop()
}

// Stop terminates the background rounds and waits for them.
func (g *Protocol) Stop() {
	g.lock.Lock()
	if !g.running {
		g.lock.Unlock()
		return
	}
	g.running = false
	g.lock.Unlock()

	close(g.shutdownCh)
	g.wg.Wait()
}

// Broadcast floods a new message to a fanout-sized random sample of active
// peers and returns the allocated message id. A ttl of 0 uses the default.
func (g *Protocol) Broadcast(msgType MessageType, payload map[string]interface{}, ttl int) string {
	if ttl <= 0 {
		ttl = g.opts.TTL
	}

	m := NewMessage(msgType, g.nodeID, payload, ttl)
	g.record(m)

	// First hop excludes no one.
	g.relay(m, "")

	return m.ID
}

// sendDirect emits a fresh single-hop message to one peer. Replies and
// reconciliation traffic use this instead of the flood.
func (g *Protocol) sendDirect(peerID string, msgType MessageType, payload map[string]interface{}) {
	m := NewMessage(msgType, g.nodeID, payload, 1)
	g.record(m)
	g.sender.Send(peerID, m)
}

// Receive processes a message arriving from a peer. A message id that was
// already seen is a pure no-op returning false. Otherwise the ttl is
// decremented, the type handler runs, and if hop budget remains the message
// is relayed to a fresh sample excluding the peer it came from.
func (g *Protocol) Receive(m *Message, fromPeer string) bool {
	if m.ID == "" {
		g.logger.WithField("from", fromPeer).Debug("Dropping message without id")
		return false
	}

	g.lock.Lock()
	if _, dup := g.seen[m.ID]; dup {
		g.lock.Unlock()
		return false
	}
	// The ttl is spent before the message is published to the cache; once
	// cached the anti-entropy paths may serialize the same pointer
	// concurrently, so it is never written again.
	m.TTL--
	g.seen[m.ID] = struct{}{}
	g.cache[m.ID] = &cacheEntry{message: m, added: time.Now()}
	g.lock.Unlock()

	// The local handler runs even when the hop budget is exhausted; only the
	// relay stops.
	g.dispatch(m, fromPeer)

	if m.TTL > 0 {
		g.relay(m, fromPeer)
	}

	return true
}

// dispatch routes a message to its type handler. The type set is closed.
func (g *Protocol) dispatch(m *Message, fromPeer string) {
	switch m.Type {
	case TypeTransaction:
		tx, err := TransactionFromPayload(m)
		if err != nil {
			g.logger.WithError(err).Debug("Bad transaction payload")
			return
		}
		if g.txSink != nil {
			g.txSink.AddTransaction(tx)
		}

	case TypeBlock:
		block, err := BlockFromPayload(m)
		if err != nil {
			g.logger.WithError(err).Debug("Bad block payload")
			return
		}
		if g.blockSink != nil {
			g.blockSink.AddBlock(block)
		}

	case TypePeerList:
		list, err := PeerListFromPayload(m)
		if err != nil {
			g.logger.WithError(err).Debug("Bad peer list payload")
			return
		}
		g.peers.ExchangePeerLists(fromPeer, list)

	case TypePing:
		if fromPeer != "" {
			g.sendDirect(fromPeer, TypePong, map[string]interface{}{
				"ping_id":   m.ID,
				"timestamp": float64(time.Now().UnixNano()) / 1e9,
			})
		}

	case TypePong:
		if fromPeer != "" {
			g.peers.MarkActive(fromPeer)
		}

	case TypeDigest:
		g.handleDigest(m, fromPeer)

	case TypeSyncReq:
		g.handleSyncReq(m, fromPeer)

	case TypeSyncResp:
		for _, body := range messagesFromPayload(m) {
			g.Receive(body, fromPeer)
		}

	default:
		g.logger.WithFields(logrus.Fields{
			"type": m.Type,
			"from": fromPeer,
		}).Warn("Unknown message type")
	}
}

// handleDigest answers an anti-entropy digest: ids present in the digest but
// absent locally are requested back from the sender.
func (g *Protocol) handleDigest(m *Message, fromPeer string) {
	if fromPeer == "" {
		return
	}

	missing := []string{}

	g.lock.Lock()
	for _, id := range idsFromPayload(m, "message_ids") {
		if _, ok := g.seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	g.lock.Unlock()

	if len(missing) == 0 {
		return
	}

	g.logger.WithFields(logrus.Fields{
		"from":    fromPeer,
		"missing": len(missing),
	}).Debug("Requesting missing messages")

	g.sendDirect(fromPeer, TypeSyncReq, map[string]interface{}{
		"missing_ids": missing,
	})
}

// handleSyncReq answers with the full bodies of the requested messages that
// are still cached.
func (g *Protocol) handleSyncReq(m *Message, fromPeer string) {
	if fromPeer == "" {
		return
	}

	bodies := []*Message{}

	g.lock.Lock()
	for _, id := range idsFromPayload(m, "missing_ids") {
		if entry, ok := g.cache[id]; ok {
			bodies = append(bodies, entry.message)
		}
	}
	g.lock.Unlock()

	if len(bodies) == 0 {
		return
	}

	g.sendDirect(fromPeer, TypeSyncResp, map[string]interface{}{
		"messages": bodies,
	})
}

// relay forwards a message to a fanout-sized random sample of active peers.
func (g *Protocol) relay(m *Message, exclude string) {
	for _, peerID := range g.peers.SampleIDs(g.opts.Fanout, exclude) {
		g.sender.Send(peerID, m)
	}
}

// SendHeartbeats broadcasts a single-hop PING. Called by the peer registry's
// heartbeat loop.
func (g *Protocol) SendHeartbeats() {
	g.Broadcast(TypePing, map[string]interface{}{
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	}, 1)
}

// SharePeerList broadcasts a single-hop PEER_LIST with the currently active
// peers plus this node's own entry. Called by the peer registry's discovery
// loop.
func (g *Protocol) SharePeerList() {
	list := g.peers.ActivePeers()
	if g.self != nil {
		list = append(list, g.self)
	}
	if len(list) == 0 {
		return
	}

	g.Broadcast(TypePeerList, PeerListPayload(list), 1)
}

// AnnounceTo introduces this node to one peer with a single-entry PEER_LIST.
// Used when joining: the remote learns our id and listen address, and can
// gossip them onwards.
func (g *Protocol) AnnounceTo(peerID string) {
	if g.self == nil {
		return
	}
	g.sendDirect(peerID, TypePeerList, PeerListPayload([]*peers.Peer{g.self}))
}

// gossipLoop periodically relays one random cached message again, and evicts
// expired cache entries.
func (g *Protocol) gossipLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.opts.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m := g.randomCached(); m != nil {
				g.relay(m, "")
			}
			g.evictExpired()
		case <-g.shutdownCh:
			return
		}
	}
}

// antiEntropyLoop periodically sends the full list of cached message ids to
// one random peer as a DIGEST.
func (g *Protocol) antiEntropyLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.opts.AntiEntropyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.antiEntropyRound()
		case <-g.shutdownCh:
			return
		}
	}
}

func (g *Protocol) antiEntropyRound() {
	targets := g.peers.SampleIDs(1, "")
	if len(targets) == 0 {
		return
	}

	g.lock.Lock()
	ids := make([]string, 0, len(g.cache))
	for id := range g.cache {
		ids = append(ids, id)
	}
	g.lock.Unlock()

	if len(ids) == 0 {
		return
	}

	g.logger.WithFields(logrus.Fields{
		"peer": targets[0],
		"ids":  len(ids),
	}).Debug("Sending digest")

	g.sendDirect(targets[0], TypeDigest, map[string]interface{}{
		"message_ids": ids,
	})
}

func (g *Protocol) randomCached() *Message {
	g.lock.Lock()
	defer g.lock.Unlock()

	if len(g.cache) == 0 {
		return nil
	}

	i := rand.Intn(len(g.cache))
	for _, entry := range g.cache {
		if i == 0 {
			return entry.message
		}
		i--
	}

	return nil
}

// evictExpired purges cache entries older than the expiry window. Their ids
// stay in the seen set so dedup holds for the node's lifetime.
func (g *Protocol) evictExpired() {
	g.lock.Lock()
	defer g.lock.Unlock()

	evicted := 0
	for id, entry := range g.cache {
		if time.Since(entry.added) > g.opts.CacheExpiry {
			delete(g.cache, id)
			evicted++
		}
	}

	if evicted > 0 {
		g.logger.WithField("evicted", evicted).Debug("Evicted expired cache entries")
	}
}

// record marks a locally created message as seen and caches it.
func (g *Protocol) record(m *Message) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.seen[m.ID] = struct{}{}
	g.cache[m.ID] = &cacheEntry{message: m, added: time.Now()}
}

// Seen reports whether a message id has been processed.
func (g *Protocol) Seen(id string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()

	_, ok := g.seen[id]
	return ok
}

// CachedIDs returns the ids currently held in the relay cache.
func (g *Protocol) CachedIDs() []string {
	g.lock.Lock()
	defer g.lock.Unlock()

	ids := make([]string, 0, len(g.cache))
	for id := range g.cache {
		ids = append(ids, id)
	}

	return ids
}

// Stats returns a snapshot of the protocol's state.
func (g *Protocol) Stats() map[string]interface{} {
	g.lock.Lock()
	defer g.lock.Unlock()

	return map[string]interface{}{
		"seen_messages":         len(g.seen),
		"cached_messages":       len(g.cache),
		"fanout":                g.opts.Fanout,
		"message_ttl":           g.opts.TTL,
		"gossip_interval":       g.opts.GossipInterval.Seconds(),
		"anti_entropy_interval": g.opts.AntiEntropyInterval.Seconds(),
	}
}
