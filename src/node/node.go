package node

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/chain"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/config"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/gossip"
	bnet "github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/net"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/peers"
)

// Node assembles the transport, the peer registry, the gossip protocol and
// the chain into one running participant of the network.
type Node struct {
	id     string
	conf   *config.Config
	wallet *crypto.Wallet
	signer crypto.Signer

	trans    *bnet.Transport
	registry *peers.Registry
	gossip   *gossip.Protocol
	chain    *chain.Chain

	store *chain.BadgerStore

	// announced tracks which peers this node has introduced itself to, so
	// the reciprocal announce on first contact happens once per peer.
	announcedLock sync.Mutex
	announced     map[string]bool

	// orphans holds valid blocks ahead of the tip, keyed by index. Gossip
	// and anti-entropy deliver in no particular order; the gap usually
	// arrives moments later.
	orphanLock sync.Mutex
	orphans    map[int]*chain.Block

	running    bool
	runLock    sync.Mutex
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	logger *logrus.Entry
}

// NewNode instantiates a node from its configuration and wallet. The node id
// is a fresh UUID; the wallet address only identifies where mining rewards
// go.
func NewNode(conf *config.Config, wallet *crypto.Wallet) (*Node, error) {
	logger := conf.Logger()

	id := uuid.New().String()

	entry := logger.WithField("node_id", id)
	if conf.Moniker != "" {
		entry = entry.WithField("moniker", conf.Moniker)
	}

	n := &Node{
		id:         id,
		conf:       conf,
		wallet:     wallet,
		signer:     crypto.SimpleSigner{},
		announced:  make(map[string]bool),
		orphans:    make(map[int]*chain.Block),
		shutdownCh: make(chan struct{}),
		logger:     entry,
	}

	n.trans = bnet.NewTransport(conf.Host, conf.Port, conf.ConnTimeout, n.logger)

	n.registry = peers.NewRegistry(id, conf.MaxPeers,
		conf.HeartbeatInterval, conf.DiscoveryInterval, n.logger)

	n.gossip = gossip.NewProtocol(id, gossip.Options{
		Fanout:              conf.Fanout,
		TTL:                 conf.MessageTTL,
		GossipInterval:      conf.GossipInterval,
		AntiEntropyInterval: conf.AntiEntropyInterval,
		CacheExpiry:         conf.CacheExpiry,
	}, n, n.registry, n.logger)

	n.gossip.SetSelf(peers.NewPeer(id, conf.Host, conf.Port))
	n.gossip.SetSinks(n, n)
	n.registry.SetGossiper(n.gossip)

	if err := n.initChain(); err != nil {
		return nil, err
	}

	n.trans.RegisterHandler(n.handleMessage)

	return n, nil
}

// initChain restores the chain from the Badger store when persistence is
// enabled, or from the JSON snapshot file otherwise, falling back to a fresh
// chain with only the genesis block.
func (n *Node) initChain() error {
	if n.conf.Store {
		store, err := chain.NewBadgerStore(n.conf.DatabaseDir)
		if err != nil {
			return fmt.Errorf("opening chain store: %v", err)
		}
		n.store = store

		restored, err := store.Load(n.logger)
		if err == nil {
			n.chain = restored
			n.logger.WithField("length", restored.Length()).Info("Restored chain from store")
			return nil
		}
		n.logger.WithError(err).Debug("No stored chain, starting fresh")
	} else if restored, err := chain.LoadFile(n.conf.ChainFile(), n.logger); err == nil {
		n.chain = restored
		n.logger.WithField("length", restored.Length()).Info("Restored chain from snapshot")
		return nil
	}

	n.chain = chain.NewChain(n.conf.Difficulty, n.conf.TargetBlockTime,
		n.conf.AdjustmentInterval, n.logger)

	return nil
}

// ID returns the node's UUID.
func (n *Node) ID() string {
	return n.id
}

// Chain exposes the node's chain, mostly for the HTTP service.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Registry exposes the node's peer registry.
func (n *Node) Registry() *peers.Registry {
	return n.registry
}

// Start brings up the transport, the gossip rounds and the registry loops,
// then contacts the configured join addresses.
func (n *Node) Start() error {
	n.runLock.Lock()
	if n.running {
		n.runLock.Unlock()
		return nil
	}
	n.running = true
	n.runLock.Unlock()

	if err := n.trans.Start(); err != nil {
		return err
	}

	n.gossip.Start()
	n.registry.Start()

	for _, addr := range n.conf.Join {
		if err := n.Join(addr); err != nil {
			n.logger.WithFields(logrus.Fields{
				"addr":  addr,
				"error": err,
			}).Warn("Failed to contact join address")
		}
	}

	if n.conf.Mine {
		n.wg.Add(1)
		go n.miningLoop()
	}

	n.logger.WithFields(logrus.Fields{
		"addr":    n.trans.LocalAddr(),
		"address": n.wallet.Address,
	}).Info("Node started")

	return nil
}

// Shutdown stops the loops in reverse dependency order, persists the chain
// and closes the store.
func (n *Node) Shutdown() {
	n.runLock.Lock()
	if !n.running {
		n.runLock.Unlock()
		return
	}
	n.running = false
	n.runLock.Unlock()

	close(n.shutdownCh)
	n.wg.Wait()

	n.registry.Stop()
	n.gossip.Stop()
	n.trans.Stop()

	if n.store != nil {
		if err := n.store.Save(n.chain); err != nil {
			n.logger.WithError(err).Error("Failed to persist chain")
		}
		n.store.Close()
	} else if err := n.chain.SaveFile(n.conf.ChainFile()); err != nil {
		n.logger.WithError(err).Error("Failed to snapshot chain")
	}

	n.logger.Info("Node stopped")
}

// Join dials a peer at host:port and introduces this node to it. The remote
// node id is learned from its reciprocal announce.
func (n *Node) Join(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	if err := n.trans.Connect(host, port); err != nil {
		return err
	}

	// The remote only knows our ephemeral address until we announce.
	n.gossip.AnnounceTo(fmt.Sprintf("%s:%d", host, port))

	return nil
}

// Send implements gossip.MessageSender. Gossip addresses peers by node id;
// the registry resolves the id to a listen address and the transport delivers
// there, dialing on demand. A peer id that is already a host:port address is
// used as-is, which covers the join handshake before ids are known.
func (n *Node) Send(peerID string, m *gossip.Message) bool {
	addr := peerID

	if peer := n.registry.Peer(peerID); peer != nil {
		addr = peer.Addr()
	} else if !strings.Contains(peerID, ":") {
		return false
	}

	if !n.trans.IsConnected(addr) {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return false
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return false
		}
		if err := n.trans.Connect(host, port); err != nil {
			n.logger.WithFields(logrus.Fields{
				"peer":  peerID,
				"error": err,
			}).Debug("Failed to dial peer")
			n.registry.MarkDead(peerID)
			return false
		}
	}

	return n.trans.Send(addr, m)
}

// handleMessage is the transport callback. The relay exclusion prefers the
// delivering hop: connections this node dialed are keyed by the peer's
// listen address and resolve to a node id through the registry. Inbound
// remotes are ephemeral and fall back to the message's originator, whose
// echo the dedup set absorbs.
func (n *Node) handleMessage(m *gossip.Message, fromAddr string) {
	if m.Sender == n.id {
		return
	}

	knownBefore := n.registry.Peer(m.Sender) != nil
	if knownBefore {
		n.registry.MarkActive(m.Sender)
	}

	from := m.Sender
	if hop := n.registry.PeerByAddr(fromAddr); hop != nil {
		from = hop.ID
		n.registry.MarkActive(from)
	}

	n.gossip.Receive(m, from)

	// First contact through a peer list: the registry now holds the
	// sender's listen address, so introduce ourselves back exactly once.
	if !knownBefore && m.Type == gossip.TypePeerList && n.registry.Peer(m.Sender) != nil {
		n.announcedLock.Lock()
		first := !n.announced[m.Sender]
		n.announced[m.Sender] = true
		n.announcedLock.Unlock()

		if first {
			n.gossip.AnnounceTo(m.Sender)
		}
	}
}

// CreateTransaction builds a transaction from this node's wallet, signs it,
// adds it to the local pool and gossips it.
func (n *Node) CreateTransaction(receiver string, amount float64) (*chain.Transaction, error) {
	if !crypto.ValidAddress(receiver) {
		return nil, fmt.Errorf("invalid receiver address %q", receiver)
	}

	tx := chain.NewTransaction(n.wallet.Address, receiver, amount)
	tx.Sign(n.signer, n.wallet.PrivateKey)

	if !n.chain.AddTransaction(tx) {
		return nil, fmt.Errorf("transaction rejected by pool")
	}

	n.gossip.Broadcast(gossip.TypeTransaction, gossip.TransactionPayload(tx), 0)

	n.logger.WithFields(logrus.Fields{
		"tx":       tx.ID,
		"receiver": receiver,
		"amount":   amount,
	}).Debug("Created transaction")

	return tx, nil
}

// Mine assembles and mines one block from the pending pool, gossips it and
// persists the chain. Returns nil when the pool is empty.
func (n *Node) Mine() *chain.Block {
	block := n.chain.MinePending(n.wallet.Address)
	if block == nil {
		return nil
	}

	n.gossip.Broadcast(gossip.TypeBlock, gossip.BlockPayload(block), 0)
	n.persist()

	n.logger.WithFields(logrus.Fields{
		"index": block.Index,
		"hash":  block.Hash,
		"txs":   len(block.Transactions),
	}).Info("Mined block")

	return block
}

// AddTransaction implements gossip.TransactionSink for transactions arriving
// from the network.
func (n *Node) AddTransaction(tx *chain.Transaction) bool {
	return n.chain.AddTransaction(tx)
}

// AddBlock implements gossip.BlockSink for blocks arriving from the network.
// Accepted blocks are persisted. A valid block too far ahead of the tip is
// buffered and retried once the gap fills.
func (n *Node) AddBlock(b *chain.Block) bool {
	if !n.chain.AddBlock(b) {
		if b.Index >= n.chain.Length() && b.IsValid() {
			n.orphanLock.Lock()
			n.orphans[b.Index] = b
			n.orphanLock.Unlock()
			n.logger.WithField("index", b.Index).Debug("Buffered orphan block")
		}
		return false
	}

	n.persist()
	n.retryOrphans()

	return true
}

// retryOrphans drains buffered blocks that now extend the tip.
func (n *Node) retryOrphans() {
	for {
		next := n.chain.Length()

		n.orphanLock.Lock()
		b, ok := n.orphans[next]
		if ok {
			delete(n.orphans, next)
		}
		n.orphanLock.Unlock()

		if !ok {
			return
		}
		if !n.chain.AddBlock(b) {
			return
		}
		n.persist()
	}
}

func (n *Node) persist() {
	if n.store == nil {
		return
	}
	if err := n.store.Save(n.chain); err != nil {
		n.logger.WithError(err).Error("Failed to persist chain")
	}
}

// miningLoop mines whenever transactions are pending, pacing itself with the
// gossip interval.
func (n *Node) miningLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.conf.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n.chain.PendingCount() > 0 {
				n.Mine()
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// Status returns a snapshot of the node's state for the HTTP service.
func (n *Node) Status() map[string]interface{} {
	n.runLock.Lock()
	running := n.running
	n.runLock.Unlock()

	return map[string]interface{}{
		"node_id":          n.id,
		"address":          n.wallet.Address,
		"running":          running,
		"peer_count":       n.registry.Count(),
		"chain_length":     n.chain.Length(),
		"pending_tx_count": n.chain.PendingCount(),
		"difficulty":       n.chain.Difficulty(),
	}
}

// Stats aggregates the per-component snapshots.
func (n *Node) Stats() map[string]interface{} {
	return map[string]interface{}{
		"node":      n.Status(),
		"transport": n.trans.Stats(),
		"peers":     n.registry.Stats(),
		"gossip":    n.gossip.Stats(),
		"chain":     n.chain.Stats(),
	}
}
