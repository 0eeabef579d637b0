package peers

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Gossiper is the capability the registry's background loops delegate to.
// Heartbeats and peer-list sharing travel over the gossip layer; the registry
// never talks to the network directly.
type Gossiper interface {
	SendHeartbeats()
	SharePeerList()
}

// Registry is the authoritative peer book. It tracks liveness, samples peers
// for gossip fanout, and runs the heartbeat and discovery loops.
type Registry struct {
	lock sync.RWMutex

	ownID    string
	maxPeers int
	peers    map[string]*Peer

	heartbeatInterval time.Duration
	discoveryInterval time.Duration

	gossiper Gossiper

	running    bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	logger *logrus.Entry
}

// NewRegistry creates a registry for a node identified by ownID. A peer with
// no contact for longer than three heartbeat intervals is swept dead.
func NewRegistry(ownID string, maxPeers int, heartbeatInterval, discoveryInterval time.Duration, logger *logrus.Entry) *Registry {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Registry{
		ownID:             ownID,
		maxPeers:          maxPeers,
		peers:             make(map[string]*Peer),
		heartbeatInterval: heartbeatInterval,
		discoveryInterval: discoveryInterval,
		shutdownCh:        make(chan struct{}),
		logger:            logger.WithField("component", "peers"),
	}
}

// SetGossiper wires the gossip capability. Must be called before Start.
func (r *Registry) SetGossiper(g Gossiper) {
	r.gossiper = g
}

// Start launches the heartbeat and discovery loops.
func (r *Registry) Start() {
	r.lock.Lock()
	if r.running {
		r.lock.Unlock()
		return
	}
	r.running = true
	r.lock.Unlock()

	r.wg.Add(2)
	go r.heartbeatLoop()
	go r.discoveryLoop()
}

// Stop terminates the background loops and waits for them.
func (r *Registry) Stop() {
	r.lock.Lock()
	if !r.running {
		r.lock.Unlock()
		return
	}
	r.running = false
	r.lock.Unlock()

	close(r.shutdownCh)
	r.wg.Wait()
}

// AddPeer registers or refreshes a peer. It rejects the registry's own id,
// and rejects unknown peers once the active count has reached maxPeers;
// already-known peers may always be refreshed.
func (r *Registry) AddPeer(id, host string, port int) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if id == r.ownID {
		return false
	}

	if _, known := r.peers[id]; !known && r.activeCount() >= r.maxPeers {
		return false
	}

	r.peers[id] = NewPeer(id, host, port)

	r.logger.WithFields(logrus.Fields{
		"peer": id,
		"addr": r.peers[id].Addr(),
	}).Debug("Added peer")

	return true
}

// RemovePeer drops a peer entirely.
func (r *Registry) RemovePeer(id string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}

	delete(r.peers, id)
	r.logger.WithField("peer", id).Debug("Removed peer")

	return true
}

// MarkActive refreshes a peer's last-seen time and revives it if dead.
// Unknown ids are ignored.
func (r *Registry) MarkActive(id string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if peer, ok := r.peers[id]; ok {
		peer.LastSeen = float64(time.Now().UnixNano()) / 1e9
		peer.State = StateActive
	}
}

// MarkDead marks a peer unreachable. Idempotent.
func (r *Registry) MarkDead(id string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if peer, ok := r.peers[id]; ok && peer.State != StateDead {
		peer.State = StateDead
		r.logger.WithField("peer", id).Debug("Marked peer dead")
	}
}

// Peer returns the entry for id, or nil.
func (r *Registry) Peer(id string) *Peer {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.peers[id]
}

// PeerByAddr returns the entry whose listen address matches addr, or nil.
// Only connections this node dialed carry a peer's listen address; inbound
// remotes use ephemeral ports and resolve to nothing.
func (r *Registry) PeerByAddr(addr string) *Peer {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, peer := range r.peers {
		if peer.Addr() == addr {
			return peer
		}
	}

	return nil
}

// ActivePeers returns a snapshot of the peers currently active. The entries
// are copies; liveness fields on the registry's own records keep changing
// after the call.
func (r *Registry) ActivePeers() []*Peer {
	r.lock.RLock()
	defer r.lock.RUnlock()

	active := []*Peer{}
	for _, peer := range r.peers {
		if peer.State == StateActive {
			entry := *peer
			active = append(active, &entry)
		}
	}

	return active
}

// RandomPeers returns a uniform sample without replacement of at most n
// active peers.
func (r *Registry) RandomPeers(n int) []*Peer {
	active := r.ActivePeers()

	rand.Shuffle(len(active), func(i, j int) {
		active[i], active[j] = active[j], active[i]
	})

	if n > len(active) {
		n = len(active)
	}

	return active[:n]
}

// SampleIDs returns the ids of at most n random active peers, excluding the
// given id.
func (r *Registry) SampleIDs(n int, exclude string) []string {
	active := r.ActivePeers()

	candidates := make([]string, 0, len(active))
	for _, peer := range active {
		if peer.ID != exclude {
			candidates = append(candidates, peer.ID)
		}
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if n > len(candidates) {
		n = len(candidates)
	}

	return candidates[:n]
}

// ExchangePeerLists merges a peer list advertised by another peer. The sender
// is marked active; each advertised peer is merged subject to the maxPeers
// cap, with already-known peers always accepted.
func (r *Registry) ExchangePeerLists(from string, list []*Peer) {
	r.MarkActive(from)

	for _, advertised := range list {
		if advertised.ID == "" || advertised.Host == "" {
			continue
		}
		r.AddPeer(advertised.ID, advertised.Host, advertised.Port)
	}
}

// Sweep marks dead every active peer whose last contact is older than three
// heartbeat intervals. Ages are read under the registry lock so a concurrent
// MarkActive cannot race the check.
func (r *Registry) Sweep() {
	timeout := 3 * r.heartbeatInterval

	r.lock.Lock()
	defer r.lock.Unlock()

	for id, peer := range r.peers {
		if peer.State == StateActive && peer.Age() > timeout {
			peer.State = StateDead
			r.logger.WithField("peer", id).Debug("Marked peer dead")
		}
	}
}

func (r *Registry) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.gossiper != nil && len(r.ActivePeers()) > 0 {
				r.gossiper.SendHeartbeats()
			}
			r.Sweep()
		case <-r.shutdownCh:
			return
		}
	}
}

func (r *Registry) discoveryLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.gossiper != nil && len(r.ActivePeers()) > 0 {
				r.gossiper.SharePeerList()
			}
		case <-r.shutdownCh:
			return
		}
	}
}

// activeCount counts active peers. Callers hold the lock.
func (r *Registry) activeCount() int {
	count := 0
	for _, peer := range r.peers {
		if peer.State == StateActive {
			count++
		}
	}
	return count
}

// Count returns the total number of tracked peers.
func (r *Registry) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.peers)
}

// Stats returns a snapshot of the registry's state.
func (r *Registry) Stats() map[string]interface{} {
	r.lock.RLock()
	defer r.lock.RUnlock()

	active, dead := 0, 0
	for _, peer := range r.peers {
		if peer.State == StateActive {
			active++
		} else {
			dead++
		}
	}

	return map[string]interface{}{
		"total_peers":  len(r.peers),
		"active_peers": active,
		"dead_peers":   dead,
		"max_peers":    r.maxPeers,
	}
}
