package peers

import (
	"fmt"
	"time"
)

// State is the liveness state of a peer.
type State string

const (
	// StateActive marks a peer that has been heard from recently.
	StateActive State = "active"

	// StateDead marks a peer that missed its liveness window.
	StateDead State = "dead"
)

// Peer is an entry of the registry. LastSeen is refreshed on every fresh
// contact.
type Peer struct {
	ID       string  `json:"id"`
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	LastSeen float64 `json:"last_seen"`
	State    State   `json:"state"`
}

// NewPeer creates an active peer seen now.
func NewPeer(id, host string, port int) *Peer {
	return &Peer{
		ID:       id,
		Host:     host,
		Port:     port,
		LastSeen: float64(time.Now().UnixNano()) / 1e9,
		State:    StateActive,
	}
}

// Addr returns the host:port form of the peer.
func (p *Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Age returns the time elapsed since the peer was last seen.
func (p *Peer) Age() time.Duration {
	seen := time.Unix(0, int64(p.LastSeen*1e9))
	return time.Since(seen)
}
