package mqtt

import (
	"sort"
	"sync"
	"time"
)

// Peer is the last announcement seen from another client.
type Peer struct {
	Announcement
	Topic    string    `json:"topic"`
	LastSeen time.Time `json:"last_seen"`
}

// PeerRegistry maintains the latest announcement per client ID.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerRegistry creates a new empty peer registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[string]*Peer),
	}
}

// Register adds or replaces a peer.
func (r *PeerRegistry) Register(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ClientID] = p
}

// Unregister removes a peer.
func (r *PeerRegistry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, clientID)
}

// Get returns a copy of a peer, or nil if not found.
func (r *PeerRegistry) Get(clientID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.peers[clientID]; ok {
		return copyPeer(p)
	}
	return nil
}

// Exists returns true if the peer is registered.
func (r *PeerRegistry) Exists(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[clientID]
	return ok
}

// All returns copies of all peers ordered by client ID.
func (r *PeerRegistry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, copyPeer(p))
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ClientID < peers[j].ClientID
	})
	return peers
}

// Count returns the number of registered peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Mismatched returns the peers whose version string differs from version.
func (r *PeerRegistry) Mismatched(version string) []*Peer {
	var out []*Peer
	for _, p := range r.All() {
		if p.Version != version {
			out = append(out, p)
		}
	}
	return out
}

// Clear removes all peers.
func (r *PeerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]*Peer)
}

func copyPeer(p *Peer) *Peer {
	cpy := *p
	cpy.Exports = append([]string{}, p.Exports...)
	return &cpy
}
