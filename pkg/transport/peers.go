package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
)

// MaxPeers is the number of peers a PeerTable holds.
const MaxPeers = 20

var (
	// ErrTooManyPeers indicates the peer table is full.
	ErrTooManyPeers = fmt.Errorf("more than %d peers", MaxPeers)
	// ErrInvalidPeer indicates an address that can't be used as a peer.
	ErrInvalidPeer = errors.New("invalid peer address")
)

// Peer is the address of a receiver: a hardware address in canonical form
// (aa:bb:cc:dd:ee:ff), a URL, or a plain name used as a topic segment.
type Peer string

// ParsePeer validates and normalizes a peer address.
func ParsePeer(s string) (Peer, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidPeer
	}
	if mac, err := net.ParseMAC(s); err == nil {
		if len(mac) != 6 {
			return "", fmt.Errorf("%w: %q is not a 48-bit address", ErrInvalidPeer, s)
		}
		return Peer(mac.String()), nil
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPeer, err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("%w: %q has no host", ErrInvalidPeer, s)
		}
		return Peer(u.String()), nil
	}
	if strings.ContainsAny(s, "+#/ \t") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeer, s)
	}
	return Peer(s), nil
}

// IsHardwareAddr tells if the peer is a hardware address.
func (p Peer) IsHardwareAddr() bool {
	mac, err := net.ParseMAC(string(p))
	return err == nil && len(mac) == 6
}

// TopicName returns the peer as a single topic segment.
func (p Peer) TopicName() string {
	if p.IsHardwareAddr() {
		return strings.Replace(string(p), ":", "", -1)
	}
	return string(p)
}

// PeerTable maps model ids to peers: model n is the n-th registered peer.
type PeerTable struct {
	lock  sync.RWMutex
	peers []Peer
}

// NewPeerTable creates a PeerTable from addresses.
func NewPeerTable(addrs ...string) (*PeerTable, error) {
	t := &PeerTable{}
	for _, addr := range addrs {
		peer, err := ParsePeer(addr)
		if err != nil {
			return nil, err
		}
		if _, err := t.Add(peer); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add registers a peer and returns its model id. A peer registered twice
// keeps its first id.
func (t *PeerTable) Add(peer Peer) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for n, p := range t.peers {
		if p == peer {
			return n, nil
		}
	}
	if len(t.peers) >= MaxPeers {
		return -1, ErrTooManyPeers
	}
	t.peers = append(t.peers, peer)
	return len(t.peers) - 1, nil
}

// Lookup returns the peer for a model id.
func (t *PeerTable) Lookup(model int) (Peer, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if model < 0 || model >= len(t.peers) {
		return "", false
	}
	return t.peers[model], true
}

// Len returns the number of peers.
func (t *PeerTable) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.peers)
}

// Peers returns a copy of the registered peers in model id order.
func (t *PeerTable) Peers() []Peer {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return append([]Peer(nil), t.peers...)
}
