package memory

import (
	"sync"

	"github.com/TheusHen/DRatchet/dratchet/discovery"
	"github.com/TheusHen/DRatchet/dratchet/identity"
)

// Store is an in-memory discovery resolver.
// It is useful for tests, examples and embedding in applications.
type Store struct {
	mu    sync.RWMutex
	peers map[identity.PeerID]discovery.AddrInfo
}

func New() *Store {
	return &Store{peers: map[identity.PeerID]discovery.AddrInfo{}}
}

// Announce records info. A bundle that fails verification is rejected.
func (s *Store) Announce(info discovery.AddrInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[info.PeerID] = info.Clone()
	return nil
}

func (s *Store) Lookup(peerID identity.PeerID) (discovery.AddrInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.peers[peerID]
	if !ok {
		return discovery.AddrInfo{}, discovery.ErrNotFound
	}
	return info.Clone(), nil
}

func (s *Store) List() ([]discovery.AddrInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.AddrInfo, 0, len(s.peers))
	for _, info := range s.peers {
		out = append(out, info.Clone())
	}
	return out, nil
}

// Remove forgets a peer.
func (s *Store) Remove(peerID identity.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, peerID)
}
