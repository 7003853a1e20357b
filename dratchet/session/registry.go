package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/TheusHen/DRatchet/dratchet/identity"
)

var (
	ErrSessionExpired  = errors.New("session: session expired")
	ErrSessionNotFound = errors.New("session: session not found")
)

// DefaultIdleLifetime closes sessions that saw no traffic for a day.
const DefaultIdleLifetime = 24 * time.Hour

// Registry tracks the live session per remote peer.
type Registry struct {
	mu       sync.RWMutex
	sessions map[identity.PeerID]*Session
	lifetime time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry. A non-positive lifetime selects
// DefaultIdleLifetime.
func NewRegistry(lifetime time.Duration) *Registry {
	if lifetime <= 0 {
		lifetime = DefaultIdleLifetime
	}
	return &Registry{
		sessions: make(map[identity.PeerID]*Session),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Put stores s as the session for its peer and closes the one it replaces.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	old := r.sessions[s.RemotePeerID()]
	r.sessions[s.RemotePeerID()] = s
	r.mu.Unlock()

	if old != nil && old != s {
		return old.Close()
	}
	return nil
}

// Lookup returns the session for peer if it is still live.
func (r *Registry) Lookup(peer identity.PeerID) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[peer]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Closed() || r.expired(s) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Revoke closes and forgets the session for peer.
func (r *Registry) Revoke(peer identity.PeerID) error {
	r.mu.Lock()
	s, ok := r.sessions[peer]
	delete(r.sessions, peer)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// Cleanup closes and removes idle or closed sessions.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.Closed() || r.expired(s) {
			delete(r.sessions, id)
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		_ = s.Close()
	}
	return len(stale)
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[identity.PeerID]*Session)
	r.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (r *Registry) expired(s *Session) bool {
	return r.now().Sub(s.LastActivity()) > r.lifetime
}
