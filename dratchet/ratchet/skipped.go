package ratchet

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// SkipKey identifies a skipped message key by the sender's ratchet public
// key and the message index.
type SkipKey struct {
	Ratchet [crypto.KeySize]byte
	Index   uint32
}

type skippedEntry struct {
	key    Key
	stored time.Time
}

// skippedKeys is the bounded store of message keys for indices that were
// passed over. Every removal path wipes the key.
type skippedKeys struct {
	cache  *lru.Cache
	maxAge time.Duration
}

func newSkippedKeys(capacity int, maxAge time.Duration) (*skippedKeys, error) {
	cache, err := lru.NewWithEvict(capacity, func(_ interface{}, value interface{}) {
		value.(*skippedEntry).key.Wipe()
	})
	if err != nil {
		return nil, fmt.Errorf("ratchet: skipped key store: %w", err)
	}
	return &skippedKeys{cache: cache, maxAge: maxAge}, nil
}

func (s *skippedKeys) put(id SkipKey, key Key, now time.Time) {
	s.cache.Add(id, &skippedEntry{key: key, stored: now})
}

// peek returns a copy of the key without removing it. Expired entries are
// reported as missing.
func (s *skippedKeys) peek(id SkipKey, now time.Time) (Key, bool) {
	v, ok := s.cache.Peek(id)
	if !ok {
		return Key{}, false
	}
	e := v.(*skippedEntry)
	if s.expired(e, now) {
		return Key{}, false
	}
	return e.key, true
}

func (s *skippedKeys) remove(id SkipKey) {
	s.cache.Remove(id)
}

// purgeExcept drops every key not tied to ratchet.
func (s *skippedKeys) purgeExcept(ratchet [crypto.KeySize]byte) int {
	n := 0
	for _, k := range s.cache.Keys() {
		if k.(SkipKey).Ratchet != ratchet {
			s.cache.Remove(k)
			n++
		}
	}
	return n
}

// prune drops expired keys. Keys are stored in order, so the walk stops at
// the first live entry.
func (s *skippedKeys) prune(now time.Time) int {
	if s.maxAge < 0 {
		return 0
	}
	n := 0
	for _, k := range s.cache.Keys() {
		v, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		if !s.expired(v.(*skippedEntry), now) {
			break
		}
		s.cache.Remove(k)
		n++
	}
	return n
}

func (s *skippedKeys) expired(e *skippedEntry, now time.Time) bool {
	return s.maxAge >= 0 && now.Sub(e.stored) > s.maxAge
}

func (s *skippedKeys) len() int { return s.cache.Len() }

// purge wipes and drops everything.
func (s *skippedKeys) purge() { s.cache.Purge() }
