package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryPutLookup(t *testing.T) {
	r := NewRegistry(time.Hour)
	p := establish(t)

	require.NoError(t, r.Put(p.aliceSess))
	got, err := r.Lookup(p.bob.PeerID())
	require.NoError(t, err)
	require.Same(t, p.aliceSess, got)
	require.Equal(t, 1, r.Count())

	_, err = r.Lookup(p.alice.PeerID())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryReplaceClosesOld(t *testing.T) {
	r := NewRegistry(0)
	alice, bob := newKeyPair(t), newKeyPair(t)

	first, _ := establishBetween(t, alice, bob)
	second, _ := establishBetween(t, alice, bob)

	require.NoError(t, r.Put(first))
	require.NoError(t, r.Put(second))
	require.True(t, first.Closed())
	require.False(t, second.Closed())
	require.Equal(t, 1, r.Count())
}

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }

	p := establish(t)
	require.NoError(t, r.Put(p.aliceSess))

	now = now.Add(2 * time.Minute)
	_, err := r.Lookup(p.bob.PeerID())
	require.ErrorIs(t, err, ErrSessionExpired)

	require.Equal(t, 1, r.Cleanup())
	require.Equal(t, 0, r.Count())
	require.True(t, p.aliceSess.Closed())
}

func TestRegistryRevokeAndClose(t *testing.T) {
	r := NewRegistry(time.Hour)
	p := establish(t)
	q := establish(t)
	require.NoError(t, r.Put(p.aliceSess))
	require.NoError(t, r.Put(q.aliceSess))

	require.NoError(t, r.Revoke(p.bob.PeerID()))
	require.True(t, p.aliceSess.Closed())
	require.NoError(t, r.Revoke(p.bob.PeerID()), "revoking twice is a no-op")

	require.NoError(t, r.Close())
	require.True(t, q.aliceSess.Closed())
	require.Equal(t, 0, r.Count())
}
