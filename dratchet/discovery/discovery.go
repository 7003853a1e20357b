package discovery

import (
	"errors"
	"net/netip"

	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/dratchet/protocol"
)

var (
	ErrNotFound       = errors.New("discovery: peer not found")
	ErrBundleMismatch = errors.New("discovery: bundle does not belong to peer")
)

// AddrInfo is what discovery knows about a peer: where to dial it and,
// optionally, a signed prekey bundle for establishing a session without a
// live round trip.
type AddrInfo struct {
	PeerID       identity.PeerID
	Addr         netip.AddrPort
	Bundle       *protocol.Bundle
	Capabilities map[string]string
}

// Validate checks that a published bundle is signed by the announced peer.
func (a AddrInfo) Validate() error {
	if a.Bundle == nil {
		return nil
	}
	if err := a.Bundle.Verify(); err != nil {
		return err
	}
	if a.Bundle.PeerID() != a.PeerID {
		return ErrBundleMismatch
	}
	return nil
}

// Clone returns a deep copy.
func (a AddrInfo) Clone() AddrInfo {
	caps := make(map[string]string, len(a.Capabilities))
	for k, v := range a.Capabilities {
		caps[k] = v
	}
	a.Capabilities = caps
	if a.Bundle != nil {
		b := *a.Bundle
		a.Bundle = &b
	}
	return a
}

// Resolver is a generic discovery interface.
// Implementations can be backed by DHT, mDNS/DNS-SD, bootstrap lists, etc.
type Resolver interface {
	Announce(info AddrInfo) error
	Lookup(peerID identity.PeerID) (AddrInfo, error)
	List() ([]AddrInfo, error)
}
