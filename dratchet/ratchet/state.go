package ratchet

import (
	"fmt"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// State is one side of a ratcheting conversation.
type State struct {
	opts Options

	identity     [crypto.KeySize]byte
	peerIdentity [crypto.KeySize]byte

	root Key

	sendChain    Key
	hasSendChain bool
	recvChain    Key
	hasRecvChain bool

	local     crypto.KeyPair
	remote    [crypto.KeySize]byte
	hasRemote bool
	// retired is the remote ratchet key replaced by the last DH ratchet step.
	retired    [crypto.KeySize]byte
	hasRetired bool

	sendCount uint32
	recvCount uint32
	steps     uint64

	skipped       *skippedKeys
	minCiphertext int

	initialized bool
}

func newState(identity, peerIdentity [crypto.KeySize]byte, opts Options) (*State, error) {
	opts = opts.WithDefaults()
	aead, err := crypto.NewAEAD(opts.Suite, make([]byte, crypto.AEADKeySize))
	if err != nil {
		return nil, fmt.Errorf("ratchet: %w", err)
	}
	skipped, err := newSkippedKeys(opts.MaxStoredKeys, opts.MaxKeyAge)
	if err != nil {
		return nil, err
	}
	return &State{
		opts:         opts,
		identity:     identity,
		peerIdentity: peerIdentity,
		skipped:      skipped,
		// nonce plus tag; anything shorter cannot authenticate
		minCiphertext: aead.NonceSize() + aead.Overhead(),
	}, nil
}

// Initialized reports whether the handshake completed and the state has not
// been destroyed.
func (s *State) Initialized() bool { return s != nil && s.initialized }

// Options returns the effective policy.
func (s *State) Options() Options { return s.opts }

// IdentityPublic returns the local identity DH public key.
func (s *State) IdentityPublic() [crypto.KeySize]byte { return s.identity }

// PeerIdentityPublic returns the peer identity DH public key.
func (s *State) PeerIdentityPublic() [crypto.KeySize]byte { return s.peerIdentity }

// RootKey returns the current root key.
func (s *State) RootKey() Key { return s.root }

// SendChainKey returns the current sending chain key, if any.
func (s *State) SendChainKey() (Key, bool) { return s.sendChain, s.hasSendChain }

// RecvChainKey returns the current receiving chain key, if any.
func (s *State) RecvChainKey() (Key, bool) { return s.recvChain, s.hasRecvChain }

// LocalRatchetPublic returns the public half of the local ratchet key.
func (s *State) LocalRatchetPublic() [crypto.KeySize]byte { return s.local.PublicKey }

// RemoteRatchetPublic returns the last seen remote ratchet public key.
func (s *State) RemoteRatchetPublic() ([crypto.KeySize]byte, bool) {
	return s.remote, s.hasRemote
}

// SendCount is the index the next outgoing message will carry.
func (s *State) SendCount() uint32 { return s.sendCount }

// RecvCount is the next expected index on the receiving chain.
func (s *State) RecvCount() uint32 { return s.recvCount }

// RatchetSteps counts DH ratchet steps since the handshake.
func (s *State) RatchetSteps() uint64 { return s.steps }

// SkippedCount is the number of stored skipped message keys.
func (s *State) SkippedCount() int {
	if s.skipped == nil {
		return 0
	}
	return s.skipped.len()
}

// Prune drops skipped keys older than MaxKeyAge and reports how many.
func (s *State) Prune() int {
	if s.skipped == nil {
		return 0
	}
	return s.skipped.prune(s.opts.Now())
}

// Destroy wipes every secret and returns the state to uninitialised.
func (s *State) Destroy() {
	if s == nil {
		return
	}
	s.root.Wipe()
	s.sendChain.Wipe()
	s.recvChain.Wipe()
	s.local.Wipe()
	if s.skipped != nil {
		s.skipped.purge()
	}
	s.hasSendChain = false
	s.hasRecvChain = false
	s.hasRemote = false
	s.hasRetired = false
	s.sendCount = 0
	s.recvCount = 0
	s.initialized = false
}

func (s *State) setSendChain(ck Key) {
	s.sendChain.Wipe()
	s.sendChain = ck
	s.hasSendChain = true
}

func (s *State) setRecvChain(ck Key) {
	s.recvChain.Wipe()
	s.recvChain = ck
	s.hasRecvChain = true
}

func (s *State) setRoot(rk Key) {
	s.root.Wipe()
	s.root = rk
}
