package ratchet

import (
	"fmt"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// InitAsInitiator runs the initiator half of the handshake against the
// peer's identity and published ephemeral key. It returns the new state and
// the initiator's ephemeral public key, which the peer needs to complete its
// half. The returned state can send immediately.
func InitAsInitiator(local crypto.KeyPair, peerIdentity, peerEphemeral [crypto.KeySize]byte, opts Options) (*State, [crypto.KeySize]byte, error) {
	eph, err := crypto.GenerateX25519()
	if err != nil {
		return nil, [crypto.KeySize]byte{}, fmt.Errorf("ratchet: generate ephemeral: %w", err)
	}
	s, err := initAsInitiator(local, eph, peerIdentity, peerEphemeral, opts)
	if err != nil {
		eph.Wipe()
		return nil, [crypto.KeySize]byte{}, err
	}
	return s, eph.PublicKey, nil
}

func initAsInitiator(local, eph crypto.KeyPair, peerIdentity, peerEphemeral [crypto.KeySize]byte, opts Options) (*State, error) {
	transcript, err := initiatorTranscript(local, eph, peerIdentity, peerEphemeral)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(transcript)

	s, err := newState(local.PublicKey, peerIdentity, opts)
	if err != nil {
		return nil, err
	}
	root0 := rootFromTranscript(transcript)
	defer root0.Wipe()

	// The third transcript term is DH(e, peerEphemeral).
	var dh Key
	copy(dh[:], transcript[2*crypto.KeySize:])
	defer dh.Wipe()

	root, send := DeriveRoot(root0, dh)
	s.setRoot(root)
	s.setSendChain(send)
	s.local = eph
	s.remote = peerEphemeral
	s.hasRemote = true
	s.initialized = true
	return s, nil
}

// InitAsResponder runs the responder half of the handshake. localEphemeral
// is the key pair whose public half was published to the initiator; it
// becomes the responder's first ratchet key. The returned state can receive
// immediately and starts a sending chain on its first Encrypt.
func InitAsResponder(local, localEphemeral crypto.KeyPair, peerIdentity, peerEphemeral [crypto.KeySize]byte, opts Options) (*State, error) {
	transcript, err := responderTranscript(local, localEphemeral, peerIdentity, peerEphemeral)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(transcript)

	s, err := newState(local.PublicKey, peerIdentity, opts)
	if err != nil {
		return nil, err
	}
	root0 := rootFromTranscript(transcript)
	defer root0.Wipe()

	var dh Key
	copy(dh[:], transcript[2*crypto.KeySize:])
	defer dh.Wipe()

	root, recv := DeriveRoot(root0, dh)
	s.setRoot(root)
	s.setRecvChain(recv)
	s.local = localEphemeral
	s.remote = peerEphemeral
	s.hasRemote = true
	s.initialized = true
	return s, nil
}

// initiatorTranscript is DH(IK_A, EK_B) || DH(EK_A, IK_B) || DH(EK_A, EK_B).
func initiatorTranscript(identity, eph crypto.KeyPair, peerIdentity, peerEphemeral [crypto.KeySize]byte) ([]byte, error) {
	return transcript(
		dhPair{identity.PrivateKey, peerEphemeral},
		dhPair{eph.PrivateKey, peerIdentity},
		dhPair{eph.PrivateKey, peerEphemeral},
	)
}

// responderTranscript is DH(EK_B, IK_A) || DH(IK_B, EK_A) || DH(EK_B, EK_A),
// which equals the initiator's transcript term by term.
func responderTranscript(identity, eph crypto.KeyPair, peerIdentity, peerEphemeral [crypto.KeySize]byte) ([]byte, error) {
	return transcript(
		dhPair{eph.PrivateKey, peerIdentity},
		dhPair{identity.PrivateKey, peerEphemeral},
		dhPair{eph.PrivateKey, peerEphemeral},
	)
}

type dhPair struct {
	private [crypto.KeySize]byte
	public  [crypto.KeySize]byte
}

func transcript(pairs ...dhPair) ([]byte, error) {
	defer func() {
		for i := range pairs {
			crypto.Wipe(pairs[i].private[:])
		}
	}()
	out := make([]byte, 0, len(pairs)*crypto.KeySize)
	for i, p := range pairs {
		shared, err := crypto.ECDH(p.private, p.public)
		if err != nil {
			crypto.Wipe(out)
			return nil, fmt.Errorf("ratchet: handshake DH %d: %w", i+1, err)
		}
		out = append(out, shared[:]...)
		crypto.Wipe(shared[:])
	}
	return out, nil
}
