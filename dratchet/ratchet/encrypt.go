package ratchet

import (
	"fmt"
	"math"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// Encrypt seals plaintext under the next message key of the sending chain.
// ad is authenticated together with the envelope header but not sent.
//
// A state without a sending chain (a fresh responder) first generates a new
// ratchet key pair and derives a sending chain from the root key and
// DH(new, remote). The previous local ratchet key is wiped.
func (s *State) Encrypt(plaintext, ad []byte) (Envelope, error) {
	if !s.Initialized() {
		return Envelope{}, errUninitialized()
	}
	if !s.hasSendChain {
		if err := s.startSendChain(); err != nil {
			return Envelope{}, err
		}
	}
	if s.sendCount == math.MaxUint32 {
		return Envelope{}, ErrChainExhausted
	}

	next, mk := DeriveChain(s.sendChain)
	defer mk.Wipe()
	s.setSendChain(next)

	env := Envelope{RatchetPublicKey: s.local.PublicKey, Index: s.sendCount}
	s.sendCount++

	ct, err := seal(s.opts.Suite, mk, plaintext, associatedData(env, ad))
	if err != nil {
		return Envelope{}, err
	}
	env.Ciphertext = ct
	return env, nil
}

func (s *State) startSendChain() error {
	if !s.hasRemote {
		return errUninitialized()
	}
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return fmt.Errorf("ratchet: generate ratchet key: %w", err)
	}
	shared, err := crypto.ECDH(kp.PrivateKey, s.remote)
	if err != nil {
		kp.Wipe()
		return fmt.Errorf("ratchet: send ratchet: %w", err)
	}
	dh := Key(shared)
	crypto.Wipe(shared[:])
	defer dh.Wipe()

	root, send := DeriveRoot(s.root, dh)
	s.setRoot(root)
	s.setSendChain(send)
	s.sendCount = 0
	s.local.Wipe()
	s.local = kp
	s.steps++
	return nil
}

func associatedData(env Envelope, ad []byte) []byte {
	return append(env.Header(), ad...)
}

func seal(suite crypto.Suite, mk Key, plaintext, ad []byte) ([]byte, error) {
	aead, err := crypto.NewAEAD(suite, mk[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: %w", err)
	}
	ct, err := aead.Seal(plaintext, ad)
	if err != nil {
		return nil, fmt.Errorf("ratchet: %w", err)
	}
	return ct, nil
}

func open(suite crypto.Suite, mk Key, ciphertext, ad []byte) ([]byte, error) {
	aead, err := crypto.NewAEAD(suite, mk[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(ciphertext, ad)
}
