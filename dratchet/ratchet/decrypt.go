package ratchet

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

var (
	errNoChain      = errors.New("no receiving chain for ratchet key")
	errConsumed     = errors.New("message key already used or expired")
	errRetiredChain = errors.New("ratchet key was superseded")
)

// Decrypt opens an envelope produced by the peer's Encrypt with the same ad.
//
// The order of resolution is: a stored skipped key for (ratchet key, index);
// otherwise, when the ratchet key is new, a DH ratchet step; then the
// receiving chain is advanced to the index, storing a key for every index
// passed over. Validation and skip limits are checked before anything is
// modified.
//
// A DH ratchet step is only committed once the envelope authenticates, so a
// forged ratchet key leaves the state as it was. On the current receiving
// chain the advance is committed before opening; an authentication failure
// there returns an *Error with Advanced set.
func (s *State) Decrypt(env Envelope, ad []byte) ([]byte, error) {
	if !s.Initialized() {
		return nil, errUninitialized()
	}
	if err := s.validate(env); err != nil {
		return nil, err
	}
	now := s.opts.Now()
	aad := associatedData(env, ad)

	id := SkipKey{Ratchet: env.RatchetPublicKey, Index: env.Index}
	if mk, ok := s.skipped.peek(id, now); ok {
		pt, err := open(s.opts.Suite, mk, env.Ciphertext, aad)
		mk.Wipe()
		if err != nil {
			return nil, &Error{Kind: KindDecryption, Err: err}
		}
		s.skipped.remove(id)
		return pt, nil
	}

	if !s.hasRemote || env.RatchetPublicKey != s.remote {
		return s.decryptNewChain(env, aad, now)
	}

	if !s.hasRecvChain {
		return nil, &Error{Kind: KindDecryption, Err: errNoChain}
	}
	if env.Index < s.recvCount {
		return nil, &Error{Kind: KindDecryption, Err: errConsumed}
	}
	if gap := env.Index - s.recvCount; gap > s.opts.MaxSkip {
		return nil, &Error{Kind: KindExcessiveSkip, Err: skipError(gap, s.opts.MaxSkip)}
	}

	for s.recvCount < env.Index {
		next, mk := DeriveChain(s.recvChain)
		s.skipped.put(SkipKey{Ratchet: s.remote, Index: s.recvCount}, mk, now)
		s.setRecvChain(next)
		s.recvCount++
	}
	next, mk := DeriveChain(s.recvChain)
	defer mk.Wipe()
	s.setRecvChain(next)
	s.recvCount++
	s.skipped.prune(now)

	pt, err := open(s.opts.Suite, mk, env.Ciphertext, aad)
	if err != nil {
		return nil, &Error{Kind: KindDecryption, Advanced: true, Err: err}
	}
	return pt, nil
}

// decryptNewChain handles an envelope under a ratchet key not seen yet. The
// new root, receiving chain and skipped keys live in locals until the
// envelope opens.
func (s *State) decryptNewChain(env Envelope, aad []byte, now time.Time) ([]byte, error) {
	if s.hasRetired && env.RatchetPublicKey == s.retired {
		return nil, &Error{Kind: KindDecryption, Err: errRetiredChain}
	}
	if env.Index > s.opts.MaxSkip {
		return nil, &Error{Kind: KindExcessiveSkip, Err: skipError(env.Index, s.opts.MaxSkip)}
	}
	shared, err := crypto.ECDH(s.local.PrivateKey, env.RatchetPublicKey)
	if err != nil {
		return nil, invalidEnvelope("%v", err)
	}
	dh := Key(shared)
	crypto.Wipe(shared[:])
	root, chain := DeriveRoot(s.root, dh)
	dh.Wipe()
	defer root.Wipe()
	defer chain.Wipe()

	gap := make([]Key, env.Index)
	defer func() {
		for i := range gap {
			gap[i].Wipe()
		}
	}()
	for i := range gap {
		next, mk := DeriveChain(chain)
		gap[i] = mk
		chain.Wipe()
		chain = next
	}
	next, mk := DeriveChain(chain)
	defer next.Wipe()
	defer mk.Wipe()

	pt, err := open(s.opts.Suite, mk, env.Ciphertext, aad)
	if err != nil {
		return nil, &Error{Kind: KindDecryption, Err: err}
	}

	if s.hasRemote {
		s.retired = s.remote
		s.hasRetired = true
	}
	s.setRoot(root)
	s.remote = env.RatchetPublicKey
	s.hasRemote = true
	s.skipped.purgeExcept(s.remote)
	s.steps++
	for i, k := range gap {
		s.skipped.put(SkipKey{Ratchet: s.remote, Index: uint32(i)}, k, now)
	}
	s.setRecvChain(next)
	s.recvCount = env.Index + 1
	s.skipped.prune(now)
	return pt, nil
}

func (s *State) validate(env Envelope) error {
	if err := crypto.ValidatePublicKey(env.RatchetPublicKey); err != nil {
		return invalidEnvelope("%v", err)
	}
	if env.Index == math.MaxUint32 {
		return invalidEnvelope("message index out of range")
	}
	if len(env.Ciphertext) < s.minCiphertext {
		return invalidEnvelope("ciphertext too short: %d < %d bytes", len(env.Ciphertext), s.minCiphertext)
	}
	return nil
}

func skipError(gap, limit uint32) error {
	return fmt.Errorf("skip of %d exceeds limit %d", gap, limit)
}
