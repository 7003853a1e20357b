// Package ratchet implements the Double Ratchet state machine.
//
// A State is created by an asymmetric handshake (InitAsInitiator on one side,
// InitAsResponder on the other) that mixes three X25519 agreements into the
// initial root key. Every message then advances a symmetric KDF chain, and
// every change of the peer's ratchet public key performs a DH ratchet step
// that derives a fresh receiving chain from the root key.
//
// Messages may arrive out of order: keys for skipped indices are kept in a
// bounded store (MaxSkip, MaxStoredKeys, MaxKeyAge) until the matching
// envelope arrives, the entry expires, or the peer's ratchet key changes.
//
// Errors are reported as *Error values. Structural problems and excessive
// skips are detected before any state is touched. A DH ratchet step under a
// new remote key is only committed once the envelope authenticates, so a
// forged key never replaces the live chain. An authentication failure on the
// current receiving chain leaves that chain advanced: the message key for
// that index is gone and the message is lost, while the session stays usable
// for later messages. Error.Advanced reports which case applies.
//
// Concurrency: State is NOT safe for concurrent use. Callers must serialise
// access per conversation (see package session).
package ratchet
