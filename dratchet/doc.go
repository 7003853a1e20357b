// Package dratchet ties the building blocks of a Double Ratchet messaging
// stack together.
//
// Peers are identified by an Ed25519 signing key and an X25519 identity key.
// A session starts from a signed prekey bundle: the initiator runs a
// triple Diffie-Hellman handshake against it and both sides then exchange
// envelopes through a Double Ratchet (package ratchet), which gives every
// message its own key and heals after a compromised state once the peer
// replies with a fresh ratchet key.
//
// Sessions can be carried over QUIC (package transport/quic), where the TLS
// certificate is bound to the signing key, or established asynchronously
// from a bundle published through discovery. Peer wraps both.
package dratchet
