// Package crypto provides the cryptographic primitives used by dratchet.
//
// Design goals:
//   - Diffie-Hellman over Curve25519 (X25519, RFC 7748)
//   - AEAD encryption via ChaCha20-Poly1305 (RFC 8439), XChaCha20-Poly1305
//     or AES-256-GCM-SIV (RFC 8452), selected per session
//   - Key derivation via HKDF-SHA256 and HMAC-SHA256
//   - Explicit wiping of key material that has been superseded
package crypto
