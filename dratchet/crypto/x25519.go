package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of X25519 public keys, private keys and shared secrets.
const KeySize = curve25519.PointSize

// KeyPair is an X25519 key pair. It is used both for long-lived identity
// keys and for ephemeral ratchet keys.
type KeyPair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
}

var (
	ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")
)

// GenerateX25519 generates a new X25519 keypair.
func GenerateX25519() (KeyPair, error) {
	return GenerateX25519From(rand.Reader)
}

// GenerateX25519From generates a keypair reading the private scalar from r.
func GenerateX25519From(r io.Reader) (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(r, kp.PrivateKey[:]); err != nil {
		return KeyPair{}, err
	}
	// Clamp private key per RFC 7748
	kp.PrivateKey[0] &= 248
	kp.PrivateKey[31] &= 127
	kp.PrivateKey[31] |= 64

	curve25519.ScalarBaseMult(&kp.PublicKey, &kp.PrivateKey)
	return kp, nil
}

// KeyPairFromPrivate rebuilds a keypair from a stored private scalar.
func KeyPairFromPrivate(priv [KeySize]byte) KeyPair {
	kp := KeyPair{PrivateKey: priv}
	curve25519.ScalarBaseMult(&kp.PublicKey, &kp.PrivateKey)
	return kp
}

// Wipe erases the private half. The public key stays usable.
func (kp *KeyPair) Wipe() {
	Wipe(kp.PrivateKey[:])
}

// ECDH computes the shared secret using X25519.
// Returns 32 bytes of raw shared secret (should be passed to a KDF).
func ECDH(privateKey, peerPublicKey [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	if err := ValidatePublicKey(peerPublicKey); err != nil {
		return out, err
	}
	shared, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		// low-order points produce an all-zero output
		return out, ErrInvalidPublicKey
	}
	copy(out[:], shared)
	Wipe(shared)
	return out, nil
}

// ValidatePublicKey rejects the all-zero point. Other low-order points are
// caught by ECDH.
func ValidatePublicKey(pub [KeySize]byte) error {
	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(pub[:], zero[:]) == 1 {
		return ErrInvalidPublicKey
	}
	return nil
}
