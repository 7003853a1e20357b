package ratchet

import (
	"crypto/subtle"
	"encoding/hex"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// KeySize is the size of root, chain and message keys.
const KeySize = 32

// Key is a 32-byte root, chain or message key.
type Key [KeySize]byte

// Wipe zeroes the key in place.
func (k *Key) Wipe() { crypto.Wipe(k[:]) }

// Equal compares two keys in constant time.
func (k Key) Equal(other Key) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is all zeros.
func (k Key) IsZero() bool { return k.Equal(Key{}) }

// String returns a short hex prefix, never the full key.
func (k Key) String() string { return hex.EncodeToString(k[:4]) + "..." }
