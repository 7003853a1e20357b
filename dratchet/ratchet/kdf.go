package ratchet

import (
	"crypto/sha256"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// Domain separation labels. Changing any of them breaks interoperability.
var (
	labelRootKey    = []byte("RootKey")
	labelChainKey   = []byte("ChainKey")
	labelMessageKey = []byte("MessageKey")
	labelNextChain  = []byte("NextChain")
	labelHandshake  = []byte("RootKey_")
)

// DeriveRoot is the root KDF. It extracts a pseudorandom key from dhOutput
// keyed by rootKey (HKDF-Extract, i.e. HMAC-SHA256(rootKey, dhOutput)) and
// expands it twice, under "RootKey" and "ChainKey", into the next root key and
// a new chain key.
func DeriveRoot(rootKey, dhOutput Key) (newRoot, chain Key) {
	prk := crypto.Extract(dhOutput[:], rootKey[:])
	defer crypto.Wipe(prk)

	expand(&newRoot, prk, labelRootKey)
	expand(&chain, prk, labelChainKey)
	return newRoot, chain
}

// DeriveChain is the chain KDF: HMAC-SHA256 keyed by chainKey over
// "MessageKey" yields the message key and over "NextChain" the next chain
// key. There is no way back from next to chainKey.
func DeriveChain(chainKey Key) (next, message Key) {
	mk := crypto.MAC(chainKey[:], labelMessageKey)
	ck := crypto.MAC(chainKey[:], labelNextChain)
	copy(message[:], mk)
	copy(next[:], ck)
	crypto.Wipe(mk)
	crypto.Wipe(ck)
	return next, message
}

func expand(dst *Key, prk, info []byte) {
	// A 32-byte HKDF-Expand read cannot fail.
	out, _ := crypto.Expand(prk, info, KeySize)
	copy(dst[:], out)
	crypto.Wipe(out)
}

// rootFromTranscript hashes the handshake transcript into the initial root key.
func rootFromTranscript(transcript []byte) Key {
	h := sha256.New()
	h.Write(labelHandshake)
	h.Write(transcript)
	var root Key
	copy(root[:], h.Sum(nil))
	return root
}
