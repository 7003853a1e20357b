package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

var (
	ErrInvalidSeed = errors.New("identity: invalid Ed25519 seed size")
)

// KeyPair is a party's long-term identity: an Ed25519 key that signs
// published material and names the peer, and an X25519 key that takes part
// in the session handshake.
type KeyPair struct {
	SigningPublic  ed25519.PublicKey
	SigningPrivate ed25519.PrivateKey
	DH             crypto.KeyPair
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	dh, err := crypto.GenerateX25519()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{SigningPublic: pub, SigningPrivate: priv, DH: dh}, nil
}

// NewKeyPair rebuilds an identity from its stored secrets.
func NewKeyPair(signingSeed []byte, dhPrivate [crypto.KeySize]byte) (KeyPair, error) {
	if len(signingSeed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("%w: %d", ErrInvalidSeed, len(signingSeed))
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)
	return KeyPair{
		SigningPublic:  priv.Public().(ed25519.PublicKey),
		SigningPrivate: priv,
		DH:             crypto.KeyPairFromPrivate(dhPrivate),
	}, nil
}

// Seed returns the Ed25519 seed, the part of the signing key worth storing.
func (kp KeyPair) Seed() []byte {
	return kp.SigningPrivate.Seed()
}

func (kp KeyPair) PeerID() PeerID {
	return PeerIDFromPublicKey(kp.SigningPublic)
}

// Public returns the shareable half of the identity.
func (kp KeyPair) Public() PublicIdentity {
	return PublicIdentity{SigningKey: kp.SigningPublic, DHKey: kp.DH.PublicKey}
}

func (kp KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.SigningPrivate, message)
}

// NewPrekey generates a one-use ephemeral key pair to publish for a
// responder handshake.
func (kp KeyPair) NewPrekey() (crypto.KeyPair, error) {
	return crypto.GenerateX25519()
}

// Wipe erases both private keys.
func (kp *KeyPair) Wipe() {
	crypto.Wipe(kp.SigningPrivate)
	kp.DH.Wipe()
}

// PublicIdentity is what a peer learns about another party.
type PublicIdentity struct {
	SigningKey ed25519.PublicKey
	DHKey      [crypto.KeySize]byte
}

func (p PublicIdentity) PeerID() PeerID {
	return PeerIDFromPublicKey(p.SigningKey)
}

func Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
