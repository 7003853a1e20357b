package protocol

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/identity"
)

var (
	ErrBadSignature = errors.New("protocol: invalid signature")
	ErrMissingKey   = errors.New("protocol: missing or malformed key")
)

// encMode produces canonical CBOR so signatures cover a stable encoding.
var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Bundle is what a responder publishes: its identity keys and a prekey the
// initiator uses as the responder's ephemeral in the handshake. It is signed
// with the responder's Ed25519 key.
type Bundle struct {
	SigningKey   []byte            `cbor:"sig_key"`
	IdentityKey  []byte            `cbor:"id_key"`
	Prekey       []byte            `cbor:"prekey"`
	TimestampSec int64             `cbor:"ts"`
	Capabilities map[string]string `cbor:"caps,omitempty"`
	Signature    []byte            `cbor:"sig,omitempty"`
}

func NewBundle(kp identity.KeyPair, prekey [crypto.KeySize]byte, capabilities map[string]string) Bundle {
	capsCopy := make(map[string]string, len(capabilities))
	for k, v := range capabilities {
		capsCopy[k] = v
	}
	return Bundle{
		SigningKey:   append([]byte(nil), kp.SigningPublic...),
		IdentityKey:  append([]byte(nil), kp.DH.PublicKey[:]...),
		Prekey:       append([]byte(nil), prekey[:]...),
		TimestampSec: time.Now().Unix(),
		Capabilities: capsCopy,
	}
}

// SigningBytes is the canonical encoding of the bundle without its signature.
func (b Bundle) SigningBytes() ([]byte, error) {
	b.Signature = nil
	return encMode.Marshal(b)
}

func (b *Bundle) Sign(kp identity.KeyPair) error {
	toSign, err := b.SigningBytes()
	if err != nil {
		return err
	}
	b.Signature = kp.Sign(toSign)
	return nil
}

func (b Bundle) Verify() error {
	if len(b.SigningKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: signing key", ErrMissingKey)
	}
	if _, err := b.IdentityDH(); err != nil {
		return err
	}
	if _, err := b.PrekeyDH(); err != nil {
		return err
	}
	toVerify, err := b.SigningBytes()
	if err != nil {
		return err
	}
	if !identity.Verify(ed25519.PublicKey(b.SigningKey), toVerify, b.Signature) {
		return ErrBadSignature
	}
	return nil
}

func (b Bundle) PeerID() identity.PeerID {
	return identity.PeerIDFromPublicKey(b.SigningKey)
}

func (b Bundle) IdentityDH() ([crypto.KeySize]byte, error) {
	return dhKey(b.IdentityKey, "identity key")
}

func (b Bundle) PrekeyDH() ([crypto.KeySize]byte, error) {
	return dhKey(b.Prekey, "prekey")
}

// Public returns the bundle owner's identity.
func (b Bundle) Public() (identity.PublicIdentity, error) {
	dh, err := b.IdentityDH()
	if err != nil {
		return identity.PublicIdentity{}, err
	}
	return identity.PublicIdentity{SigningKey: append(ed25519.PublicKey(nil), b.SigningKey...), DHKey: dh}, nil
}

func EncodeBundle(b Bundle) ([]byte, error) {
	return encMode.Marshal(b)
}

func DecodeBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("protocol: decode bundle: %w", err)
	}
	return b, nil
}

func dhKey(raw []byte, what string) ([crypto.KeySize]byte, error) {
	var k [crypto.KeySize]byte
	if len(raw) != crypto.KeySize {
		return k, fmt.Errorf("%w: %s", ErrMissingKey, what)
	}
	copy(k[:], raw)
	if err := crypto.ValidatePublicKey(k); err != nil {
		return [crypto.KeySize]byte{}, fmt.Errorf("%w: %s: %v", ErrMissingKey, what, err)
	}
	return k, nil
}
