package protocol

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/identity"
)

// Init is the initiator's first message. It carries the initiator's
// identity and handshake ephemeral and names the responder prekey it used.
type Init struct {
	SigningKey   []byte `cbor:"sig_key"`
	IdentityKey  []byte `cbor:"id_key"`
	Ephemeral    []byte `cbor:"eph"`
	Prekey       []byte `cbor:"prekey"`
	TimestampSec int64  `cbor:"ts"`
	Signature    []byte `cbor:"sig,omitempty"`
}

func NewInit(kp identity.KeyPair, ephemeral, prekey [crypto.KeySize]byte) Init {
	return Init{
		SigningKey:   append([]byte(nil), kp.SigningPublic...),
		IdentityKey:  append([]byte(nil), kp.DH.PublicKey[:]...),
		Ephemeral:    append([]byte(nil), ephemeral[:]...),
		Prekey:       append([]byte(nil), prekey[:]...),
		TimestampSec: time.Now().Unix(),
	}
}

func (m Init) SigningBytes() ([]byte, error) {
	m.Signature = nil
	return encMode.Marshal(m)
}

func (m *Init) Sign(kp identity.KeyPair) error {
	toSign, err := m.SigningBytes()
	if err != nil {
		return err
	}
	m.Signature = kp.Sign(toSign)
	return nil
}

func (m Init) Verify() error {
	if len(m.SigningKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: signing key", ErrMissingKey)
	}
	for _, k := range []struct {
		raw  []byte
		what string
	}{{m.IdentityKey, "identity key"}, {m.Ephemeral, "ephemeral"}, {m.Prekey, "prekey"}} {
		if _, err := dhKey(k.raw, k.what); err != nil {
			return err
		}
	}
	toVerify, err := m.SigningBytes()
	if err != nil {
		return err
	}
	if !identity.Verify(ed25519.PublicKey(m.SigningKey), toVerify, m.Signature) {
		return ErrBadSignature
	}
	return nil
}

func (m Init) PeerID() identity.PeerID {
	return identity.PeerIDFromPublicKey(m.SigningKey)
}

func (m Init) IdentityDH() ([crypto.KeySize]byte, error) {
	return dhKey(m.IdentityKey, "identity key")
}

func (m Init) EphemeralDH() ([crypto.KeySize]byte, error) {
	return dhKey(m.Ephemeral, "ephemeral")
}

func (m Init) PrekeyDH() ([crypto.KeySize]byte, error) {
	return dhKey(m.Prekey, "prekey")
}

func EncodeInit(m Init) ([]byte, error) {
	return encMode.Marshal(m)
}

func DecodeInit(data []byte) (Init, error) {
	var m Init
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Init{}, fmt.Errorf("protocol: decode init: %w", err)
	}
	return m, nil
}
