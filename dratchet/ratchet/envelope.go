package ratchet

import (
	"encoding/binary"
	"math"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// HeaderSize is the fixed envelope header: ratchet public key and index.
const HeaderSize = crypto.KeySize + 4

// Envelope is the wire unit produced by Encrypt and consumed by Decrypt.
//
// Format:
//
//	32 bytes: sender ratchet public key
//	4 bytes: message index (big endian)
//	N bytes: ciphertext (nonce || sealed || tag)
type Envelope struct {
	RatchetPublicKey [crypto.KeySize]byte
	Index            uint32
	Ciphertext       []byte
}

// Header returns the fixed-size header. It is authenticated as associated
// data of the ciphertext.
func (e Envelope) Header() []byte {
	h := make([]byte, HeaderSize)
	copy(h, e.RatchetPublicKey[:])
	binary.BigEndian.PutUint32(h[crypto.KeySize:], e.Index)
	return h
}

// MarshalBinary encodes the envelope in wire format.
func (e Envelope) MarshalBinary() ([]byte, error) {
	out := make([]byte, HeaderSize+len(e.Ciphertext))
	copy(out, e.RatchetPublicKey[:])
	binary.BigEndian.PutUint32(out[crypto.KeySize:HeaderSize], e.Index)
	copy(out[HeaderSize:], e.Ciphertext)
	return out, nil
}

// ParseEnvelope decodes an envelope. The ciphertext is copied.
func ParseEnvelope(data []byte) (Envelope, error) {
	if len(data) <= HeaderSize {
		return Envelope{}, invalidEnvelope("envelope too short: %d bytes", len(data))
	}
	var e Envelope
	copy(e.RatchetPublicKey[:], data[:crypto.KeySize])
	if err := crypto.ValidatePublicKey(e.RatchetPublicKey); err != nil {
		return Envelope{}, invalidEnvelope("%v", err)
	}
	e.Index = binary.BigEndian.Uint32(data[crypto.KeySize:HeaderSize])
	if e.Index == math.MaxUint32 {
		return Envelope{}, invalidEnvelope("message index out of range")
	}
	e.Ciphertext = append([]byte(nil), data[HeaderSize:]...)
	return e, nil
}
