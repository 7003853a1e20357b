package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrInvalidPeerID = errors.New("identity: invalid PeerID length")

// PeerID is the stable identifier for a peer.
// It is defined as: PeerID = SHA-256(SigningPublicKey).
type PeerID [32]byte

func PeerIDFromPublicKey(publicKey []byte) PeerID {
	sum := sha256.Sum256(publicKey)
	return PeerID(sum)
}

func ParsePeerIDHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 32 {
		return PeerID{}, ErrInvalidPeerID
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is a log-friendly prefix.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:6])
}

func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerIDHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
