package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/identity"
)

var ErrIdentityMismatch = errors.New("config: identity file peer_id does not match its keys")

// identityFile is the on-disk form of an identity. peer_id is informational
// and checked on load.
type identityFile struct {
	PeerID      string `toml:"peer_id"`
	SigningSeed string `toml:"signing_seed"`
	DHPrivate   string `toml:"dh_private"`
}

// SaveIdentity writes kp to path, readable by the owner only.
func SaveIdentity(path string, kp identity.KeyPair) error {
	dh := kp.DH.PrivateKey
	file := identityFile{
		PeerID:      kp.PeerID().String(),
		SigningSeed: hex.EncodeToString(kp.Seed()),
		DHPrivate:   hex.EncodeToString(dh[:]),
	}
	crypto.Wipe(dh[:])

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(file); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func LoadIdentity(path string) (identity.KeyPair, error) {
	var file identityFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return identity.KeyPair{}, fmt.Errorf("config: %s: %w", path, err)
	}
	seed, err := hex.DecodeString(file.SigningSeed)
	if err != nil {
		return identity.KeyPair{}, fmt.Errorf("config: signing_seed: %w", err)
	}
	defer crypto.Wipe(seed)

	raw, err := hex.DecodeString(file.DHPrivate)
	if err != nil {
		return identity.KeyPair{}, fmt.Errorf("config: dh_private: %w", err)
	}
	defer crypto.Wipe(raw)
	var dh [crypto.KeySize]byte
	if copy(dh[:], raw) != crypto.KeySize || len(raw) != crypto.KeySize {
		return identity.KeyPair{}, fmt.Errorf("config: dh_private: want %d bytes, got %d", crypto.KeySize, len(raw))
	}

	kp, err := identity.NewKeyPair(seed, dh)
	crypto.Wipe(dh[:])
	if err != nil {
		return identity.KeyPair{}, err
	}
	if file.PeerID != "" && file.PeerID != kp.PeerID().String() {
		return identity.KeyPair{}, ErrIdentityMismatch
	}
	return kp, nil
}
