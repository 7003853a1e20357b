package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

func TestPeerIDDerivationStable(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	id1 := kp.PeerID()
	id2 := PeerIDFromPublicKey(kp.SigningPublic)
	if id1 != id2 {
		t.Fatalf("PeerID mismatch")
	}
	if kp.Public().PeerID() != id1 {
		t.Fatalf("PublicIdentity PeerID mismatch")
	}

	parsed, err := ParsePeerIDHex(id1.String())
	if err != nil {
		t.Fatalf("ParsePeerIDHex: %v", err)
	}
	if parsed != id1 {
		t.Fatalf("ParsePeerIDHex mismatch")
	}
	require.Len(t, id1.Short(), 12)
}

func TestParsePeerIDHexErrors(t *testing.T) {
	_, err := ParsePeerIDHex("zz")
	require.Error(t, err)
	_, err = ParsePeerIDHex("abcd")
	require.ErrorIs(t, err, ErrInvalidPeerID)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("hello")
	sig := kp.Sign(msg)
	if !Verify(kp.SigningPublic, msg, sig) {
		t.Fatalf("signature verification failed")
	}
	if Verify(kp.SigningPublic, []byte("tampered"), sig) {
		t.Fatalf("expected verification to fail for tampered message")
	}

	kp2, _ := GenerateKeyPair()
	if Verify(kp2.SigningPublic, msg, sig) {
		t.Fatalf("expected verification to fail with different public key")
	}
	if Verify(nil, msg, sig) {
		t.Fatalf("expected verification to fail with missing key")
	}
}

func TestNewKeyPairRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	rebuilt, err := NewKeyPair(kp.Seed(), kp.DH.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, kp.SigningPublic, rebuilt.SigningPublic)
	require.Equal(t, kp.DH.PublicKey, rebuilt.DH.PublicKey)
	require.Equal(t, kp.PeerID(), rebuilt.PeerID())

	_, err = NewKeyPair([]byte{1, 2, 3}, kp.DH.PrivateKey)
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestPrekeyAgreesWithIdentity(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	prekey, err := bob.NewPrekey()
	require.NoError(t, err)
	require.NotEqual(t, bob.DH.PublicKey, prekey.PublicKey)

	a, err := crypto.ECDH(alice.DH.PrivateKey, prekey.PublicKey)
	require.NoError(t, err)
	b, err := crypto.ECDH(prekey.PrivateKey, alice.DH.PublicKey)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestWipe(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	pub := kp.DH.PublicKey

	kp.Wipe()
	require.Equal(t, [crypto.KeySize]byte{}, kp.DH.PrivateKey)
	require.Equal(t, pub, kp.DH.PublicKey)
	for _, b := range kp.SigningPrivate {
		if b != 0 {
			t.Fatalf("signing key not wiped")
		}
	}
}
