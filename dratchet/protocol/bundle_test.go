package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/DRatchet/dratchet/identity"
)

func newSignedBundle(t *testing.T) (identity.KeyPair, Bundle) {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	prekey, err := kp.NewPrekey()
	if err != nil {
		t.Fatalf("NewPrekey: %v", err)
	}
	b := NewBundle(kp, prekey.PublicKey, map[string]string{"suite": "chacha20poly1305", "version": "1"})
	if err := b.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return kp, b
}

func TestBundleSignAndVerify(t *testing.T) {
	kp, b := newSignedBundle(t)

	if err := b.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	encoded, err := EncodeBundle(b)
	if err != nil {
		t.Fatalf("EncodeBundle: %v", err)
	}
	decoded, err := DecodeBundle(encoded)
	if err != nil {
		t.Fatalf("DecodeBundle: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("Verify after decode: %v", err)
	}

	require.Equal(t, kp.PeerID(), decoded.PeerID())
	require.Equal(t, "1", decoded.Capabilities["version"])
	dh, err := decoded.IdentityDH()
	require.NoError(t, err)
	require.Equal(t, kp.DH.PublicKey, dh)

	pub, err := decoded.Public()
	require.NoError(t, err)
	require.Equal(t, kp.PeerID(), pub.PeerID())
}

func TestBundleEncodingCanonical(t *testing.T) {
	_, b := newSignedBundle(t)
	first, err := EncodeBundle(b)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := EncodeBundle(b)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestBundleVerifyFailures(t *testing.T) {
	_, b := newSignedBundle(t)

	tampered := b
	tampered.Signature = append([]byte(nil), b.Signature...)
	tampered.Signature[0] ^= 0xff
	require.ErrorIs(t, tampered.Verify(), ErrBadSignature)

	swapped := b
	other, _ := identity.GenerateKeyPair()
	swapped.Prekey = other.DH.PublicKey[:]
	require.ErrorIs(t, swapped.Verify(), ErrBadSignature)

	capped := b
	capped.Capabilities = map[string]string{"suite": "aes256gcmsiv"}
	require.ErrorIs(t, capped.Verify(), ErrBadSignature)

	noKey := b
	noKey.SigningKey = nil
	require.ErrorIs(t, noKey.Verify(), ErrMissingKey)

	badPrekey := b
	badPrekey.Prekey = make([]byte, 32)
	require.ErrorIs(t, badPrekey.Verify(), ErrMissingKey)
}

func TestDecodeBundleGarbage(t *testing.T) {
	_, err := DecodeBundle([]byte{0xff, 0x00, 0x01})
	require.Error(t, err)
}

func TestInitSignAndVerify(t *testing.T) {
	_, bundle := newSignedBundle(t)
	initiator, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	eph, err := initiator.NewPrekey()
	require.NoError(t, err)
	prekey, err := bundle.PrekeyDH()
	require.NoError(t, err)

	m := NewInit(initiator, eph.PublicKey, prekey)
	require.NoError(t, m.Sign(initiator))

	encoded, err := EncodeInit(m)
	require.NoError(t, err)
	decoded, err := DecodeInit(encoded)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify())
	require.Equal(t, initiator.PeerID(), decoded.PeerID())

	got, err := decoded.EphemeralDH()
	require.NoError(t, err)
	require.Equal(t, eph.PublicKey, got)
	gotPrekey, err := decoded.PrekeyDH()
	require.NoError(t, err)
	require.Equal(t, prekey, gotPrekey)

	decoded.Ephemeral[0] ^= 1
	require.Error(t, decoded.Verify())
}
