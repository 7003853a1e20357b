package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestX25519ECDH(t *testing.T) {
	alice, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	bob, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	sharedAlice, err := ECDH(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("ECDH alice: %v", err)
	}
	sharedBob, err := ECDH(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("ECDH bob: %v", err)
	}

	if sharedAlice != sharedBob {
		t.Fatalf("shared secrets do not match")
	}
}

func TestECDHRejectsLowOrderPoints(t *testing.T) {
	kp, err := GenerateX25519()
	require.NoError(t, err)

	var zero [KeySize]byte
	_, err = ECDH(kp.PrivateKey, zero)
	require.ErrorIs(t, err, ErrInvalidPublicKey)

	// u = 1 has order 4 on Curve25519.
	var one [KeySize]byte
	one[0] = 1
	_, err = ECDH(kp.PrivateKey, one)
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestKeyPairFromPrivate(t *testing.T) {
	kp, err := GenerateX25519()
	require.NoError(t, err)

	rebuilt := KeyPairFromPrivate(kp.PrivateKey)
	require.Equal(t, kp.PublicKey, rebuilt.PublicKey)

	rebuilt.Wipe()
	require.Equal(t, [KeySize]byte{}, rebuilt.PrivateKey)
	require.Equal(t, kp.PublicKey, rebuilt.PublicKey)
}

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	for _, suite := range []Suite{SuiteChaCha20Poly1305, SuiteXChaCha20Poly1305, SuiteAES256GCMSIV} {
		t.Run(suite.String(), func(t *testing.T) {
			aead, err := NewAEAD(suite, key)
			if err != nil {
				t.Fatalf("NewAEAD: %v", err)
			}

			plaintext := []byte("hello dratchet secure session")
			ad := []byte("additional data")

			ciphertext, err := aead.Seal(plaintext, ad)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if len(ciphertext) != len(plaintext)+aead.NonceSize()+aead.Overhead() {
				t.Fatalf("unexpected ciphertext length")
			}

			decrypted, err := aead.Open(ciphertext, ad)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(decrypted, plaintext) {
				t.Fatalf("decrypted != plaintext")
			}

			// Wrong associated data
			if _, err := aead.Open(ciphertext, []byte("other")); err != ErrDecryptionFailed {
				t.Fatalf("expected decryption failure on wrong associated data")
			}

			// Tamper with ciphertext
			ciphertext[len(ciphertext)-1] ^= 0xff
			_, err = aead.Open(ciphertext, ad)
			if err != ErrDecryptionFailed {
				t.Fatalf("expected decryption failure on tampered ciphertext")
			}

			if _, err := aead.Open(ciphertext[:aead.NonceSize()], ad); err != ErrCiphertextTooShort {
				t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
			}
		})
	}
}

func TestAEADFreshNonce(t *testing.T) {
	aead, err := NewAEAD(DefaultSuite, make([]byte, AEADKeySize))
	require.NoError(t, err)

	a, err := aead.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := aead.Seal([]byte("same"), nil)
	require.NoError(t, err)
	require.NotEqual(t, a[:aead.NonceSize()], b[:aead.NonceSize()])
}

func TestNewAEADErrors(t *testing.T) {
	_, err := NewAEAD(DefaultSuite, make([]byte, 16))
	require.Error(t, err)

	_, err = NewAEAD(Suite(99), make([]byte, AEADKeySize))
	require.ErrorIs(t, err, ErrUnknownSuite)
}

func TestParseSuite(t *testing.T) {
	cases := map[string]Suite{
		"":                               DefaultSuite,
		"chacha20poly1305":               SuiteChaCha20Poly1305,
		"XChaCha20Poly1305":              SuiteXChaCha20Poly1305,
		"aes256gcmsiv":                   SuiteAES256GCMSIV,
		"X25519_AES256GCMSIV_SHA256":     SuiteAES256GCMSIV,
		"x25519_chacha20poly1305_sha256": SuiteChaCha20Poly1305,
	}
	for in, want := range cases {
		got, err := ParseSuite(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseSuite("rot13")
	require.ErrorIs(t, err, ErrUnknownSuite)
}

func TestHKDFHelpers(t *testing.T) {
	secret := bytes.Repeat([]byte{0x0b}, 22)
	salt := []byte("salt")

	prk := Extract(secret, salt)
	require.Equal(t, MAC(salt, secret), prk)

	okm, err := Expand(prk, []byte("info"), 42)
	require.NoError(t, err)
	require.Len(t, okm, 42)

	derived, err := DeriveKey(secret, salt, []byte("info"), 42)
	require.NoError(t, err)
	require.Equal(t, okm, derived)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	require.Equal(t, []byte{0, 0, 0, 0}, b)
	Wipe(nil)
}

func BenchmarkAEADSeal(b *testing.B) {
	key := make([]byte, 32)
	aead, _ := NewAEAD(DefaultSuite, key)
	plaintext := make([]byte, 64*1024) // 64 KB
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = aead.Seal(plaintext, nil)
	}
}

func BenchmarkAEADOpen(b *testing.B) {
	key := make([]byte, 32)
	aead, _ := NewAEAD(DefaultSuite, key)
	plaintext := make([]byte, 64*1024)
	ciphertext, _ := aead.Seal(plaintext, nil)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = aead.Open(ciphertext, nil)
	}
}
