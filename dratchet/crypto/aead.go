package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agl/gcmsiv"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
	ErrUnknownSuite       = errors.New("crypto: unknown cipher suite")
)

// AEADKeySize is the key size shared by every suite.
const AEADKeySize = 32

// Suite selects the authenticated cipher used for message encryption.
type Suite uint8

const (
	SuiteChaCha20Poly1305  Suite = 1
	SuiteXChaCha20Poly1305 Suite = 2
	SuiteAES256GCMSIV      Suite = 3
)

// DefaultSuite is used when no suite is configured.
const DefaultSuite = SuiteChaCha20Poly1305

func (s Suite) String() string {
	switch s {
	case SuiteChaCha20Poly1305:
		return "X25519_CHACHA20POLY1305_SHA256"
	case SuiteXChaCha20Poly1305:
		return "X25519_XCHACHA20POLY1305_SHA256"
	case SuiteAES256GCMSIV:
		return "X25519_AES256GCMSIV_SHA256"
	default:
		return "UNKNOWN"
	}
}

// ParseSuite accepts either the full suite name or a short alias
// ("chacha20poly1305", "xchacha20poly1305", "aes256gcmsiv").
func ParseSuite(name string) (Suite, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, s := range []Suite{SuiteChaCha20Poly1305, SuiteXChaCha20Poly1305, SuiteAES256GCMSIV} {
		full := strings.ToLower(s.String())
		if n == full || n == strings.TrimSuffix(strings.TrimPrefix(full, "x25519_"), "_sha256") {
			return s, nil
		}
	}
	if n == "" {
		return DefaultSuite, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSuite, name)
}

// AEAD wraps one of the supported ciphers with random nonce generation.
// Every message key is single use, so a random nonce per Seal is enough.
type AEAD struct {
	aead  cipher.AEAD
	suite Suite
}

// NewAEAD creates a new AEAD cipher from a 32-byte key.
func NewAEAD(suite Suite, key []byte) (*AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, errors.New("crypto: invalid AEAD key size")
	}
	var (
		aead cipher.AEAD
		err  error
	)
	switch suite {
	case SuiteChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	case SuiteXChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key)
	case SuiteAES256GCMSIV:
		aead, err = gcmsiv.NewGCMSIV(key)
	default:
		return nil, ErrUnknownSuite
	}
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead, suite: suite}, nil
}

// Seal encrypts and authenticates plaintext.
// Returns: nonce || ciphertext || tag
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+a.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return a.aead.Seal(out, out[:nonceSize], plaintext, additionalData), nil
}

// Open decrypts and verifies ciphertext.
// Input format: nonce || ciphertext || tag
func (a *AEAD) Open(ciphertext, additionalData []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	if len(ciphertext) < nonceSize+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Suite returns the cipher suite.
func (a *AEAD) Suite() Suite { return a.suite }

// Overhead returns the authentication tag overhead.
func (a *AEAD) Overhead() int { return a.aead.Overhead() }

// NonceSize returns the nonce size.
func (a *AEAD) NonceSize() int { return a.aead.NonceSize() }
