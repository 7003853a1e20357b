package quic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"time"

	q "github.com/quic-go/quic-go"
)

const (
	ALPN = "dratchet/1"

	certLifetime = 24 * time.Hour
)

var ErrNoPeerCertificate = errors.New("quic: peer presented no Ed25519 certificate")

// newSelfSignedTLSConfig issues a throwaway certificate for key. A nil key
// gets a fresh one. Certificates are not verified against any PKI: the
// session layer compares the certificate key with the peer's signed bundle.
func newSelfSignedTLSConfig(key ed25519.PrivateKey) (*tls.Config, error) {
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, err
		}
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "dratchet",
		},
		NotBefore: now.Add(-1 * time.Hour),
		NotAfter:  now.Add(certLifetime),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, key.Public(), key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPN},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
	}, nil
}

func NewServerTLSConfig(key ed25519.PrivateKey) (*tls.Config, error) {
	return newSelfSignedTLSConfig(key)
}

func NewClientTLSConfig(key ed25519.PrivateKey) (*tls.Config, error) {
	return newSelfSignedTLSConfig(key)
}

// PeerSigningKey returns the Ed25519 key of the remote certificate.
func PeerSigningKey(conn q.Connection) (ed25519.PublicKey, error) {
	certs := conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return nil, ErrNoPeerCertificate
	}
	pub, ok := certs[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, ErrNoPeerCertificate
	}
	return pub, nil
}
