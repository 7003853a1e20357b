package quic

import (
	"context"
	"crypto/ed25519"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

// Config tunes the QUIC connection. Zero fields use the defaults below.
type Config struct {
	HandshakeTimeout time.Duration
	MaxIdleTimeout   time.Duration
	KeepAlivePeriod  time.Duration
}

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxIdleTimeout   = 2 * time.Minute
	DefaultKeepAlivePeriod  = 20 * time.Second
)

func (c Config) quicConfig() *q.Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxIdleTimeout <= 0 {
		c.MaxIdleTimeout = DefaultMaxIdleTimeout
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	return &q.Config{
		HandshakeIdleTimeout: c.HandshakeTimeout,
		MaxIdleTimeout:       c.MaxIdleTimeout,
		KeepAlivePeriod:      c.KeepAlivePeriod,
	}
}

type Listener struct {
	inner *q.Listener
}

// Listen accepts QUIC connections on addr. key signs the TLS certificate;
// nil uses an ephemeral key.
func Listen(addr string, key ed25519.PrivateKey, cfg Config) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig(key)
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, cfg.quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (q.Connection, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string, key ed25519.PrivateKey, cfg Config) (q.Connection, error) {
	tlsConf, err := NewClientTLSConfig(key)
	if err != nil {
		return nil, err
	}
	return q.DialAddr(ctx, addr, tlsConf, cfg.quicConfig())
}
