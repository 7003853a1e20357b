package dratchet

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/discovery"
	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/dratchet/protocol"
	"github.com/TheusHen/DRatchet/dratchet/session"
	"github.com/TheusHen/DRatchet/dratchet/transport/quic"
)

var (
	ErrNotListening  = errors.New("peer is not listening")
	ErrClosed        = errors.New("peer is closed")
	ErrNoBundle      = errors.New("peer has not published a bundle")
	ErrUnknownPrekey = errors.New("init names a prekey this peer did not publish")
)

// Config collects the knobs of a Peer. The zero value is usable.
type Config struct {
	Transport    quic.Config
	Session      []session.Option
	Capabilities map[string]string
	// IdleLifetime bounds how long an unused session stays registered.
	IdleLifetime time.Duration
	Logger       *zap.Logger
}

// Peer owns a long-term identity and the sessions established with it, over
// QUIC or from published bundles.
type Peer struct {
	kp       identity.KeyPair
	cfg      Config
	log      *zap.Logger
	registry *session.Registry

	mu       sync.Mutex
	listener *quic.Listener
	conns    map[*session.Conn]struct{}
	prekeys  map[[crypto.KeySize]byte]*crypto.KeyPair
	closed   bool
}

func NewPeer(kp identity.KeyPair, cfg Config) *Peer {
	caps := make(map[string]string, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		caps[k] = v
	}
	cfg.Capabilities = caps
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IdleLifetime <= 0 {
		cfg.IdleLifetime = session.DefaultIdleLifetime
	}
	return &Peer{
		kp:       kp,
		cfg:      cfg,
		log:      cfg.Logger.With(zap.Stringer("peer", kp.PeerID())),
		registry: session.NewRegistry(cfg.IdleLifetime),
		conns:    map[*session.Conn]struct{}{},
		prekeys:  map[[crypto.KeySize]byte]*crypto.KeyPair{},
	}
}

func (p *Peer) PeerID() identity.PeerID { return p.kp.PeerID() }

// Sessions is the registry of every session this peer established.
func (p *Peer) Sessions() *session.Registry { return p.registry }

func (p *Peer) sessionOptions() []session.Option {
	return append([]session.Option{session.WithLogger(p.cfg.Logger)}, p.cfg.Session...)
}

func (p *Peer) Listen(addr string) error {
	ln, err := quic.Listen(addr, p.kp.SigningPrivate, p.cfg.Transport)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = ln.Close()
		return ErrClosed
	}
	p.listener = ln
	p.log.Info("listening", zap.String("addr", ln.AddrString()))
	return nil
}

func (p *Peer) ListenAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.AddrString()
}

// Accept waits for the next inbound connection and runs the responder side
// of the handshake on it.
func (p *Peer) Accept(ctx context.Context) (*session.Conn, error) {
	p.mu.Lock()
	ln := p.listener
	p.mu.Unlock()
	if ln == nil {
		return nil, ErrNotListening
	}
	conn, err := ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	c, err := session.HandshakeServer(ctx, conn, p.kp, p.sessionOptions(), session.WithCapabilities(p.cfg.Capabilities))
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		p.log.Warn("inbound handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		return nil, err
	}
	return c, p.track(c)
}

// Dial connects to addr and runs the initiator side of the handshake.
func (p *Peer) Dial(ctx context.Context, addr string, hopts ...session.HandshakeOption) (*session.Conn, error) {
	conn, err := quic.Dial(ctx, addr, p.kp.SigningPrivate, p.cfg.Transport)
	if err != nil {
		return nil, err
	}
	c, err := session.HandshakeClient(ctx, conn, p.kp, p.sessionOptions(), hopts...)
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, err
	}
	return c, p.track(c)
}

// DialPeer resolves id and dials it, insisting the far end is id.
func (p *Peer) DialPeer(ctx context.Context, r discovery.Resolver, id identity.PeerID) (*session.Conn, error) {
	info, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !info.Addr.IsValid() {
		return nil, fmt.Errorf("%w: %s has no address", discovery.ErrNotFound, id.Short())
	}
	return p.Dial(ctx, info.Addr.String(), session.ExpectPeer(id))
}

func (p *Peer) track(c *session.Conn) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return ErrClosed
	}
	p.conns[c] = struct{}{}
	p.mu.Unlock()

	if err := p.registry.Put(c.Session()); err != nil {
		return err
	}
	p.log.Info("session established",
		zap.Stringer("remote", c.RemotePeerID()),
		zap.Stringer("role", c.Session().Role()),
	)
	return nil
}

// Announce publishes addr and a fresh signed prekey bundle. The prekey is
// kept until an Init naming it arrives.
func (p *Peer) Announce(r discovery.Resolver, addr netip.AddrPort) error {
	prekey, err := p.kp.NewPrekey()
	if err != nil {
		return err
	}
	bundle := protocol.NewBundle(p.kp, prekey.PublicKey, p.cfg.Capabilities)
	if err := bundle.Sign(p.kp); err != nil {
		return err
	}
	info := discovery.AddrInfo{
		PeerID:       p.kp.PeerID(),
		Addr:         addr,
		Bundle:       &bundle,
		Capabilities: p.cfg.Capabilities,
	}
	if err := r.Announce(info); err != nil {
		return err
	}
	p.mu.Lock()
	p.prekeys[prekey.PublicKey] = &prekey
	p.mu.Unlock()
	return nil
}

// Initiate starts a session with id from its published bundle, without a
// round trip. The returned Init must reach the peer before it can decrypt.
func (p *Peer) Initiate(r discovery.Resolver, id identity.PeerID) (*session.Session, protocol.Init, error) {
	info, err := r.Lookup(id)
	if err != nil {
		return nil, protocol.Init{}, err
	}
	if info.Bundle == nil {
		return nil, protocol.Init{}, fmt.Errorf("%w: %s", ErrNoBundle, id.Short())
	}
	if err := info.Validate(); err != nil {
		return nil, protocol.Init{}, err
	}
	s, init, err := session.EstablishAsInitiator(p.kp, *info.Bundle, p.sessionOptions()...)
	if err != nil {
		return nil, protocol.Init{}, err
	}
	if err := p.registry.Put(s); err != nil {
		return nil, protocol.Init{}, err
	}
	return s, init, nil
}

// Respond completes a session from an Init aimed at one of the prekeys this
// peer announced. Each prekey answers a single Init.
func (p *Peer) Respond(init protocol.Init) (*session.Session, error) {
	pub, err := init.PrekeyDH()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	prekey, ok := p.prekeys[pub]
	delete(p.prekeys, pub)
	p.mu.Unlock()
	if !ok {
		return nil, ErrUnknownPrekey
	}
	defer prekey.Wipe()

	s, err := session.EstablishAsResponder(p.kp, *prekey, init, p.sessionOptions()...)
	if err != nil {
		return nil, err
	}
	if err := p.registry.Put(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Close stops listening and tears down every connection and session.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ln := p.listener
	conns := p.conns
	p.conns = nil
	for k, kp := range p.prekeys {
		kp.Wipe()
		delete(p.prekeys, k)
	}
	p.mu.Unlock()

	var err error
	if ln != nil {
		err = multierr.Append(err, ln.Close())
	}
	for c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return multierr.Append(err, p.registry.Close())
}
