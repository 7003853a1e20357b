package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/dratchet/protocol"
	"github.com/TheusHen/DRatchet/dratchet/ratchet"
)

var (
	// ErrUninitialized is returned by operations on a closed session.
	ErrUninitialized = ratchet.ErrUninitialized

	ErrPrekeyMismatch = errors.New("session: init names a different prekey")
	ErrSelfSession    = errors.New("session: peer identity equals local identity")
)

var errClosed = errors.New("session closed")

// Role is the side a session took in the handshake.
type Role uint8

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// Session is a goroutine-safe wrapper around a ratchet state. All
// operations on one session are serialised; different sessions share
// nothing except optional metrics.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID
	role    Role
	state   *ratchet.State
	ad      []byte
	local   identity.PeerID
	remote  identity.PublicIdentity
	created time.Time
	last    time.Time
	closed  bool

	sent     uint64
	received uint64

	log     *zap.Logger
	metrics *Metrics
}

// EstablishAsInitiator verifies the peer's published bundle and runs the
// initiator half of the handshake. The returned Init must reach the peer
// before (or together with) the first envelope.
func EstablishAsInitiator(local identity.KeyPair, peer protocol.Bundle, opts ...Option) (*Session, protocol.Init, error) {
	if err := peer.Verify(); err != nil {
		return nil, protocol.Init{}, fmt.Errorf("session: peer bundle: %w", err)
	}
	remote, err := peer.Public()
	if err != nil {
		return nil, protocol.Init{}, fmt.Errorf("session: peer bundle: %w", err)
	}
	if remote.DHKey == local.DH.PublicKey {
		return nil, protocol.Init{}, ErrSelfSession
	}
	prekey, err := peer.PrekeyDH()
	if err != nil {
		return nil, protocol.Init{}, fmt.Errorf("session: peer bundle: %w", err)
	}

	o := buildOptions(opts)
	state, eph, err := ratchet.InitAsInitiator(local.DH, remote.DHKey, prekey, o.ratchet)
	if err != nil {
		return nil, protocol.Init{}, fmt.Errorf("session: handshake: %w", err)
	}

	init := protocol.NewInit(local, eph, prekey)
	if err := init.Sign(local); err != nil {
		state.Destroy()
		return nil, protocol.Init{}, fmt.Errorf("session: sign init: %w", err)
	}

	s := newSession(RoleInitiator, state, local, remote, associatedData(local.DH.PublicKey, remote.DHKey), o)
	return s, init, nil
}

// EstablishAsResponder completes the handshake from the initiator's Init
// using the prekey whose public half was published in our bundle.
func EstablishAsResponder(local identity.KeyPair, prekey crypto.KeyPair, init protocol.Init, opts ...Option) (*Session, error) {
	if err := init.Verify(); err != nil {
		return nil, fmt.Errorf("session: init: %w", err)
	}
	named, err := init.PrekeyDH()
	if err != nil {
		return nil, fmt.Errorf("session: init: %w", err)
	}
	if named != prekey.PublicKey {
		return nil, ErrPrekeyMismatch
	}
	peerDH, err := init.IdentityDH()
	if err != nil {
		return nil, fmt.Errorf("session: init: %w", err)
	}
	if peerDH == local.DH.PublicKey {
		return nil, ErrSelfSession
	}
	peerEph, err := init.EphemeralDH()
	if err != nil {
		return nil, fmt.Errorf("session: init: %w", err)
	}

	o := buildOptions(opts)
	state, err := ratchet.InitAsResponder(local.DH, prekey, peerDH, peerEph, o.ratchet)
	if err != nil {
		return nil, fmt.Errorf("session: handshake: %w", err)
	}

	remote := identity.PublicIdentity{SigningKey: append([]byte(nil), init.SigningKey...), DHKey: peerDH}
	return newSession(RoleResponder, state, local, remote, associatedData(peerDH, local.DH.PublicKey), o), nil
}

// associatedData binds every message to both identities, initiator first.
func associatedData(initiator, responder [crypto.KeySize]byte) []byte {
	ad := make([]byte, 0, 2*crypto.KeySize)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}

func newSession(role Role, state *ratchet.State, local identity.KeyPair, remote identity.PublicIdentity, ad []byte, o options) *Session {
	now := time.Now()
	s := &Session{
		id:      uuid.New(),
		role:    role,
		state:   state,
		ad:      ad,
		local:   local.PeerID(),
		remote:  remote,
		created: now,
		last:    now,
		metrics: o.metrics,
	}
	s.log = o.logger.With(
		zap.String("session", s.id.String()),
		zap.Stringer("role", role),
		zap.String("peer", remote.PeerID().Short()),
	)
	s.metrics.sessionOpened(role)
	s.log.Debug("session established",
		zap.Stringer("suite", state.Options().Suite),
		zap.Uint32("max_skip", state.Options().MaxSkip),
	)
	return s
}

// Send encrypts plaintext and returns the wire envelope.
func (s *Session) Send(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &ratchet.Error{Kind: ratchet.KindUninitialized, Err: errClosed}
	}
	steps := s.state.RatchetSteps()
	env, err := s.state.Encrypt(plaintext, s.ad)
	if err != nil {
		s.log.Debug("encrypt failed", zap.Error(err))
		return nil, err
	}
	s.noteSteps(steps)
	wire, err := env.MarshalBinary()
	if err != nil {
		return nil, err
	}
	s.sent++
	s.last = time.Now()
	s.metrics.message("out")
	return wire, nil
}

// Receive decrypts a wire envelope from the peer.
func (s *Session) Receive(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &ratchet.Error{Kind: ratchet.KindUninitialized, Err: errClosed}
	}
	env, err := ratchet.ParseEnvelope(data)
	if err != nil {
		s.metrics.failure(err)
		s.log.Debug("rejected envelope", zap.Error(err))
		return nil, err
	}

	steps := s.state.RatchetSteps()
	skippedBefore := s.state.SkippedCount()
	pt, err := s.state.Decrypt(env, s.ad)
	s.noteSteps(steps)
	if err != nil {
		s.metrics.failure(err)
		s.log.Debug("decrypt failed",
			zap.Uint32("index", env.Index),
			zap.Bool("advanced", ratchet.Advanced(err)),
			zap.Error(err),
		)
		return nil, err
	}
	if skipped := s.state.SkippedCount(); skipped != skippedBefore {
		s.log.Debug("skipped keys changed",
			zap.Uint32("index", env.Index),
			zap.Int("stored", skipped),
		)
	}
	s.received++
	s.last = time.Now()
	s.metrics.message("in")
	return pt, nil
}

func (s *Session) noteSteps(before uint64) {
	after := s.state.RatchetSteps()
	if after == before {
		return
	}
	s.metrics.ratchetSteps(after - before)
	local := s.state.LocalRatchetPublic()
	s.log.Debug("ratchet step",
		zap.Uint64("steps", after),
		zap.String("local_ratchet", fmt.Sprintf("%x", local[:4])),
	)
}

// Close wipes the ratchet state. Later calls fail with ErrUninitialized.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state.Destroy()
	crypto.Wipe(s.ad)
	s.metrics.sessionClosed()
	s.log.Debug("session closed", zap.Uint64("sent", s.sent), zap.Uint64("received", s.received))
	return nil
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Role() Role { return s.role }

func (s *Session) LocalPeerID() identity.PeerID { return s.local }

func (s *Session) RemotePeerID() identity.PeerID { return s.remote.PeerID() }

func (s *Session) RemoteIdentity() identity.PublicIdentity { return s.remote }

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastActivity is the time of the last successful Send or Receive.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Snapshot is a non-secret view of the session's ratchet progress.
type Snapshot struct {
	ID                  uuid.UUID
	Role                Role
	Suite               crypto.Suite
	LocalRatchetPublic  [crypto.KeySize]byte
	RemoteRatchetPublic [crypto.KeySize]byte
	SendCount           uint32
	RecvCount           uint32
	SkippedKeys         int
	RatchetSteps        uint64
	Sent                uint64
	Received            uint64
	Created             time.Time
	LastActivity        time.Time
	Closed              bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	remote, _ := s.state.RemoteRatchetPublic()
	return Snapshot{
		ID:                  s.id,
		Role:                s.role,
		Suite:               s.state.Options().Suite,
		LocalRatchetPublic:  s.state.LocalRatchetPublic(),
		RemoteRatchetPublic: remote,
		SendCount:           s.state.SendCount(),
		RecvCount:           s.state.RecvCount(),
		SkippedKeys:         s.state.SkippedCount(),
		RatchetSteps:        s.state.RatchetSteps(),
		Sent:                s.sent,
		Received:            s.received,
		Created:             s.created,
		LastActivity:        s.last,
		Closed:              s.closed,
	}
}
