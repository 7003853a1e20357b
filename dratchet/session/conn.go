package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet/identity"
	"github.com/TheusHen/DRatchet/dratchet/protocol"
	"github.com/TheusHen/DRatchet/dratchet/transport/quic"
)

var (
	ErrChannelBinding = errors.New("session: bundle key does not match TLS certificate")
	ErrUnexpectedPeer = errors.New("session: unexpected peer")
	ErrSuiteMismatch  = errors.New("session: peer uses a different cipher suite")
)

// capSuite is the bundle capability naming the peer's cipher suite.
const capSuite = "suite"

// Conn carries one Session over a QUIC connection. The responder opens a
// control stream and publishes a signed bundle; the initiator answers with
// INIT, after which both sides exchange ENVELOPE frames.
type Conn struct {
	conn    q.Connection
	stream  q.Stream
	reader  *bufio.Reader
	session *Session
	log     *zap.Logger

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

const closeGrace = time.Second

// HandshakeOption adjusts the QUIC handshake.
type HandshakeOption func(*handshakeOptions)

type handshakeOptions struct {
	expected     *identity.PeerID
	capabilities map[string]string
}

// ExpectPeer makes the initiator reject any responder but id.
func ExpectPeer(id identity.PeerID) HandshakeOption {
	return func(o *handshakeOptions) { o.expected = &id }
}

// WithCapabilities adds entries to the published bundle.
func WithCapabilities(caps map[string]string) HandshakeOption {
	return func(o *handshakeOptions) {
		for k, v := range caps {
			o.capabilities[k] = v
		}
	}
}

func buildHandshakeOptions(hopts []HandshakeOption) handshakeOptions {
	o := handshakeOptions{capabilities: map[string]string{}}
	for _, opt := range hopts {
		opt(&o)
	}
	return o
}

// HandshakeServer runs the responder side on an accepted connection.
func HandshakeServer(ctx context.Context, conn q.Connection, local identity.KeyPair, opts []Option, hopts ...HandshakeOption) (*Conn, error) {
	o := buildOptions(opts)
	ho := buildHandshakeOptions(hopts)

	prekey, err := local.NewPrekey()
	if err != nil {
		return nil, err
	}
	defer prekey.Wipe()

	caps := ho.capabilities
	caps[capSuite] = o.ratchet.WithDefaults().Suite.String()
	bundle := protocol.NewBundle(local, prekey.PublicKey, caps)
	if err := bundle.Sign(local); err != nil {
		return nil, err
	}
	payload, err := protocol.EncodeBundle(bundle)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	c := newConn(conn, stream, o.logger)
	if err := c.writeFrame(ctx, protocol.Frame{Type: protocol.MessageTypeBundle, Payload: payload}); err != nil {
		return nil, err
	}

	payload, err = c.expect(ctx, protocol.MessageTypeInit)
	if err != nil {
		return nil, err
	}
	init, err := protocol.DecodeInit(payload)
	if err != nil {
		return nil, err
	}
	if err := checkBinding(conn, init.SigningKey); err != nil {
		return nil, err
	}

	s, err := EstablishAsResponder(local, prekey, init, opts...)
	if err != nil {
		return nil, err
	}
	c.session = s
	c.log = s.log
	return c, nil
}

// HandshakeClient runs the initiator side on a dialed connection.
func HandshakeClient(ctx context.Context, conn q.Connection, local identity.KeyPair, opts []Option, hopts ...HandshakeOption) (*Conn, error) {
	o := buildOptions(opts)
	ho := buildHandshakeOptions(hopts)

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	c := newConn(conn, stream, o.logger)

	payload, err := c.expect(ctx, protocol.MessageTypeBundle)
	if err != nil {
		return nil, err
	}
	bundle, err := protocol.DecodeBundle(payload)
	if err != nil {
		return nil, err
	}
	if ho.expected != nil && bundle.PeerID() != *ho.expected {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPeer, bundle.PeerID().Short())
	}
	if err := checkBinding(conn, bundle.SigningKey); err != nil {
		return nil, err
	}
	if name := bundle.Capabilities[capSuite]; name != "" && name != o.ratchet.WithDefaults().Suite.String() {
		return nil, fmt.Errorf("%w: %s", ErrSuiteMismatch, name)
	}

	s, init, err := EstablishAsInitiator(local, bundle, opts...)
	if err != nil {
		return nil, err
	}
	payload, err = protocol.EncodeInit(init)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := c.writeFrame(ctx, protocol.Frame{Type: protocol.MessageTypeInit, Payload: payload}); err != nil {
		_ = s.Close()
		return nil, err
	}
	c.session = s
	c.log = s.log
	return c, nil
}

func newConn(conn q.Connection, stream q.Stream, log *zap.Logger) *Conn {
	return &Conn{conn: conn, stream: stream, reader: bufio.NewReader(stream), log: log}
}

func checkBinding(conn q.Connection, signingKey []byte) error {
	certKey, err := quic.PeerSigningKey(conn)
	if err != nil {
		return err
	}
	if !bytes.Equal(certKey, signingKey) {
		return ErrChannelBinding
	}
	return nil
}

// Session returns the ratchet session carried by the connection.
func (c *Conn) Session() *Session { return c.session }

func (c *Conn) RemotePeerID() identity.PeerID { return c.session.RemotePeerID() }

func (c *Conn) Connection() q.Connection { return c.conn }

// Send encrypts p and writes it as one ENVELOPE frame.
func (c *Conn) Send(ctx context.Context, p []byte) error {
	wire, err := c.session.Send(p)
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, protocol.Frame{Type: protocol.MessageTypeEnvelope, Payload: wire})
}

// Receive returns the next decrypted message. It returns io.EOF once the
// peer sent CLOSE. Envelopes that fail to decrypt are returned as errors;
// the connection stays usable.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	f, err := c.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case protocol.MessageTypeEnvelope:
		return c.session.Receive(f.Payload)
	case protocol.MessageTypeClose:
		c.log.Debug("peer closed session")
		_ = c.session.Close()
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnexpectedFrame, f.Type)
	}
}

// Close sends CLOSE, wipes the session and closes the QUIC connection. It
// gives the peer a moment to drain the stream before the connection goes.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()

		var err error
		if c.session != nil && !c.session.Closed() {
			err = multierr.Append(err, c.writeFrame(ctx, protocol.Frame{Type: protocol.MessageTypeClose}))
			err = multierr.Append(err, c.session.Close())
			err = multierr.Append(err, c.stream.Close())
			select {
			case <-c.conn.Context().Done():
			case <-ctx.Done():
			}
		} else {
			err = multierr.Append(err, c.stream.Close())
		}
		c.closeErr = multierr.Append(err, c.conn.CloseWithError(0, "closed"))
	})
	return c.closeErr
}

func (c *Conn) expect(ctx context.Context, want protocol.MessageType) ([]byte, error) {
	var payload []byte
	err := c.withRead(ctx, func() (err error) {
		payload, err = protocol.ExpectFrame(c.reader, want)
		return err
	})
	return payload, err
}

func (c *Conn) readFrame(ctx context.Context) (protocol.Frame, error) {
	var f protocol.Frame
	err := c.withRead(ctx, func() (err error) {
		f, err = protocol.ReadFrame(c.reader)
		return err
	})
	return f, err
}

// withRead runs read with the stream's read deadline tied to ctx.
func (c *Conn) withRead(ctx context.Context, read func() error) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	_ = c.stream.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := read(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *Conn) writeFrame(ctx context.Context, f protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetWriteDeadline(deadline)
		defer c.stream.SetWriteDeadline(time.Time{})
	}
	return protocol.WriteFrame(c.stream, f)
}
