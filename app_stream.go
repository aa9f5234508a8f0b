package pilot

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"
)

// Stream is the byte transport under the codec. Plain TCP and TLS look the
// same through it: reads end with io.EOF when the peer closes cleanly and
// every other failure is a *TransportError.
type Stream interface {
	io.ReadWriteCloser
	// Handshake completes transport setup before any HTTP byte is read.
	// It is a no-op for plain connections.
	Handshake(ctx context.Context) error
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	// Secure reports whether the stream is TLS.
	Secure() bool
}

// NewStream wraps an accepted or dialed connection. A nil config gives a
// plain stream. isClient selects the TLS role.
func NewStream(c net.Conn, config *tls.Config, isClient bool) Stream {
	if config == nil {
		return &plainStream{conn: c}
	}
	if isClient {
		return &tlsStream{plainStream{conn: tls.Client(c, config)}}
	}
	return &tlsStream{plainStream{conn: tls.Server(c, config)}}
}

// Dial opens a stream to addr, running the TLS handshake when config is set.
func Dial(ctx context.Context, addr string, config *tls.Config) (Stream, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	if config != nil && config.ServerName == "" {
		config = config.Clone()
		config.ServerName, _, _ = net.SplitHostPort(addr)
	}
	s := NewStream(c, config, true)
	if err := s.Handshake(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type plainStream struct {
	conn net.Conn
}

func (s *plainStream) Read(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	return n, transportError("read", err)
}

func (s *plainStream) Write(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	return n, transportError("write", err)
}

func (s *plainStream) Close() error {
	return transportError("close", s.conn.Close())
}

func (s *plainStream) Handshake(context.Context) error { return nil }

func (s *plainStream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *plainStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *plainStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
func (s *plainStream) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
func (s *plainStream) Secure() bool                       { return false }

type tlsStream struct {
	plainStream
}

func (s *tlsStream) Handshake(ctx context.Context) error {
	return transportError("handshake", s.conn.(*tls.Conn).HandshakeContext(ctx))
}

func (s *tlsStream) Secure() bool { return true }

// transportError leaves nil and io.EOF alone and wraps anything else.
func transportError(op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
