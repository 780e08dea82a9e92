package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// SocketBufferSize leaves headroom for base64-inflated chunk frames.
const SocketBufferSize = 1024 * 1024

var ErrSessionClosed = errors.New("session closed")

type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Session is one authenticated byte stream to a peer, carrying framed
// control messages. Sends are serialized; Receive must be called from a
// single goroutine.
type Session struct {
	codec  *protocol.Codec
	conn   net.Conn
	reader *bufio.Reader
	role   Role
	logger *logrus.Entry

	wmu sync.Mutex

	mu         sync.Mutex
	state      State
	deviceName string
	closed     bool
}

func newSession(conn *tls.Conn, role Role, logger *logrus.Logger) *Session {
	return &Session{
		codec:  protocol.NewCodec(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		role:   role,
		logger: logger.WithFields(logrus.Fields{"role": role.String(), "remote": conn.RemoteAddr().String()}),
	}
}

// Send writes msg as a single frame. The context deadline, if any, bounds the write.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.isClosed() {
		return ErrSessionClosed
	}

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	if err := s.codec.Encode(s.conn, msg); err != nil {
		return err
	}
	s.logger.Debugf("sent %s", msg.Event())
	return nil
}

// Receive blocks for the next frame. Errors wrapping protocol.ErrMalformed
// are recoverable; anything else means the session is dead.
func (s *Session) Receive() (protocol.Message, error) {
	msg, err := s.codec.Decode(s.reader)
	if err != nil {
		if s.isClosed() {
			return nil, ErrSessionClosed
		}
		return nil, err
	}
	s.logger.Debugf("received %s", msg.Event())
	return msg, nil
}

// SetReadDeadline bounds the next Receive; the zero time disables it.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *Session) MarkConnected(deviceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = StateConnected
	s.deviceName = deviceName
}

func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	return s.role
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close tears the stream down without any goodbye to the peer. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateDisconnected
	s.mu.Unlock()

	return s.conn.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
