package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

type Listener struct {
	ln        net.Listener
	tlsConfig *tls.Config
	logger    *logrus.Logger
}

// Listen binds a TCP listener on addr. TLS is layered per connection in Accept
// so the raw socket can be tuned first.
func Listen(addr string, tlsConfig *tls.Config, logger *logrus.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return &Listener{ln: ln, tlsConfig: tlsConfig, logger: logger}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next peer and completes the TLS handshake under ctx.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	tune(raw, l.logger)

	conn := tls.Server(raw, l.tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", raw.RemoteAddr(), err)
	}

	return newSession(conn, RoleServer, l.logger), nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to addr and completes the TLS handshake as a client.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config, logger *logrus.Logger) (*Session, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	tune(raw, logger)

	conn := tls.Client(raw, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}

	return newSession(conn, RoleClient, logger), nil
}

// tune favors latency for small control frames and gives bursty chunk
// writes room in the socket buffers.
func tune(conn net.Conn, logger *logrus.Logger) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetNoDelay(true); err != nil {
		logger.Warnf("Failed to disable Nagle: %v", err)
	}
	if err := tcp.SetReadBuffer(SocketBufferSize); err != nil {
		logger.Warnf("Failed to set read buffer: %v", err)
	}
	if err := tcp.SetWriteBuffer(SocketBufferSize); err != nil {
		logger.Warnf("Failed to set write buffer: %v", err)
	}
}
