package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

func testTLSConfigs(t *testing.T) (*tls.Config, *tls.Config) {
	t.Helper()

	certPEM, keyPEM, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("X509KeyPair failed: %v", err)
	}
	clientCfg, err := NewClientTLSConfig(certPEM)
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	return NewServerTLSConfig(cert), clientCfg
}

func connectPair(t *testing.T, ctx context.Context) (*Session, *Session) {
	t.Helper()

	serverCfg, clientCfg := testTLSConfigs(t)

	ln, err := Listen("127.0.0.1:0", serverCfg, logger.Discard())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan *Session, 1)
	errChan := make(chan error, 1)

	go func() {
		s, err := ln.Accept(ctx)
		if err != nil {
			errChan <- err
			return
		}
		accepted <- s
	}()

	client, err := Dial(ctx, ln.Addr().String(), clientCfg, logger.Discard())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { _ = server.Close() })
		return server, client
	case err := <-errChan:
		t.Fatalf("Accept failed: %v", err)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for connection")
	}
	return nil, nil
}

func TestDialAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, client := connectPair(t, ctx)

	if server.Role() != RoleServer {
		t.Errorf("Expected server role, got %s", server.Role())
	}
	if client.Role() != RoleClient {
		t.Errorf("Expected client role, got %s", client.Role())
	}
	if server.RemoteAddr() == "" {
		t.Error("Expected non-empty remote address")
	}
	if server.State() != StateDisconnected {
		t.Errorf("Expected disconnected before connect exchange, got %s", server.State())
	}
}

func TestSessionSendReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, client := connectPair(t, ctx)

	if err := client.Send(ctx, &protocol.Connect{DeviceName: "laptop"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	connect, ok := msg.(*protocol.Connect)
	if !ok {
		t.Fatalf("Expected *protocol.Connect, got %T", msg)
	}
	if connect.DeviceName != "laptop" {
		t.Errorf("Expected device name laptop, got %q", connect.DeviceName)
	}

	server.MarkConnected(connect.DeviceName)
	if server.State() != StateConnected {
		t.Errorf("Expected connected, got %s", server.State())
	}
	if server.DeviceName() != "laptop" {
		t.Errorf("Expected device name laptop, got %q", server.DeviceName())
	}
}

func TestSessionChunkFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, client := connectPair(t, ctx)

	size := uint64(3*protocol.ChunkSize + 100)
	desc := protocol.Descriptor{
		ID:          uuid.New(),
		Name:        "notes.txt",
		Size:        size,
		MimeType:    "text/plain",
		TotalChunks: protocol.TotalChunks(size),
	}

	go func() {
		_ = client.Send(ctx, &protocol.FileAck{File: desc})
		for i := uint32(0); i < desc.TotalChunks; i++ {
			chunk := make([]byte, protocol.ChunkLen(size, i))
			_ = client.Send(ctx, &protocol.ReceiveChunkAck{ChunkNo: i, Chunk: chunk})
		}
	}()

	msg, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if ack, ok := msg.(*protocol.FileAck); !ok || ack.File != desc {
		t.Fatalf("Expected matching file_ack, got %#v", msg)
	}

	for i := uint32(0); i < desc.TotalChunks; i++ {
		msg, err := server.Receive()
		if err != nil {
			t.Fatalf("Receive chunk %d failed: %v", i, err)
		}
		chunk, ok := msg.(*protocol.ReceiveChunkAck)
		if !ok {
			t.Fatalf("Expected *protocol.ReceiveChunkAck, got %T", msg)
		}
		if chunk.ChunkNo != i {
			t.Errorf("Expected chunk %d, got %d", i, chunk.ChunkNo)
		}
		if len(chunk.Chunk) != protocol.ChunkLen(size, i) {
			t.Errorf("Chunk %d: expected %d bytes, got %d", i, protocol.ChunkLen(size, i), len(chunk.Chunk))
		}
	}
}

func TestSessionReadDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, _ := connectPair(t, ctx)

	if err := server.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}

	_, err := server.Receive()
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected timeout error, got %v", err)
	}
}

func TestSessionClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, client := connectPair(t, ctx)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	if err := client.Send(ctx, &protocol.SendChunkAck{ChunkNo: 0}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}

	if _, err := server.Receive(); err == nil {
		t.Error("Expected error after peer closed")
	}
}

func TestDialRejectsUnpinnedCert(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverCfg, _ := testTLSConfigs(t)
	_, otherClientCfg := testTLSConfigs(t)

	ln, err := Listen("127.0.0.1:0", serverCfg, logger.Discard())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = ln.Close() }()

	go func() {
		s, err := ln.Accept(ctx)
		if err == nil {
			_ = s.Close()
		}
	}()

	if _, err := Dial(ctx, ln.Addr().String(), otherClientCfg, logger.Discard()); err == nil {
		t.Fatal("Expected handshake to fail against an unpinned certificate")
	}
}

func TestNewClientTLSConfigRejectsEmptyPEM(t *testing.T) {
	if _, err := NewClientTLSConfig([]byte("not a certificate")); !errors.Is(err, ErrNoTrustedCerts) {
		t.Errorf("Expected ErrNoTrustedCerts, got %v", err)
	}
}
