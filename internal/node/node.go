package node

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/discovery"
	"github.com/rudransh-shrivastava/peer-drop/internal/files"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/prouter"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	eventBufferSize  = 100
	handshakeTimeout = 10 * time.Second
)

var (
	ErrNotConnected     = errors.New("not connected to a peer")
	ErrAlreadyConnected = errors.New("already connected to a peer")
	ErrNodeClosed       = errors.New("node closed")
	// ErrNotIntroduced rejects transfer frames on a session that has not sent connect.
	ErrNotIntroduced = errors.New("peer has not introduced itself")
	// ErrLocalDisconnect is reported when this side hung up.
	ErrLocalDisconnect = errors.New("disconnected locally")
)

type Options struct {
	DeviceName string
	ServerTLS  *tls.Config
	ClientTLS  *tls.Config
	// Fs backs file sources and the default sink. Defaults to the OS filesystem.
	Fs          afero.Fs
	DownloadDir string
	Sink        transfer.Sink
	// Records defaults to a sqlite store at DBPath.
	Records      store.RecordRepository
	DBPath       string
	StallTimeout time.Duration
	// HandshakeTimeout bounds both the TLS handshake and the wait for an
	// accepted peer's connect message. Defaults to 10s.
	HandshakeTimeout time.Duration
	// MaxFileSize caps sent and received files. Zero means protocol.MaxFileSize.
	MaxFileSize uint64
	Logger      *logrus.Logger
}

// Node owns at most one peer session at a time and runs transfers over it.
type Node struct {
	ctx context.Context

	deviceName   string
	serverTLS    *tls.Config
	clientTLS    *tls.Config
	fs           afero.Fs
	sink         transfer.Sink
	records      store.RecordRepository
	stallTimeout time.Duration
	logger       *logrus.Logger

	handshakeTimeout time.Duration
	maxFileSize      uint64

	events chan Event
	wg     sync.WaitGroup

	mu           sync.Mutex
	listener     *transport.Listener
	active       *peerConn
	closed       bool
	eventsClosed bool
}

// peerConn bundles one session with the machine and router serving it.
type peerConn struct {
	session  *transport.Session
	machine  *transfer.Machine
	router   *prouter.MessageRouter
	cancel   context.CancelFunc
	done     chan struct{}
	downOnce sync.Once
}

func New(ctx context.Context, opts Options) (*Node, error) {
	if err := protocol.ValidateName(opts.DeviceName); err != nil {
		return nil, fmt.Errorf("device name: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	sink := opts.Sink
	if sink == nil {
		sink = files.DirSink{Fs: fs, Dir: opts.DownloadDir}
	}

	records := opts.Records
	if records == nil {
		gdb, err := db.Open(opts.DBPath)
		if err != nil {
			return nil, err
		}
		records = store.NewRecordStore(gdb)
	}

	hsTimeout := opts.HandshakeTimeout
	if hsTimeout <= 0 {
		hsTimeout = handshakeTimeout
	}

	return &Node{
		ctx:          ctx,
		deviceName:   opts.DeviceName,
		serverTLS:    opts.ServerTLS,
		clientTLS:    opts.ClientTLS,
		fs:           fs,
		sink:         sink,
		records:      records,
		stallTimeout: opts.StallTimeout,
		logger:       log,
		events:       make(chan Event, eventBufferSize),

		handshakeTimeout: hsTimeout,
		maxFileSize:      opts.MaxFileSize,
	}, nil
}

func (n *Node) DeviceName() string {
	return n.deviceName
}

func (n *Node) Events() <-chan Event {
	return n.events
}

// StartServer accepts peers on port until ctx ends or the node closes.
// Calling it again while a listener is up only logs.
func (n *Node) StartServer(ctx context.Context, port int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.listener != nil {
		n.logger.Infof("Server already listening on %s", n.listener.Addr())
		return nil
	}
	if n.serverTLS == nil {
		return errors.New("server TLS config missing")
	}

	ln, err := transport.Listen(fmt.Sprintf(":%d", port), n.serverTLS, n.logger)
	if err != nil {
		return err
	}
	n.listener = ln
	n.logger.Infof("Listening on %s as %q", ln.Addr(), n.deviceName)

	n.wg.Add(1)
	go n.acceptLoop(ctx, ln)
	return nil
}

// ListenAddr is the bound server address, or nil before StartServer.
func (n *Node) ListenAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) acceptLoop(ctx context.Context, ln *transport.Listener) {
	defer n.wg.Done()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	for {
		hsCtx, cancel := context.WithTimeout(ctx, n.handshakeTimeout)
		session, err := ln.Accept(hsCtx)
		cancel()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				n.logger.Debug("Accept loop stopped")
				return
			}
			n.logger.Warnf("Failed to accept peer: %v", err)
			continue
		}

		n.logger.Infof("Accepted connection from %s", session.RemoteAddr())
		if _, err := n.adopt(session); err != nil {
			n.logger.Warnf("Rejecting %s: %v", session.RemoteAddr(), err)
			_ = session.Close()
			n.emit(Event{Type: EventWarning, Err: fmt.Errorf("rejected %s: %w", session.RemoteAddr(), err)})
		}
	}
}

// Connect dials a peer and introduces this device.
func (n *Node) Connect(ctx context.Context, addr discovery.PeerAddress) error {
	if n.IsConnected() {
		return ErrAlreadyConnected
	}
	if n.clientTLS == nil {
		return errors.New("client TLS config missing")
	}

	session, err := transport.Dial(ctx, addr.Addr(), n.clientTLS, n.logger)
	if err != nil {
		return err
	}

	session.MarkConnected(addr.DeviceName)
	pc, err := n.adopt(session)
	if err != nil {
		_ = session.Close()
		return err
	}

	if err := session.Send(ctx, &protocol.Connect{DeviceName: n.deviceName}); err != nil {
		n.teardown(pc, err)
		return fmt.Errorf("introducing to %s: %w", addr.DeviceName, err)
	}

	n.logger.Infof("Connected to %s at %s", addr.DeviceName, addr.Addr())
	n.emit(Event{Type: EventConnected, Peer: addr.DeviceName})
	return nil
}

func (pc *peerConn) introduced() bool {
	return pc.session.State() == transport.StateConnected
}

// adopt makes session the active one and starts routing it.
func (n *Node) adopt(session *transport.Session) (*peerConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}
	if n.active != nil {
		return nil, ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(n.ctx)
	pc := &peerConn{
		session: session,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	pc.machine = transfer.NewMachine(transfer.Options{
		Conn:        session,
		Sink:        n.sink,
		Logger:      n.logger,
		MaxFileSize: n.maxFileSize,
	})
	pc.machine.SetPeer(session.DeviceName())
	// An accepted peer holds the only slot, so it gets a bounded time to send connect.
	pc.router = prouter.NewMessageRouter(session, &sessionHandler{node: n, pc: pc}, prouter.Options{
		Logger:       n.logger,
		StallTimeout: n.stallTimeout,
		Active:       pc.machine.Active,
		Handshake:    n.handshakeTimeout,
		Ready:        pc.introduced,
	})
	n.active = pc

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(pc.done)
		_ = pc.router.Run(ctx)
	}()

	return pc, nil
}

// teardown drops pc, failing any transfer in flight. Only the first cause is reported.
func (n *Node) teardown(pc *peerConn, cause error) {
	pc.downOnce.Do(func() {
		n.mu.Lock()
		if n.active == pc {
			n.active = nil
		}
		n.mu.Unlock()

		peer := pc.session.DeviceName()
		_ = pc.session.Close()
		pc.cancel()
		pc.machine.Reset()

		if isQuietClose(cause) {
			n.logger.Infof("Disconnected from %s: %v", displayName(peer, pc.session), cause)
		} else {
			n.logger.Errorf("Connection to %s lost: %v", displayName(peer, pc.session), cause)
		}
		n.emit(Event{Type: EventDisconnected, Peer: peer, Err: cause})
	})
}

// SendFile offers the file at path to the connected peer. The returned
// Pending resolves when the receiver has pulled the last chunk.
func (n *Node) SendFile(ctx context.Context, path string) (*transfer.Pending, error) {
	pc := n.current()
	if pc == nil || pc.session.State() != transport.StateConnected {
		return nil, ErrNotConnected
	}

	src, err := files.LoadSource(n.fs, path)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := n.writeContext(ctx)
	defer cancel()

	pending, err := pc.machine.StartSend(sendCtx, src)
	if err != nil {
		return nil, err
	}
	n.persistIfDone(pending)
	return pending, nil
}

// Disconnect hangs up on the current peer, if any, and waits for its router to stop.
func (n *Node) Disconnect() {
	pc := n.current()
	if pc == nil {
		return
	}
	n.teardown(pc, ErrLocalDisconnect)
	<-pc.done
}

// Close stops the server, drops the session and closes the event channel.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	ln := n.listener
	n.listener = nil
	n.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	n.Disconnect()
	n.wg.Wait()

	n.mu.Lock()
	n.eventsClosed = true
	close(n.events)
	n.mu.Unlock()
	return err
}

func (n *Node) IsConnected() bool {
	pc := n.current()
	return pc != nil && pc.session.State() == transport.StateConnected
}

// ConnectedDevice names the peer once it has introduced itself.
func (n *Node) ConnectedDevice() (string, bool) {
	pc := n.current()
	if pc == nil || pc.session.State() != transport.StateConnected {
		return "", false
	}
	return pc.session.DeviceName(), true
}

// Files lists every persisted transfer record, newest first.
func (n *Node) Files(ctx context.Context) ([]db.FileRecord, error) {
	return n.records.GetRecords(ctx)
}

func (n *Node) current() *peerConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *Node) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.stallTimeout > 0 {
		return context.WithTimeout(ctx, n.stallTimeout)
	}
	return context.WithCancel(ctx)
}

func (n *Node) persist(rec *transfer.Record) {
	if _, err := n.records.CreateRecord(context.Background(), rec); err != nil {
		n.logger.Errorf("Failed to save record for %s: %v", rec.Name, err)
	}
}

// persistIfDone saves the record of a transfer that completed on the spot.
func (n *Node) persistIfDone(p *transfer.Pending) {
	if res, ok := p.Result(); ok && res.Err == nil {
		n.persist(res.Record)
	}
}

func isQuietClose(err error) bool {
	return errors.Is(err, ErrLocalDisconnect) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, transport.ErrSessionClosed) ||
		errors.Is(err, net.ErrClosed)
}

func displayName(name string, s *transport.Session) string {
	if name != "" {
		return name
	}
	return s.RemoteAddr()
}
