package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPort     = 57143
	maxPacketSize   = 1024
	DefaultInterval = 2 * time.Second
)

// Beacon collects peers announcing themselves on the local link. Peers are
// kept in arrival order, one per device name.
type Beacon struct {
	conn net.PacketConn
	log  *logrus.Logger

	mu       sync.Mutex
	peers    []PeerAddress
	byName   map[string]int
	lastSeen map[string]time.Time
	// notify is closed and replaced whenever a peer is appended or the beacon closes.
	notify chan struct{}
	closed bool
}

// Listen binds the discovery port on all interfaces. Port 0 picks a free port.
func Listen(port int, log *logrus.Logger) (*Beacon, error) {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding discovery port %d: %w", port, err)
	}

	return &Beacon{
		conn:     conn,
		log:      log,
		byName:   make(map[string]int),
		lastSeen: make(map[string]time.Time),
		notify:   make(chan struct{}),
	}, nil
}

func (b *Beacon) Addr() net.Addr {
	return b.conn.LocalAddr()
}

// Run reads beacon packets until ctx ends or the beacon is closed.
func (b *Beacon) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := b.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || b.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading discovery packet: %w", err)
		}

		if b.ingest(buf[:n], time.Now()) {
			b.log.WithField("from", from.String()).Debugf("Discovered peer: %s", buf[:n])
		}
	}
}

// ingest records one packet and reports whether it introduced a new peer.
func (b *Beacon) ingest(packet []byte, now time.Time) bool {
	addr, err := ParseAddress(string(packet))
	if err != nil {
		b.log.Debugf("Dropping discovery packet: %v", err)
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	b.lastSeen[addr.DeviceName] = now
	if _, ok := b.byName[addr.DeviceName]; ok {
		return false
	}

	b.byName[addr.DeviceName] = len(b.peers)
	b.peers = append(b.peers, addr)
	close(b.notify)
	b.notify = make(chan struct{})
	return true
}

// Peers returns a snapshot of every peer seen so far.
func (b *Beacon) Peers() []PeerAddress {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PeerAddress, len(b.peers))
	copy(out, b.peers)
	return out
}

// LastSeen reports when a device last announced itself.
func (b *Beacon) LastSeen(name string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.lastSeen[name]
	return t, ok
}

// All yields every peer in arrival order, blocking for new ones until ctx
// ends or the beacon closes.
func (b *Beacon) All(ctx context.Context) iter.Seq[PeerAddress] {
	return func(yield func(PeerAddress) bool) {
		for i := 0; ; i++ {
			peer, ok := b.wait(ctx, i)
			if !ok || !yield(peer) {
				return
			}
		}
	}
}

func (b *Beacon) wait(ctx context.Context, i int) (PeerAddress, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return PeerAddress{}, false
		}
		if i < len(b.peers) {
			peer := b.peers[i]
			b.mu.Unlock()
			return peer, true
		}
		notify := b.notify
		b.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return PeerAddress{}, false
		}
	}
}

// Close releases the socket and forgets every peer.
func (b *Beacon) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.peers = nil
	clear(b.byName)
	clear(b.lastSeen)
	close(b.notify)
	b.mu.Unlock()

	return b.conn.Close()
}

func (b *Beacon) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
