package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Conn is the write side of a session. *transport.Session satisfies it.
type Conn interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// Sink persists a fully received file and returns where it landed.
type Sink interface {
	Save(name string, data []byte) (string, error)
}

type outbound struct {
	desc     protocol.Descriptor
	chunks   [][]byte
	path     string
	checksum string
	pending  *Pending
}

type inbound struct {
	desc    protocol.Descriptor
	chunks  [][]byte
	filled  uint32
	pending *Pending
}

type Options struct {
	Conn   Conn
	Sink   Sink
	Logger *logrus.Logger
	// MaxFileSize caps files in both directions. Zero means protocol.MaxFileSize.
	MaxFileSize uint64
	// Now is overridable for tests.
	Now func() time.Time
}

// Machine runs the stop-and-wait exchange for one session: at most one
// outbound and one inbound file at a time.
type Machine struct {
	conn   Conn
	sink   Sink
	logger *logrus.Entry
	now    func() time.Time
	limit  uint64

	mu            sync.Mutex
	peer          string
	out           *outbound
	in            *inbound
	sentBytes     uint64
	receivedBytes uint64
}

func NewMachine(opts Options) *Machine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.MaxFileSize
	if limit == 0 || limit > protocol.MaxFileSize {
		limit = protocol.MaxFileSize
	}
	return &Machine{
		conn:   opts.Conn,
		sink:   opts.Sink,
		logger: opts.Logger.WithField("component", "transfer"),
		now:    now,
		limit:  limit,
	}
}

// SetPeer names the remote device in records created from now on.
func (m *Machine) SetPeer(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer = name
}

// StartSend announces src with a file_ack and waits for the receiver to pull chunks.
func (m *Machine) StartSend(ctx context.Context, src Source) (*Pending, error) {
	if err := protocol.ValidateName(src.Name); err != nil {
		return nil, err
	}
	if size := uint64(len(src.Data)); size > m.limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, src.Name, size, m.limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out != nil {
		return nil, ErrSendBusy
	}

	size := uint64(len(src.Data))
	desc := protocol.Descriptor{
		ID:          uuid.New(),
		Name:        src.Name,
		Size:        size,
		MimeType:    src.MimeType,
		TotalChunks: protocol.TotalChunks(size),
	}

	pending := newPending(desc, DirectionSent)
	m.out = &outbound{
		desc:     desc,
		chunks:   Split(src.Data),
		path:     src.Path,
		checksum: checksum(src.Data),
		pending:  pending,
	}
	m.sentBytes = 0

	if err := m.conn.Send(ctx, &protocol.FileAck{File: desc}); err != nil {
		m.out = nil
		pending.resolve(nil, err)
		return nil, fmt.Errorf("announcing %s: %w", desc.Name, err)
	}
	m.logger.WithFields(logrus.Fields{"file": desc.Name, "size": desc.Size, "chunks": desc.TotalChunks}).Info("Offered file")

	if desc.TotalChunks == 0 {
		m.completeSendLocked()
	}
	return pending, nil
}

// HandleSendChunkAck answers the receiver's request for chunk n. The returned
// record is non-nil once the last chunk has gone out.
func (m *Machine) HandleSendChunkAck(ctx context.Context, n uint32) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out == nil {
		return nil, ErrNoActiveSend
	}

	total := m.out.desc.TotalChunks
	if n >= total {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, n, total)
	}

	chunk := m.out.chunks[n]
	if err := m.conn.Send(ctx, &protocol.ReceiveChunkAck{ChunkNo: n, Chunk: chunk}); err != nil {
		return nil, fmt.Errorf("sending chunk %d: %w", n, err)
	}
	m.sentBytes += uint64(len(chunk))
	m.out.pending.setProgress(m.sentBytes)

	if n == total-1 {
		return m.completeSendLocked(), nil
	}
	return nil, nil
}

func (m *Machine) completeSendLocked() *Record {
	out := m.out
	rec := &Record{
		ID:        out.desc.ID,
		Name:      out.desc.Name,
		Size:      out.desc.Size,
		LocalPath: out.path,
		MimeType:  out.desc.MimeType,
		Checksum:  out.checksum,
		Direction: DirectionSent,
		Peer:      m.peer,
		Available: true,
		CreatedAt: m.now(),
	}
	m.out = nil
	out.pending.resolve(rec, nil)
	m.logger.WithField("file", rec.Name).Info("File sent")
	return rec
}

// StartReceive accepts an offered file and requests its first chunk.
// Offers that fail validation or exceed the size limit are refused before
// any buffer is allocated.
func (m *Machine) StartReceive(ctx context.Context, desc protocol.Descriptor) (*Pending, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Size > m.limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, desc.Name, desc.Size, m.limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.in != nil {
		return nil, ErrReceiveBusy
	}

	pending := newPending(desc, DirectionReceived)
	m.in = &inbound{
		desc:    desc,
		chunks:  make([][]byte, desc.TotalChunks),
		pending: pending,
	}
	m.receivedBytes = 0
	m.logger.WithFields(logrus.Fields{"file": desc.Name, "size": desc.Size, "chunks": desc.TotalChunks}).Info("Receiving file")

	if desc.TotalChunks == 0 {
		if _, err := m.finalizeLocked(); err != nil {
			return pending, err
		}
		return pending, nil
	}

	if err := m.conn.Send(ctx, &protocol.SendChunkAck{ChunkNo: 0}); err != nil {
		m.in = nil
		pending.resolve(nil, err)
		return nil, fmt.Errorf("requesting first chunk: %w", err)
	}
	return pending, nil
}

// HandleChunk stores chunk n and either requests the next one or, after the
// last index, assembles and saves the file.
func (m *Machine) HandleChunk(ctx context.Context, n uint32, data []byte) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.in == nil {
		return nil, ErrNoActiveReceive
	}

	desc := m.in.desc
	if n >= desc.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, n, desc.TotalChunks)
	}
	if want := protocol.ChunkLen(desc.Size, n); len(data) != want {
		return nil, fmt.Errorf("%w: chunk %d is %d bytes, want %d", ErrChunkLength, n, len(data), want)
	}
	if m.in.chunks[n] != nil {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateChunk, n)
	}

	m.in.chunks[n] = append([]byte(nil), data...)
	m.in.filled++
	m.receivedBytes += uint64(len(data))
	m.in.pending.setProgress(m.receivedBytes)

	if n+1 == desc.TotalChunks {
		return m.finalizeLocked()
	}

	if err := m.conn.Send(ctx, &protocol.SendChunkAck{ChunkNo: n + 1}); err != nil {
		return nil, fmt.Errorf("requesting chunk %d: %w", n+1, err)
	}
	return nil, nil
}

// finalizeLocked always clears the inbound slot; a failure abandons the file.
func (m *Machine) finalizeLocked() (*Record, error) {
	in := m.in
	m.in = nil

	fail := func(err error) (*Record, error) {
		in.pending.resolve(nil, err)
		m.logger.WithField("file", in.desc.Name).Errorf("Abandoned transfer: %v", err)
		return nil, err
	}

	data, err := Assemble(in.chunks)
	if err != nil {
		return fail(err)
	}

	path, err := m.sink.Save(in.desc.Name, data)
	if err != nil {
		return fail(fmt.Errorf("saving %s: %w", in.desc.Name, err))
	}

	rec := &Record{
		ID:        in.desc.ID,
		Name:      in.desc.Name,
		Size:      in.desc.Size,
		LocalPath: path,
		MimeType:  in.desc.MimeType,
		Checksum:  checksum(data),
		Direction: DirectionReceived,
		Peer:      m.peer,
		Available: true,
		CreatedAt: m.now(),
	}
	in.pending.resolve(rec, nil)
	m.logger.WithFields(logrus.Fields{"file": rec.Name, "path": path}).Info("File received")
	return rec, nil
}

// Reset drops both slots, failing their pendings with ErrSessionClosed.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out != nil {
		m.out.pending.resolve(nil, ErrSessionClosed)
		m.out = nil
	}
	if m.in != nil {
		m.in.pending.resolve(nil, ErrSessionClosed)
		m.in = nil
	}
	m.sentBytes = 0
	m.receivedBytes = 0
}

// Sending returns the descriptor of the outbound file, if any.
func (m *Machine) Sending() (protocol.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out == nil {
		return protocol.Descriptor{}, false
	}
	return m.out.desc, true
}

func (m *Machine) Receiving() (protocol.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.in == nil {
		return protocol.Descriptor{}, false
	}
	return m.in.desc, true
}

// Active reports whether either slot is occupied.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out != nil || m.in != nil
}

func (m *Machine) SentBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentBytes
}

func (m *Machine) ReceivedBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedBytes
}
