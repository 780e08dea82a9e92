package transfer

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueConn records every message instead of writing it anywhere.
type queueConn struct {
	mu   sync.Mutex
	msgs []protocol.Message
	err  error
}

func (c *queueConn) Send(_ context.Context, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *queueConn) pop() protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return nil
	}
	msg := c.msgs[0]
	c.msgs = c.msgs[1:]
	return msg
}

func (c *queueConn) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type memSink struct {
	files map[string][]byte
	err   error
}

func (s *memSink) Save(name string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = append([]byte(nil), data...)
	return "/downloads/" + name, nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine(conn Conn, sink Sink) *Machine {
	return NewMachine(Options{
		Conn:   conn,
		Sink:   sink,
		Logger: logger.Discard(),
		Now:    func() time.Time { return fixedNow },
	})
}

func randomSource(t *testing.T, name string, size int) Source {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return Source{Path: "/tmp/" + name, Name: name, Size: uint64(size), MimeType: "application/octet-stream", Data: data}
}

func descriptorFor(size uint64) protocol.Descriptor {
	return protocol.Descriptor{
		ID:          uuid.New(),
		Name:        "incoming.bin",
		Size:        size,
		MimeType:    "application/octet-stream",
		TotalChunks: protocol.TotalChunks(size),
	}
}

// runExchange shuttles messages between a sender and a receiver machine until both queues drain.
func runExchange(t *testing.T, ctx context.Context, senderConn, receiverConn *queueConn, sender, receiver *Machine) (sent, received *Record) {
	t.Helper()

	for i := 0; i < 10000; i++ {
		if msg := senderConn.pop(); msg != nil {
			switch m := msg.(type) {
			case *protocol.FileAck:
				_, err := receiver.StartReceive(ctx, m.File)
				require.NoError(t, err)
			case *protocol.ReceiveChunkAck:
				rec, err := receiver.HandleChunk(ctx, m.ChunkNo, m.Chunk)
				require.NoError(t, err)
				if rec != nil {
					received = rec
				}
			default:
				t.Fatalf("unexpected sender message %T", msg)
			}
			continue
		}
		if msg := receiverConn.pop(); msg != nil {
			ack, ok := msg.(*protocol.SendChunkAck)
			require.True(t, ok, "unexpected receiver message %T", msg)
			rec, err := sender.HandleSendChunkAck(ctx, ack.ChunkNo)
			require.NoError(t, err)
			if rec != nil {
				sent = rec
			}
			continue
		}
		return sent, received
	}
	t.Fatal("exchange did not settle")
	return nil, nil
}

func TestMachineFullTransfer(t *testing.T) {
	ctx := context.Background()

	for _, size := range []int{1, protocol.ChunkSize, 20000, 5*protocol.ChunkSize + 17} {
		senderConn, receiverConn := &queueConn{}, &queueConn{}
		sink := &memSink{}
		sender := newTestMachine(senderConn, nil)
		receiver := newTestMachine(receiverConn, sink)
		sender.SetPeer("receiver")
		receiver.SetPeer("sender")

		src := randomSource(t, "photo.jpg", size)
		sendPending, err := sender.StartSend(ctx, src)
		require.NoError(t, err)

		sent, received := runExchange(t, ctx, senderConn, receiverConn, sender, receiver)
		require.NotNil(t, sent, "size %d", size)
		require.NotNil(t, received, "size %d", size)

		assert.True(t, bytes.Equal(src.Data, sink.files["photo.jpg"]), "size %d", size)
		assert.Equal(t, sent.ID, received.ID)
		assert.Equal(t, sent.Checksum, received.Checksum)
		assert.Equal(t, DirectionSent, sent.Direction)
		assert.Equal(t, DirectionReceived, received.Direction)
		assert.Equal(t, "receiver", sent.Peer)
		assert.Equal(t, "sender", received.Peer)
		assert.Equal(t, "/downloads/photo.jpg", received.LocalPath)
		assert.Equal(t, src.Path, sent.LocalPath)
		assert.True(t, received.Available)
		assert.Equal(t, fixedNow, received.CreatedAt)

		rec, err := sendPending.Wait(ctx)
		require.NoError(t, err)
		assert.Same(t, sent, rec)
		assert.Equal(t, uint64(size), sendPending.Progress())

		assert.False(t, sender.Active())
		assert.False(t, receiver.Active())
		assert.Equal(t, uint64(size), sender.SentBytes())
		assert.Equal(t, uint64(size), receiver.ReceivedBytes())
	}
}

func TestMachineTwentyThousandBytesChunkSizes(t *testing.T) {
	ctx := context.Background()
	conn := &queueConn{}
	sender := newTestMachine(conn, nil)

	_, err := sender.StartSend(ctx, randomSource(t, "a.bin", 20000))
	require.NoError(t, err)

	ack, ok := conn.pop().(*protocol.FileAck)
	require.True(t, ok)
	assert.Equal(t, uint32(3), ack.File.TotalChunks)

	var lens []int
	for i := uint32(0); i < 3; i++ {
		_, err := sender.HandleSendChunkAck(ctx, i)
		require.NoError(t, err)
		chunk := conn.pop().(*protocol.ReceiveChunkAck)
		assert.Equal(t, i, chunk.ChunkNo)
		lens = append(lens, len(chunk.Chunk))
	}
	assert.Equal(t, []int{8192, 8192, 3616}, lens)
}

func TestMachineZeroByteFile(t *testing.T) {
	ctx := context.Background()
	senderConn, receiverConn := &queueConn{}, &queueConn{}
	sink := &memSink{}
	sender := newTestMachine(senderConn, nil)
	receiver := newTestMachine(receiverConn, sink)

	pending, err := sender.StartSend(ctx, Source{Name: "empty.txt", MimeType: "text/plain"})
	require.NoError(t, err)

	outcome, ok := pending.Result()
	require.True(t, ok, "zero-byte send completes immediately")
	require.NoError(t, outcome.Err)
	assert.Equal(t, uint64(0), outcome.Record.Size)
	assert.False(t, sender.Active())

	ack := senderConn.pop().(*protocol.FileAck)
	recvPending, err := receiver.StartReceive(ctx, ack.File)
	require.NoError(t, err)

	rec, err := recvPending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty.txt", rec.Name)
	assert.Contains(t, sink.files, "empty.txt")
	assert.Empty(t, sink.files["empty.txt"])
	assert.Equal(t, 0, receiverConn.len(), "nothing is requested for an empty file")
	assert.False(t, receiver.Active())
}

func TestMachineSendBusy(t *testing.T) {
	ctx := context.Background()
	conn := &queueConn{}
	m := newTestMachine(conn, nil)

	_, err := m.StartSend(ctx, randomSource(t, "first.bin", 100))
	require.NoError(t, err)
	before, _ := m.Sending()

	_, err = m.StartSend(ctx, randomSource(t, "second.bin", 100))
	assert.ErrorIs(t, err, ErrSendBusy)

	after, ok := m.Sending()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, conn.len(), "busy rejection writes nothing")
}

func TestMachineReceiveBusy(t *testing.T) {
	ctx := context.Background()
	conn := &queueConn{}
	m := newTestMachine(conn, &memSink{})

	first := descriptorFor(20000)
	_, err := m.StartReceive(ctx, first)
	require.NoError(t, err)
	_, err = m.HandleChunk(ctx, 0, make([]byte, protocol.ChunkSize))
	require.NoError(t, err)

	_, err = m.StartReceive(ctx, descriptorFor(10))
	assert.ErrorIs(t, err, ErrReceiveBusy)

	desc, ok := m.Receiving()
	require.True(t, ok)
	assert.Equal(t, first, desc)
	assert.Equal(t, uint64(protocol.ChunkSize), m.ReceivedBytes())
	assert.Equal(t, 2, conn.len())
}

func TestMachineSendChunkAckErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(&queueConn{}, nil)

	_, err := m.HandleSendChunkAck(ctx, 0)
	assert.ErrorIs(t, err, ErrNoActiveSend)

	_, err = m.StartSend(ctx, randomSource(t, "a.bin", 20000))
	require.NoError(t, err)

	_, err = m.HandleSendChunkAck(ctx, 3)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
	assert.True(t, m.Active())
}

func TestMachineHandleChunkErrors(t *testing.T) {
	ctx := context.Background()
	conn := &queueConn{}
	m := newTestMachine(conn, &memSink{})

	_, err := m.HandleChunk(ctx, 0, []byte("x"))
	assert.ErrorIs(t, err, ErrNoActiveReceive)

	_, err = m.StartReceive(ctx, descriptorFor(20000))
	require.NoError(t, err)

	_, err = m.HandleChunk(ctx, 3, make([]byte, 10))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = m.HandleChunk(ctx, 2, make([]byte, 10))
	assert.ErrorIs(t, err, ErrChunkLength)

	_, err = m.HandleChunk(ctx, 0, make([]byte, protocol.ChunkSize))
	require.NoError(t, err)
	_, err = m.HandleChunk(ctx, 0, make([]byte, protocol.ChunkSize))
	assert.ErrorIs(t, err, ErrDuplicateChunk)

	assert.Equal(t, uint64(protocol.ChunkSize), m.ReceivedBytes(), "duplicate is not counted")
	assert.True(t, m.Active())
}

func TestMachineLastChunkWithGapAbandons(t *testing.T) {
	ctx := context.Background()
	sink := &memSink{}
	m := newTestMachine(&queueConn{}, sink)

	pending, err := m.StartReceive(ctx, descriptorFor(20000))
	require.NoError(t, err)

	rec, err := m.HandleChunk(ctx, 2, make([]byte, 3616))
	assert.ErrorIs(t, err, ErrMissingChunk)
	assert.Nil(t, rec)
	assert.False(t, m.Active())
	assert.Empty(t, sink.files)

	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, ErrMissingChunk)
}

func TestMachineSinkFailure(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")
	m := newTestMachine(&queueConn{}, &memSink{err: diskFull})

	pending, err := m.StartReceive(ctx, descriptorFor(10))
	require.NoError(t, err)

	rec, err := m.HandleChunk(ctx, 0, make([]byte, 10))
	assert.ErrorIs(t, err, diskFull)
	assert.Nil(t, rec)
	assert.False(t, m.Active())

	outcome := <-pending.Done()
	assert.ErrorIs(t, outcome.Err, diskFull)
	assert.Nil(t, outcome.Record)
}

func TestMachineStartSendWriteFailure(t *testing.T) {
	ctx := context.Background()
	broken := errors.New("broken pipe")
	m := newTestMachine(&queueConn{err: broken}, nil)

	_, err := m.StartSend(ctx, randomSource(t, "a.bin", 10))
	assert.ErrorIs(t, err, broken)
	assert.False(t, m.Active())
}

func TestMachineStartSendRejectsBadName(t *testing.T) {
	m := newTestMachine(&queueConn{}, nil)

	_, err := m.StartSend(context.Background(), Source{Name: "../etc/passwd", Data: []byte("x")})
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	assert.False(t, m.Active())
}

func TestMachineResetMidTransfer(t *testing.T) {
	ctx := context.Background()
	senderConn, receiverConn := &queueConn{}, &queueConn{}
	sink := &memSink{}
	sender := newTestMachine(senderConn, nil)
	receiver := newTestMachine(receiverConn, sink)

	sendPending, err := sender.StartSend(ctx, randomSource(t, "big.bin", 4*protocol.ChunkSize))
	require.NoError(t, err)

	ack := senderConn.pop().(*protocol.FileAck)
	recvPending, err := receiver.StartReceive(ctx, ack.File)
	require.NoError(t, err)

	receiverConn.pop()
	_, err = sender.HandleSendChunkAck(ctx, 0)
	require.NoError(t, err)
	chunk := senderConn.pop().(*protocol.ReceiveChunkAck)
	_, err = receiver.HandleChunk(ctx, chunk.ChunkNo, chunk.Chunk)
	require.NoError(t, err)

	sender.Reset()
	receiver.Reset()

	for _, p := range []*Pending{sendPending, recvPending} {
		rec, err := p.Wait(ctx)
		assert.ErrorIs(t, err, ErrSessionClosed)
		assert.Nil(t, rec)
	}

	assert.False(t, sender.Active())
	assert.False(t, receiver.Active())
	assert.Zero(t, sender.SentBytes())
	assert.Zero(t, receiver.ReceivedBytes())
	assert.Empty(t, sink.files)

	_, err = receiver.HandleChunk(ctx, 1, make([]byte, protocol.ChunkSize))
	assert.ErrorIs(t, err, ErrNoActiveReceive)
}

func TestPendingResolvesOnce(t *testing.T) {
	p := newPending(descriptorFor(1), DirectionSent)
	rec := &Record{Name: "x"}

	p.resolve(rec, nil)
	p.resolve(nil, errors.New("late"))

	outcome, ok := p.Result()
	require.True(t, ok)
	assert.Same(t, rec, outcome.Record)
	assert.NoError(t, outcome.Err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestPendingWaitHonorsContext(t *testing.T) {
	p := newPending(descriptorFor(1), DirectionReceived)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMachineStartReceiveRejectsUnchunkableSize(t *testing.T) {
	ctx := context.Background()
	conn := &queueConn{}
	sink := &memSink{}
	m := newTestMachine(conn, sink)

	desc := descriptorFor(1 << 45)
	desc.TotalChunks = 0

	pending, err := m.StartReceive(ctx, desc)
	require.ErrorIs(t, err, protocol.ErrFileTooLarge)
	assert.Nil(t, pending)
	assert.False(t, m.Active())
	assert.Empty(t, sink.files, "nothing may be saved for a refused offer")
	assert.Equal(t, 0, conn.len())
}

func TestMachineEnforcesMaxFileSize(t *testing.T) {
	ctx := context.Background()
	conn := &queueConn{}
	m := NewMachine(Options{
		Conn:        conn,
		Sink:        &memSink{},
		Logger:      logger.Discard(),
		MaxFileSize: 16 * 1024,
	})

	_, err := m.StartReceive(ctx, descriptorFor(1<<44))
	require.ErrorIs(t, err, ErrFileTooLarge)
	_, err = m.StartReceive(ctx, descriptorFor(16*1024+1))
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.False(t, m.Active())

	_, err = m.StartSend(ctx, randomSource(t, "big.bin", 16*1024+1))
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, 0, conn.len())

	_, err = m.StartReceive(ctx, descriptorFor(16*1024))
	require.NoError(t, err)
	assert.Equal(t, &protocol.SendChunkAck{ChunkNo: 0}, conn.pop())
}
