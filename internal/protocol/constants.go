package protocol

import "math"

const (
	// ChunkSize is the fixed block size files are split into; the last block may be shorter.
	ChunkSize = 8 * 1024
	// MaxFileSize is the largest size whose chunk count fits the uint32 chunkNo field.
	MaxFileSize = uint64(math.MaxUint32) * ChunkSize
	// MaxFrameSize bounds a single encoded control frame.
	MaxFrameSize = 1024 * 1024
	// MaxNameLength bounds file and device names carried in frames.
	MaxNameLength = 255
	// ALPN is negotiated on every TLS session.
	ALPN = "peer-drop"
)

type Event string

const (
	EventConnect         Event = "connect"
	EventFileAck         Event = "file_ack"
	EventSendChunkAck    Event = "send_chunk_ack"
	EventReceiveChunkAck Event = "receive_chunk_ack"
)

func (e Event) String() string {
	switch e {
	case EventConnect, EventFileAck, EventSendChunkAck, EventReceiveChunkAck:
		return string(e)
	default:
		return "unknown"
	}
}
