package protocol

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Message is one of *Connect, *FileAck, *SendChunkAck or *ReceiveChunkAck.
type Message interface {
	Event() Event
	wire() frame
}

// Descriptor announces a file before its chunks are requested.
type Descriptor struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Size        uint64    `json:"size"`
	MimeType    string    `json:"mimeType"`
	TotalChunks uint32    `json:"totalChunks"`
}

// TotalChunks returns ceil(size / ChunkSize), saturating at math.MaxUint32
// for sizes above MaxFileSize.
func TotalChunks(size uint64) uint32 {
	n := size / ChunkSize
	if size%ChunkSize != 0 {
		n++
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// ChunkLen returns the expected length of chunk index for a file of the given size.
func ChunkLen(size uint64, index uint32) int {
	start := uint64(index) * ChunkSize
	if start >= size {
		return 0
	}
	if rem := size - start; rem < ChunkSize {
		return int(rem)
	}
	return ChunkSize
}

func (d Descriptor) Validate() error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("%w: descriptor id missing", ErrMalformed)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.Size > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, d.Size)
	}
	if want := TotalChunks(d.Size); d.TotalChunks != want {
		return fmt.Errorf("%w: totalChunks %d does not match size %d (want %d)", ErrMalformed, d.TotalChunks, d.Size, want)
	}
	return nil
}

// ValidateName rejects names that would escape the download directory.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid file name %q", ErrMalformed, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: file name too long", ErrMalformed)
	case strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return fmt.Errorf("%w: file name %q contains a path", ErrMalformed, name)
	}
	return nil
}

type Connect struct {
	DeviceName string
}

func (*Connect) Event() Event { return EventConnect }

func (m *Connect) wire() frame {
	name := m.DeviceName
	return frame{Event: EventConnect, DeviceName: &name}
}

type FileAck struct {
	File Descriptor
}

func (*FileAck) Event() Event { return EventFileAck }

func (m *FileAck) wire() frame {
	file := m.File
	return frame{Event: EventFileAck, File: &file}
}

// SendChunkAck asks the sender for chunk ChunkNo.
type SendChunkAck struct {
	ChunkNo uint32
}

func (*SendChunkAck) Event() Event { return EventSendChunkAck }

func (m *SendChunkAck) wire() frame {
	n := m.ChunkNo
	return frame{Event: EventSendChunkAck, ChunkNo: &n}
}

// ReceiveChunkAck carries chunk ChunkNo; Chunk travels as standard base64.
type ReceiveChunkAck struct {
	Chunk   []byte
	ChunkNo uint32
}

func (*ReceiveChunkAck) Event() Event { return EventReceiveChunkAck }

func (m *ReceiveChunkAck) wire() frame {
	n := m.ChunkNo
	chunk := m.Chunk
	return frame{Event: EventReceiveChunkAck, ChunkNo: &n, Chunk: &chunk}
}

// frame is the JSON shape shared by every event. Pointers tell a missing
// field apart from a zero value.
type frame struct {
	Event      Event       `json:"event"`
	DeviceName *string     `json:"deviceName,omitempty"`
	File       *Descriptor `json:"file,omitempty"`
	ChunkNo    *uint32     `json:"chunkNo,omitempty"`
	Chunk      *[]byte     `json:"chunk,omitempty"`
}

func (f *frame) message() (Message, error) {
	switch f.Event {
	case EventConnect:
		if f.DeviceName == nil || f.File != nil || f.ChunkNo != nil || f.Chunk != nil {
			return nil, fmt.Errorf("%w: connect wants exactly deviceName", ErrMalformed)
		}
		if *f.DeviceName == "" || len(*f.DeviceName) > MaxNameLength {
			return nil, fmt.Errorf("%w: invalid device name", ErrMalformed)
		}
		return &Connect{DeviceName: *f.DeviceName}, nil

	case EventFileAck:
		if f.File == nil || f.DeviceName != nil || f.ChunkNo != nil || f.Chunk != nil {
			return nil, fmt.Errorf("%w: file_ack wants exactly file", ErrMalformed)
		}
		if err := f.File.Validate(); err != nil {
			return nil, err
		}
		return &FileAck{File: *f.File}, nil

	case EventSendChunkAck:
		if f.ChunkNo == nil || f.DeviceName != nil || f.File != nil || f.Chunk != nil {
			return nil, fmt.Errorf("%w: send_chunk_ack wants exactly chunkNo", ErrMalformed)
		}
		return &SendChunkAck{ChunkNo: *f.ChunkNo}, nil

	case EventReceiveChunkAck:
		if f.ChunkNo == nil || f.Chunk == nil || f.DeviceName != nil || f.File != nil {
			return nil, fmt.Errorf("%w: receive_chunk_ack wants exactly chunk and chunkNo", ErrMalformed)
		}
		if len(*f.Chunk) == 0 || len(*f.Chunk) > ChunkSize {
			return nil, fmt.Errorf("%w: chunk length %d", ErrMalformed, len(*f.Chunk))
		}
		return &ReceiveChunkAck{Chunk: *f.Chunk, ChunkNo: *f.ChunkNo}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, string(f.Event))
	}
}
