package transfer

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Record describes a transfer that finished on this side.
type Record struct {
	ID        uuid.UUID
	Name      string
	Size      uint64
	LocalPath string
	MimeType  string
	Checksum  string
	Direction Direction
	Peer      string
	Available bool
	CreatedAt time.Time
}

// Source is a file read fully into memory, ready to send.
type Source struct {
	Path     string
	Name     string
	Size     uint64
	MimeType string
	Data     []byte
}
