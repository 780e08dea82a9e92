package db

import "time"

// FileRecord is a completed transfer, sent or received.
type FileRecord struct {
	ID         uint   `gorm:"primaryKey"`
	TransferID string `gorm:"not null;uniqueIndex:idx_transfer_direction"`
	Direction  string `gorm:"not null;uniqueIndex:idx_transfer_direction"`
	Name       string `gorm:"not null"`
	Size       int64
	LocalPath  string
	MimeType   string
	Checksum   string
	Peer       string
	Available  bool
	CreatedAt  time.Time `gorm:"index"`
}
