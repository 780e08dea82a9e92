package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
)

// RecordRepository defines completed-transfer record operations.
type RecordRepository interface {
	CreateRecord(ctx context.Context, rec *transfer.Record) (db.FileRecord, error)
	GetRecords(ctx context.Context) ([]db.FileRecord, error)
	GetRecordByTransferID(ctx context.Context, id uuid.UUID, dir transfer.Direction) (db.FileRecord, error)
	SetAvailable(ctx context.Context, id uint, available bool) error
}
