// Package store provides database access for completed file records.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("record not found")

type RecordStore struct {
	db *gorm.DB
}

var _ RecordRepository = (*RecordStore)(nil)

func NewRecordStore(gdb *gorm.DB) *RecordStore {
	return &RecordStore{db: gdb}
}

// CreateRecord persists rec. Recording the same transfer twice returns the existing row.
func (rs *RecordStore) CreateRecord(ctx context.Context, rec *transfer.Record) (db.FileRecord, error) {
	existing, err := rs.GetRecordByTransferID(ctx, rec.ID, rec.Direction)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return db.FileRecord{}, err
	}

	row := db.FileRecord{
		TransferID: rec.ID.String(),
		Direction:  string(rec.Direction),
		Name:       rec.Name,
		Size:       int64(rec.Size),
		LocalPath:  rec.LocalPath,
		MimeType:   rec.MimeType,
		Checksum:   rec.Checksum,
		Peer:       rec.Peer,
		Available:  rec.Available,
		CreatedAt:  rec.CreatedAt,
	}
	if err := rs.db.WithContext(ctx).Create(&row).Error; err != nil {
		return db.FileRecord{}, err
	}
	return row, nil
}

// GetRecords returns every record, newest first.
func (rs *RecordStore) GetRecords(ctx context.Context) ([]db.FileRecord, error) {
	var rows []db.FileRecord
	err := rs.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&rows).Error
	return rows, err
}

func (rs *RecordStore) GetRecordByTransferID(ctx context.Context, id uuid.UUID, dir transfer.Direction) (db.FileRecord, error) {
	var row db.FileRecord
	err := rs.db.WithContext(ctx).
		Where("transfer_id = ? AND direction = ?", id.String(), string(dir)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.FileRecord{}, ErrRecordNotFound
	}
	return row, err
}

func (rs *RecordStore) SetAvailable(ctx context.Context, id uint, available bool) error {
	res := rs.db.WithContext(ctx).Model(&db.FileRecord{}).Where("id = ?", id).Update("available", available)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
