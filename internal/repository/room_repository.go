package repository

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jkbox/internal/models"
	"jkbox/internal/storage"
)

var ErrRecordNotFound = errors.New("room record not found")

type RoomRepository interface {
	// Save inserts or overwrites the row of record.RoomID.
	Save(record *models.RoomRecord) error
	FindByID(roomID string) (*models.RoomRecord, error)
	FindAll() ([]models.RoomRecord, error)
	Delete(roomID string) error
	DeleteAll() error
	// LastUpdated is the newest UpdatedAt over all rows; ok is false when empty.
	LastUpdated() (t time.Time, ok bool, err error)
}

type roomRepository struct {
	db *storage.PostgresDB
}

// NewRoomRepository stores rooms in the rooms table.
func NewRoomRepository(db *storage.PostgresDB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Save(record *models.RoomRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"phase", "state", "updated_at"}),
	}).Create(record).Error
}

func (r *roomRepository) FindByID(roomID string) (*models.RoomRecord, error) {
	var record models.RoomRecord
	err := r.db.Where("room_id = ?", roomID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *roomRepository) FindAll() ([]models.RoomRecord, error) {
	var records []models.RoomRecord
	err := r.db.Order("created_at ASC").Find(&records).Error
	return records, err
}

func (r *roomRepository) Delete(roomID string) error {
	return r.db.Where("room_id = ?", roomID).Delete(&models.RoomRecord{}).Error
}

func (r *roomRepository) DeleteAll() error {
	return r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RoomRecord{}).Error
}

func (r *roomRepository) LastUpdated() (time.Time, bool, error) {
	var last sql.NullTime
	row := r.db.Model(&models.RoomRecord{}).Select("MAX(updated_at)").Row()
	if err := row.Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}
