package repository

import (
	"sort"
	"sync"
	"time"

	"jkbox/internal/models"
)

type memoryRoomRepository struct {
	mu      sync.RWMutex
	records map[string]models.RoomRecord
}

// NewMemoryRoomRepository keeps rooms in process memory.
func NewMemoryRoomRepository() RoomRepository {
	return &memoryRoomRepository{records: make(map[string]models.RoomRecord)}
}

func copyRecord(rec models.RoomRecord) models.RoomRecord {
	rec.State = append([]byte(nil), rec.State...)
	return rec
}

func (r *memoryRoomRepository) Save(record *models.RoomRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := copyRecord(*record)
	if existing, ok := r.records[rec.RoomID]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	r.records[rec.RoomID] = rec
	return nil
}

func (r *memoryRoomRepository) FindByID(roomID string) (*models.RoomRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[roomID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec = copyRecord(rec)
	return &rec, nil
}

func (r *memoryRoomRepository) FindAll() ([]models.RoomRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]models.RoomRecord, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, copyRecord(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *memoryRoomRepository) Delete(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, roomID)
	return nil
}

func (r *memoryRoomRepository) DeleteAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]models.RoomRecord)
	return nil
}

func (r *memoryRoomRepository) LastUpdated() (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last time.Time
	for _, rec := range r.records {
		if rec.UpdatedAt.After(last) {
			last = rec.UpdatedAt
		}
	}
	return last, !last.IsZero(), nil
}
