package repository

import "jkbox/internal/storage"

// Repositories groups every repository the services need.
type Repositories struct {
	Room RoomRepository
}

// NewRepositories returns the postgres-backed repositories.
func NewRepositories(db *storage.PostgresDB) *Repositories {
	return &Repositories{
		Room: NewRoomRepository(db),
	}
}

// NewMemoryRepositories keeps everything in process memory.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Room: NewMemoryRoomRepository(),
	}
}
