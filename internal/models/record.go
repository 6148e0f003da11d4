package models

import (
	"time"

	"gorm.io/datatypes"
)

// RoomRecord is the persisted row of a room. State is the authoritative
// serialized Room; Phase is only an indexed projection of it.
type RoomRecord struct {
	RoomID    string         `gorm:"primaryKey;type:varchar(16)"`
	Phase     string         `gorm:"type:varchar(20);index;not null"`
	State     datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:false;index"`
}

func (RoomRecord) TableName() string {
	return "rooms"
}
