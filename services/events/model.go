package events

import (
	"time"

	"gorm.io/datatypes"
)

// LicenseEvent is the bookkeeping row written for every lifecycle event
// published to the bus, so delivery can be audited and replayed.
type LicenseEvent struct {
	ID         string         `gorm:"column:id;primaryKey"`
	LicenseID  string         `gorm:"column:license_id;index;not null"`
	EventName  string         `gorm:"column:event_name;index;not null"`
	Properties datatypes.JSON `gorm:"column:properties;type:text"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (LicenseEvent) TableName() string { return "license_events" }
