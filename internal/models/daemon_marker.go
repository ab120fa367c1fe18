package models

import "time"

// DaemonMarker is the single-row lifecycle record for the scheduler daemon.
// A marker whose heartbeat is older than the staleness threshold belongs to
// a dead process and is replaced on startup.
type DaemonMarker struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	InstanceID string `gorm:"type:varchar(36);not null;uniqueIndex"`

	Hostname string `gorm:"type:varchar(200);not null"`
	PID      int    `gorm:"not null"`

	StartedAt   time.Time `gorm:"type:timestamptz;not null"`
	HeartbeatAt time.Time `gorm:"type:timestamptz;not null"`
}

func (DaemonMarker) TableName() string {
	return "daemon_markers"
}
