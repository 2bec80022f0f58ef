package logbook

import "time"

// Entry is one queued activity-log line. PostedID is nil exactly while the
// entry is pending; the flush engine fills it with the log channel message id
// once the entry has been delivered. Entries are deleted only after being
// archived.
type Entry struct {
	ID       int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Text     string     `gorm:"column:text;not null"`
	PostedID *int64     `gorm:"column:posted_id"`
	PostedAt *time.Time `gorm:"column:posted_at"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "log"
}
