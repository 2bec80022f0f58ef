package records

import "time"

// User models a bot user. The primary key is the platform user id, so it is
// assigned externally and never generated by the storage engine.
type User struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	FullName    string `gorm:"column:full_name;not null;default:''"`
	Username    string `gorm:"column:username;size:50;default:''"`
	Language    string `gorm:"column:language;size:2;not null;default:'ru'"`
	Reaction    bool   `gorm:"column:reaction;not null;default:false"`
	RowPointer  int64  `gorm:"column:row_pointer;not null;default:0"`
	NeedsBackup bool   `gorm:"column:needs_backup;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// UserDate holds the date-tracking state for one (user, chat) pair. RowPointer
// is the record's row address in the mirrored spreadsheet; it is deliberately
// decoupled from the autoincrement primary key and allocated as
// max(observed)+1, never reused.
type UserDate struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      int64      `gorm:"column:user_id;not null;uniqueIndex:idx_dates_user_chat,priority:1"`
	ChatID      int64      `gorm:"column:chat_id;not null;default:0;uniqueIndex:idx_dates_user_chat,priority:2"`
	PDRDate     *time.Time `gorm:"column:pdr_date"`
	PeriodDate  *time.Time `gorm:"column:period_date"`
	Gender      *int       `gorm:"column:gender"`
	RowPointer  int64      `gorm:"column:row_pointer;not null;default:0"`
	NeedsBackup bool       `gorm:"column:needs_backup;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (UserDate) TableName() string {
	return "user_dates"
}
