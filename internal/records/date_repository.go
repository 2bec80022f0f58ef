package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UserDateRepository provides typed CRUD and sync primitives over the
// user_dates table. Records are keyed by (user id, chat id); a user keeps
// independent date-tracking state per chat.
type UserDateRepository struct {
	db *gorm.DB
}

// NewUserDateRepository validates the handle and returns a repository.
func NewUserDateRepository(db *gorm.DB) (*UserDateRepository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &UserDateRepository{db: db}, nil
}

// All returns every date record.
func (r *UserDateRepository) All(ctx context.Context) ([]UserDate, error) {
	var dates []UserDate
	if err := r.db.WithContext(ctx).Order("id").Find(&dates).Error; err != nil {
		return nil, fmt.Errorf("records: all dates: %w", err)
	}
	return dates, nil
}

// GetOrCreate returns the date record for (userID, chatID), creating it lazily
// on first access. The unique composite index guarantees at most one row per
// key even when two get-or-create calls race; the loser re-reads the winner's
// row.
func (r *UserDateRepository) GetOrCreate(ctx context.Context, userID, chatID int64) (*UserDate, error) {
	var date UserDate
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Take(&date).Error
	if err == nil {
		return &date, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("records: get date: %w", err)
	}

	created, err := r.create(ctx, userID, chatID)
	if err == nil {
		return created, nil
	}

	// Lost the race against a concurrent get-or-create for the same key.
	retryErr := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Take(&date).Error
	if retryErr == nil {
		return &date, nil
	}
	return nil, fmt.Errorf("records: create date: %w", err)
}

func (r *UserDateRepository) create(ctx context.Context, userID, chatID int64) (*UserDate, error) {
	date := UserDate{
		UserID:      userID,
		ChatID:      chatID,
		NeedsBackup: true,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPointer int64
		if err := tx.Model(&UserDate{}).Select("COALESCE(MAX(row_pointer), 1)").Scan(&maxPointer).Error; err != nil {
			return err
		}
		date.RowPointer = maxPointer + 1
		return tx.Create(&date).Error
	})
	if err != nil {
		return nil, err
	}
	return &date, nil
}

// UpdatePDRDate sets the due date and marks the row dirty.
func (r *UserDateRepository) UpdatePDRDate(ctx context.Context, date *UserDate, pdrDate time.Time) error {
	date.PDRDate = &pdrDate
	date.NeedsBackup = true
	return r.save(ctx, date)
}

// UpdatePeriodDate sets the period start date and marks the row dirty.
func (r *UserDateRepository) UpdatePeriodDate(ctx context.Context, date *UserDate, periodDate time.Time) error {
	date.PeriodDate = &periodDate
	date.NeedsBackup = true
	return r.save(ctx, date)
}

// DirtyDates returns all date records awaiting a spreadsheet write-back.
func (r *UserDateRepository) DirtyDates(ctx context.Context) ([]UserDate, error) {
	var dates []UserDate
	if err := r.db.WithContext(ctx).Where("needs_backup = ?", true).Order("id").Find(&dates).Error; err != nil {
		return nil, fmt.Errorf("records: dirty dates: %w", err)
	}
	return dates, nil
}

// MarkSynced clears the dirty flag after a confirmed write-back.
func (r *UserDateRepository) MarkSynced(ctx context.Context, date *UserDate) error {
	date.NeedsBackup = false
	return r.save(ctx, date)
}

// TodaysPDR returns (user, date) pairs whose due date falls on the given day,
// compared date-only.
func (r *UserDateRepository) TodaysPDR(ctx context.Context, now time.Time) ([]UserWithDate, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var dates []UserDate
	err := r.db.WithContext(ctx).
		Where("pdr_date >= ? AND pdr_date < ?", dayStart, dayEnd).
		Order("id").
		Find(&dates).Error
	if err != nil {
		return nil, fmt.Errorf("records: todays pdr: %w", err)
	}
	return r.withUsers(ctx, dates)
}

// WithPeriod returns (user, date) pairs with a period start date set.
func (r *UserDateRepository) WithPeriod(ctx context.Context) ([]UserWithDate, error) {
	var dates []UserDate
	err := r.db.WithContext(ctx).
		Where("period_date IS NOT NULL").
		Order("id").
		Find(&dates).Error
	if err != nil {
		return nil, fmt.Errorf("records: with period: %w", err)
	}
	return r.withUsers(ctx, dates)
}

func (r *UserDateRepository) withUsers(ctx context.Context, dates []UserDate) ([]UserWithDate, error) {
	if len(dates) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(dates))
	for _, date := range dates {
		ids = append(ids, date.UserID)
	}

	var users []User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("records: date users: %w", err)
	}
	usersByID := make(map[int64]User, len(users))
	for _, user := range users {
		usersByID[user.ID] = user
	}

	pairs := make([]UserWithDate, 0, len(dates))
	for _, date := range dates {
		user, ok := usersByID[date.UserID]
		if !ok {
			continue
		}
		pairs = append(pairs, UserWithDate{User: user, UserDate: date})
	}
	return pairs, nil
}

// MergeByUserChat upserts the incoming set keyed by (user id, chat id):
// matching rows take the incoming date fields, unknown rows are inserted,
// store-only rows are left untouched. No deletions happen in this direction.
func (r *UserDateRepository) MergeByUserChat(ctx context.Context, incoming []UserDate) error {
	type dateKey struct {
		userID int64
		chatID int64
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []UserDate
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}

		incomingByKey := make(map[dateKey]UserDate, len(incoming))
		for _, date := range incoming {
			incomingByKey[dateKey{date.UserID, date.ChatID}] = date
		}

		seen := make(map[dateKey]bool, len(existing))
		for i := range existing {
			key := dateKey{existing[i].UserID, existing[i].ChatID}
			update, ok := incomingByKey[key]
			if !ok {
				continue
			}
			seen[key] = true
			existing[i].PDRDate = update.PDRDate
			existing[i].PeriodDate = update.PeriodDate
			if err := tx.Save(&existing[i]).Error; err != nil {
				return err
			}
		}

		for _, date := range incoming {
			if seen[dateKey{date.UserID, date.ChatID}] {
				continue
			}
			date := date
			if err := tx.Create(&date).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("records: merge dates: %w", err)
	}
	return nil
}

func (r *UserDateRepository) save(ctx context.Context, date *UserDate) error {
	if err := r.db.WithContext(ctx).Save(date).Error; err != nil {
		return fmt.Errorf("records: save date: %w", err)
	}
	return nil
}

// UserWithDate joins a user row with one of its date rows for notification scans.
type UserWithDate struct {
	User     User
	UserDate UserDate
}
