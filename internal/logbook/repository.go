package logbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("logbook: database handle is required")

// Repository is the durable queue of log entries.
type Repository struct {
	db *gorm.DB
}

// NewRepository validates the handle and returns a repository.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Repository{db: db}, nil
}

// Insert appends a new pending entry.
func (r *Repository) Insert(ctx context.Context, text string) error {
	if err := r.db.WithContext(ctx).Create(&Entry{Text: text}).Error; err != nil {
		return fmt.Errorf("logbook: insert: %w", err)
	}
	return nil
}

// Pending returns all entries not yet posted, in ascending id order. The
// flush engine relies on this ordering for FIFO delivery.
func (r *Repository) Pending(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("posted_id IS NULL").
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("logbook: pending: %w", err)
	}
	return entries, nil
}

// Posted returns all delivered entries, in ascending id order.
func (r *Repository) Posted(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("posted_id IS NOT NULL").
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("logbook: posted: %w", err)
	}
	return entries, nil
}

// MarkPosted stamps the given entries with the channel message id and
// timestamp in one batched update. Re-marking the same ids overwrites the
// stamp with identical values, so a repeated call after a retry is harmless.
func (r *Repository) MarkPosted(ctx context.Context, ids []int64, postedID int64, postedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"posted_id": postedID,
			"posted_at": postedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("logbook: mark posted: %w", err)
	}
	return nil
}

// RemovePosted deletes archived entries. Pending entries are never deleted by
// this call even when their ids are listed.
func (r *Repository) RemovePosted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ? AND posted_id IS NOT NULL", ids).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("logbook: remove posted: %w", err)
	}
	return nil
}

// PendingCount reports the queue depth for the ops status endpoint.
func (r *Repository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("posted_id IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("logbook: pending count: %w", err)
	}
	return count, nil
}
