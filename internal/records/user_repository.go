package records

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("records: database handle is required")

// UserRepository provides typed CRUD and sync primitives over the users table.
// Every mutating call marks the record dirty for the backup pipeline; the flag
// is cleared only by MarkSynced after a confirmed spreadsheet write.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository validates the handle and returns a repository.
func NewUserRepository(db *gorm.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &UserRepository{db: db}, nil
}

// GetByID returns the user with the given platform id, or nil when absent.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("records: get user: %w", err)
	}
	return &user, nil
}

// Any reports whether the users table has at least one row.
func (r *UserRepository) Any(ctx context.Context) (bool, error) {
	var user User
	err := r.db.WithContext(ctx).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("records: any user: %w", err)
	}
	return true, nil
}

// All returns every user record.
func (r *UserRepository) All(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("records: all users: %w", err)
	}
	return users, nil
}

// Create inserts a new user. The spreadsheet row pointer is allocated as
// max(existing)+1 inside the insert transaction.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPointer int64
		if err := tx.Model(&User{}).Select("COALESCE(MAX(row_pointer), 1)").Scan(&maxPointer).Error; err != nil {
			return err
		}
		user.RowPointer = maxPointer + 1
		user.NeedsBackup = true
		return tx.Create(user).Error
	})
	if err != nil {
		return fmt.Errorf("records: create user: %w", err)
	}
	return nil
}

// UpdatePersonalData refreshes the user's name fields and marks the row dirty.
func (r *UserRepository) UpdatePersonalData(ctx context.Context, user *User, fullName, username string) error {
	user.FullName = fullName
	user.Username = username
	user.NeedsBackup = true
	return r.save(ctx, user)
}

// UpdateReaction sets the blocked/unblocked flag and marks the row dirty.
func (r *UserRepository) UpdateReaction(ctx context.Context, user *User, reaction bool) error {
	user.Reaction = reaction
	user.NeedsBackup = true
	return r.save(ctx, user)
}

// UpdateUsernameAndReaction disables a chat user after migration.
func (r *UserRepository) UpdateUsernameAndReaction(ctx context.Context, user *User, username string, reaction bool) error {
	user.Username = username
	user.Reaction = reaction
	user.NeedsBackup = true
	return r.save(ctx, user)
}

// UpdateLanguage changes the user's language and marks the row dirty.
func (r *UserRepository) UpdateLanguage(ctx context.Context, user *User, language string) error {
	user.Language = language
	user.NeedsBackup = true
	return r.save(ctx, user)
}

// DirtyUsers returns all users awaiting a spreadsheet write-back.
func (r *UserRepository) DirtyUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Where("needs_backup = ?", true).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("records: dirty users: %w", err)
	}
	return users, nil
}

// MarkSynced clears the dirty flag after a confirmed write-back.
func (r *UserRepository) MarkSynced(ctx context.Context, user *User) error {
	user.NeedsBackup = false
	return r.save(ctx, user)
}

// MergeByID upserts the incoming set keyed by platform id: matching rows are
// overwritten field-for-field, unknown rows are inserted, store-only rows are
// left untouched. No deletions happen in this direction.
func (r *UserRepository) MergeByID(ctx context.Context, incoming []User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []User
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}

		incomingByID := make(map[int64]User, len(incoming))
		for _, user := range incoming {
			incomingByID[user.ID] = user
		}

		seen := make(map[int64]bool, len(existing))
		for i := range existing {
			update, ok := incomingByID[existing[i].ID]
			if !ok {
				continue
			}
			seen[existing[i].ID] = true
			existing[i].FullName = update.FullName
			existing[i].Username = update.Username
			existing[i].Language = update.Language
			existing[i].Reaction = update.Reaction
			existing[i].RowPointer = update.RowPointer
			if err := tx.Save(&existing[i]).Error; err != nil {
				return err
			}
		}

		for _, user := range incoming {
			if seen[user.ID] {
				continue
			}
			user := user
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("records: merge users: %w", err)
	}
	return nil
}

func (r *UserRepository) save(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("records: save user: %w", err)
	}
	return nil
}
