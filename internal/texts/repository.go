package texts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("texts: database handle is required")

// Repository manages localized text records.
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

// All returns every text record ordered by id.
func (r *Repository) All(ctx context.Context) ([]Text, error) {
	var entries []Text
	if err := r.db.WithContext(ctx).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("texts: all: %w", err)
	}
	return entries, nil
}

// Any reports whether the texts table has at least one row.
func (r *Repository) Any(ctx context.Context) (bool, error) {
	var entry Text
	err := r.db.WithContext(ctx).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("texts: any: %w", err)
	}
	return true, nil
}

// LanguageCodes returns all distinct language codes in first-seen order.
func (r *Repository) LanguageCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Model(&Text{}).
		Select("language").
		Group("language").
		Order("MIN(id)").
		Scan(&codes).Error
	if err != nil {
		return nil, fmt.Errorf("texts: language codes: %w", err)
	}
	return codes, nil
}

// ByLanguage loads all texts for one language into a validated bundle.
func (r *Repository) ByLanguage(ctx context.Context, language string) (Bundle, error) {
	var entries []Text
	err := r.db.WithContext(ctx).Where("language = ?", language).Find(&entries).Error
	if err != nil {
		return Bundle{}, fmt.Errorf("texts: by language: %w", err)
	}

	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		values[entry.Key] = entry.Content
	}
	return NewBundle(language, values)
}

// SyncResult reports which keys changed during a wholesale sync, grouped by
// language.
type SyncResult struct {
	Added   map[string][]string
	Updated map[string][]string
	Deleted map[string][]string
}

// Summary renders the sync outcome as a short operator-facing report.
func (r SyncResult) Summary() string {
	var lines []string
	for _, group := range []struct {
		verb string
		keys map[string][]string
	}{
		{"added", r.Added},
		{"updated", r.Updated},
		{"deleted", r.Deleted},
	} {
		languages := make([]string, 0, len(group.keys))
		for language := range group.keys {
			languages = append(languages, language)
		}
		sort.Strings(languages)
		for _, language := range languages {
			lines = append(lines, fmt.Sprintf("%s %s: %s",
				group.verb, strings.ToUpper(language),
				strings.Join(group.keys[language], ", ")))
		}
	}
	if len(lines) == 0 {
		return "nothing changed"
	}
	return strings.Join(lines, "\n")
}

// Sync replaces the stored reference set with the incoming one: matching
// (key, language) pairs are updated when content differs, unknown pairs are
// inserted, and pairs absent from the incoming set are deleted. Unlike the
// record stores this is a full diff in both directions, because texts have no
// local authority.
func (r *Repository) Sync(ctx context.Context, incoming []Text) (SyncResult, error) {
	type textKey struct {
		key      string
		language string
	}

	result := SyncResult{
		Added:   make(map[string][]string),
		Updated: make(map[string][]string),
		Deleted: make(map[string][]string),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Text
		if err := tx.Order("id").Find(&existing).Error; err != nil {
			return err
		}

		incomingByKey := make(map[textKey]Text, len(incoming))
		for _, entry := range incoming {
			incomingByKey[textKey{entry.Key, entry.Language}] = entry
		}

		seen := make(map[textKey]bool, len(existing))
		for i := range existing {
			key := textKey{existing[i].Key, existing[i].Language}
			update, ok := incomingByKey[key]
			if !ok {
				result.Deleted[existing[i].Language] = append(result.Deleted[existing[i].Language], existing[i].Key)
				if err := tx.Where("text_key = ? AND language = ?", key.key, key.language).Delete(&Text{}).Error; err != nil {
					return err
				}
				continue
			}
			seen[key] = true
			if existing[i].Content != update.Content {
				result.Updated[existing[i].Language] = append(result.Updated[existing[i].Language], existing[i].Key)
				existing[i].Content = update.Content
				if err := tx.Save(&existing[i]).Error; err != nil {
					return err
				}
			}
		}

		for _, entry := range incoming {
			if seen[textKey{entry.Key, entry.Language}] {
				continue
			}
			entry := entry
			entry.ID = 0
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
			result.Added[entry.Language] = append(result.Added[entry.Language], entry.Key)
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("texts: sync: %w", err)
	}
	return result, nil
}
