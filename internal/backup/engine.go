// Package backup keeps the local record store and the operator spreadsheet in
// sync: a cold-start pull seeds an empty store from the sheet, and a scheduled
// push writes dirty records back row by row.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/metrics"
	"github.com/MarcoPoloResearchLab/stork/internal/records"
	"github.com/MarcoPoloResearchLab/stork/internal/sheets"
	"github.com/MarcoPoloResearchLab/stork/internal/texts"
)

const (
	// sheetGrowth is how many rows a full sheet grows by before a retry.
	sheetGrowth = 1000
	// growthPause lets the spreadsheet settle after growing.
	growthPause = time.Second
)

// pushMinutes are the wall-clock UTC minutes a push cycle runs at.
var pushMinutes = map[int]struct{}{5: {}, 15: {}, 25: {}, 55: {}}

// EngineConfig describes a sync engine's dependencies.
type EngineConfig struct {
	Users *records.UserRepository
	Dates *records.UserDateRepository
	Texts *texts.Repository

	UsersSheet sheets.Worksheet
	DatesSheet sheets.Worksheet
	TextsSheet sheets.Worksheet

	Clock   func() time.Time
	Sleep   delivery.Sleeper
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// DevMode makes every push cycle due immediately.
	DevMode bool
}

// Engine moves records between the local store and the spreadsheet.
type Engine struct {
	users *records.UserRepository
	dates *records.UserDateRepository
	texts *texts.Repository

	usersSheet sheets.Worksheet
	datesSheet sheets.Worksheet
	textsSheet sheets.Worksheet

	clock   func() time.Time
	sleep   delivery.Sleeper
	logger  *zap.Logger
	metrics *metrics.Metrics
	devMode bool
}

var errMissingRepositories = errors.New("backup: repositories are required")
var errMissingWorksheets = errors.New("backup: worksheets are required")

// NewEngine constructs a sync engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Users == nil || cfg.Dates == nil || cfg.Texts == nil {
		return nil, errMissingRepositories
	}
	if cfg.UsersSheet == nil || cfg.DatesSheet == nil || cfg.TextsSheet == nil {
		return nil, errMissingWorksheets
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = delivery.StandardSleeper
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reported := cfg.Metrics
	if reported == nil {
		reported = metrics.NewNop()
	}

	return &Engine{
		users:      cfg.Users,
		dates:      cfg.Dates,
		texts:      cfg.Texts,
		usersSheet: cfg.UsersSheet,
		datesSheet: cfg.DatesSheet,
		textsSheet: cfg.TextsSheet,
		clock:      clock,
		sleep:      sleep,
		logger:     logger,
		metrics:    reported,
		devMode:    cfg.DevMode,
	}, nil
}

// ColdStart seeds empty local stores from the spreadsheet. Stores that
// already hold data are left alone; the local copy wins until the next push.
func (e *Engine) ColdStart(ctx context.Context) error {
	hasUsers, err := e.users.Any(ctx)
	if err != nil {
		return err
	}
	if !hasUsers {
		if err := e.PullRecords(ctx); err != nil {
			return err
		}
	}

	hasTexts, err := e.texts.Any(ctx)
	if err != nil {
		return err
	}
	if !hasTexts {
		if _, err := e.PullTexts(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PullRecords merges the users and dates sheets into the local store. Rows
// that cannot yield a key are skipped; existing local records are overwritten
// field by field, and nothing is ever deleted on pull.
func (e *Engine) PullRecords(ctx context.Context) error {
	userRows, err := e.usersSheet.ReadAll(ctx)
	if err != nil {
		return err
	}
	dateRows, err := e.datesSheet.ReadAll(ctx)
	if err != nil {
		return err
	}

	incomingUsers := decodeUsers(userRows)
	incomingDates := decodeDates(dateRows)

	if err := e.users.MergeByID(ctx, incomingUsers); err != nil {
		return err
	}
	if err := e.dates.MergeByUserChat(ctx, incomingDates); err != nil {
		return err
	}

	e.logger.Info("pulled records from spreadsheet",
		zap.Int("users", len(incomingUsers)),
		zap.Int("dates", len(incomingDates)))
	return nil
}

// decodeUsers converts raw users-sheet rows to user records. The first row is
// the header; the row index becomes the record's row pointer.
func decodeUsers(rows [][]string) []records.User {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]
	users := make([]records.User, 0, len(rows)-1)
	for i, row := range rows[1:] {
		mapped := mapRow(header, row)
		id, valid := cellInt(mapped["id"])
		if !valid {
			continue
		}
		users = append(users, records.User{
			ID:         id,
			FullName:   mapped["full_name"],
			Username:   mapped["username"],
			Language:   mapped["lang"],
			Reaction:   mapped["reaction"] == reactionPositive,
			RowPointer: int64(i + 2),
		})
	}
	return users
}

func decodeDates(rows [][]string) []records.UserDate {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]
	dates := make([]records.UserDate, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		mapped := mapRow(header, row)
		userID, valid := cellInt(mapped["user_id"])
		if !valid {
			continue
		}
		chatID, valid := cellInt(mapped["chat_id"])
		if !valid {
			continue
		}
		dates = append(dates, records.UserDate{
			UserID:     userID,
			ChatID:     chatID,
			PDRDate:    cellTime(mapped["pdr_date"]),
			PeriodDate: cellTime(mapped["period_date"]),
			RowPointer: int64(i + 2),
		})
	}
	return dates
}

// PullTexts replaces the local text catalog with the texts sheet content.
// The sheet's first row holds language codes; each following row holds a text
// key and one cell per language.
func (e *Engine) PullTexts(ctx context.Context) (texts.SyncResult, error) {
	rows, err := e.textsSheet.ReadAll(ctx)
	if err != nil {
		return texts.SyncResult{}, err
	}

	incoming := decodeTexts(rows)
	result, err := e.texts.Sync(ctx, incoming)
	if err != nil {
		return texts.SyncResult{}, err
	}

	e.logger.Info("synchronized texts from spreadsheet",
		zap.Int("incoming", len(incoming)),
		zap.String("summary", result.Summary()))
	return result, nil
}

func decodeTexts(rows [][]string) []texts.Text {
	if len(rows) == 0 {
		return nil
	}
	languages := make([]string, 0, len(rows[0]))
	for _, cell := range rows[0][1:] {
		languages = append(languages, strings.TrimSpace(cell))
	}

	var entries []texts.Text
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		key := strings.TrimSpace(row[0])
		if key == "" {
			continue
		}
		for i, language := range languages {
			if i+1 >= len(row) || language == "" {
				continue
			}
			entries = append(entries, texts.Text{
				Key:      key,
				Language: language,
				Content:  strings.TrimSpace(row[i+1]),
			})
		}
	}
	return entries
}

// PushDue reports whether a push cycle should run at the given instant.
// Cycles run a few minutes past the quarter marks so they never collide with
// operator edits on the hour; dev mode pushes immediately.
func (e *Engine) PushDue(now time.Time) bool {
	if e.devMode {
		return true
	}
	_, due := pushMinutes[now.UTC().Minute()]
	return due
}

// Push writes every dirty record back to its spreadsheet row and clears its
// dirty flag. Records are pushed one at a time; a failure stops the cycle and
// leaves the remaining records dirty for the next one.
func (e *Engine) Push(ctx context.Context) error {
	dirtyUsers, err := e.users.DirtyUsers(ctx)
	if err != nil {
		return err
	}
	for i := range dirtyUsers {
		user := &dirtyUsers[i]
		if err := e.writeRow(ctx, e.usersSheet, user.RowPointer, encodeUserRow(*user)); err != nil {
			return fmt.Errorf("backup: push user %d: %w", user.ID, err)
		}
		if err := e.users.MarkSynced(ctx, user); err != nil {
			return err
		}
		e.metrics.RowsPushed.Inc()
		e.logger.Info("pushed user row",
			zap.Int64("user_id", user.ID),
			zap.Int64("row", user.RowPointer))
	}

	dirtyDates, err := e.dates.DirtyDates(ctx)
	if err != nil {
		return err
	}
	for i := range dirtyDates {
		date := &dirtyDates[i]
		if err := e.writeRow(ctx, e.datesSheet, date.RowPointer, encodeDateRow(*date)); err != nil {
			return fmt.Errorf("backup: push date %d/%d: %w", date.UserID, date.ChatID, err)
		}
		if err := e.dates.MarkSynced(ctx, date); err != nil {
			return err
		}
		e.metrics.RowsPushed.Inc()
		e.logger.Info("pushed date row",
			zap.Int64("user_id", date.UserID),
			zap.Int64("chat_id", date.ChatID),
			zap.Int64("row", date.RowPointer))
	}
	return nil
}

// writeRow reads the target row first to force a range check, growing the
// sheet and retrying exactly once when the row lies past the grid.
func (e *Engine) writeRow(ctx context.Context, sheet sheets.Worksheet, row int64, values []string) error {
	_, err := sheet.ReadRow(ctx, row)
	if sheets.IsGridLimit(err) {
		if err := sheet.AddRows(ctx, sheetGrowth); err != nil {
			return err
		}
		if err := e.sleep(ctx, growthPause); err != nil {
			return err
		}
		if _, err := sheet.ReadRow(ctx, row); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return sheet.UpdateRow(ctx, row, values)
}
