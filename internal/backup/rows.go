package backup

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/stork/internal/records"
)

const (
	// rowTimeLayout matches the timestamps stored in spreadsheet cells.
	rowTimeLayout = "2006-01-02 15:04:05"
	// noneCell marks an absent value in a spreadsheet cell.
	noneCell = "None"

	reactionPositive = "✅"
	reactionNegative = "🅾️"
)

var digitsOnly = regexp.MustCompile(`[^\d-]`)

// encodeUserRow renders a user record as the users sheet row A:E.
func encodeUserRow(user records.User) []string {
	username := user.Username
	if username == "" {
		username = noneCell
	}
	reaction := reactionNegative
	if user.Reaction {
		reaction = reactionPositive
	}
	return []string{
		strconv.FormatInt(user.ID, 10),
		user.FullName,
		username,
		user.Language,
		reaction,
	}
}

// encodeDateRow renders a date record as the dates sheet row A:D.
func encodeDateRow(date records.UserDate) []string {
	return []string{
		strconv.FormatInt(date.UserID, 10),
		strconv.FormatInt(date.ChatID, 10),
		encodeCellTime(date.PDRDate),
		encodeCellTime(date.PeriodDate),
	}
}

func encodeCellTime(at *time.Time) string {
	if at == nil {
		return noneCell
	}
	return at.Format(rowTimeLayout)
}

// rowMap pairs a header row with a data row, treating "None" cells as empty.
type rowMap map[string]string

func mapRow(header, row []string) rowMap {
	mapped := make(rowMap, len(header))
	for i, key := range header {
		if i >= len(row) {
			break
		}
		value := strings.TrimSpace(row[i])
		if value == noneCell {
			value = ""
		}
		mapped[strings.TrimSpace(key)] = value
	}
	return mapped
}

// cellInt extracts an integer id from a cell, tolerating stray formatting.
func cellInt(value string) (int64, bool) {
	cleaned := digitsOnly.ReplaceAllString(value, "")
	if cleaned == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func cellTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{rowTimeLayout, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}
	return nil
}
