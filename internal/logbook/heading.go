package logbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/stork/internal/htmlfmt"
)

const headingTimeLayout = "Mon 02.01.2006 15:04:05"

// FormatTime renders a log timestamp in the operator channel's layout.
func FormatTime(at time.Time) string {
	return at.Format(headingTimeLayout)
}

// ActorHeader renders the "who did this" part of a log line: name, optional
// username, id.
func ActorHeader(fullName, username string, id int64) string {
	parts := []string{htmlfmt.Escape(fullName)}
	if username != "" {
		parts = append(parts, fmt.Sprintf("[@%s]", username))
	}
	if id != 0 {
		parts = append(parts, htmlfmt.Code(id))
	}
	return strings.Join(parts, " ")
}

// Heading renders the standard log heading: timestamp plus actor, followed by
// a line break for the event body.
func Heading(at time.Time, fullName, username string, id int64) string {
	return fmt.Sprintf("%s %s:\n", htmlfmt.Code(FormatTime(at)), ActorHeader(fullName, username, id))
}
