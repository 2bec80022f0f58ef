package texts

import (
	"fmt"
	"strings"
	"time"
)

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerWeek = 7 * secondsPerDay
)

// WeeksAndDays splits an elapsed duration into whole weeks and leftover days.
func WeeksAndDays(elapsed time.Duration) (weeks, days int) {
	totalDays := int(elapsed.Hours() / 24)
	weeks = totalDays / 7
	days = totalDays - weeks*7
	return weeks, days
}

// PeriodWeekAndDay renders an elapsed pregnancy duration as localized
// "N weeks {sep} M days" text with language-aware pluralization.
func PeriodWeekAndDay(bundle Bundle, elapsed time.Duration) string {
	seconds := int(elapsed.Seconds())

	var units []string
	for _, unit := range []struct {
		seconds int
		one     string
		few     string
		many    string
	}{
		{secondsPerWeek, KeyUnitWeekOne, KeyUnitWeekFew, KeyUnitWeekMany},
		{secondsPerDay, KeyUnitDayOne, KeyUnitDayFew, KeyUnitDayMany},
	} {
		count := seconds / unit.seconds
		seconds -= count * unit.seconds
		if count == 0 {
			continue
		}
		units = append(units, fmt.Sprintf("%d %s", count, bundle.Get(pluralKey(bundle.Language(), count, unit.one, unit.few, unit.many))))
	}

	return strings.Join(units, fmt.Sprintf(" %s ", bundle.Get(KeyUnitSeparator)))
}

// pluralKey picks the grammatical form for a count. Slavic languages
// distinguish 1 / 2-4 / 5+ with the teens always taking the many form;
// English collapses everything above one into the many form.
func pluralKey(language string, count int, one, few, many string) string {
	if count%100 >= 11 && count%100 <= 14 {
		return many
	}
	if language == "en" && count >= 2 {
		return many
	}
	switch count % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	default:
		return many
	}
}
