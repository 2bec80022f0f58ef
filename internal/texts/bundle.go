package texts

import (
	"fmt"
	"strings"
)

// Keys the bot cannot operate without. Validated when a bundle is built so a
// missing translation surfaces at load time instead of at send time.
const (
	KeyPDRNotify     = "pdr_notify"
	KeyPeriodNotify  = "period_notify"
	KeyNotRecognized = "not_recognized"
	KeyUnitSeparator = "unit_separator"

	KeyUnitWeekOne  = "unit_week_1"
	KeyUnitWeekFew  = "unit_week_2"
	KeyUnitWeekMany = "unit_week_3"
	KeyUnitDayOne   = "unit_day_1"
	KeyUnitDayFew   = "unit_day_2"
	KeyUnitDayMany  = "unit_day_3"
)

var requiredKeys = []string{
	KeyPDRNotify,
	KeyPeriodNotify,
	KeyNotRecognized,
	KeyUnitSeparator,
	KeyUnitWeekOne,
	KeyUnitWeekFew,
	KeyUnitWeekMany,
	KeyUnitDayOne,
	KeyUnitDayFew,
	KeyUnitDayMany,
}

// Bundle is a validated set of localized texts for one language.
type Bundle struct {
	language string
	values   map[string]string
}

// NewBundle validates the value set against the required key enumeration.
func NewBundle(language string, values map[string]string) (Bundle, error) {
	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Bundle{}, fmt.Errorf("texts: language %q is missing required keys: %s", language, strings.Join(missing, ", "))
	}
	return Bundle{language: language, values: values}, nil
}

// Language returns the bundle's language code.
func (b Bundle) Language() string {
	return b.language
}

// Get returns the content for a validated key. Unknown keys return the key
// itself so a template mistake stays visible instead of panicking.
func (b Bundle) Get(key string) string {
	if value, ok := b.values[key]; ok {
		return value
	}
	return key
}
