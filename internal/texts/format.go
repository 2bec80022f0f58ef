package texts

import (
	"fmt"
	"strings"
)

// Format substitutes positional {0}, {1}, ... placeholders in a stored text
// template. Placeholders without a matching argument stay as-is so a broken
// template is visible rather than silently truncated.
func Format(template string, args ...string) string {
	replacements := make([]string, 0, len(args)*2)
	for i, arg := range args {
		replacements = append(replacements, fmt.Sprintf("{%d}", i), arg)
	}
	return strings.NewReplacer(replacements...).Replace(template)
}
