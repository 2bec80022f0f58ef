// Package htmlfmt builds the small HTML fragment vocabulary Telegram accepts
// in messages sent with parse_mode=HTML.
package htmlfmt

import (
	"fmt"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*?>`)

// escapeSequences maps characters that break Telegram HTML parsing to entities.
var escapeSequences = [][2]string{
	{"{", "&#123;"},
	{"<", "&#60;"},
	{"}", "&#125;"},
	{"'", "&#39;"},
}

// Bold wraps text in bold tags.
func Bold(text interface{}) string {
	return fmt.Sprintf("<b>%v</b>", text)
}

// Italic wraps text in italic tags.
func Italic(text interface{}) string {
	return fmt.Sprintf("<i>%v</i>", text)
}

// Code wraps text in code tags.
func Code(text interface{}) string {
	return fmt.Sprintf("<code>%v</code>", text)
}

// Link renders an HTML hyperlink.
func Link(url, text string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, url, text)
}

// Blockquote wraps text in blockquote tags.
func Blockquote(text interface{}) string {
	return fmt.Sprintf("<blockquote>%v</blockquote>", text)
}

// StripTags removes all HTML tags. The flush engine measures chunk sizes on
// stripped text because Telegram counts visible characters against its limit.
func StripTags(text string) string {
	return tagPattern.ReplaceAllString(text, "")
}

// Escape replaces characters that would be interpreted as markup.
func Escape(text string) string {
	for _, pair := range escapeSequences {
		text = strings.ReplaceAll(text, pair[0], pair[1])
	}
	return text
}

// Unescape reverses Escape.
func Unescape(text string) string {
	for _, pair := range escapeSequences {
		text = strings.ReplaceAll(text, pair[1], pair[0])
	}
	return text
}
