package delivery

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrorKind buckets a delivery failure for the retry policy.
type ErrorKind int

const (
	// KindFatal propagates to the caller.
	KindFatal ErrorKind = iota
	// KindTransient is retried with exponential backoff.
	KindTransient
	// KindRetryAfter is retried once after the platform-provided pause.
	KindRetryAfter
	// KindBenign signals a no-op (duplicate answer, identical edit) and is
	// swallowed.
	KindBenign
)

var (
	retryAfterPattern = regexp.MustCompile(`(?:Too Many Requests: retry after|Retry in|Please try again in) (\d+)`)
	transientPattern  = regexp.MustCompile(`Temporary failure in name resolution` +
		`|Cannot connect to host` +
		`|connection refused` +
		`|operation timed out` +
		`|i/o timeout` +
		`|Bad Gateway`)
	benignPattern = regexp.MustCompile(`(?i)query is too old` +
		`|exactly the same` +
		`|message is not modified`)
)

// Classification is the retry policy input derived from one failed call.
type Classification struct {
	Kind       ErrorKind
	RetryAfter time.Duration
}

// Classify buckets a Telegram API error. Rate-limit hints are taken from the
// structured response when present and parsed out of the message text
// otherwise, because proxies strip the structured field.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindBenign}
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return Classification{
			Kind:       KindRetryAfter,
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
		}
	}

	message := err.Error()
	if match := retryAfterPattern.FindStringSubmatch(message); match != nil {
		seconds, parseErr := strconv.Atoi(match[1])
		if parseErr == nil {
			return Classification{
				Kind:       KindRetryAfter,
				RetryAfter: time.Duration(seconds) * time.Second,
			}
		}
	}
	if benignPattern.MatchString(message) {
		return Classification{Kind: KindBenign}
	}
	if transientPattern.MatchString(message) {
		return Classification{Kind: KindTransient}
	}
	return Classification{Kind: KindFatal}
}
