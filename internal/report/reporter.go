// Package report delivers crash reports to the developer chat.
package report

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/htmlfmt"
)

const (
	// messageLimit is the platform's visible-character message limit.
	messageLimit = 4096
	// captionLimit is the platform's file-caption limit.
	captionLimit = 1024

	fatalMarker = "FATAL ERROR #fatal"
)

// ignorePattern filters transport noise that is not worth a developer ping.
var ignorePattern = regexp.MustCompile(strings.Join([]string{
	"Backend Error",
	"Bad Gateway",
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"unexpected EOF",
	"server misbehaving",
	"is currently unavailable",
	`returned "Internal Error"`,
	"message to forward not found",
}, "|"))

// MessageSender delivers a report to the developer chat.
type MessageSender interface {
	Send(ctx context.Context, req delivery.Request) (delivery.Result, error)
}

// ReporterConfig describes a crash reporter.
type ReporterConfig struct {
	Sender      MessageSender
	DevChatID   int64
	BotUsername string
	// DevMode labels reports as coming from a local run.
	DevMode bool

	Clock  func() time.Time
	Logger *zap.Logger
}

// Reporter sends error reports to the developer chat, chunking oversized
// texts and attaching large context payloads as files. It satisfies
// delivery.Reporter.
type Reporter struct {
	sender    MessageSender
	devChatID int64
	title     string

	clock  func() time.Time
	logger *zap.Logger
}

var errMissingSender = errors.New("report: sender is required")

// NewReporter constructs a crash reporter.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.Sender == nil {
		return nil, errMissingSender
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	host := "server"
	if cfg.DevMode {
		host = "local"
	}
	identity := cfg.BotUsername
	if identity == "" {
		identity = "unknown_bot"
	} else {
		identity = htmlfmt.Link("https://t.me/"+identity, identity)
	}
	title := fmt.Sprintf("Crash %s (%s):\n", htmlfmt.Bold(identity), htmlfmt.Italic(host))

	return &Reporter{
		sender:    cfg.Sender,
		devChatID: cfg.DevChatID,
		title:     title,
		clock:     clock,
		logger:    logger,
	}, nil
}

// ReportError sends a plain error report with no extra context.
func (r *Reporter) ReportError(ctx context.Context, reported error) {
	r.Report(ctx, reported, "")
}

// Report sends an error report, attaching the context payload as a file when
// present. Failures of the report path itself fall back to a bare fatal
// upload; if even that fails the error is only logged, never propagated.
func (r *Reporter) Report(ctx context.Context, reported error, contextPayload string) {
	if reported == nil {
		return
	}
	errorText := htmlfmt.Escape(reported.Error())
	if ignorePattern.MatchString(errorText) {
		r.logger.Debug("suppressed transport error report", zap.Error(reported))
		return
	}

	if err := r.send(ctx, errorText, contextPayload); err != nil {
		r.logger.Error("error report delivery failed", zap.Error(err))
		r.sendFatal(ctx, errorText, err)
	}
}

func (r *Reporter) send(ctx context.Context, errorText, contextPayload string) error {
	replyTo := 0
	title := r.title

	if contextPayload != "" {
		caption := ""
		if titled := title + htmlfmt.Code(errorText); utf8.RuneCountInString(htmlfmt.StripTags(titled)) <= captionLimit {
			caption = titled
		}
		name := fmt.Sprintf("error_report_%s.json", r.clock().UTC().Format("2006-01-02_15-04-05"))
		result, err := r.sender.Send(ctx, delivery.Request{
			ChatID: r.devChatID,
			Text:   caption,
			File:   &delivery.File{Name: name, Data: []byte(contextPayload)},
		})
		if err != nil {
			return err
		}
		if caption != "" {
			return nil
		}
		replyTo = result.MessageID
	}

	// Chunks advance in runes, not bytes: a byte boundary could cut a
	// multi-byte character and produce invalid UTF-8 the platform rejects.
	runes := []rune(errorText)
	step := messageLimit - utf8.RuneCountInString(htmlfmt.StripTags(title))
	for start := 0; start < len(runes); start += step {
		end := start + step
		if end > len(runes) {
			end = len(runes)
		}
		result, err := r.sender.Send(ctx, delivery.Request{
			ChatID:             r.devChatID,
			Text:               title + htmlfmt.Code(string(runes[start:end])),
			ReplyTo:            replyTo,
			DisableLinkPreview: true,
		})
		if err != nil {
			return err
		}
		title = ""
		if result.MessageID != 0 {
			replyTo = result.MessageID
		}
	}
	return nil
}

// sendFatal is the last-resort path: the original report and the delivery
// failure go out as a file with a short marker caption, silently.
func (r *Reporter) sendFatal(ctx context.Context, errorText string, deliveryErr error) {
	payload := fmt.Sprintf("FIRST ERROR:\n\n%s\n\nDELIVERY ERROR:\n\n%v", errorText, deliveryErr)
	_, err := r.sender.Send(ctx, delivery.Request{
		ChatID: r.devChatID,
		Text:   fatalMarker,
		File:   &delivery.File{Name: "error_report_fatal.json", Data: []byte(payload)},
		Silent: true,
	})
	if err != nil {
		r.logger.Error("fatal report delivery failed", zap.Error(err))
	}
}
