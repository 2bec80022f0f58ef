package delivery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	errMissingAPI   = errors.New("delivery: bot api is required")
	errEmptyRequest = errors.New("delivery: request has no content")
	noOpLogger      = zap.NewNop()
)

// BotAPI is the narrow surface of the Telegram client the sender needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sleeper suspends the caller, honoring context cancellation. Injected so
// retry behavior is testable without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// StandardSleeper sleeps on the wall clock.
func StandardSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// File is an in-memory attachment uploaded with a request.
type File struct {
	Name string
	Data []byte
}

// Request describes one send/edit/forward operation.
type Request struct {
	ChatID             int64
	Text               string
	ReplyTo            int
	EditMessageID      int
	File               *File
	ForwardFromChatID  int64
	ForwardMessageID   int
	DisableLinkPreview bool

	// Silent swallows non-transient failures after surfacing them to the
	// reporter, for callers that must never raise (log relay, notifications).
	Silent bool
}

// Result is the platform's canonical handle for a delivered message. Callers
// need it to chain replies and to mark log entries posted.
type Result struct {
	MessageID int
	Date      time.Time
}

// Reporter receives non-transient failures swallowed on behalf of silent
// callers.
type Reporter interface {
	ReportError(ctx context.Context, err error)
}

// SenderConfig describes the dependencies for a Sender.
type SenderConfig struct {
	API      BotAPI
	Sleep    Sleeper
	Logger   *zap.Logger
	Reporter Reporter
}

// Sender delivers content to the messaging platform, classifying failures and
// retrying transient ones. Retries are unbounded on purpose: the alternative
// to waiting out an outage is silent log loss.
type Sender struct {
	api      BotAPI
	sleep    Sleeper
	logger   *zap.Logger
	reporter Reporter
}

// NewSender constructs a Sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = StandardSleeper
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Sender{
		api:      cfg.API,
		sleep:    sleep,
		logger:   logger,
		reporter: cfg.Reporter,
	}, nil
}

// Send delivers the request, retrying transient failures per the policy in
// Classify. On success the platform's message handle is returned. Benign
// no-ops return a zero Result and nil error.
func (s *Sender) Send(ctx context.Context, req Request) (Result, error) {
	chattable, err := s.build(req)
	if err != nil {
		return Result{}, err
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		message, sendErr := s.api.Send(chattable)
		if sendErr == nil {
			return Result{
				MessageID: message.MessageID,
				Date:      time.Unix(int64(message.Date), 0).UTC(),
			}, nil
		}

		classification := Classify(sendErr)
		switch classification.Kind {
		case KindRetryAfter:
			pause := classification.RetryAfter + time.Second
			s.logger.Warn("delivery rate limited",
				zap.Int64("chat_id", req.ChatID),
				zap.Duration("pause", pause))
			if err := s.sleep(ctx, pause); err != nil {
				return Result{}, err
			}

		case KindTransient:
			attempt++
			pause := backoff(attempt)
			s.logger.Warn("delivery transient failure",
				zap.Int64("chat_id", req.ChatID),
				zap.Int("attempt", attempt),
				zap.Duration("pause", pause),
				zap.Error(sendErr))
			if err := s.sleep(ctx, pause); err != nil {
				return Result{}, err
			}

		case KindBenign:
			return Result{}, nil

		default:
			if req.Silent {
				s.logger.Error("delivery failed, swallowed for silent caller",
					zap.Int64("chat_id", req.ChatID),
					zap.Error(sendErr))
				if s.reporter != nil {
					s.reporter.ReportError(ctx, sendErr)
				}
				return Result{}, nil
			}
			return Result{}, fmt.Errorf("delivery: send to %d: %w", req.ChatID, sendErr)
		}
	}
}

// backoff grows as 0.1 * attempt^(attempt-1) seconds: negligible for the
// first retries, steep enough afterwards to ride out long outages.
func backoff(attempt int) time.Duration {
	seconds := 0.1 * math.Pow(float64(attempt), float64(attempt-1))
	return time.Duration(seconds * float64(time.Second))
}

func (s *Sender) build(req Request) (tgbotapi.Chattable, error) {
	switch {
	case req.ForwardMessageID != 0 && req.ForwardFromChatID != 0:
		return tgbotapi.NewForward(req.ChatID, req.ForwardFromChatID, req.ForwardMessageID), nil

	case req.File != nil:
		document := tgbotapi.NewDocument(req.ChatID, tgbotapi.FileBytes{
			Name:  req.File.Name,
			Bytes: req.File.Data,
		})
		document.Caption = req.Text
		document.ParseMode = tgbotapi.ModeHTML
		document.ReplyToMessageID = req.ReplyTo
		return document, nil

	case req.EditMessageID != 0:
		edit := tgbotapi.NewEditMessageText(req.ChatID, req.EditMessageID, req.Text)
		edit.ParseMode = tgbotapi.ModeHTML
		edit.DisableWebPagePreview = req.DisableLinkPreview
		return edit, nil

	case req.Text != "":
		message := tgbotapi.NewMessage(req.ChatID, req.Text)
		message.ParseMode = tgbotapi.ModeHTML
		message.DisableWebPagePreview = req.DisableLinkPreview
		message.ReplyToMessageID = req.ReplyTo
		return message, nil
	}
	return nil, errEmptyRequest
}
