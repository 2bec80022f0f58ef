// Package notify sends the daily due-date and period progress notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/htmlfmt"
	"github.com/MarcoPoloResearchLab/stork/internal/logbook"
	"github.com/MarcoPoloResearchLab/stork/internal/metrics"
	"github.com/MarcoPoloResearchLab/stork/internal/records"
	"github.com/MarcoPoloResearchLab/stork/internal/texts"
)

// pregnancyTermWeeks caps period notifications for users without a due date.
const pregnancyTermWeeks = 40

// messagePause spaces out user notifications.
const messagePause = time.Second

// Logbook is the slice of the log queue the engine appends to.
type Logbook interface {
	EnqueueEvent(ctx context.Context, body string) error
}

// MessageSender delivers a notification to a user's chat.
type MessageSender interface {
	Send(ctx context.Context, req delivery.Request) (delivery.Result, error)
}

// EngineConfig describes a notification engine's dependencies.
type EngineConfig struct {
	Dates  *records.UserDateRepository
	Texts  *texts.Repository
	Sender MessageSender
	Log    Logbook

	FallbackLanguage string
	// TimezoneOffset shifts the wall-clock day the date checks run against,
	// in hours from UTC.
	TimezoneOffset int

	Clock   func() time.Time
	Sleep   delivery.Sleeper
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine scans date records and notifies the affected chats.
type Engine struct {
	dates  *records.UserDateRepository
	texts  *texts.Repository
	sender MessageSender
	log    Logbook

	fallbackLanguage string
	timezoneOffset   time.Duration

	clock   func() time.Time
	sleep   delivery.Sleeper
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var errMissingDependencies = errors.New("notify: dates, texts, sender and log are required")

// NewEngine constructs a notification engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Dates == nil || cfg.Texts == nil || cfg.Sender == nil || cfg.Log == nil {
		return nil, errMissingDependencies
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
	fallback := cfg.FallbackLanguage
	if fallback == "" {
		fallback = "en"
	}

	return &Engine{
		dates:            cfg.Dates,
		texts:            cfg.Texts,
		sender:           cfg.Sender,
		log:              cfg.Log,
		fallbackLanguage: fallback,
		timezoneOffset:   time.Duration(cfg.TimezoneOffset) * time.Hour,
		clock:            clock,
		sleep:            sleep,
		logger:           logger,
		metrics:          reported,
	}, nil
}

// now is the scan instant shifted into the configured timezone, so day
// boundaries land where the users are, not at UTC midnight.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Add(e.timezoneOffset)
}

// PDRScan notifies every chat whose due date falls on the current day.
func (e *Engine) PDRScan(ctx context.Context) error {
	due, err := e.dates.TodaysPDR(ctx, e.now())
	if err != nil {
		return err
	}

	for _, record := range due {
		bundle, err := e.bundleFor(ctx, record.User.Language)
		if err != nil {
			return err
		}
		text := texts.Format(bundle.Get(texts.KeyPDRNotify),
			strconv.FormatInt(record.User.ID, 10),
			htmlfmt.Escape(record.User.FullName))

		if err := e.deliver(ctx, record, text, "due date reached"); err != nil {
			return err
		}
	}
	return nil
}

// PeriodScan notifies every tracked chat that crossed a full-week boundary
// today. A record qualifies only on the exact week boundary, and only while
// the pregnancy is still running: before the due date when one is set,
// otherwise up to the full term.
func (e *Engine) PeriodScan(ctx context.Context) error {
	tracked, err := e.dates.WithPeriod(ctx)
	if err != nil {
		return err
	}

	now := e.now()
	for _, record := range tracked {
		if record.UserDate.PeriodDate == nil {
			continue
		}
		elapsed := now.Sub(*record.UserDate.PeriodDate)
		weeks, days := texts.WeeksAndDays(elapsed)
		if days != 0 {
			continue
		}

		allowed := false
		if record.UserDate.PDRDate == nil {
			allowed = weeks <= pregnancyTermWeeks
		} else if now.Before(*record.UserDate.PDRDate) {
			allowed = true
		}
		if !allowed {
			continue
		}

		bundle, err := e.bundleFor(ctx, record.User.Language)
		if err != nil {
			return err
		}
		progress := texts.PeriodWeekAndDay(bundle, elapsed)
		text := texts.Format(bundle.Get(texts.KeyPeriodNotify),
			strconv.FormatInt(record.User.ID, 10),
			htmlfmt.Escape(record.User.FullName),
			progress)

		event := fmt.Sprintf("new period reached: %s", progress)
		if err := e.deliver(ctx, record, text, event); err != nil {
			return err
		}
	}
	return nil
}

// deliver sends one notification, records it in the log queue, and pauses.
func (e *Engine) deliver(ctx context.Context, record records.UserWithDate, text, event string) error {
	_, err := e.sender.Send(ctx, delivery.Request{
		ChatID: record.UserDate.ChatID,
		Text:   text,
	})
	if err != nil {
		return err
	}
	e.metrics.NotificationsSent.Inc()

	body := fmt.Sprintf("%s:\n%s\nChat: %s",
		logbook.ActorHeader(record.User.FullName, record.User.Username, record.User.ID),
		event,
		htmlfmt.Code(record.UserDate.ChatID))
	if err := e.log.EnqueueEvent(ctx, body); err != nil {
		e.logger.Warn("notification log entry failed", zap.Error(err))
	}
	return e.sleep(ctx, messagePause)
}

// bundleFor loads the user's language bundle, falling back to the default
// language when the user's one is incomplete.
func (e *Engine) bundleFor(ctx context.Context, language string) (texts.Bundle, error) {
	bundle, err := e.texts.ByLanguage(ctx, language)
	if err == nil {
		return bundle, nil
	}
	if language == e.fallbackLanguage {
		return texts.Bundle{}, err
	}
	e.logger.Warn("language bundle incomplete, using fallback",
		zap.String("language", language), zap.Error(err))
	return e.texts.ByLanguage(ctx, e.fallbackLanguage)
}
