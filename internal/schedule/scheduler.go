package schedule

import (
	"context"
	"time"

	"github.com/roylee0704/gron"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
)

const (
	pdrNotifyAt    = "08:00"
	periodNotifyAt = "09:00"
)

// Actions are the wall-clock callbacks the scheduler drives.
type Actions struct {
	// PushDue gates Push on the current instant.
	PushDue func(now time.Time) bool
	Push    func(ctx context.Context) error

	PDRNotify    func(ctx context.Context) error
	PeriodNotify func(ctx context.Context) error
}

// SchedulerConfig describes a wall-clock scheduler.
type SchedulerConfig struct {
	Actions  Actions
	Clock    func() time.Time
	Logger   *zap.Logger
	Reporter delivery.Reporter
}

// Scheduler ticks once a minute and fires whichever actions the current
// UTC wall-clock reading calls for. Action errors are reported, never fatal;
// the next minute gets a fresh attempt.
type Scheduler struct {
	actions  Actions
	clock    func() time.Time
	logger   *zap.Logger
	reporter delivery.Reporter

	cron       *gron.Cron
	lastMinute string
}

// NewScheduler constructs a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		actions:  cfg.Actions,
		clock:    clock,
		logger:   logger,
		reporter: cfg.Reporter,
	}
}

// Start begins the minute tick. The context bounds the actions, not the
// ticker; call Stop to end the ticking.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron = gron.New()
	s.cron.AddFunc(gron.Every(time.Minute), func() {
		s.Tick(ctx)
	})
	s.cron.Start()
}

// Stop ends the minute tick.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Tick runs the actions due at the current instant. The tick period can
// drift across minute edges, so a minute already handled is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock().UTC()
	minute := now.Format("2006-01-02 15:04")
	if minute == s.lastMinute {
		return
	}
	s.lastMinute = minute

	if s.actions.Push != nil && s.actions.PushDue != nil && s.actions.PushDue(now) {
		s.runAction(ctx, "backup push", s.actions.Push)
	}
	switch now.Format("15:04") {
	case pdrNotifyAt:
		if s.actions.PDRNotify != nil {
			s.runAction(ctx, "pdr notify", s.actions.PDRNotify)
		}
	case periodNotifyAt:
		if s.actions.PeriodNotify != nil {
			s.runAction(ctx, "period notify", s.actions.PeriodNotify)
		}
	}
}

func (s *Scheduler) runAction(ctx context.Context, name string, action func(context.Context) error) {
	if err := action(ctx); err != nil {
		s.logger.Error("scheduled action failed", zap.String("action", name), zap.Error(err))
		if s.reporter != nil {
			s.reporter.ReportError(ctx, err)
		}
	}
}
