// Package schedule keeps the long-running tasks alive and fires the
// wall-clock actions.
package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/metrics"
)

// DefaultRestartDelay is the pause before a crashed task is restarted.
const DefaultRestartDelay = 15 * time.Second

// SupervisorConfig describes a task supervisor.
type SupervisorConfig struct {
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Reporter     delivery.Reporter
	Sleep        delivery.Sleeper
	RestartDelay time.Duration
}

// Supervisor restarts failed tasks after a fixed delay, forever. A task only
// ends for good when its context is canceled.
type Supervisor struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	reporter     delivery.Reporter
	sleep        delivery.Sleeper
	restartDelay time.Duration
}

// NewSupervisor constructs a supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reported := cfg.Metrics
	if reported == nil {
		reported = metrics.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = delivery.StandardSleeper
	}
	restartDelay := cfg.RestartDelay
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	return &Supervisor{
		logger:       logger,
		metrics:      reported,
		reporter:     cfg.Reporter,
		sleep:        sleep,
		restartDelay: restartDelay,
	}
}

// Run executes a task in a restart loop until the context is canceled.
// Every failure is reported to the developer channel before the restart
// pause; the task itself is responsible for its own internal pacing.
func (s *Supervisor) Run(ctx context.Context, name string, task func(context.Context) error) {
	for {
		err := task(ctx)
		if ctx.Err() != nil {
			s.logger.Info("task stopped", zap.String("task", name))
			return
		}
		if err == nil {
			// A nil return outside shutdown is a task bug; restart anyway.
			s.logger.Warn("task returned without error", zap.String("task", name))
		} else {
			s.logger.Error("task failed, restarting",
				zap.String("task", name),
				zap.Duration("delay", s.restartDelay),
				zap.Error(err))
			if s.reporter != nil {
				s.reporter.ReportError(ctx, err)
			}
		}
		s.metrics.TaskRestarts.WithLabelValues(name).Inc()
		if err := s.sleep(ctx, s.restartDelay); err != nil {
			return
		}
	}
}
