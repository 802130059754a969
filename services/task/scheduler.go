package task

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	done    chan struct{}
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{service: svc, done: make(chan struct{})}
}

// StartScheduler drives the loop from its own context. The start context
// carries the fx start timeout and would stop the loop minutes into the
// process lifetime; only OnStop cancels the loop.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

// run loops until canceled, waking once a day for the batch enqueue pass.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	zap.L().Info("[Scheduler] started subscription batch scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, 1, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running daily subscription batch pass")

	passes := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"upcoming renewals", s.service.EnqueueUpcomingRenewals},
		{"auto-scaling", s.service.EnqueueAutoScalingPasses},
		{"license retirement", s.service.EnqueueRetirementRun},
		{"assignment reminders", s.service.EnqueueReminderRun},
	}

	for _, pass := range passes {
		if err := pass.fn(ctx); err != nil {
			zap.L().Error("[Scheduler] pass failed", zap.String("pass", pass.name), zap.Error(err))
		}
	}

	zap.L().Info("[Scheduler] finished daily pass",
		zap.Duration("duration", time.Since(start)),
	)
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
