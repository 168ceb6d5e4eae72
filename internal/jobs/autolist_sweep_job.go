package job

import (
	"context"
	"log/slog"

	"github.com/contentpilot/postpilot/internal/repository"
	"github.com/contentpilot/postpilot/internal/scheduler"
)

// TickEnqueuer is the slice of the scheduler the sweep needs.
type TickEnqueuer interface {
	EnqueueTick(job scheduler.AutolistTickJob) error
}

// AutolistSweepJob runs on a cron tick and enqueues one rotation tick
// per enabled brand/platform. The ticks execute on the autolist queue
// so a slow rotation never starves publish workers.
type AutolistSweepJob struct {
	settings repository.AutolistSettingsRepository
	sched    TickEnqueuer
}

func NewAutolistSweepJob(settings repository.AutolistSettingsRepository, sched TickEnqueuer) *AutolistSweepJob {
	return &AutolistSweepJob{settings: settings, sched: sched}
}

func (j *AutolistSweepJob) Sweep() {
	ctx := context.Background()

	enabled, err := j.settings.ListEnabled(ctx)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, s := range enabled {
		// auto_schedule off means the rotation only moves on explicit
		// tick requests, never from the sweep.
		if !s.AutoSchedule {
			continue
		}
		err := j.sched.EnqueueTick(scheduler.AutolistTickJob{
			BrandID:  s.BrandID,
			Platform: s.Platform,
		})
		if err != nil {
			slog.Info("unable to enqueue autolist tick", "brand_id", s.BrandID, "platform", s.Platform, "error", err.Error())
		}
	}
}
