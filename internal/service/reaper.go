package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/strixlab/strix/internal/model"
	"github.com/strixlab/strix/internal/store"
)

// Reaper periodically forces jobs stuck in a non-terminal status into
// failed. There is no per-job timeout anywhere in the pipeline, a hung
// analyzer only fails itself, so without the reaper a job whose worker
// never answers would stay running forever.
type Reaper struct {
	store     *store.Store
	maxAge    time.Duration
	scheduler gocron.Scheduler
}

func NewReaper(ctx context.Context, st *store.Store, cfg model.ReaperConfig) (*Reaper, error) {
	interval, err := model.ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing service.reaper.schedule: %w", err)
	}
	maxAge, err := time.ParseDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parsing service.reaper.max_age: %w", err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("service.reaper.max_age must be positive, got %s", maxAge)
	}

	r := &Reaper{store: st, maxAge: maxAge}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.Sweep(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	r.scheduler = scheduler
	return r, nil
}

func (r *Reaper) Start() {
	r.scheduler.Start()
}

func (r *Reaper) Shutdown() error {
	return r.scheduler.Shutdown()
}

// Sweep fails every non-terminal job older than maxAge. Exposed so the
// CLI and tests can trigger it outside the schedule.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.maxAge)
	ids, err := r.store.FailStale(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "reaping stale jobs failed", "error", err)
		return
	}
	if len(ids) > 0 {
		slog.InfoContext(ctx, "reaped stale jobs", "job_ids", ids)
	}
}
