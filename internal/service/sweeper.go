package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/ffwdhq/ffwd/internal/job"
	"github.com/ffwdhq/ffwd/internal/parallel"
	"github.com/ffwdhq/ffwd/internal/storage"
)

// Sweeper purges jobs older than the retention window together with
// their backing files. Jobs currently processing are exempt: their
// supervised process still owns the staged files, and sweeping them
// mid-run would pull the output directory out from under the engine.
// Queued and terminal jobs are swept by age alone.
type Sweeper struct {
	store     job.Store
	ws        *storage.Workspace
	retention time.Duration
	scheduler gocron.Scheduler
}

func NewSweeper(ctx context.Context, store job.Store, ws *storage.Workspace, retention, interval time.Duration) (*Sweeper, error) {
	sw := &Sweeper{
		store:     store,
		ws:        ws,
		retention: retention,
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { sw.Sweep(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	sw.scheduler = scheduler
	return sw, nil
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

func (s *Sweeper) Shutdown() error {
	return s.scheduler.Shutdown()
}

// sweepConcurrency bounds how many purged jobs have their files
// removed at once.
const sweepConcurrency = 4

// Sweep runs one retention cycle and returns how many jobs it purged.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.retention)
	var expired []job.Job
	for _, j := range s.store.List() {
		if j.Status == job.StatusProcessing {
			continue
		}
		if j.CreatedAt.After(cutoff) {
			continue
		}
		if _, err := s.store.Delete(j.ID); err != nil {
			// raced a concurrent delete, files are that path's duty
			continue
		}
		expired = append(expired, j)
	}

	_ = parallel.ForEach(ctx, sweepConcurrency, expired, func(ctx context.Context, j job.Job) error {
		inputs := s.ws.RemoveInputs(ctx, j.ID)
		outputs := s.ws.RemoveOutput(ctx, j.ID)
		slog.InfoContext(ctx, "job swept", "job_id", j.ID, "status", string(j.Status),
			"age", time.Since(j.CreatedAt).String(), "input_files", inputs, "output_files", outputs)
		return nil
	})
	return len(expired)
}
