package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

var (
	ErrEmptyJobName    = errors.New("job name is required")
	ErrInvalidInterval = errors.New("job interval must be positive")
)

// Service wraps a gocron scheduler. Jobs never overlap with themselves: a run
// that is still going when the next tick fires causes that tick to be skipped.
type Service struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	stopOnce  sync.Once
	stopErr   error
}

func New(logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					logger.Error("scheduler_job_panic", "job_id", jobID.String(), "job_name", jobName, "panic", recoverData)
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Service{scheduler: sched, logger: logger}, nil
}

// Every registers task to run each interval, and once right after Start.
// ctx is handed to every run; a task should return when it is done.
func (s *Service) Every(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) (gocron.Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	jobLogger := s.logger.With("job_name", name, "interval", interval.String())

	wrapped := func() {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		if err := task(ctx); err != nil {
			jobLogger.Error("scheduler_job", "status", "failed", "duration", time.Since(started), "error", err)
			return
		}
		jobLogger.Debug("scheduler_job", "status", "completed", "duration", time.Since(started))
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		jobLogger.Error("scheduler_job", "status", "register_failed", "error", err)
		return nil, err
	}
	jobLogger.Info("scheduler_job", "status", "registered")
	return job, nil
}

func (s *Service) Start() {
	s.logger.Info("scheduler_start")
	s.scheduler.Start()
}

// Stop waits for running jobs to return and can be called more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("scheduler_stop")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}
