package cron

import (
	"context"
	"fmt"
	"time"

	robcron "github.com/robfig/cron/v3"

	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/metrics"
)

// LockFactory builds the distributed lock guarding one job's runs.
type LockFactory func(jobName string) (Lock, error)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	NewLock  LockFactory
	Metrics  *metrics.CronJobMetrics
}

// Service schedules registered jobs on their own cron cadences. Every run is
// guarded by a per-job Redis lock so replicated workers execute each cadence
// exactly once.
type Service struct {
	logg      *logger.Logger
	registry  *Registry
	newLock   LockFactory
	metrics   *metrics.CronJobMetrics
	scheduler *robcron.Cron
}

// NewService builds a cron service and validates every job's schedule.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.NewLock == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	service := &Service{
		logg:      params.Logger,
		registry:  registry,
		newLock:   params.NewLock,
		metrics:   params.Metrics,
		scheduler: robcron.New(),
	}

	for _, job := range registry.Jobs() {
		job := job
		if _, err := service.scheduler.AddFunc(job.Schedule(), func() {
			service.runJob(context.Background(), job)
		}); err != nil {
			return nil, fmt.Errorf("schedule job %s (%q): %w", job.Name(), job.Schedule(), err)
		}
	}
	return service, nil
}

// Run starts the scheduler and blocks until the context is canceled. In-flight
// jobs finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	for _, job := range s.registry.Jobs() {
		jobCtx := s.logg.WithField(ctx, "job", job.Name())
		jobCtx = s.logg.WithField(jobCtx, "schedule", job.Schedule())
		s.logg.Info(jobCtx, "job scheduled")
	}

	s.scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service shutting down")

	stopped := s.scheduler.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// RunOnce executes every registered job immediately, still under its lock.
// The worker exposes this behind a flag for operational reruns.
func (s *Service) RunOnce(ctx context.Context) {
	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	lock, err := s.newLock(job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "building job lock", err)
		s.recordFailure(job.Name())
		return
	}
	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "acquiring job lock", err)
		s.recordFailure(job.Name())
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "another worker holds the job lock; skipping")
		return
	}
	defer func() {
		if relErr := lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "releasing job lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	runErr := job.Run(jobCtx)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), duration)
	}
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if runErr != nil {
		s.logg.Error(jobCtx, "job failed", runErr)
		s.recordFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	if s.metrics != nil {
		s.metrics.IncSuccess(job.Name())
	}
}

func (s *Service) recordFailure(job string) {
	if s.metrics != nil {
		s.metrics.IncFailure(job)
	}
}
