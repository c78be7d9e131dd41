package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/learnexity/learnexity-backend/pkg/logger"
)

type stubLock struct {
	held     bool
	acquires int
}

func (s *stubLock) Acquire(context.Context) (bool, error) {
	s.acquires++
	if s.held {
		return false, nil
	}
	s.held = true
	return true, nil
}

func (s *stubLock) Release(context.Context) error {
	s.held = false
	return nil
}

type stubJob struct {
	name     string
	schedule string
	err      error
	runs     int
}

func (s *stubJob) Name() string     { return s.name }
func (s *stubJob) Schedule() string { return s.schedule }

func (s *stubJob) Run(context.Context) error {
	s.runs++
	return s.err
}

func newTestService(t *testing.T, locks map[string]*stubLock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		NewLock: func(jobName string) (Lock, error) {
			if lock, ok := locks[jobName]; ok {
				return lock, nil
			}
			return &stubLock{}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestServiceRejectsBadSchedule(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(&stubJob{name: "broken", schedule: "not a cron spec"}),
		NewLock:  func(string) (Lock, error) { return &stubLock{}, nil },
	})
	if err == nil {
		t.Fatal("expected error for an invalid schedule")
	}
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	failing := &stubJob{name: "failing", schedule: "0 2 * * *", err: errors.New("boom")}
	healthy := &stubJob{name: "healthy", schedule: "0 9 * * *"}
	service := newTestService(t, nil, failing, healthy)

	service.RunOnce(context.Background())

	if failing.runs != 1 || healthy.runs != 1 {
		t.Fatalf("expected both jobs to run once, got failing=%d healthy=%d", failing.runs, healthy.runs)
	}
}

func TestRunOnceSkipsHeldLocks(t *testing.T) {
	job := &stubJob{name: "locked-out", schedule: "0 2 * * *"}
	locks := map[string]*stubLock{"locked-out": {held: true}}
	service := newTestService(t, locks, job)

	service.RunOnce(context.Background())

	if job.runs != 0 {
		t.Fatalf("job must not run while another worker holds its lock, runs=%d", job.runs)
	}
	if locks["locked-out"].acquires != 1 {
		t.Fatalf("expected a single acquire attempt, got %d", locks["locked-out"].acquires)
	}
}

func TestRunOnceReleasesLocks(t *testing.T) {
	job := &stubJob{name: "release-check", schedule: "0 2 * * *"}
	lock := &stubLock{}
	service := newTestService(t, map[string]*stubLock{"release-check": lock}, job)

	service.RunOnce(context.Background())
	service.RunOnce(context.Background())

	if job.runs != 2 {
		t.Fatalf("lock must be released between runs, runs=%d", job.runs)
	}
}

func TestRegistryIgnoresNilJobs(t *testing.T) {
	registry := NewRegistry(nil, &stubJob{name: "only", schedule: "@daily"})
	registry.Register(nil)

	if got := len(registry.Jobs()); got != 1 {
		t.Fatalf("expected 1 job, got %d", got)
	}
	if registry.Jobs()[0].Name() != "only" {
		t.Fatalf("unexpected job order: %v", registry.Jobs())
	}
}
