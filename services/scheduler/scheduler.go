// Package scheduler hosts the cron job runner component.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/lifecycle"
)

// Kind identifies the scheduler component slot.
const Kind lifecycle.Kind = "scheduler"

// Job is a named cron entry.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context)
}

// Service runs registered cron jobs. Jobs may be added any time before the
// deferred start phase; the cron loop only begins once the whole cohort is
// up, so no job ever fires against a half-started system.
type Service struct {
	log *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	jobs    []string
}

var (
	_ lifecycle.Singleton   = (*Service)(nil)
	_ lifecycle.StartHook   = (*Service)(nil)
	_ lifecycle.ReleaseHook = (*Service)(nil)
)

// New creates the scheduler component.
func New(log *logging.Logger) *Service {
	return &Service{
		log:  log.WithField("component", string(Kind)),
		cron: cron.New(),
	}
}

// Kind implements lifecycle.Singleton.
func (s *Service) Kind() lifecycle.Kind { return Kind }

// AddJob registers a cron job. Fails once the loop is running or when the
// spec does not parse.
func (s *Service) AddJob(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already running", job.Name)
	}

	log := s.log.WithField("job", job.Name)
	_, err := s.cron.AddFunc(job.Spec, func() {
		log.Debug("job fired")
		job.Run(context.Background())
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	s.jobs = append(s.jobs, job.Name)
	return nil
}

// Jobs returns the names of registered jobs.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// AfterStart begins the cron loop.
func (s *Service) AfterStart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler running", "jobs", len(s.jobs))
	return nil
}

// OnReleased stops the loop and waits for in-flight jobs.
func (s *Service) OnReleased() {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()
	if running {
		<-s.cron.Stop().Done()
	}
}
