// Package scheduler runs background maintenance jobs on cron schedules and
// keeps a run history per job for the system stats endpoint.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the run history of one registered job
type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run"`
}

type entry struct {
	id     cron.EntryID
	status JobStatus
}

// Scheduler manages background jobs. A job whose previous run is still
// in progress is skipped rather than run concurrently.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a new scheduler. Schedules take a leading seconds field or a
// descriptor such as "@hourly".
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log.With().Str("component", "scheduler").Logger(),
		jobs: make(map[string]*entry),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers job under schedule. Job names must be unique.
//
//	"0 */15 * * * *"  every 15 minutes
//	"@weekly"         midnight between Saturday and Sunday
//	"@every 30s"      every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s is already scheduled", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { _ = s.run(job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s with %q: %w", name, schedule, err)
	}
	s.jobs[name] = &entry{id: id, status: JobStatus{Name: name, Schedule: schedule}}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", name).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.run(job)
}

func (s *Scheduler) run(job Job) error {
	started := time.Now()
	err := job.Run()
	elapsed := time.Since(started)

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("duration", elapsed).
			Msg("Job failed")
	} else {
		s.log.Debug().
			Str("job", job.Name()).
			Dur("duration", elapsed).
			Msg("Job completed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[job.Name()]
	if !ok {
		// ad-hoc RunNow of an unregistered job
		return err
	}
	e.status.Runs++
	e.status.LastRun = started
	e.status.LastDuration = elapsed
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
	return err
}

// Jobs returns the status of every registered job ordered by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		status := e.status
		status.NextRun = s.cron.Entry(e.id).Next
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
