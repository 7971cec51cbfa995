// Package schedule runs the periodic analytics jobs: classification passes
// followed by action-item derivation.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

// DefaultTimeout bounds a single job run.
const DefaultTimeout = 30 * time.Minute

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Options configures a Scheduler. Zero values use UTC, DefaultTimeout,
// slog.Default and a private metrics registry.
type Options struct {
	Location *time.Location
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Registry
}

type entry struct {
	id   cron.EntryID
	spec string
	job  Job
}

// Scheduler wraps a cron runner. A job that is still running when its next
// tick arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]entry

	runs     metrics.CounterVec
	duration metrics.HistogramVec
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}

func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	cl := cronLogger{opts.Logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout:  opts.Timeout,
		log:      opts.Logger,
		jobs:     make(map[string]entry),
		runs:     opts.Metrics.CounterVec("scheduled_job_runs_total", "Scheduled job runs by result", "job", "result"),
		duration: opts.Metrics.HistogramVec("scheduled_job_duration_seconds", "Scheduled job duration", nil, "job"),
	}
}

// AddJob registers job under name with a standard five-field cron spec or a
// descriptor such as "@every 15m". Adding a name again replaces the job.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.run(ctx, name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = entry{id: id, spec: spec, job: job}
	s.log.Info("schedule: job added", "job", name, "spec", spec)
	return nil
}

// RemoveJob unschedules name. Unknown names are ignored.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
	}
}

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// RunNow runs a registered job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, name, e.job)
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) error {
	start := time.Now()
	s.log.Info("schedule: job started", "job", name)
	err := job(ctx)
	s.duration.With(name).Since(start)
	if err != nil {
		s.runs.With(name, "error").Inc()
		s.log.Error("schedule: job failed", "job", name, "error", err, "duration", time.Since(start))
		return err
	}
	s.runs.With(name, "ok").Inc()
	s.log.Info("schedule: job completed", "job", name, "duration", time.Since(start))
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling. The returned context is done once running jobs end.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitzero"`
}

// Jobs lists the registered jobs by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{Name: name, Spec: e.spec, NextRun: ce.Next, LastRun: ce.Prev})
	}
	slices.SortFunc(infos, func(a, b JobInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return infos
}
