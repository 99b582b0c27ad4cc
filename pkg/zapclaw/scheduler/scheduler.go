// Package scheduler runs zapclaw's periodic jobs (daily summaries and audio
// retention) on robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
	Prev     time.Time
	LastErr  string
	RunCount int
}

type job struct {
	name      string
	schedule  string
	fn        JobFunc
	entryID   cron.EntryID
	running   bool
	lastRunAt time.Time
	lastErr   string
	runCount  int
}

// minJobInterval guards against the same job firing twice in one second.
const minJobInterval = 2 * time.Second

// Scheduler manages named cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	jobs       map[string]*job
	jobTimeout time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Parser accepts standard 5-field expressions and descriptors (@daily,
// @every 1h).
var Parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a scheduler. Jobs are evaluated in loc (nil = time.Local) and
// each run is cancelled after jobTimeout (0 = 5 minutes).
func New(loc *time.Location, jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithParser(Parser), cron.WithLocation(loc)),
		jobs:       make(map[string]*job),
		jobTimeout: jobTimeout,
		logger:     logger.With("component", "scheduler"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Validate reports whether spec is a valid schedule expression.
func Validate(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers fn under name.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already exists", name)
	}

	j := &job{name: name, schedule: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	j.entryID = id
	s.jobs[name] = j

	s.logger.Info("job added", "name", name, "schedule", spec)
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler, waiting up to 10s for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// Entries returns the registered jobs sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.cron.Entry(j.entryID)
		out = append(out, Entry{
			Name:     j.name,
			Schedule: j.schedule,
			Next:     e.Next,
			Prev:     e.Prev,
			LastErr:  j.lastErr,
			RunCount: j.runCount,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// RunNow executes the named job immediately, with the same guards as a
// scheduled run.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	s.execute(j)
	return nil
}

// execute runs a job with overlap and spin-loop guards, a timeout and panic
// recovery.
func (s *Scheduler) execute(j *job) {
	s.mu.Lock()
	if j.running {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "name", j.name)
		return
	}
	if !j.lastRunAt.IsZero() && time.Since(j.lastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job (ran too recently)", "name", j.name)
		return
	}
	j.running = true
	j.lastRunAt = time.Now()
	j.runCount++
	s.mu.Unlock()

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "name", j.name, "panic", r)
		}
		s.mu.Lock()
		j.running = false
		j.lastErr = ""
		if runErr != nil {
			j.lastErr = runErr.Error()
		}
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	runErr = j.fn(ctx)
	if runErr != nil {
		s.logger.Error("scheduled job failed", "name", j.name, "error", runErr, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled job completed", "name", j.name, "duration", time.Since(start))
}
