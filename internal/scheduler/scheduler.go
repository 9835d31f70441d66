// Package scheduler triggers recurring jobs, such as graph runs for a
// conversation or store maintenance, on cron schedules.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/varflow/internal/convvar"
	"github.com/rendis/varflow/internal/expressions"
	"github.com/rendis/varflow/internal/variables"
)

// DefaultInterval is how often due jobs are checked.
const DefaultInterval = time.Minute

// Job statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Job is one recurring task.
type Job struct {
	ID   string
	Cron string
	// When is an optional guard evaluated against the conversation's
	// persisted variables; the job only runs when it is true.
	When           string
	ConversationID string
	Run            func(ctx context.Context) error
}

// JobState is the scheduling state of a job.
type JobState struct {
	ID         string     `json:"id"`
	Cron       string     `json:"cron"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	Runs       int        `json:"runs"`
}

type entry struct {
	job      Job
	schedule cron.Schedule
	state    JobState
}

// Scheduler runs jobs whose next run time has passed.
type Scheduler struct {
	repo     convvar.Repository
	guards   *expressions.Evaluator
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often due jobs are checked.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// New creates a Scheduler. repo supplies conversation variables for job
// guards and may be nil when no job uses one.
func New(repo convvar.Repository, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		repo:     repo,
		guards:   expressions.NewEvaluator(),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: DefaultInterval,
		entries:  make(map[string]*entry),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job, first due at its next cron time after now.
func (s *Scheduler) Add(job Job, now time.Time) error {
	if job.ID == "" || job.Run == nil {
		return fmt.Errorf("job needs an id and a run function")
	}
	schedule, err := s.parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", job.Cron, err)
	}
	if job.When != "" {
		if job.ConversationID == "" {
			return fmt.Errorf("job %s: a guard needs a conversation id", job.ID)
		}
		if err := s.guards.Check(job.When); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.ID]; exists {
		return fmt.Errorf("job %q already scheduled", job.ID)
	}
	s.entries[job.ID] = &entry{
		job:      job,
		schedule: schedule,
		state:    JobState{ID: job.ID, Cron: job.Cron, NextRunAt: schedule.Next(now)},
	}
	return nil
}

// Jobs returns the state of every job, ordered by id.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.state)
	}
	slices.SortFunc(out, func(a, b JobState) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick runs every job due at now and returns the ids that ran.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.state.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()
	slices.SortFunc(due, func(a, b *entry) int { return a.state.NextRunAt.Compare(b.state.NextRunAt) })

	var ran []string
	for _, e := range due {
		if !s.tryAcquire(e.job.ID) {
			continue
		}
		status := s.runJob(ctx, e.job)
		s.releaseJob(e.job.ID)

		s.mu.Lock()
		at := now
		e.state.LastRunAt = &at
		e.state.LastStatus = status
		e.state.NextRunAt = e.schedule.Next(now)
		if status != StatusSkipped {
			e.state.Runs++
		}
		s.mu.Unlock()

		if status != StatusSkipped {
			ran = append(ran, e.job.ID)
		}
	}
	return ran
}

func (s *Scheduler) runJob(ctx context.Context, job Job) string {
	logger := s.logger.With(slog.String("job_id", job.ID))

	if job.When != "" {
		ok, err := s.guard(ctx, job)
		if err != nil {
			logger.Error("evaluate job guard", slog.String("error", err.Error()))
			return StatusError
		}
		if !ok {
			logger.Debug("job guard is false, skipping")
			return StatusSkipped
		}
	}

	logger.Info("running scheduled job")
	if err := job.Run(ctx); err != nil {
		logger.Error("scheduled job failed", slog.String("error", err.Error()))
		return StatusError
	}
	return StatusSuccess
}

// guard evaluates job.When with the conversation's persisted variables
// bound under "conversation".
func (s *Scheduler) guard(ctx context.Context, job Job) (bool, error) {
	var vars []variables.Variable
	if s.repo != nil {
		rows, err := s.repo.ListConversationVariables(ctx, job.ConversationID)
		if err != nil {
			return false, fmt.Errorf("list conversation variables: %w", err)
		}
		for _, rec := range rows {
			v, err := convvar.FromRecord(rec)
			if err != nil {
				return false, err
			}
			vars = append(vars, v)
		}
	}
	env := expressions.Env(map[string][]variables.Variable{variables.ScopeConversation: vars})
	return s.guards.EvaluateBool(job.When, env)
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// NextRun computes the next run time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	// Tick takes s.mu, so wait for the loop without holding it.
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}
