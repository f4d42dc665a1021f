// Package scheduler runs the periodic maintenance jobs: nightly rapport
// decay, guardrail learner consolidation, stale pattern pruning, the
// hourly metric rollup, and the backup log mark.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single job run.
const jobTimeout = 5 * time.Minute

// defaultStaleAfter is how long an unused learned pattern survives.
const defaultStaleAfter = 90 * 24 * time.Hour

// Job schedules. Heavy jobs cluster in the quiet early-morning window.
const (
	scheduleRapportDecay = "0 3 * * *"
	scheduleBackupMark   = "15 3 * * *"
	scheduleConsolidate  = "30 3 * * *"
	schedulePrunePattern = "0 4 * * 0"
	scheduleRollup       = "0 * * * *"
)

// RapportDecayer applies the nightly rapport decay (the profile store).
type RapportDecayer interface {
	DecayRapport(ctx context.Context) (int64, error)
}

// Consolidator merges near-duplicate learned guardrail patterns.
type Consolidator interface {
	Consolidate(ctx context.Context) error
}

// PatternPruner drops learned action patterns not hit since the cutoff.
type PatternPruner interface {
	PruneStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Jobs are the scheduler's collaborators. Nil entries skip their job.
type Jobs struct {
	Rapport  RapportDecayer
	Learner  Consolidator
	Patterns PatternPruner

	// Rollup records periodic memory/interaction metrics.
	Rollup func(ctx context.Context) error

	// BackupMark writes the nightly backup checkpoint entry.
	BackupMark func(ctx context.Context) error
}

// Scheduler owns the cron runner. Construct with New, then Start; Stop
// waits for in-flight jobs.
type Scheduler struct {
	cron       *cron.Cron
	jobs       Jobs
	logger     *slog.Logger
	staleAfter time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithStaleAfter overrides the pattern pruning cutoff.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// New registers the configured jobs on their schedules.
func New(jobs Jobs, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(),
		jobs:       jobs,
		logger:     slog.Default(),
		staleAfter: defaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	type entry struct {
		name     string
		schedule string
		run      func(ctx context.Context)
		skip     bool
	}
	entries := []entry{
		{"rapport_decay", scheduleRapportDecay, s.runRapportDecay, jobs.Rapport == nil},
		{"guardrail_consolidate", scheduleConsolidate, s.runConsolidate, jobs.Learner == nil},
		{"pattern_prune", schedulePrunePattern, s.runPatternPrune, jobs.Patterns == nil},
		{"metric_rollup", scheduleRollup, s.runRollup, jobs.Rollup == nil},
		{"backup_mark", scheduleBackupMark, s.runBackupMark, jobs.BackupMark == nil},
	}
	for _, e := range entries {
		if e.skip {
			continue
		}
		run := e.run
		name := e.name
		if _, err := s.cron.AddFunc(e.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			start := time.Now()
			run(ctx)
			s.logger.Debug("job finished", "job", name, "duration", time.Since(start))
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins cron dispatch.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts dispatch and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// JobCount reports the number of registered jobs.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runRapportDecay(ctx context.Context) {
	affected, err := s.jobs.Rapport.DecayRapport(ctx)
	if err != nil {
		s.logger.Error("rapport decay failed", "error", err)
		return
	}
	s.logger.Info("rapport decay applied", "profiles", affected)
}

func (s *Scheduler) runConsolidate(ctx context.Context) {
	if err := s.jobs.Learner.Consolidate(ctx); err != nil {
		s.logger.Error("guardrail consolidation failed", "error", err)
	}
}

func (s *Scheduler) runPatternPrune(ctx context.Context) {
	pruned, err := s.jobs.Patterns.PruneStale(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("pattern pruning failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("stale patterns pruned", "count", pruned)
	}
}

func (s *Scheduler) runRollup(ctx context.Context) {
	if err := s.jobs.Rollup(ctx); err != nil {
		s.logger.Warn("metric rollup failed", "error", err)
	}
}

func (s *Scheduler) runBackupMark(ctx context.Context) {
	if err := s.jobs.BackupMark(ctx); err != nil {
		s.logger.Warn("backup mark failed", "error", err)
	}
}
