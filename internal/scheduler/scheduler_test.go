package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeDecayer struct {
	affected int64
	err      error
	calls    int
}

func (f *fakeDecayer) DecayRapport(context.Context) (int64, error) {
	f.calls++
	return f.affected, f.err
}

type fakeConsolidator struct{ calls int }

func (f *fakeConsolidator) Consolidate(context.Context) error {
	f.calls++
	return nil
}

type fakePruner struct {
	olderThan time.Duration
	calls     int
}

func (f *fakePruner) PruneStale(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls++
	f.olderThan = olderThan
	return 2, nil
}

func newTestScheduler(t *testing.T, jobs Jobs, opts ...Option) *Scheduler {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.DiscardHandler)))
	s, err := New(jobs, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRegistersOnlyConfiguredJobs(t *testing.T) {
	tests := []struct {
		name string
		jobs Jobs
		want int
	}{
		{"none", Jobs{}, 0},
		{"rapport only", Jobs{Rapport: &fakeDecayer{}}, 1},
		{"all", Jobs{
			Rapport:    &fakeDecayer{},
			Learner:    &fakeConsolidator{},
			Patterns:   &fakePruner{},
			Rollup:     func(context.Context) error { return nil },
			BackupMark: func(context.Context) error { return nil },
		}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, tt.jobs)
			if got := s.JobCount(); got != tt.want {
				t.Errorf("JobCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRapportDecayRuns(t *testing.T) {
	decayer := &fakeDecayer{affected: 3}
	s := newTestScheduler(t, Jobs{Rapport: decayer})
	s.runRapportDecay(context.Background())
	if decayer.calls != 1 {
		t.Errorf("calls = %d, want 1", decayer.calls)
	}
}

func TestRapportDecayErrorIsContained(t *testing.T) {
	decayer := &fakeDecayer{err: errors.New("db down")}
	s := newTestScheduler(t, Jobs{Rapport: decayer})
	s.runRapportDecay(context.Background()) // must not panic
	if decayer.calls != 1 {
		t.Errorf("calls = %d, want 1", decayer.calls)
	}
}

func TestPatternPruneUsesConfiguredCutoff(t *testing.T) {
	pruner := &fakePruner{}
	s := newTestScheduler(t, Jobs{Patterns: pruner}, WithStaleAfter(30*24*time.Hour))
	s.runPatternPrune(context.Background())
	if pruner.olderThan != 30*24*time.Hour {
		t.Errorf("olderThan = %v", pruner.olderThan)
	}
}

func TestStartStop(t *testing.T) {
	consolidator := &fakeConsolidator{}
	s := newTestScheduler(t, Jobs{Learner: consolidator})
	s.Start()
	s.Stop() // must return promptly with no running jobs
}
