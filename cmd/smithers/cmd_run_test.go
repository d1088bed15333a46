package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/chr1sbest/smithers/internal/budget"
	"github.com/chr1sbest/smithers/internal/checkpoint"
	"github.com/chr1sbest/smithers/internal/config"
	"github.com/chr1sbest/smithers/internal/runner"
	"github.com/chr1sbest/smithers/internal/runstate"
)

func newTestStore(t *testing.T) checkpoint.Store {
	t.Helper()
	store, err := checkpoint.Open(t.TempDir(), config.CheckpointPolicy{Backend: "file", Keep: 0})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return store
}

func TestLoadOrCreateStateFresh(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	st, resumed, _ := loadOrCreateState(store, false, "water the plants")
	if st == nil {
		t.Fatal("expected a fresh state")
	}
	if resumed {
		t.Error("fresh state reported as resumed")
	}
	if st.Goal == nil || st.Goal.Description != "water the plants" {
		t.Errorf("goal = %+v", st.Goal)
	}
	if st.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", st.PID, os.Getpid())
	}
}

func TestLoadOrCreateStateRequiresGoal(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	st, _, code := loadOrCreateState(store, false, "")
	if st != nil {
		t.Fatal("expected nil state without a goal")
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestLoadOrCreateStateResumeMissingCheckpoint(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	st, _, code := loadOrCreateState(store, true, "")
	if st != nil {
		t.Fatal("expected nil state when there is no checkpoint")
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestLoadOrCreateStateResume(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	orig := runstate.New("run-orig", 999999, time.Now().Add(-time.Hour))
	orig.Goal = runstate.NewGoal("g-1", "finish the report", time.Now().Add(-time.Hour))
	orig.Counters.Steps = 7
	if _, err := store.Save(orig); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	st, resumed, _ := loadOrCreateState(store, true, "")
	if st == nil {
		t.Fatal("expected a resumed state")
	}
	if !resumed {
		t.Error("resume not reported")
	}
	if st.RunID != "run-orig" {
		t.Errorf("run id = %s, want run-orig", st.RunID)
	}
	if st.PID != os.Getpid() {
		t.Errorf("pid = %d, want the current process", st.PID)
	}
	if st.Goal == nil || st.Goal.Description != "finish the report" {
		t.Errorf("goal = %+v", st.Goal)
	}
}

func TestReportOutcomeExitCodes(t *testing.T) {
	usage := budget.Usage{Steps: 3, ElapsedSeconds: 42}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"completed", nil, 0},
		{"aborted", &runner.AbortError{Reason: "budget:steps"}, 2},
		{"killed", &runner.AbortError{Reason: "killswitch"}, 2},
		{"interrupted", context.Canceled, 130},
		{"goal failed", runner.ErrGoalFailed, 1},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reportOutcome(usage, tt.err, t.TempDir()); got != tt.want {
				t.Errorf("reportOutcome(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
