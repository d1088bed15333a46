package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMetricsAccumulateAndPersist(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	w.MarkRunStarted("run1")
	w.AddSteps("run1", 3)
	w.AddSteps("run1", 2)
	w.MarkRunFinished("run1", "completed", "")

	w.MarkRunStarted("run2")
	w.AddSteps("run2", 1)
	w.MarkRunFinished("run2", "aborted", "budget:steps")

	b, err := os.ReadFile(filepath.Join(dir, "run_metrics.json"))
	if err != nil {
		t.Fatal(err)
	}
	var m RunMetrics
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m.RunsStarted != 2 {
		t.Errorf("runs_started = %d, want 2", m.RunsStarted)
	}
	if m.RunsCompleted != 1 || m.RunsAborted != 1 {
		t.Errorf("completed=%d aborted=%d, want 1/1", m.RunsCompleted, m.RunsAborted)
	}
	if m.StepsExecuted != 6 {
		t.Errorf("steps_executed = %d, want 6", m.StepsExecuted)
	}
	if m.AbortReasons["budget:steps"] != 1 {
		t.Errorf("abort_reasons = %v", m.AbortReasons)
	}
	if m.LastRunID != "run2" {
		t.Errorf("last_run_id = %q", m.LastRunID)
	}
}

func TestMetricsIgnoreNonPositiveSteps(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	w.AddSteps("run1", 0)
	w.AddSteps("run1", -5)

	if _, err := os.Stat(w.MetricsPath); !os.IsNotExist(err) {
		t.Errorf("metrics file written for no-op deltas: %v", err)
	}
}

func TestMetricsCorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	if err := os.WriteFile(w.MetricsPath, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	w.MarkRunStarted("run1")

	m, err := w.LoadMetrics()
	if err != nil {
		t.Fatalf("LoadMetrics error: %v", err)
	}
	if m == nil || m.RunsStarted != 1 {
		t.Errorf("metrics after corrupt file = %+v", m)
	}
}
