package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterWritesValidJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	s := Status{
		Timestamp:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RunID:               "run-1",
		Goal:                "book a table for two",
		Status:              "running",
		Decision:            "proceed",
		CurrentStep:         "click reservations",
		StepsTaken:          3,
		PlanSteps:           5,
		PlanRemaining:       2,
		ElapsedSeconds:      42,
		HeartbeatAgeSeconds: 0.5,
	}
	if err := w.WriteStatus(s); err != nil {
		t.Fatalf("WriteStatus error: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "status.json"))
	if err != nil {
		t.Fatalf("read status.json: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("status.json invalid json: %v", err)
	}
	if v["run_id"] != "run-1" {
		t.Errorf("run_id = %v", v["run_id"])
	}
	if v["steps_taken"] != float64(3) {
		t.Errorf("steps_taken = %v", v["steps_taken"])
	}
}

func TestReadStatusRoundtrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	want := Status{
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RunID:      "run-2",
		Status:     "paused",
		StepsTaken: 7,
	}
	if err := w.WriteStatus(want); err != nil {
		t.Fatalf("WriteStatus error: %v", err)
	}

	got, err := w.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus error: %v", err)
	}
	if got.RunID != want.RunID || got.Status != want.Status || got.StepsTaken != want.StepsTaken {
		t.Errorf("ReadStatus = %+v, want %+v", got, want)
	}
}

func TestWriteStatusLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	for i := 0; i < 3; i++ {
		if err := w.WriteStatus(Status{RunID: "run-1", StepsTaken: i}); err != nil {
			t.Fatalf("WriteStatus error: %v", err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp.*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}
