package tracker

import (
	"encoding/json"
	"os"
	"time"
)

// RunMetrics accumulates across runs in the same state directory.
type RunMetrics struct {
	StartedAt       time.Time      `json:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	RunsStarted     int            `json:"runs_started"`
	RunsCompleted   int            `json:"runs_completed"`
	RunsAborted     int            `json:"runs_aborted"`
	RunsInterrupted int            `json:"runs_interrupted"`
	StepsExecuted   int            `json:"steps_executed"`
	AbortReasons    map[string]int `json:"abort_reasons,omitempty"`
	LastRunID       string         `json:"last_run_id,omitempty"`
}

func (w *Writer) LoadMetrics() (*RunMetrics, error) {
	b, err := os.ReadFile(w.MetricsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m RunMetrics
	if err := json.Unmarshal(b, &m); err != nil {
		// Corrupted metrics file: treat as no metrics.
		return nil, nil
	}
	return &m, nil
}

func (w *Writer) SaveMetrics(m *RunMetrics) error {
	return writeJSONAtomic(w.MetricsPath, m)
}

func (w *Writer) LoadOrInitMetrics(runID string) (*RunMetrics, error) {
	m, err := w.LoadMetrics()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if m == nil {
		m = &RunMetrics{StartedAt: now}
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	m.UpdatedAt = now
	m.LastRunID = runID
	return m, nil
}

// MarkRunStarted bumps the run counter. Metrics are best effort: a write
// failure never stops a run.
func (w *Writer) MarkRunStarted(runID string) {
	m, err := w.LoadOrInitMetrics(runID)
	if err != nil || m == nil {
		return
	}
	m.RunsStarted++
	_ = w.SaveMetrics(m)
}

// AddSteps records steps executed since the last call.
func (w *Writer) AddSteps(runID string, delta int) {
	if delta <= 0 {
		return
	}
	m, err := w.LoadOrInitMetrics(runID)
	if err != nil || m == nil {
		return
	}
	m.StepsExecuted += delta
	_ = w.SaveMetrics(m)
}

// MarkRunFinished records the terminal status of a run. Aborted and failed
// runs also record the reason so repeat offenders show up in the tally.
func (w *Writer) MarkRunFinished(runID, status, reason string) {
	m, err := w.LoadOrInitMetrics(runID)
	if err != nil || m == nil {
		return
	}
	switch status {
	case "completed":
		m.RunsCompleted++
	case "interrupted":
		m.RunsInterrupted++
	default:
		m.RunsAborted++
		if reason != "" {
			if m.AbortReasons == nil {
				m.AbortReasons = make(map[string]int)
			}
			m.AbortReasons[reason]++
		}
	}
	_ = w.SaveMetrics(m)
}
