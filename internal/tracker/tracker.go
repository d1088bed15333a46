// Package tracker writes the small observability files a run leaves behind
// in its state directory: a live status snapshot for `smithers status` and
// `smithers watch`, cumulative run metrics, and the single-runner lock.
// These files are advisory; the durable record of a run is the checkpoint.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the live view of the current run, rewritten after every step.
type Status struct {
	Timestamp           time.Time `json:"timestamp"`
	RunID               string    `json:"run_id"`
	Goal                string    `json:"goal,omitempty"`
	Status              string    `json:"status"`
	Decision            string    `json:"decision,omitempty"`
	CurrentStep         string    `json:"current_step,omitempty"`
	StepsTaken          int       `json:"steps_taken"`
	PlanSteps           int       `json:"plan_steps,omitempty"`
	PlanRemaining       int       `json:"plan_remaining,omitempty"`
	ScreenshotsTaken    int       `json:"screenshots_taken,omitempty"`
	RequestsMade        int       `json:"requests_made,omitempty"`
	ElapsedSeconds      int       `json:"elapsed_seconds"`
	HeartbeatAgeSeconds float64   `json:"heartbeat_age_seconds"`
}

type Writer struct {
	Dir         string
	StatusPath  string
	MetricsPath string
	LockPath    string
}

func NewWriter(dir string) *Writer {
	return &Writer{
		Dir:         dir,
		StatusPath:  filepath.Join(dir, "status.json"),
		MetricsPath: filepath.Join(dir, "run_metrics.json"),
		LockPath:    filepath.Join(dir, ".smithers_lock"),
	}
}

func (w *Writer) WriteStatus(s Status) error {
	return writeJSONAtomic(w.StatusPath, s)
}

// ReadStatus loads the last written status snapshot.
func (w *Writer) ReadStatus() (*Status, error) {
	b, err := os.ReadFile(w.StatusPath)
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &s, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
