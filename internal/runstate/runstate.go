// Package runstate defines the durable state of a supervised run: the
// goal being pursued, the current plan, the memory log, and the safety
// counters. Everything here is what a checkpoint preserves and a
// resume restores.
package runstate

import (
	"time"

	"github.com/chr1sbest/smithers/internal/budget"
	"github.com/chr1sbest/smithers/internal/resilience"
)

// GoalStatus tracks a goal through its lifecycle.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalAbandoned GoalStatus = "abandoned"
)

// StepStatus tracks a plan step through its lifecycle.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepDone      StepStatus = "done"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunStatus is the overall state of the run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunPaused      RunStatus = "paused"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunAborted     RunStatus = "aborted"
	RunInterrupted RunStatus = "interrupted"
)

// Goal is an objective handed to the agent.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	Priority    int        `json:"priority,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewGoal creates a pending goal.
func NewGoal(id, description string, createdAt time.Time) *Goal {
	return &Goal{
		ID:          id,
		Description: description,
		Status:      GoalPending,
		CreatedAt:   createdAt,
	}
}

// PlanStep is one tool invocation the planner proposed.
type PlanStep struct {
	Tool        string     `json:"tool"`
	Params      string     `json:"params,omitempty"` // normalized parameter encoding
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
}

// Plan is an ordered list of steps toward a goal.
type Plan struct {
	ID        string     `json:"id"`
	GoalID    string     `json:"goal_id"`
	Steps     []PlanStep `json:"steps"`
	Cursor    int        `json:"cursor"` // index of the next step to run
	CreatedAt time.Time  `json:"created_at"`
}

// Current returns the step at the cursor, or false when the plan is
// exhausted.
func (p *Plan) Current() (*PlanStep, bool) {
	if p == nil || p.Cursor < 0 || p.Cursor >= len(p.Steps) {
		return nil, false
	}
	return &p.Steps[p.Cursor], true
}

// Advance moves the cursor past the current step.
func (p *Plan) Advance() {
	if p.Cursor < len(p.Steps) {
		p.Cursor++
	}
}

// Exhausted reports whether every step has been visited.
func (p *Plan) Exhausted() bool {
	return p == nil || p.Cursor >= len(p.Steps)
}

// Remaining returns how many steps are still ahead of the cursor.
func (p *Plan) Remaining() int {
	if p == nil || p.Cursor >= len(p.Steps) {
		return 0
	}
	return len(p.Steps) - p.Cursor
}

// MemoryEntry is one line of the append-only run memory.
type MemoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Kind          string    `json:"kind"`
	Content       string    `json:"content"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	RedactionTags []string  `json:"redaction_tags,omitempty"`
}

// Memory entry kinds.
const (
	KindStep     = "step"
	KindNote     = "note"
	KindPlan     = "plan"
	KindTerminal = "terminal"
)

// MaxMemoryEntries bounds the memory log. The oldest entries fall off
// first; the tail is what planners and resumes care about.
const MaxMemoryEntries = 1000

// RunState is everything a checkpoint captures about a run.
type RunState struct {
	RunID         string                         `json:"run_id"`
	PID           int                            `json:"pid"`
	Status        RunStatus                      `json:"status"`
	Reason        string                         `json:"reason,omitempty"`
	Goal          *Goal                          `json:"goal,omitempty"`
	Plan          *Plan                          `json:"plan,omitempty"`
	MemoryLog     []MemoryEntry                  `json:"memory_log"`
	Counters      budget.Usage                   `json:"counters"`
	BreakerStates map[string]resilience.Snapshot `json:"breaker_states,omitempty"`
	HeartbeatAt   time.Time                      `json:"heartbeat_at"`
	StartedAt     time.Time                      `json:"started_at"`
	UpdatedAt     time.Time                      `json:"updated_at"`
}

// New creates a fresh running state.
func New(runID string, pid int, startedAt time.Time) *RunState {
	return &RunState{
		RunID:     runID,
		PID:       pid,
		Status:    RunRunning,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}
}

// AppendMemory adds an entry, dropping the oldest entries once the log
// is full.
func (s *RunState) AppendMemory(entry MemoryEntry) {
	s.MemoryLog = append(s.MemoryLog, entry)
	if over := len(s.MemoryLog) - MaxMemoryEntries; over > 0 {
		s.MemoryLog = append(s.MemoryLog[:0], s.MemoryLog[over:]...)
	}
}

// MemoryTail returns up to n of the newest memory entries, oldest
// first.
func (s *RunState) MemoryTail(n int) []MemoryEntry {
	if n <= 0 || len(s.MemoryLog) == 0 {
		return nil
	}
	if n > len(s.MemoryLog) {
		n = len(s.MemoryLog)
	}
	tail := make([]MemoryEntry, n)
	copy(tail, s.MemoryLog[len(s.MemoryLog)-n:])
	return tail
}

// RecentFingerprints returns the fingerprints of the newest step
// entries, oldest first, capped at n. Used to rebuild the loop
// detection window after a resume.
func (s *RunState) RecentFingerprints(n int) []string {
	if n <= 0 {
		return nil
	}
	var fps []string
	for i := len(s.MemoryLog) - 1; i >= 0 && len(fps) < n; i-- {
		e := s.MemoryLog[i]
		if e.Kind == KindStep && e.Fingerprint != "" {
			fps = append(fps, e.Fingerprint)
		}
	}
	// Collected newest-first; the window wants arrival order.
	for i, j := 0, len(fps)-1; i < j; i, j = i+1, j-1 {
		fps[i], fps[j] = fps[j], fps[i]
	}
	return fps
}

// Summary is the compact view handed to a planner.
type Summary struct {
	RunID    string        `json:"run_id"`
	Goal     *Goal         `json:"goal,omitempty"`
	Recent   []MemoryEntry `json:"recent,omitempty"`
	Counters budget.Usage  `json:"counters"`
	PlanLeft int           `json:"plan_left"`
}

// Summarize builds a Summary with the newest memory entries.
func (s *RunState) Summarize(recentEntries int) Summary {
	return Summary{
		RunID:    s.RunID,
		Goal:     s.Goal,
		Recent:   s.MemoryTail(recentEntries),
		Counters: s.Counters,
		PlanLeft: s.Plan.Remaining(),
	}
}
