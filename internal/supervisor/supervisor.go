// Package supervisor is the safety core of a run. The execution loop calls
// Gate before every step for a go/no-go decision and Report after every
// completed step; the supervisor keeps budgets, breakers, loop detection and
// the heartbeat current and checkpoints the run state after each report.
// A step is never interrupted mid-flight: kill, pause and budget stops all
// take effect at the next Gate.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/chr1sbest/smithers/internal/budget"
	"github.com/chr1sbest/smithers/internal/checkpoint"
	"github.com/chr1sbest/smithers/internal/logger"
	"github.com/chr1sbest/smithers/internal/loopdetect"
	"github.com/chr1sbest/smithers/internal/redact"
	"github.com/chr1sbest/smithers/internal/resilience"
	"github.com/chr1sbest/smithers/internal/runstate"
	"github.com/chr1sbest/smithers/internal/signals"
	"github.com/chr1sbest/smithers/internal/watchdog"
)

// DecisionKind classifies a gate decision.
type DecisionKind int

const (
	DecisionProceed DecisionKind = iota
	DecisionPause
	DecisionAbort
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionProceed:
		return "proceed"
	case DecisionPause:
		return "pause"
	case DecisionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision is the answer to "may the loop take its next step". Looping and
// DryRun ride along as advisories on Proceed: the caller decides whether a
// detected loop means replan, skip or escalate.
type Decision struct {
	Kind        DecisionKind
	Reason      string
	DryRun      bool
	Looping     bool
	LoopRepeats int
}

// Outcome reports one completed step back to the supervisor.
type Outcome struct {
	Tool        string
	Success     bool
	Fingerprint string
	Summary     string
	Screenshots int
	Requests    int
}

// Config wires the supervisor's collaborators.
type Config struct {
	Signals  signals.Reader
	Budgets  *budget.Tracker
	Breakers *resilience.Registry
	Loops    *loopdetect.Window
	Monitor  *watchdog.Monitor
	Store    checkpoint.Store
	State    *runstate.RunState
	Logger   logger.Logger
}

// Supervisor aggregates the safety components behind the two-call protocol.
// All run-state mutation happens inside Report, Note and Finalize on the
// execution side; the watchdog only reads the heartbeat and raises its kill
// flag, so the gate stays a pure read.
type Supervisor struct {
	mu       sync.Mutex
	signals  signals.Reader
	budgets  *budget.Tracker
	breakers *resilience.Registry
	loops    *loopdetect.Window
	monitor  *watchdog.Monitor
	store    checkpoint.Store
	state    *runstate.RunState
	log      logger.Logger

	looping     bool
	loopRepeats int

	now func() time.Time
}

func New(cfg Config) *Supervisor {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Supervisor{
		signals:  cfg.Signals,
		budgets:  cfg.Budgets,
		breakers: cfg.Breakers,
		loops:    cfg.Loops,
		monitor:  cfg.Monitor,
		store:    cfg.Store,
		state:    cfg.State,
		log:      log,
		now:      time.Now,
	}
}

// Resume rehydrates the trackers from a state loaded out of a checkpoint:
// budget counters are backdated, breaker states restored, and the loop
// window rebuilt from the tail of the memory log.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.budgets.Restore(s.state.Counters)
	s.breakers.Restore(s.state.BreakerStates)
	s.loops.Seed(s.state.RecentFingerprints(s.loops.Capacity()))
	s.state.Status = runstate.RunRunning
	s.state.Reason = ""
	s.log.Info("resumed from checkpoint",
		logger.F("run_id", s.state.RunID),
		logger.F("steps", s.state.Counters.Steps),
		logger.F("memory_entries", len(s.state.MemoryLog)),
	)
}

// Gate decides whether the next step may run. Checks run in fixed priority
// order: kill, budgets, pause. Gate mutates nothing, so calling it again
// without an intervening Report yields the same decision.
func (s *Supervisor) Gate() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := s.signals.Read()
	if sig.Killed || s.monitor.KillRequested() {
		return Decision{Kind: DecisionAbort, Reason: "killswitch"}
	}
	if res := s.budgets.Check(); !res.OK {
		return Decision{Kind: DecisionAbort, Reason: "budget:" + string(res.Exceeded)}
	}
	if sig.Paused {
		return Decision{Kind: DecisionPause, DryRun: sig.DryRun}
	}
	return Decision{
		Kind:        DecisionProceed,
		DryRun:      sig.DryRun,
		Looping:     s.looping,
		LoopRepeats: s.loopRepeats,
	}
}

// Report records one completed step: breaker and loop bookkeeping, budget
// counters, a redacted memory entry, a heartbeat, then a checkpoint. A
// checkpoint failure is returned to the caller and is terminal for the run,
// since continuing without durability would break the crash-safety contract.
func (s *Supervisor) Report(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breakers.Report(o.Tool, o.Success)

	if o.Fingerprint != "" {
		obs := s.loops.Observe(o.Fingerprint)
		s.looping = obs.Looping
		s.loopRepeats = obs.Repeats
	}

	s.budgets.Record(budget.CounterSteps, 1)
	s.budgets.Record(budget.CounterScreenshots, o.Screenshots)
	s.budgets.Record(budget.CounterRequests, o.Requests)

	content, tags := redact.String(o.Summary)
	now := s.now()
	s.state.AppendMemory(runstate.MemoryEntry{
		Timestamp:     now,
		Actor:         "executor",
		Kind:          runstate.KindStep,
		Content:       content,
		Fingerprint:   o.Fingerprint,
		RedactionTags: tags,
	})

	s.monitor.Beat()

	s.log.Debug("step reported",
		logger.F("tool", o.Tool),
		logger.F("success", o.Success),
		logger.F("steps", s.budgets.Usage().Steps),
	)
	return s.save(now)
}

// Note appends a non-step memory entry (a plan, a skip, an operator note)
// and checkpoints it.
func (s *Supervisor) Note(actor, kind, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scrubbed, tags := redact.String(content)
	now := s.now()
	s.state.AppendMemory(runstate.MemoryEntry{
		Timestamp:     now,
		Actor:         actor,
		Kind:          kind,
		Content:       scrubbed,
		RedactionTags: tags,
	})
	return s.save(now)
}

// Persist checkpoints the current state without appending anything. Callers
// use it after mutating goal or plan fields directly.
func (s *Supervisor) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(s.now())
}

// Finalize stamps the terminal status and reason, appends a terminal memory
// entry and writes the last checkpoint of the run.
func (s *Supervisor) Finalize(status runstate.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Status = status
	s.state.Reason = reason
	now := s.now()
	s.state.AppendMemory(runstate.MemoryEntry{
		Timestamp: now,
		Actor:     "supervisor",
		Kind:      runstate.KindTerminal,
		Content:   reason,
	})
	s.log.Info("run finalized",
		logger.F("run_id", s.state.RunID),
		logger.F("status", string(status)),
		logger.F("reason", reason),
	)
	return s.save(now)
}

// AllowTool asks the tool's circuit breaker whether a call may be dispatched.
// In half-open state at most one probe is allowed at a time.
func (s *Supervisor) AllowTool(tool string) bool {
	return s.breakers.Allow(tool)
}

// Beat refreshes the heartbeat. The runner calls this at safepoints that do
// not go through Report, such as between planner retries.
func (s *Supervisor) Beat() {
	s.monitor.Beat()
}

// State exposes the run state root. It must only be touched from the
// execution loop; the watchdog side never sees it.
func (s *Supervisor) State() *runstate.RunState {
	return s.state
}

// Summarize snapshots the state for a planner call.
func (s *Supervisor) Summarize(recentEntries int) runstate.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Summarize(recentEntries)
}

// Usage snapshots budget consumption, for status display.
func (s *Supervisor) Usage() budget.Usage {
	return s.budgets.Usage()
}

// save syncs derived fields into the state root and checkpoints it.
// Callers must hold s.mu.
func (s *Supervisor) save(now time.Time) error {
	s.state.Counters = s.budgets.Usage()
	s.state.BreakerStates = s.breakers.Snapshot()
	s.state.HeartbeatAt = s.monitor.HeartbeatAt()
	s.state.UpdatedAt = now

	meta, err := s.store.Save(s.state)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	s.log.Debug("checkpoint saved", logger.F("seq", meta.Seq))
	return nil
}
