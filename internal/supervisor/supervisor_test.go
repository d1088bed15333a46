package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chr1sbest/smithers/internal/budget"
	"github.com/chr1sbest/smithers/internal/checkpoint"
	"github.com/chr1sbest/smithers/internal/logger"
	"github.com/chr1sbest/smithers/internal/loopdetect"
	"github.com/chr1sbest/smithers/internal/resilience"
	"github.com/chr1sbest/smithers/internal/runstate"
	"github.com/chr1sbest/smithers/internal/signals"
	"github.com/chr1sbest/smithers/internal/watchdog"
)

type testEnv struct {
	sup     *Supervisor
	source  *signals.FileSource
	monitor *watchdog.Monitor
	store   checkpoint.Store
	state   *runstate.RunState
}

func newTestEnv(t *testing.T, cfgFn func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	source := signals.NewFileSource(filepath.Join(dir, "control"))
	store, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"), 3)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	cfg := Config{
		Signals:  source,
		Budgets:  budget.NewTracker(budget.Limits{}),
		Breakers: resilience.NewRegistry(resilience.DefaultBreakerConfig()),
		Loops:    loopdetect.New(loopdetect.DefaultConfig()),
		Monitor:  watchdog.New(watchdog.DefaultConfig(), logger.NewNopLogger()),
		Store:    store,
		State:    runstate.New("run-test", 1234, time.Now()),
		Logger:   logger.NewNopLogger(),
	}
	if cfgFn != nil {
		cfgFn(&cfg)
	}

	return &testEnv{
		sup:     New(cfg),
		source:  source,
		monitor: cfg.Monitor,
		store:   cfg.Store,
		state:   cfg.State,
	}
}

func stepOutcome(tool, params string, success bool) Outcome {
	return Outcome{
		Tool:        tool,
		Success:     success,
		Fingerprint: loopdetect.Fingerprint(tool, params),
		Summary:     tool + " " + params,
	}
}

func TestGate_ProceedWhenClean(t *testing.T) {
	env := newTestEnv(t, nil)

	d := env.sup.Gate()
	if d.Kind != DecisionProceed {
		t.Fatalf("Gate = %v (%s), want proceed", d.Kind, d.Reason)
	}
	if d.DryRun || d.Looping {
		t.Errorf("fresh run carries advisories: %+v", d)
	}
}

func TestGate_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.sup.Gate()
	for i := 0; i < 5; i++ {
		if d := env.sup.Gate(); d != first {
			t.Fatalf("Gate call %d = %+v, want %+v", i+2, d, first)
		}
	}
	if steps := env.sup.Usage().Steps; steps != 0 {
		t.Errorf("Gate consumed budget: steps = %d", steps)
	}
}

// Three successful reports against a three step budget: the steps all
// complete, the fourth gate stops the run.
func TestGate_StepBudgetScenario(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Budgets = budget.NewTracker(budget.Limits{MaxSteps: 3})
	})

	for i := 0; i < 3; i++ {
		if i > 0 {
			if d := env.sup.Gate(); d.Kind != DecisionProceed {
				t.Fatalf("gate before step %d = %s (%s)", i+1, d.Kind, d.Reason)
			}
		}
		if err := env.sup.Report(stepOutcome("click", "x=1", true)); err != nil {
			t.Fatalf("Report %d error: %v", i+1, err)
		}
	}

	d := env.sup.Gate()
	if d.Kind != DecisionAbort || d.Reason != "budget:steps" {
		t.Fatalf("gate after budget spent = %s (%q), want abort (budget:steps)", d.Kind, d.Reason)
	}
}

func TestGate_KillTakesPriority(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Budgets = budget.NewTracker(budget.Limits{MaxSteps: 1})
	})

	if err := env.sup.Report(stepOutcome("click", "x=1", true)); err != nil {
		t.Fatalf("Report error: %v", err)
	}
	if err := env.source.Raise(signals.FlagKill); err != nil {
		t.Fatalf("raise kill: %v", err)
	}
	if err := env.source.Raise(signals.FlagPause); err != nil {
		t.Fatalf("raise pause: %v", err)
	}

	d := env.sup.Gate()
	if d.Kind != DecisionAbort || d.Reason != "killswitch" {
		t.Fatalf("gate = %s (%q), want abort (killswitch)", d.Kind, d.Reason)
	}
}

func TestGate_PauseAndClear(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.source.Raise(signals.FlagPause); err != nil {
		t.Fatalf("raise pause: %v", err)
	}
	if d := env.sup.Gate(); d.Kind != DecisionPause {
		t.Fatalf("gate while paused = %s", d.Kind)
	}

	if err := env.source.Clear(signals.FlagPause); err != nil {
		t.Fatalf("clear pause: %v", err)
	}
	if d := env.sup.Gate(); d.Kind != DecisionProceed {
		t.Fatalf("gate after clearing pause = %s (%s)", d.Kind, d.Reason)
	}
}

func TestGate_DryRunAdvisory(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.source.Raise(signals.FlagDryRun); err != nil {
		t.Fatalf("raise dryrun: %v", err)
	}
	d := env.sup.Gate()
	if d.Kind != DecisionProceed || !d.DryRun {
		t.Fatalf("gate = %+v, want proceed with dry run", d)
	}
}

// The development bypass silences the external kill flag but must never
// mask a kill raised by the watchdog.
func TestGate_BypassNeverMasksWatchdog(t *testing.T) {
	t.Setenv(signals.BypassEnv, "1")

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Monitor = watchdog.New(watchdog.Config{
			BeatTarget:    time.Millisecond,
			Staleness:     5 * time.Millisecond,
			CheckInterval: time.Millisecond,
		}, logger.NewNopLogger())
	})

	if err := env.source.Raise(signals.FlagKill); err != nil {
		t.Fatalf("raise kill: %v", err)
	}
	if d := env.sup.Gate(); d.Kind != DecisionProceed {
		t.Fatalf("gate with bypassed kill flag = %s (%s)", d.Kind, d.Reason)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.monitor.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !env.monitor.KillRequested() {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never escalated")
		}
		time.Sleep(time.Millisecond)
	}

	d := env.sup.Gate()
	if d.Kind != DecisionAbort || d.Reason != "killswitch" {
		t.Fatalf("gate after watchdog kill = %s (%q), want abort (killswitch)", d.Kind, d.Reason)
	}
}

func TestReport_PersistsRedactedCheckpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	o := stepOutcome("type_text", "field=password", true)
	o.Summary = "typed password=hunter2 into the login form"
	o.Screenshots = 2
	o.Requests = 1
	if err := env.sup.Report(o); err != nil {
		t.Fatalf("Report error: %v", err)
	}

	loaded, meta, err := env.store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if meta.Seq != 1 {
		t.Errorf("seq = %d, want 1", meta.Seq)
	}
	if loaded.Counters.Steps != 1 || loaded.Counters.Screenshots != 2 || loaded.Counters.Requests != 1 {
		t.Errorf("counters = %+v", loaded.Counters)
	}
	if len(loaded.MemoryLog) != 1 {
		t.Fatalf("memory log has %d entries", len(loaded.MemoryLog))
	}
	entry := loaded.MemoryLog[0]
	if strings.Contains(entry.Content, "hunter2") {
		t.Errorf("secret leaked into memory log: %q", entry.Content)
	}
	if len(entry.RedactionTags) == 0 {
		t.Error("redaction tags missing")
	}
	if _, ok := loaded.BreakerStates["type_text"]; !ok {
		t.Error("breaker state not persisted")
	}
	if loaded.HeartbeatAt.IsZero() {
		t.Error("heartbeat not persisted")
	}
}

type failStore struct{}

func (failStore) Save(*runstate.RunState) (checkpoint.Meta, error) {
	return checkpoint.Meta{}, errors.New("disk full")
}

func (failStore) Load() (*runstate.RunState, checkpoint.Meta, error) {
	return nil, checkpoint.Meta{}, checkpoint.ErrNotFound
}

func (failStore) Close() error { return nil }

func TestReport_CheckpointFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Store = failStore{}
	})

	err := env.sup.Report(stepOutcome("click", "x=1", true))
	if err == nil {
		t.Fatal("Report with failing store succeeded")
	}
	if !strings.Contains(err.Error(), "checkpoint") {
		t.Errorf("error does not name the checkpoint: %v", err)
	}
}

func TestReport_LoopingAdvisory(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Loops = loopdetect.New(loopdetect.Config{Window: 10, Threshold: 3})
	})

	for i := 0; i < 2; i++ {
		if err := env.sup.Report(stepOutcome("click", "x=1", true)); err != nil {
			t.Fatalf("Report error: %v", err)
		}
		if d := env.sup.Gate(); d.Looping {
			t.Fatalf("looping reported after %d repeats", i+1)
		}
	}

	if err := env.sup.Report(stepOutcome("click", "x=1", true)); err != nil {
		t.Fatalf("Report error: %v", err)
	}
	d := env.sup.Gate()
	if d.Kind != DecisionProceed || !d.Looping || d.LoopRepeats != 3 {
		t.Fatalf("gate after third repeat = %+v, want proceed with looping x3", d)
	}

	// A different action lowers the advisory again.
	if err := env.sup.Report(stepOutcome("scroll", "dy=100", true)); err != nil {
		t.Fatalf("Report error: %v", err)
	}
	if d := env.sup.Gate(); d.Looping {
		t.Errorf("looping still set after a fresh action: %+v", d)
	}
}

func TestFinalize_WritesTerminalCheckpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.sup.Report(stepOutcome("click", "x=1", true)); err != nil {
		t.Fatalf("Report error: %v", err)
	}
	if err := env.sup.Finalize(runstate.RunAborted, "budget:steps"); err != nil {
		t.Fatalf("Finalize error: %v", err)
	}

	loaded, _, err := env.store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.Status != runstate.RunAborted || loaded.Reason != "budget:steps" {
		t.Errorf("terminal state = %s (%q)", loaded.Status, loaded.Reason)
	}
	last := loaded.MemoryLog[len(loaded.MemoryLog)-1]
	if last.Kind != runstate.KindTerminal || last.Content != "budget:steps" {
		t.Errorf("terminal entry = %+v", last)
	}
}

func TestNote_AppendsAndPersists(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.sup.Note("planner", runstate.KindPlan, "open the login page, api_key=sk-12345 in header"); err != nil {
		t.Fatalf("Note error: %v", err)
	}

	loaded, _, err := env.store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(loaded.MemoryLog) != 1 {
		t.Fatalf("memory log has %d entries", len(loaded.MemoryLog))
	}
	entry := loaded.MemoryLog[0]
	if entry.Actor != "planner" || entry.Kind != runstate.KindPlan {
		t.Errorf("entry = %+v", entry)
	}
	if strings.Contains(entry.Content, "sk-12345") {
		t.Errorf("key leaked into note: %q", entry.Content)
	}
}

// A second process picking up the checkpoint must see restored budgets,
// breakers and loop history.
func TestResume_RestoresTrackers(t *testing.T) {
	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(dir, 3)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	breakerCfg := resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour}
	first := New(Config{
		Signals:  signals.Static{},
		Budgets:  budget.NewTracker(budget.Limits{MaxSteps: 10}),
		Breakers: resilience.NewRegistry(breakerCfg),
		Loops:    loopdetect.New(loopdetect.Config{Window: 10, Threshold: 3}),
		Monitor:  watchdog.New(watchdog.DefaultConfig(), logger.NewNopLogger()),
		Store:    store,
		State:    runstate.New("run-resume", 1234, time.Now()),
		Logger:   logger.NewNopLogger(),
	})

	for i := 0; i < 2; i++ {
		if err := first.Report(stepOutcome("click", "x=1", false)); err != nil {
			t.Fatalf("Report error: %v", err)
		}
	}
	if first.AllowTool("click") {
		t.Fatal("breaker still closed after threshold failures")
	}

	// Crash. A new process loads the checkpoint into fresh components.
	loaded, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	second := New(Config{
		Signals:  signals.Static{},
		Budgets:  budget.NewTracker(budget.Limits{MaxSteps: 10}),
		Breakers: resilience.NewRegistry(breakerCfg),
		Loops:    loopdetect.New(loopdetect.Config{Window: 10, Threshold: 3}),
		Monitor:  watchdog.New(watchdog.DefaultConfig(), logger.NewNopLogger()),
		Store:    store,
		State:    loaded,
		Logger:   logger.NewNopLogger(),
	})
	second.Resume()

	if steps := second.Usage().Steps; steps != 2 {
		t.Errorf("restored steps = %d, want 2", steps)
	}
	if second.AllowTool("click") {
		t.Error("open breaker forgot its state across restart")
	}
	if second.State().Status != runstate.RunRunning {
		t.Errorf("resumed status = %s", second.State().Status)
	}

	// The loop window was reseeded from the memory log: one more repeat
	// of the same action reaches the threshold.
	if err := second.Report(stepOutcome("click", "x=1", true)); err != nil {
		t.Fatalf("Report error: %v", err)
	}
	if d := second.Gate(); !d.Looping || d.LoopRepeats != 3 {
		t.Errorf("gate after resume = %+v, want looping x3", d)
	}
}

func TestPersist_SavesDirectMutations(t *testing.T) {
	env := newTestEnv(t, nil)

	env.state.Goal = runstate.NewGoal("g-1", "file the expense report", time.Now())
	env.state.Goal.Status = runstate.GoalActive
	if err := env.sup.Persist(); err != nil {
		t.Fatalf("Persist error: %v", err)
	}

	loaded, _, err := env.store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.Goal == nil || loaded.Goal.Status != runstate.GoalActive {
		t.Errorf("goal not persisted: %+v", loaded.Goal)
	}
}
