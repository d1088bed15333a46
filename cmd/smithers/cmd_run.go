package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chr1sbest/smithers/internal/banner"
	"github.com/chr1sbest/smithers/internal/budget"
	"github.com/chr1sbest/smithers/internal/checkpoint"
	"github.com/chr1sbest/smithers/internal/config"
	"github.com/chr1sbest/smithers/internal/logger"
	"github.com/chr1sbest/smithers/internal/loopdetect"
	"github.com/chr1sbest/smithers/internal/resilience"
	"github.com/chr1sbest/smithers/internal/runner"
	"github.com/chr1sbest/smithers/internal/runstate"
	"github.com/chr1sbest/smithers/internal/signals"
	"github.com/chr1sbest/smithers/internal/status"
	"github.com/chr1sbest/smithers/internal/supervisor"
	"github.com/chr1sbest/smithers/internal/tracker"
	"github.com/chr1sbest/smithers/internal/watchdog"
)

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	goal := fs.String("goal", "", "Goal description for this run")
	planFile := fs.String("plan", "", "Path to a YAML plan file (default <dir>/plan.yaml)")
	configFile := fs.String("config", "", "Path to a policies file (default <dir>/policies.yaml)")
	dir := fs.String("dir", ".smithers", "State directory")
	resume := fs.Bool("resume", false, "Resume from the last checkpoint")
	attempts := fs.Int("attempts", 3, "Goal attempts before giving up")
	quiet := fs.Bool("quiet", false, "Log to the console instead of the live progress display")
	dryRun := fs.Bool("dry-run", false, "Gate and record every step without executing it")
	noKill := fs.Bool("no-killswitch", false, "Ignore the external killswitch file (watchdog kills still apply)")
	fs.Parse(args)

	if *noKill {
		os.Setenv(signals.BypassEnv, "1")
	}

	planPath := *planFile
	if planPath == "" {
		planPath = filepath.Join(*dir, "plan.yaml")
	}
	configPath := *configFile
	if configPath == "" {
		configPath = filepath.Join(*dir, "policies.yaml")
	}

	if _, err := os.Stat(planPath); err != nil {
		fmt.Fprintf(os.Stderr, "plan file not found: %s\n\nRun `smithers init` to scaffold one, or pass -plan <file>.\n", planPath)
		return 1
	}

	pol, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if errs := config.Validate(pol); errs.HasErrors() {
		fmt.Fprintf(os.Stderr, "policy validation failed for %s:\n%v\n", configPath, errs)
		return 1
	}

	for _, sub := range []string{"control", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(*dir, sub), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create state directory: %v\n", err)
			return 1
		}
	}

	lvl := logger.LevelFromEnv()
	log, logCloser, err := logger.NewFileLogger(filepath.Join(*dir, "run.log"), lvl)
	if err != nil {
		log = logger.New(os.Stderr, lvl)
	} else {
		defer logCloser.Close()
		if *quiet {
			log = logger.NewMultiLogger(log, logger.New(os.Stderr, lvl))
		}
	}

	store, err := checkpoint.Open(filepath.Join(*dir, "checkpoints"), pol.Checkpoint)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer store.Close()

	st, resumed, code := loadOrCreateState(store, *resume, *goal)
	if st == nil {
		return code
	}

	trk := tracker.NewWriter(*dir)
	releaseLock, err := trk.AcquireLock(st.RunID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = releaseLock() }()

	source := signals.NewFileSource(filepath.Join(*dir, "control"))
	if *dryRun && !source.Read().DryRun {
		// Raised here, cleared here. A dryrun.on the operator set by hand
		// stays theirs to remove.
		if err := source.Raise(signals.FlagDryRun); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer func() { _ = source.Clear(signals.FlagDryRun) }()
	}
	monitor := watchdog.New(watchdog.Config{
		BeatTarget:    pol.Watchdog.GetBeatTarget(),
		Staleness:     pol.Watchdog.GetStaleness(),
		CheckInterval: pol.Watchdog.GetCheckInterval(),
	}, log)
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		Threshold: pol.Breakers.Threshold,
		Cooldown:  pol.Breakers.GetCooldown(),
	})
	breakers.OnStateChange(func(tool string, from, to resilience.BreakerState) {
		log.Warn("breaker state change",
			logger.F("tool", tool),
			logger.F("from", from.String()),
			logger.F("to", to.String()),
		)
	})

	sup := supervisor.New(supervisor.Config{
		Signals: source,
		Budgets: budget.NewTracker(budget.Limits{
			MaxRunSeconds:  pol.Budgets.MaxRunSeconds,
			MaxSteps:       pol.Budgets.MaxSteps,
			MaxScreenshots: pol.Budgets.MaxScreenshots,
			MaxRequests:    pol.Budgets.MaxRequests,
		}),
		Breakers: breakers,
		Loops: loopdetect.New(loopdetect.Config{
			Window:    pol.Loops.Window,
			Threshold: pol.Loops.Threshold,
		}),
		Monitor: monitor,
		Store:   store,
		State:   st,
		Logger:  log,
	})
	if resumed {
		sup.Resume()
	}
	startSteps := sup.Usage().Steps

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// The watcher wakes pause polls early when a flag file changes. A
	// filesystem without notify support just degrades to plain polling.
	var wake <-chan signals.Event
	if watcher, werr := signals.NewWatcher(source); werr == nil {
		if werr := watcher.Start(ctx); werr == nil {
			wake = watcher.Events()
			defer watcher.Stop()
		} else {
			log.Warn("flag watcher unavailable, polling only", logger.F("error", werr))
		}
	} else {
		log.Warn("flag watcher unavailable, polling only", logger.F("error", werr))
	}

	goalDesc := ""
	if st.Goal != nil {
		goalDesc = st.Goal.Description
	}
	b := banner.New()
	b.Print(goalDesc, st.RunID, filepath.Join(*dir, "control"), pol)

	var disp *status.Writer
	if !*quiet {
		disp = status.New()
	}

	_, _ = trk.LoadOrInitMetrics(st.RunID)
	trk.MarkRunStarted(st.RunID)

	r := runner.New(runner.Config{
		Supervisor:  sup,
		Planner:     &runner.PlanFilePlanner{Path: planPath},
		Executor:    &runner.CommandExecutor{},
		Monitor:     monitor,
		Policies:    *pol,
		Logger:      log,
		MaxAttempts: *attempts,
		Status:      trk,
		Display:     disp,
		Wake:        wake,
	})

	runErr := r.Run(ctx)

	trk.AddSteps(st.RunID, sup.Usage().Steps-startSteps)
	trk.MarkRunFinished(st.RunID, string(st.Status), st.Reason)

	return reportOutcome(sup.Usage(), runErr, *dir)
}

// loadOrCreateState builds the run state, either fresh or from the
// last checkpoint. A nil state means the caller should exit with the
// returned code.
func loadOrCreateState(store checkpoint.Store, resume bool, goal string) (*runstate.RunState, bool, int) {
	if resume {
		st, meta, err := store.Load()
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				fmt.Fprintln(os.Stderr, "No checkpoint to resume. Start fresh with -goal.")
				return nil, false, 1
			}
			fmt.Fprintf(os.Stderr, "Failed to load checkpoint: %v\n", err)
			return nil, false, 1
		}
		st.PID = os.Getpid()
		if goal != "" && st.Goal != nil && goal != st.Goal.Description {
			fmt.Fprintln(os.Stderr, "Ignoring -goal: resuming the goal recorded in the checkpoint.")
		}
		if st.Goal == nil && goal != "" {
			st.Goal = runstate.NewGoal("g-"+tracker.NewRunID(), goal, time.Now())
		}
		fmt.Printf("Resuming run %s from checkpoint seq %d (%d steps taken)\n",
			st.RunID, meta.Seq, st.Counters.Steps)
		return st, true, 0
	}

	if goal == "" {
		fmt.Fprintln(os.Stderr, "A goal is required: smithers run -goal \"book a table for two\"")
		return nil, false, 1
	}
	st := runstate.New(tracker.NewRunID(), os.Getpid(), time.Now())
	st.Goal = runstate.NewGoal("g-"+tracker.NewRunID(), goal, time.Now())
	return st, false, 0
}

// reportOutcome prints the run's ending and maps it to an exit code:
// 0 completed, 1 failed, 2 safety abort, 130 interrupted.
func reportOutcome(usage budget.Usage, runErr error, dir string) int {
	elapsed := (time.Duration(usage.ElapsedSeconds) * time.Second).String()

	var abort *runner.AbortError
	switch {
	case runErr == nil:
		fmt.Printf("\nGoal completed in %s (%d steps)\n", elapsed, usage.Steps)
		return 0
	case errors.As(runErr, &abort):
		fmt.Fprintf(os.Stderr, "\nRun aborted: %s (%d steps, %s elapsed)\n", abort.Reason, usage.Steps, elapsed)
		if abort.Reason == "killswitch" {
			fmt.Fprintf(os.Stderr, "The killswitch is sticky: rm %s to allow new runs.\n",
				filepath.Join(dir, "control", "killswitch.on"))
		}
		fmt.Fprintln(os.Stderr, "The checkpoint is intact: smithers run -resume")
		return 2
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		fmt.Fprintf(os.Stderr, "\nInterrupted after %d steps. Resume with: smithers run -resume\n", usage.Steps)
		return 130
	case errors.Is(runErr, runner.ErrGoalFailed):
		fmt.Fprintf(os.Stderr, "\nGoal failed after all attempts (%d steps, %s elapsed)\n", usage.Steps, elapsed)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "\nRun failed: %v\n", runErr)
		return 1
	}
}
