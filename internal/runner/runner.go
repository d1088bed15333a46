// Package runner drives the execution loop: propose a plan, then for each
// step ask the supervisor's gate for a go/no-go, dispatch the step to an
// executor, and report the outcome back. The heartbeat watchdog runs beside
// the loop in the same errgroup, and every terminal path funnels through a
// final checkpoint.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chr1sbest/smithers/internal/config"
	"github.com/chr1sbest/smithers/internal/logger"
	"github.com/chr1sbest/smithers/internal/loopdetect"
	"github.com/chr1sbest/smithers/internal/resilience"
	"github.com/chr1sbest/smithers/internal/runstate"
	"github.com/chr1sbest/smithers/internal/signals"
	"github.com/chr1sbest/smithers/internal/status"
	"github.com/chr1sbest/smithers/internal/supervisor"
	"github.com/chr1sbest/smithers/internal/tracker"
	"github.com/chr1sbest/smithers/internal/watchdog"
)

// Observation is what an executor saw while performing one step.
type Observation struct {
	Success     bool
	Output      string
	Screenshots int
	Requests    int
}

// Executor performs one plan step against the outside world. A returned
// error counts as a failed step; it is recorded, not retried here.
type Executor interface {
	Execute(ctx context.Context, step runstate.PlanStep) (Observation, error)
}

// Planner proposes a plan toward the current goal from a state summary.
type Planner interface {
	ProposePlan(ctx context.Context, summary runstate.Summary) (*runstate.Plan, error)
}

// AbortError carries a terminal safety stop out of the loop.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "run aborted: " + e.Reason
}

// ErrGoalFailed reports that the plan failed without tripping a safety
// stop. The goal may be retried with a fresh plan.
var ErrGoalFailed = errors.New("goal failed")

// planVerdict is how one plan execution ended.
type planVerdict int

const (
	planCompleted planVerdict = iota
	planReplan
	planFailed
)

// Config wires a runner.
type Config struct {
	Supervisor *supervisor.Supervisor
	Planner    Planner
	Executor   Executor
	Monitor    *watchdog.Monitor
	Policies   config.Policies
	Logger     logger.Logger

	// MaxAttempts bounds goal attempts (plan, execute, replan on failure).
	// Zero means a single attempt.
	MaxAttempts int

	// Status, when set, keeps status.json current for `smithers status`.
	Status *tracker.Writer

	// Display, when set, renders live progress on the terminal.
	Display *status.Writer

	// Wake, when set, lets a pause wait return early when a control flag
	// changes instead of sleeping out the full poll interval.
	Wake <-chan signals.Event

	// RecentEntries sizes the memory tail handed to the planner.
	RecentEntries int
}

// Runner owns the execution side of a run. The watchdog is the only other
// goroutine; they share nothing but the heartbeat and the kill flag.
type Runner struct {
	sup      *supervisor.Supervisor
	planner  Planner
	executor Executor
	monitor  *watchdog.Monitor
	policies config.Policies
	log      logger.Logger

	maxAttempts int
	status      *tracker.Writer
	display     *status.Writer
	wake        <-chan signals.Event
	recent      int
	pausePoll   time.Duration
	limiter     *rate.Limiter
}

func New(cfg Config) *Runner {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	recent := cfg.RecentEntries
	if recent < 1 {
		recent = 10
	}

	var limiter *rate.Limiter
	if pm := cfg.Policies.Requests.PerMinute; pm > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(pm)), 1)
	}

	return &Runner{
		sup:         cfg.Supervisor,
		planner:     cfg.Planner,
		executor:    cfg.Executor,
		monitor:     cfg.Monitor,
		policies:    cfg.Policies,
		log:         log,
		maxAttempts: attempts,
		status:      cfg.Status,
		display:     cfg.Display,
		wake:        cfg.Wake,
		recent:      recent,
		pausePoll:   cfg.Policies.Pause.GetPollInterval(),
		limiter:     limiter,
	}
}

// Run drives the goal to completion under supervision. The watchdog runs
// alongside the loop; once the loop exits for any reason the whole group
// winds down. Run finalizes the checkpoint for every terminal outcome:
// nil (goal completed), *AbortError (safety stop), ErrGoalFailed (attempts
// exhausted), or the context error on interruption.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return r.monitor.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return r.drive(gctx)
	})
	err := g.Wait()

	ferr := r.finalize(err)
	r.writeStatus("")
	return ferr
}

func (r *Runner) finalize(err error) error {
	var abort *AbortError
	switch {
	case err == nil:
		if ferr := r.sup.Finalize(runstate.RunCompleted, "goal completed"); ferr != nil {
			r.log.Error("final checkpoint failed", logger.F("error", ferr))
		}
		if r.display != nil {
			r.display.Complete(r.planTotal())
		}
		return nil
	case errors.As(err, &abort):
		if ferr := r.sup.Finalize(runstate.RunAborted, abort.Reason); ferr != nil {
			r.log.Error("final checkpoint failed", logger.F("error", ferr))
		}
		if r.display != nil {
			r.display.Stopped(abort.Reason)
		}
	case errors.Is(err, ErrGoalFailed):
		if ferr := r.sup.Finalize(runstate.RunFailed, "goal failed after all attempts"); ferr != nil {
			r.log.Error("final checkpoint failed", logger.F("error", ferr))
		}
		if r.display != nil {
			r.display.Stopped("goal failed after all attempts")
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Best effort: persist the in-flight step so a resume can pick
		// the plan back up.
		if ferr := r.sup.Finalize(runstate.RunInterrupted, "interrupted"); ferr != nil {
			r.log.Error("final checkpoint failed", logger.F("error", ferr))
		}
		if r.display != nil {
			r.display.Interrupted()
		}
	default:
		if ferr := r.sup.Finalize(runstate.RunFailed, err.Error()); ferr != nil {
			r.log.Error("final checkpoint failed", logger.F("error", ferr))
		}
		if r.display != nil {
			r.display.Stopped(err.Error())
		}
	}
	return err
}

func (r *Runner) planTotal() int {
	if plan := r.sup.State().Plan; plan != nil {
		return len(plan.Steps)
	}
	return 0
}

// drive runs goal attempts until one completes, a safety stop fires, or
// the attempt budget is spent. Failed attempts are retried after a short
// delay; safety aborts are never retried.
func (r *Runner) drive(ctx context.Context) error {
	st := r.sup.State()
	retryDelay := r.policies.Planner.GetRetryDelay()
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.attemptGoal(ctx, attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrGoalFailed) {
			return err
		}
		r.log.Warn("goal attempt failed",
			logger.F("attempt", attempt),
			logger.F("max_attempts", r.maxAttempts),
		)
		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			r.sup.Beat()
		}
	}
	if st.Goal != nil {
		st.Goal.Status = runstate.GoalFailed
	}
	return ErrGoalFailed
}

// attemptGoal executes one plan cycle: reuse a resumable plan if the state
// carries one, otherwise ask the planner, then run steps until the plan
// completes, fails, or loop detection forces a replan.
func (r *Runner) attemptGoal(ctx context.Context, attempt int) error {
	guard := &loopGuard{blocked: make(map[string]int)}

	plan := r.resumablePlan()
	if plan != nil {
		r.log.Info("resuming existing plan",
			logger.F("plan_id", plan.ID),
			logger.F("remaining", plan.Remaining()),
		)
	}

	for {
		if plan == nil {
			// Planning sits behind the gate too: a killed or paused run
			// must not spend a planner call.
			if _, err := r.gateWait(ctx); err != nil {
				return err
			}
			var err error
			plan, err = r.proposePlan(ctx, attempt)
			if err != nil {
				return err
			}
		}

		verdict, err := r.executePlan(ctx, plan, guard)
		if err != nil {
			return err
		}
		switch verdict {
		case planCompleted:
			st := r.sup.State()
			if st.Goal != nil {
				st.Goal.Status = runstate.GoalCompleted
			}
			r.log.Info("plan completed", logger.F("plan_id", plan.ID))
			return nil
		case planReplan:
			plan = nil
		case planFailed:
			return ErrGoalFailed
		}
	}
}

// resumablePlan returns the persisted plan when it still has work and its
// current step did not already fail. A step left "executing" by an
// interrupted run is re-dispatched.
func (r *Runner) resumablePlan() *runstate.Plan {
	plan := r.sup.State().Plan
	if plan.Exhausted() {
		return nil
	}
	step, ok := plan.Current()
	if !ok || step.Status == runstate.StepFailed {
		return nil
	}
	return plan
}

// loopGuard tracks how often loop detection and open breakers have been
// acted on, so repeated unresolved signals escalate to an abort per policy.
type loopGuard struct {
	handledRepeats int
	actions        int
	blocked        map[string]int
}

// executePlan walks the plan one gated step at a time.
func (r *Runner) executePlan(ctx context.Context, plan *runstate.Plan, guard *loopGuard) (planVerdict, error) {
	for {
		decision, err := r.gateWait(ctx)
		if err != nil {
			return 0, err
		}

		// Loop detection is advisory: first force replans, abort only
		// after the configured number of unresolved episodes.
		if decision.Looping && decision.LoopRepeats > guard.handledRepeats {
			guard.handledRepeats = decision.LoopRepeats
			guard.actions++
			if limit := r.policies.Escalation.LoopsBeforeAbort; limit > 0 && guard.actions >= limit {
				return 0, &AbortError{Reason: "loops"}
			}
			r.log.Warn("loop detected, forcing a replan",
				logger.F("repeats", decision.LoopRepeats),
				logger.F("episode", guard.actions),
			)
			if r.display != nil {
				r.display.LoopDetected(decision.LoopRepeats)
			}
			if err := r.sup.Note("supervisor", runstate.KindNote,
				fmt.Sprintf("loop detected (x%d), replanning", decision.LoopRepeats)); err != nil {
				return 0, &AbortError{Reason: err.Error()}
			}
			return planReplan, nil
		}
		if !decision.Looping {
			guard.handledRepeats = 0
			guard.actions = 0
		}

		step, ok := plan.Current()
		if !ok {
			return planCompleted, nil
		}

		if !r.sup.AllowTool(step.Tool) {
			step.Status = runstate.StepSkipped
			guard.blocked[step.Tool]++
			r.log.Warn("tool blocked by circuit breaker, skipping step",
				logger.F("tool", step.Tool),
				logger.F("skips", guard.blocked[step.Tool]),
			)
			if r.display != nil {
				r.display.CircuitOpen(plan.Cursor, len(plan.Steps), step.Tool)
			}
			if limit := r.policies.Escalation.BlockedBeforeAbort; limit > 0 && guard.blocked[step.Tool] >= limit {
				return 0, &AbortError{Reason: "breaker:" + step.Tool}
			}
			if err := r.sup.Note("supervisor", runstate.KindNote, "skipped "+step.Tool+": circuit open"); err != nil {
				return 0, &AbortError{Reason: err.Error()}
			}
			plan.Advance()
			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}

		if r.display != nil {
			r.display.Step(plan.Cursor, len(plan.Steps), stepLabel(*step))
		}
		step.Status = runstate.StepExecuting
		obs, execErr := r.execute(ctx, *step, decision.DryRun)
		if ctx.Err() != nil {
			// Interrupted mid-step: leave the step marked executing so
			// a resume re-dispatches it.
			return 0, ctx.Err()
		}

		success := execErr == nil && obs.Success
		if success {
			step.Status = runstate.StepDone
			plan.Advance()
		} else {
			step.Status = runstate.StepFailed
		}

		outcome := supervisor.Outcome{
			Tool:        step.Tool,
			Success:     success,
			Fingerprint: loopdetect.Fingerprint(step.Tool, step.Params),
			Summary:     stepSummary(*step, obs, execErr),
			Screenshots: obs.Screenshots,
			Requests:    obs.Requests,
		}
		if err := r.sup.Report(outcome); err != nil {
			return 0, &AbortError{Reason: err.Error()}
		}
		r.writeStatus(decision.Kind.String())

		if !success {
			r.log.Warn("step failed",
				logger.F("tool", step.Tool),
				logger.F("error", execErr),
			)
			return planFailed, nil
		}
	}
}

func (r *Runner) execute(ctx context.Context, step runstate.PlanStep, dryRun bool) (Observation, error) {
	if dryRun {
		r.log.Info("dry run, not executing",
			logger.F("tool", step.Tool),
			logger.F("params", step.Params),
		)
		return Observation{Success: true, Output: "dry run"}, nil
	}
	return r.executor.Execute(ctx, step)
}

// gateWait evaluates the gate and blocks through pauses, beating the
// heartbeat on every poll so a paused run does not look hung. Kill and
// budget stops win over pause on every poll.
func (r *Runner) gateWait(ctx context.Context) (supervisor.Decision, error) {
	paused := false
	for {
		decision := r.sup.Gate()
		switch decision.Kind {
		case supervisor.DecisionAbort:
			r.log.Warn("gate stopped the run", logger.F("reason", decision.Reason))
			return decision, &AbortError{Reason: decision.Reason}
		case supervisor.DecisionProceed:
			if paused {
				r.log.Info("pause cleared, resuming")
			}
			r.log.Debug("gate cleared",
				logger.F("dry_run", decision.DryRun),
				logger.F("looping", decision.Looping),
			)
			return decision, nil
		}

		if !paused {
			paused = true
			r.log.Info("paused, waiting for the pause flag to clear")
			if r.display != nil {
				r.display.Paused()
			}
			r.writeStatus(decision.Kind.String())
		}
		r.sup.Beat()

		select {
		case <-ctx.Done():
			return decision, ctx.Err()
		case <-time.After(r.pausePoll):
		case <-r.wake:
		}
	}
}

// proposePlan asks the planner for a plan, retrying transient failures per
// policy, then installs it on the run state and checkpoints it.
func (r *Runner) proposePlan(ctx context.Context, attempt int) (*runstate.Plan, error) {
	summary := r.sup.Summarize(r.recent)

	retryCfg := resilience.RetryConfig{
		MaxRetries: r.policies.Planner.MaxRetries,
		InitDelay:  r.policies.Planner.GetRetryDelay(),
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}

	var plan *runstate.Plan
	err := resilience.RetryWithCallback(ctx, retryCfg, func(ctx context.Context) error {
		p, perr := r.planner.ProposePlan(ctx, summary)
		if perr != nil {
			return perr
		}
		if p == nil || len(p.Steps) == 0 {
			return resilience.NewPermanentError(errors.New("planner returned an empty plan"))
		}
		plan = p
		return nil
	}, func(retry int, err error, nextDelay time.Duration) {
		r.sup.Beat()
		r.log.Warn("planner call failed, retrying",
			logger.F("retry", retry),
			logger.F("error", err),
			logger.F("next_delay", nextDelay),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("propose plan: %w", err)
	}

	if plan.ID == "" {
		plan.ID = "plan-" + tracker.NewRunID()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	for i := range plan.Steps {
		if plan.Steps[i].Status == "" {
			plan.Steps[i].Status = runstate.StepPending
		}
	}

	st := r.sup.State()
	if st.Goal != nil {
		plan.GoalID = st.Goal.ID
		st.Goal.Status = runstate.GoalActive
	}
	st.Plan = plan

	r.log.Info("plan proposed",
		logger.F("plan_id", plan.ID),
		logger.F("steps", len(plan.Steps)),
		logger.F("attempt", attempt),
	)
	if err := r.sup.Note("planner", runstate.KindPlan,
		fmt.Sprintf("proposed plan %s with %d steps", plan.ID, len(plan.Steps))); err != nil {
		return nil, &AbortError{Reason: err.Error()}
	}
	return plan, nil
}

// writeStatus refreshes status.json. Best effort: the checkpoint is the
// durable record, this file only feeds `smithers status` and `watch`.
func (r *Runner) writeStatus(decision string) {
	if r.status == nil {
		return
	}
	st := r.sup.State()
	usage := r.sup.Usage()

	s := tracker.Status{
		Timestamp:           time.Now(),
		RunID:               st.RunID,
		Status:              string(st.Status),
		Decision:            decision,
		StepsTaken:          usage.Steps,
		ScreenshotsTaken:    usage.Screenshots,
		RequestsMade:        usage.Requests,
		ElapsedSeconds:      usage.ElapsedSeconds,
		HeartbeatAgeSeconds: r.monitor.HeartbeatAge().Seconds(),
	}
	if st.Goal != nil {
		s.Goal = st.Goal.Description
	}
	if st.Plan != nil {
		s.PlanSteps = len(st.Plan.Steps)
		s.PlanRemaining = st.Plan.Remaining()
		if step, ok := st.Plan.Current(); ok {
			s.CurrentStep = stepLabel(*step)
		}
	}
	_ = r.status.WriteStatus(s)
}

func stepLabel(step runstate.PlanStep) string {
	if step.Description != "" {
		return step.Description
	}
	if step.Params != "" {
		return step.Tool + " " + step.Params
	}
	return step.Tool
}

// stepSummary renders the memory-log line for a completed step.
func stepSummary(step runstate.PlanStep, obs Observation, execErr error) string {
	label := stepLabel(step)
	switch {
	case execErr != nil:
		return fmt.Sprintf("%s failed: %v", label, execErr)
	case !obs.Success:
		if out := firstLine(obs.Output); out != "" {
			return fmt.Sprintf("%s failed: %s", label, out)
		}
		return label + " failed"
	case obs.Output != "":
		return fmt.Sprintf("%s: %s", label, firstLine(obs.Output))
	default:
		return label + " ok"
	}
}

// firstLine trims output to a single short line for the memory log.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 240
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
