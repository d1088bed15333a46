package config

import "time"

// Policies is the safety policy set loaded from YAML. Every knob the
// supervisor consults at runtime lives here so a run can be reproduced
// from its policy file.
type Policies struct {
	Budgets    BudgetPolicy     `yaml:"budgets"`
	Breakers   BreakerPolicy    `yaml:"breakers"`
	Loops      LoopPolicy       `yaml:"loops"`
	Watchdog   WatchdogPolicy   `yaml:"watchdog"`
	Pause      PausePolicy      `yaml:"pause"`
	Checkpoint CheckpointPolicy `yaml:"checkpoint"`
	Planner    PlannerPolicy    `yaml:"planner"`
	Requests   RequestPolicy    `yaml:"requests"`
	Escalation EscalationPolicy `yaml:"escalation"`
}

// BudgetPolicy caps cumulative resource use for a single run.
// A zero value disables that particular cap.
type BudgetPolicy struct {
	MaxRunSeconds  int `yaml:"max_run_seconds"`
	MaxSteps       int `yaml:"max_steps"`
	MaxScreenshots int `yaml:"max_screenshots"`
	MaxRequests    int `yaml:"max_requests"`
}

// BreakerPolicy configures the per-tool circuit breakers.
type BreakerPolicy struct {
	Threshold int    `yaml:"threshold"`
	Cooldown  string `yaml:"cooldown"` // e.g. "30s"
}

// GetCooldown parses and returns the breaker cooldown duration.
func (b BreakerPolicy) GetCooldown() time.Duration {
	if b.Cooldown == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(b.Cooldown)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoopPolicy configures repeated-action detection.
type LoopPolicy struct {
	Window    int `yaml:"window"`    // how many recent actions to remember
	Threshold int `yaml:"threshold"` // repeats within the window that count as a loop
}

// WatchdogPolicy configures liveness monitoring of the executor.
type WatchdogPolicy struct {
	BeatTarget    string `yaml:"beat_target"`    // expected heartbeat cadence
	Staleness     string `yaml:"staleness"`      // age past which the executor is presumed hung
	CheckInterval string `yaml:"check_interval"` // how often the monitor looks
}

// GetBeatTarget parses and returns the expected heartbeat cadence.
func (w WatchdogPolicy) GetBeatTarget() time.Duration {
	if w.BeatTarget == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(w.BeatTarget)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetStaleness parses and returns the staleness threshold.
func (w WatchdogPolicy) GetStaleness() time.Duration {
	if w.Staleness == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(w.Staleness)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetCheckInterval parses and returns the monitor tick interval.
func (w WatchdogPolicy) GetCheckInterval() time.Duration {
	if w.CheckInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(w.CheckInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// PausePolicy configures how the run loop waits while paused.
type PausePolicy struct {
	PollInterval string `yaml:"poll_interval"`
}

// GetPollInterval parses and returns the pause poll interval.
func (p PausePolicy) GetPollInterval() time.Duration {
	if p.PollInterval == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(p.PollInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// CheckpointPolicy configures durable run state storage.
type CheckpointPolicy struct {
	Backend string `yaml:"backend"` // "file" or "badger"
	Keep    int    `yaml:"keep"`    // historical checkpoints retained (file backend)
}

// PlannerPolicy configures retries around planner calls.
type PlannerPolicy struct {
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// GetRetryDelay parses and returns the initial planner retry delay.
func (p PlannerPolicy) GetRetryDelay() time.Duration {
	if p.RetryDelay == "" {
		return time.Second
	}
	d, err := time.ParseDuration(p.RetryDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// RequestPolicy paces outbound tool dispatch. Zero disables pacing.
type RequestPolicy struct {
	PerMinute int `yaml:"per_minute"`
}

// EscalationPolicy decides when advisory signals become aborts.
// Zero for BlockedBeforeAbort means blocked steps are skipped rather
// than ever failing the run.
type EscalationPolicy struct {
	LoopsBeforeAbort   int `yaml:"loops_before_abort"`
	BlockedBeforeAbort int `yaml:"blocked_before_abort"`
}

// Defaults returns the policy set used when no file is present.
func Defaults() *Policies {
	return &Policies{
		Budgets: BudgetPolicy{
			MaxRunSeconds:  1200,
			MaxSteps:       200,
			MaxScreenshots: 300,
			MaxRequests:    100,
		},
		Breakers: BreakerPolicy{
			Threshold: 5,
			Cooldown:  "30s",
		},
		Loops: LoopPolicy{
			Window:    20,
			Threshold: 3,
		},
		Watchdog: WatchdogPolicy{
			BeatTarget:    "2s",
			Staleness:     "10s",
			CheckInterval: "1s",
		},
		Pause: PausePolicy{
			PollInterval: "500ms",
		},
		Checkpoint: CheckpointPolicy{
			Backend: "file",
			Keep:    5,
		},
		Planner: PlannerPolicy{
			MaxRetries: 2,
			RetryDelay: "1s",
		},
		Requests: RequestPolicy{
			PerMinute: 0,
		},
		Escalation: EscalationPolicy{
			LoopsBeforeAbort:   3,
			BlockedBeforeAbort: 0,
		},
	}
}
