package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError holds details about a policy validation failure.
type ValidationError struct {
	Field   string
	Message string
	Context string
}

func (e ValidationError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (in %s)", e.Field, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, "  - "+e.Error())
	}
	return fmt.Sprintf("validation failed with %d error(s):\n%s", len(errs), strings.Join(msgs, "\n"))
}

// HasErrors returns true if there are any validation errors.
func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

var checkpointBackends = []string{"file", "badger"}

// Validate checks a policy set for errors and returns detailed
// validation errors. All problems are reported, not just the first.
func Validate(pol *Policies) ValidationErrors {
	var errs ValidationErrors

	if pol.Budgets.MaxRunSeconds < 0 {
		errs = append(errs, ValidationError{Field: "max_run_seconds", Message: "must not be negative", Context: "budgets"})
	}
	if pol.Budgets.MaxSteps < 0 {
		errs = append(errs, ValidationError{Field: "max_steps", Message: "must not be negative", Context: "budgets"})
	}
	if pol.Budgets.MaxScreenshots < 0 {
		errs = append(errs, ValidationError{Field: "max_screenshots", Message: "must not be negative", Context: "budgets"})
	}
	if pol.Budgets.MaxRequests < 0 {
		errs = append(errs, ValidationError{Field: "max_requests", Message: "must not be negative", Context: "budgets"})
	}

	if pol.Breakers.Threshold < 1 {
		errs = append(errs, ValidationError{Field: "threshold", Message: "must be at least 1", Context: "breakers"})
	}
	errs = appendDurationErrors(errs, "cooldown", pol.Breakers.Cooldown, "breakers")

	if pol.Loops.Window < 1 {
		errs = append(errs, ValidationError{Field: "window", Message: "must be at least 1", Context: "loops"})
	}
	if pol.Loops.Threshold < 1 {
		errs = append(errs, ValidationError{Field: "threshold", Message: "must be at least 1", Context: "loops"})
	} else if pol.Loops.Window >= 1 && pol.Loops.Threshold > pol.Loops.Window {
		errs = append(errs, ValidationError{
			Field:   "threshold",
			Message: fmt.Sprintf("threshold %d can never trigger inside a window of %d", pol.Loops.Threshold, pol.Loops.Window),
			Context: "loops",
		})
	}

	errs = appendDurationErrors(errs, "beat_target", pol.Watchdog.BeatTarget, "watchdog")
	errs = appendDurationErrors(errs, "staleness", pol.Watchdog.Staleness, "watchdog")
	errs = appendDurationErrors(errs, "check_interval", pol.Watchdog.CheckInterval, "watchdog")
	if beat, stale := pol.Watchdog.GetBeatTarget(), pol.Watchdog.GetStaleness(); stale < 2*beat {
		errs = append(errs, ValidationError{
			Field:   "staleness",
			Message: fmt.Sprintf("staleness %s leaves no margin over beat target %s, want at least 2x", stale, beat),
			Context: "watchdog",
		})
	}

	errs = appendDurationErrors(errs, "poll_interval", pol.Pause.PollInterval, "pause")

	if !isKnownBackend(pol.Checkpoint.Backend) {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Message: fmt.Sprintf("unknown backend %q, known backends: %s", pol.Checkpoint.Backend, strings.Join(checkpointBackends, ", ")),
			Context: "checkpoint",
		})
	}
	if pol.Checkpoint.Keep < 1 {
		errs = append(errs, ValidationError{Field: "keep", Message: "must be at least 1", Context: "checkpoint"})
	}

	if pol.Planner.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "max_retries", Message: "must not be negative", Context: "planner"})
	}
	errs = appendDurationErrors(errs, "retry_delay", pol.Planner.RetryDelay, "planner")

	if pol.Requests.PerMinute < 0 {
		errs = append(errs, ValidationError{Field: "per_minute", Message: "must not be negative", Context: "requests"})
	}

	if pol.Escalation.LoopsBeforeAbort < 0 {
		errs = append(errs, ValidationError{Field: "loops_before_abort", Message: "must not be negative", Context: "escalation"})
	}
	if pol.Escalation.BlockedBeforeAbort < 0 {
		errs = append(errs, ValidationError{Field: "blocked_before_abort", Message: "must not be negative", Context: "escalation"})
	}

	return errs
}

func appendDurationErrors(errs ValidationErrors, field, value, context string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
			Context: context,
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
			Context: context,
		})
	}
	return errs
}

func isKnownBackend(backend string) bool {
	for _, b := range checkpointBackends {
		if b == backend {
			return true
		}
	}
	return false
}
