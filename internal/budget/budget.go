// Package budget tracks cumulative resource use for a run and decides
// when a cap has been hit.
package budget

import (
	"sync"
	"time"
)

// Counter names one budgeted resource.
type Counter string

const (
	CounterTime        Counter = "time"
	CounterSteps       Counter = "steps"
	CounterScreenshots Counter = "screenshots"
	CounterRequests    Counter = "requests"
)

// checkOrder fixes which cap wins when several are exceeded at once.
var checkOrder = []Counter{CounterTime, CounterSteps, CounterScreenshots, CounterRequests}

// Limits caps each counter. Zero disables that cap.
type Limits struct {
	MaxRunSeconds  int
	MaxSteps       int
	MaxScreenshots int
	MaxRequests    int
}

// Usage is a point-in-time snapshot of consumption.
type Usage struct {
	ElapsedSeconds int `json:"elapsed_seconds"`
	Steps          int `json:"steps"`
	Screenshots    int `json:"screenshots"`
	Requests       int `json:"requests"`
}

// Result reports whether any cap is hit. When OK is false, Exceeded
// names the first cap in check order that was reached.
type Result struct {
	OK       bool
	Exceeded Counter
	Used     int
	Limit    int
}

// Tracker accumulates usage. Time accrues from the moment the tracker
// is created (or restored); the other counters grow only through
// Record. A counter at or past its limit is exceeded: the action that
// consumed the last unit completes, the next check stops the run.
type Tracker struct {
	mu        sync.Mutex
	limits    Limits
	startedAt time.Time

	steps       int
	screenshots int
	requests    int

	now func() time.Time
}

// NewTracker creates a tracker that starts accruing time immediately.
func NewTracker(limits Limits) *Tracker {
	t := &Tracker{limits: limits, now: time.Now}
	t.startedAt = t.now()
	return t
}

// Record adds delta to a counter. The time counter is derived and
// ignores Record. Negative deltas are clamped to zero.
func (t *Tracker) Record(c Counter, delta int) {
	if delta <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch c {
	case CounterSteps:
		t.steps += delta
	case CounterScreenshots:
		t.screenshots += delta
	case CounterRequests:
		t.requests += delta
	}
}

// Check evaluates every cap in fixed order and reports the first one
// reached. Reaching a cap exactly counts as exceeded.
func (t *Tracker) Check() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	usage := t.usageLocked()
	for _, c := range checkOrder {
		used, limit := t.pick(usage, c)
		if limit > 0 && used >= limit {
			return Result{OK: false, Exceeded: c, Used: used, Limit: limit}
		}
	}
	return Result{OK: true}
}

func (t *Tracker) pick(u Usage, c Counter) (used, limit int) {
	switch c {
	case CounterTime:
		return u.ElapsedSeconds, t.limits.MaxRunSeconds
	case CounterSteps:
		return u.Steps, t.limits.MaxSteps
	case CounterScreenshots:
		return u.Screenshots, t.limits.MaxScreenshots
	case CounterRequests:
		return u.Requests, t.limits.MaxRequests
	default:
		return 0, 0
	}
}

// Usage returns a snapshot of current consumption.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usageLocked()
}

func (t *Tracker) usageLocked() Usage {
	elapsed := int(t.now().Sub(t.startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return Usage{
		ElapsedSeconds: elapsed,
		Steps:          t.steps,
		Screenshots:    t.screenshots,
		Requests:       t.requests,
	}
}

// Restore preloads consumption from a previous run segment, backdating
// the start so already-spent wall clock time keeps counting against
// the cap.
func (t *Tracker) Restore(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.steps = u.Steps
	t.screenshots = u.Screenshots
	t.requests = u.Requests
	t.startedAt = t.now().Add(-time.Duration(u.ElapsedSeconds) * time.Second)
}

// Limits returns the configured caps.
func (t *Tracker) Limits() Limits {
	return t.limits
}
