package resilience

import (
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation, tool calls flow through
	BreakerOpen                         // Failures hit threshold, tool calls blocked
	BreakerHalfOpen                     // Cooldown elapsed, one probe call allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ParseBreakerState maps a persisted state name back to a BreakerState.
func ParseBreakerState(s string) (BreakerState, bool) {
	switch s {
	case "closed":
		return BreakerClosed, true
	case "open":
		return BreakerOpen, true
	case "half_open":
		return BreakerHalfOpen, true
	default:
		return BreakerClosed, false
	}
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	Threshold int           // Consecutive failures before opening
	Cooldown  time.Duration // Time to wait before allowing a probe
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Snapshot is the persistable view of one breaker.
type Snapshot struct {
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Breaker guards a single tool. Callers ask Allow before dispatching
// and Report the outcome afterwards; the pair is linearizable, so two
// concurrent Allows during cooldown admit exactly one probe.
type Breaker struct {
	mu            sync.Mutex
	config        BreakerConfig
	state         BreakerState
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	probing       bool
	now           func() time.Time
	onStateChange func(from, to BreakerState)
}

// NewBreaker creates a new breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		config: cfg,
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow reports whether a call to the guarded tool may proceed.
// While half open only one caller gets true until that probe is
// reported.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.config.Cooldown {
			b.setState(BreakerHalfOpen)
			b.probing = true
			return true
		}
		return false

	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true

	default:
		return false
	}
}

// Report records the outcome of a call that Allow admitted.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.recordSuccess()
	} else {
		b.recordFailure()
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case BreakerClosed:
		b.failures = 0

	case BreakerHalfOpen:
		// Probe succeeded, the tool has recovered.
		b.failures = 0
		b.probing = false
		b.setState(BreakerClosed)
	}
}

func (b *Breaker) recordFailure() {
	b.lastFailure = b.now()
	b.failures++

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.Threshold {
			b.openedAt = b.now()
			b.setState(BreakerOpen)
		}

	case BreakerHalfOpen:
		// Probe failed, back to a full cooldown.
		b.probing = false
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

func (b *Breaker) setState(newState BreakerState) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		// Call in goroutine to avoid blocking
		go b.onStateChange(oldState, newState)
	}
}

// Snapshot returns the persistable view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:         b.state.String(),
		Failures:      b.failures,
		LastFailureAt: b.lastFailure,
		OpenedAt:      b.openedAt,
	}
}

// restore loads a persisted snapshot. An in-flight probe does not
// survive a restart, so a restored half-open breaker admits a fresh
// probe.
func (b *Breaker) restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := ParseBreakerState(s.State)
	b.state = state
	b.failures = s.Failures
	b.lastFailure = s.LastFailureAt
	b.openedAt = s.OpenedAt
	b.probing = false
}

// Registry manages one breaker per tool.
type Registry struct {
	mu            sync.Mutex
	breakers      map[string]*Breaker
	defaults      BreakerConfig
	now           func() time.Time
	onStateChange func(tool string, from, to BreakerState)
}

// NewRegistry creates a new registry.
func NewRegistry(defaults BreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		now:      time.Now,
	}
}

// OnStateChange sets a callback invoked whenever any breaker changes
// state. Must be set before the registry is used.
func (r *Registry) OnStateChange(fn func(tool string, from, to BreakerState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
}

// Allow reports whether the named tool may be called.
func (r *Registry) Allow(tool string) bool {
	return r.get(tool).Allow()
}

// Report records the outcome of a call for the named tool.
func (r *Registry) Report(tool string, success bool) {
	r.get(tool).Report(success)
}

// State returns the state of a specific tool's breaker. Tools that
// were never reported are closed.
func (r *Registry) State(tool string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists := r.breakers[tool]; exists {
		return b.State()
	}
	return BreakerClosed
}

// States returns the state of every known breaker.
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]BreakerState, len(r.breakers))
	for tool, b := range r.breakers {
		result[tool] = b.State()
	}
	return result
}

// Snapshot returns the persistable view of every known breaker.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]Snapshot, len(r.breakers))
	for tool, b := range r.breakers {
		result[tool] = b.Snapshot()
	}
	return result
}

// Restore loads persisted breaker snapshots, replacing any state the
// registry held for those tools.
func (r *Registry) Restore(snapshots map[string]Snapshot) {
	for tool, s := range snapshots {
		r.get(tool).restore(s)
	}
}

func (r *Registry) get(tool string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists := r.breakers[tool]; exists {
		return b
	}

	b := NewBreaker(r.defaults)
	b.now = r.now
	if r.onStateChange != nil {
		fn := r.onStateChange
		b.onStateChange = func(from, to BreakerState) {
			fn(tool, from, to)
		}
	}
	r.breakers[tool] = b
	return b
}
