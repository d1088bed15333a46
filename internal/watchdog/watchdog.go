// Package watchdog watches the executor's heartbeat from a separate
// goroutine and raises an internal kill when the executor goes quiet.
// The kill is cooperative: the run loop observes it at the next step
// boundary, nothing is ever terminated forcibly.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chr1sbest/smithers/internal/logger"
)

// Config tunes the monitor.
type Config struct {
	BeatTarget    time.Duration // cadence the executor aims for
	Staleness     time.Duration // heartbeat age that counts as hung
	CheckInterval time.Duration // how often the monitor evaluates
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BeatTarget:    2 * time.Second,
		Staleness:     10 * time.Second,
		CheckInterval: time.Second,
	}
}

// Monitor tracks heartbeat freshness. Beat and the read methods are
// safe to call from any goroutine and never block on each other, so a
// slow checkpoint write can never stall the watchdog.
type Monitor struct {
	cfg Config
	log logger.Logger

	heartbeat atomic.Int64 // unix nanoseconds of the last beat
	killed    atomic.Bool
	escalated atomic.Bool

	mu     sync.Mutex
	reason string

	now func() time.Time
}

// New creates a monitor whose heartbeat starts fresh.
func New(cfg Config, log logger.Logger) *Monitor {
	m := &Monitor{cfg: cfg, log: log, now: time.Now}
	m.heartbeat.Store(m.now().UnixNano())
	return m
}

// Beat records executor liveness.
func (m *Monitor) Beat() {
	m.heartbeat.Store(m.now().UnixNano())
}

// HeartbeatAt returns the time of the last beat.
func (m *Monitor) HeartbeatAt() time.Time {
	return time.Unix(0, m.heartbeat.Load())
}

// HeartbeatAge returns how stale the heartbeat currently is.
func (m *Monitor) HeartbeatAge() time.Duration {
	return m.now().Sub(m.HeartbeatAt())
}

// KillRequested reports whether the monitor has escalated. Once set
// it stays set for the life of the run.
func (m *Monitor) KillRequested() bool {
	return m.killed.Load()
}

// KillReason describes why the monitor escalated, empty if it never
// did.
func (m *Monitor) KillReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Run evaluates the heartbeat on a ticker until ctx is done. It
// always returns nil: a stale heartbeat raises the kill flag for the
// run loop to observe rather than erroring out of the group.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	age := m.HeartbeatAge()
	if age < m.cfg.Staleness {
		// Fresh again: arm escalation for the next stale episode.
		m.escalated.Store(false)
		return
	}

	// Escalate once per stale episode, not once per tick.
	if !m.escalated.CompareAndSwap(false, true) {
		return
	}

	reason := fmt.Sprintf("heartbeat stale for %s (threshold %s)", age.Round(time.Millisecond), m.cfg.Staleness)
	m.mu.Lock()
	if m.reason == "" {
		m.reason = reason
	}
	m.mu.Unlock()

	m.killed.Store(true)
	m.log.Error("watchdog escalation, requesting kill",
		logger.F("heartbeat_age", age),
		logger.F("staleness", m.cfg.Staleness),
	)
}
