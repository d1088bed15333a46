// Package loopdetect spots an agent retrying the same action over and
// over by counting repeated action fingerprints inside a bounded
// window of recent history.
package loopdetect

import (
	"strings"
	"sync"
)

// Config sizes the detection window.
type Config struct {
	Window    int // recent actions remembered
	Threshold int // repeats within the window that count as a loop
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Window: 20, Threshold: 3}
}

// Observation is the result of recording one action.
type Observation struct {
	Looping bool
	Repeats int // occurrences of this fingerprint inside the window
}

// Window holds the recent fingerprints. Entries age out as new
// actions arrive, so a burst of repeats long ago does not poison the
// rest of the run.
type Window struct {
	mu        sync.Mutex
	capacity  int
	threshold int
	entries   []string
	counts    map[string]int
}

// New creates a detection window.
func New(cfg Config) *Window {
	capacity := cfg.Window
	if capacity < 1 {
		capacity = 1
	}
	threshold := cfg.Threshold
	if threshold < 1 {
		threshold = 1
	}
	return &Window{
		capacity:  capacity,
		threshold: threshold,
		entries:   make([]string, 0, capacity),
		counts:    make(map[string]int),
	}
}

// Observe records a fingerprint and reports whether it now repeats
// often enough to count as a loop. Equality is exact: normalizing
// parameters is the caller's job.
func (w *Window) Observe(fingerprint string) Observation {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.push(fingerprint)

	repeats := w.counts[fingerprint]
	return Observation{
		Looping: repeats >= w.threshold,
		Repeats: repeats,
	}
}

// Seed replays fingerprints into the window without producing
// observations, used when resuming a run from its persisted memory.
func (w *Window) Seed(fingerprints []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, fp := range fingerprints {
		w.push(fp)
	}
}

// Reset drops all recorded history.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = w.entries[:0]
	w.counts = make(map[string]int)
}

// Len returns how many actions the window currently remembers.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Capacity returns how many actions the window can hold.
func (w *Window) Capacity() int {
	return w.capacity
}

func (w *Window) push(fingerprint string) {
	if len(w.entries) == w.capacity {
		oldest := w.entries[0]
		w.entries = w.entries[1:]
		if w.counts[oldest] <= 1 {
			delete(w.counts, oldest)
		} else {
			w.counts[oldest]--
		}
	}
	w.entries = append(w.entries, fingerprint)
	w.counts[fingerprint]++
}

// Fingerprint builds the canonical fingerprint for a tool call. The
// params string must already be normalized by the caller.
func Fingerprint(tool, params string) string {
	var b strings.Builder
	b.Grow(len(tool) + len(params) + 1)
	b.WriteString(tool)
	b.WriteByte('|')
	b.WriteString(params)
	return b.String()
}
