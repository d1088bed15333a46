// Package status renders in-place run progress on a terminal. It is a
// console nicety only; the durable record of a run is the checkpoint
// and status.json.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ANSI escape codes
const (
	clearLine  = "\033[2K"
	moveUp     = "\033[A"
	moveToCol0 = "\r"
	reset      = "\033[0m"
	bold       = "\033[1m"
	dim        = "\033[2m"
	green      = "\033[32m"
	yellow     = "\033[33m"
	red        = "\033[31m"
)

// Progress bar characters
const (
	barFilled = "█"
	barEmpty  = "░"
	barWidth  = 20
)

// Writer handles in-place status updates to the terminal
type Writer struct {
	w            io.Writer
	mu           sync.Mutex
	linesWritten int
}

// New creates a status writer that outputs to stdout
func New() *Writer {
	return &Writer{w: os.Stdout}
}

// NewWithWriter creates a status writer with a custom output
func NewWithWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Clear erases any previously written status lines
func (s *Writer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.linesWritten; i++ {
		fmt.Fprint(s.w, moveUp+clearLine)
	}
	fmt.Fprint(s.w, moveToCol0)
	s.linesWritten = 0
}

// Update clears previous status and writes new status
func (s *Writer) Update(lines ...string) {
	s.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range lines {
		fmt.Fprintln(s.w, line)
	}
	s.linesWritten = len(lines)
}

// progressBar generates a progress bar string
func progressBar(completed, total int) string {
	if total == 0 {
		return strings.Repeat(barEmpty, barWidth)
	}

	filled := (completed * barWidth) / total
	if filled > barWidth {
		filled = barWidth
	}

	return green + strings.Repeat(barFilled, filled) + reset +
		dim + strings.Repeat(barEmpty, barWidth-filled) + reset
}

// Step displays plan progress and the step about to run
func (s *Writer) Step(done, total int, label string) {
	bar := progressBar(done, total)
	line := fmt.Sprintf("%s %s%d/%d%s %s%s%s", bar, dim, done, total, reset, bold, label, reset)
	s.Update(line)
}

// Paused shows that the run is holding at the gate
func (s *Writer) Paused() {
	s.Update(fmt.Sprintf("%s⏸ Paused, waiting for pause.on to clear%s", yellow, reset))
}

// LoopDetected warns that recent actions look repetitive
func (s *Writer) LoopDetected(repeats int) {
	s.Update(fmt.Sprintf("%s⚡ Loop detected (x%d), replanning%s", yellow+bold, repeats, reset))
}

// CircuitOpen shows when a tool's circuit breaker is blocking a step
func (s *Writer) CircuitOpen(done, total int, tool string) {
	bar := progressBar(done, total)
	lines := []string{
		fmt.Sprintf("%s %s%d/%d%s", bar, dim, done, total, reset),
		fmt.Sprintf("%s⚡ %s circuit open%s", yellow+bold, tool, reset),
		fmt.Sprintf("%sSkipping due to recent failures%s", dim, reset),
	}
	s.Update(lines...)
}

// Complete shows completion status
func (s *Writer) Complete(total int) {
	bar := progressBar(total, total)
	lines := []string{
		fmt.Sprintf("%s %s%d/%d%s", bar, dim, total, total, reset),
		fmt.Sprintf("%s✓ Complete%s", green+bold, reset),
	}
	s.Update(lines...)
}

// Stopped shows a terminal stop and leaves it on screen
func (s *Writer) Stopped(reason string) {
	s.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()

	// Print terminal state (don't track - let it persist)
	fmt.Fprintln(s.w, fmt.Sprintf("%s✗ Run stopped%s", red+bold, reset))
	fmt.Fprintln(s.w, fmt.Sprintf("%s%s%s", dim, reason, reset))

	s.linesWritten = 0 // don't clear terminal messages
}

// Interrupted shows a Ctrl-C stop and leaves it on screen
func (s *Writer) Interrupted() {
	s.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(s.w, fmt.Sprintf("%s⏸ Interrupted, checkpoint saved for resume%s", yellow, reset))

	s.linesWritten = 0
}
