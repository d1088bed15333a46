// Package signals reads the external control flags that steer a run:
// kill, pause, and dry-run. Flags are plain files in a control
// directory so an operator (or another process) can flip them with
// touch and rm while the run is in flight.
package signals

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Flag identifies a single control flag.
type Flag string

const (
	FlagKill   Flag = "kill"
	FlagPause  Flag = "pause"
	FlagDryRun Flag = "dryrun"
)

// filename returns the flag file name inside the control directory.
func (f Flag) filename() string {
	switch f {
	case FlagKill:
		return "killswitch.on"
	case FlagPause:
		return "pause.on"
	case FlagDryRun:
		return "dryrun.on"
	default:
		return string(f) + ".on"
	}
}

// BypassEnv is the environment variable that disables the external
// killswitch for local development. It never affects pause, dry-run,
// or kills raised internally by the watchdog.
const BypassEnv = "SMITHERS_NO_KILLSWITCH"

// Signals is one coherent reading of all control flags.
type Signals struct {
	Killed bool
	Paused bool
	DryRun bool
}

// Reader produces signal readings. Read never fails: sources fold
// their errors into the reading, failing toward safety for the kill
// flag and toward inactive for the rest.
type Reader interface {
	Read() Signals
}

// FileSource reads flags from files in a control directory.
type FileSource struct {
	dir string
}

// NewFileSource creates a source rooted at the given control directory.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Dir returns the control directory.
func (s *FileSource) Dir() string {
	return s.dir
}

// Path returns the file path backing a flag.
func (s *FileSource) Path(flag Flag) string {
	return filepath.Join(s.dir, flag.filename())
}

// Read returns the current flag states. A kill flag that cannot be
// read counts as set. A pause or dry-run flag that cannot be read
// counts as clear.
func (s *FileSource) Read() Signals {
	killed, err := s.flagSet(FlagKill)
	if err != nil {
		killed = true
	}
	if killed && bypassed() {
		killed = false
	}

	paused, err := s.flagSet(FlagPause)
	if err != nil {
		paused = false
	}

	dryRun, err := s.flagSet(FlagDryRun)
	if err != nil {
		dryRun = false
	}

	return Signals{Killed: killed, Paused: paused, DryRun: dryRun}
}

func (s *FileSource) flagSet(flag Flag) (bool, error) {
	_, err := os.Stat(s.Path(flag))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Raise sets a flag, creating the control directory if needed.
func (s *FileSource) Raise(flag Flag) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}
	f, err := os.OpenFile(s.Path(flag), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to raise %s flag: %w", flag, err)
	}
	return f.Close()
}

// Clear removes a flag. Clearing an absent flag is not an error.
func (s *FileSource) Clear(flag Flag) error {
	err := os.Remove(s.Path(flag))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear %s flag: %w", flag, err)
	}
	return nil
}

func bypassed() bool {
	switch strings.ToLower(os.Getenv(BypassEnv)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Static is a fixed reading, useful in tests and for embedding.
type Static struct {
	Signals Signals
}

func (s Static) Read() Signals {
	return s.Signals
}
