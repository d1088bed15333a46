package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Lock identifies the process holding the state directory.
type Lock struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
}

var ErrLockHeld = errors.New("smithers lock is held")

// AcquireLock claims exclusive use of the state directory for one run.
// A lock left behind by a dead process is taken over; a lock held by a
// live process is an error. The returned release func removes the lock.
func (w *Writer) AcquireLock(runID string) (func() error, error) {
	l := Lock{PID: os.Getpid(), StartedAt: time.Now(), RunID: runID}
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		// O_EXCL fails if the lock file already exists.
		f, err := os.OpenFile(w.LockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return w.writeLock(f, data)
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w (lock file exists)", ErrLockHeld)
		}

		b, readErr := os.ReadFile(w.LockPath)
		if readErr != nil {
			return nil, fmt.Errorf("%w (lock file exists)", ErrLockHeld)
		}
		var existing Lock
		if json.Unmarshal(b, &existing) != nil || existing.PID <= 0 {
			return nil, fmt.Errorf("%w (lock file exists)", ErrLockHeld)
		}
		if processAlive(existing.PID) {
			return nil, fmt.Errorf("%w by pid %d (run_id=%s)", ErrLockHeld, existing.PID, existing.RunID)
		}
		// Holder is dead: remove the stale lock and retry once.
		if removeErr := os.Remove(w.LockPath); removeErr != nil {
			return nil, fmt.Errorf("%w (stale lock could not be removed)", ErrLockHeld)
		}
	}
}

func (w *Writer) writeLock(f *os.File, data []byte) (func() error, error) {
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(w.LockPath)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(w.LockPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(w.LockPath)
		return nil, err
	}
	release := func() error {
		return os.Remove(w.LockPath)
	}
	return release, nil
}

func processAlive(pid int) bool {
	// On unix, signal 0 checks existence/permission.
	err := syscall.Kill(pid, 0)
	return err == nil
}
