package signals

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadNoFlags(t *testing.T) {
	s := NewFileSource(t.TempDir())

	got := s.Read()
	if got.Killed || got.Paused || got.DryRun {
		t.Errorf("expected all flags clear, got %+v", got)
	}
}

func TestRaiseAndClear(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "control"))

	if err := s.Raise(FlagKill); err != nil {
		t.Fatalf("Raise kill error: %v", err)
	}
	if err := s.Raise(FlagPause); err != nil {
		t.Fatalf("Raise pause error: %v", err)
	}

	got := s.Read()
	if !got.Killed {
		t.Error("expected Killed after raising kill flag")
	}
	if !got.Paused {
		t.Error("expected Paused after raising pause flag")
	}
	if got.DryRun {
		t.Error("expected DryRun clear")
	}

	if err := s.Clear(FlagKill); err != nil {
		t.Fatalf("Clear kill error: %v", err)
	}
	if got := s.Read(); got.Killed {
		t.Error("expected Killed clear after Clear")
	}

	// Clearing a flag that was never raised is fine.
	if err := s.Clear(FlagDryRun); err != nil {
		t.Errorf("Clear absent flag error: %v", err)
	}
}

func TestDryRunFlag(t *testing.T) {
	s := NewFileSource(t.TempDir())

	if err := s.Raise(FlagDryRun); err != nil {
		t.Fatalf("Raise dryrun error: %v", err)
	}

	got := s.Read()
	if !got.DryRun {
		t.Error("expected DryRun set")
	}
	if got.Killed || got.Paused {
		t.Errorf("expected only DryRun set, got %+v", got)
	}
}

func TestUnreadableSourceFailsSafe(t *testing.T) {
	// Route the control directory through a regular file so every
	// stat fails with something other than not-exist.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	s := NewFileSource(filepath.Join(blocker, "control"))

	got := s.Read()
	if !got.Killed {
		t.Error("expected unreadable kill flag to read as killed")
	}
	if got.Paused {
		t.Error("expected unreadable pause flag to read as not paused")
	}
	if got.DryRun {
		t.Error("expected unreadable dry-run flag to read as off")
	}
}

func TestKillBypassEnv(t *testing.T) {
	s := NewFileSource(t.TempDir())
	if err := s.Raise(FlagKill); err != nil {
		t.Fatalf("Raise kill error: %v", err)
	}

	t.Setenv(BypassEnv, "1")
	if got := s.Read(); got.Killed {
		t.Error("expected bypass to suppress the kill flag")
	}

	t.Setenv(BypassEnv, "false")
	if got := s.Read(); !got.Killed {
		t.Error("expected kill flag honored when bypass is off")
	}
}

func TestKillBypassDoesNotTouchPause(t *testing.T) {
	s := NewFileSource(t.TempDir())
	if err := s.Raise(FlagPause); err != nil {
		t.Fatalf("Raise pause error: %v", err)
	}

	t.Setenv(BypassEnv, "yes")
	if got := s.Read(); !got.Paused {
		t.Error("expected pause flag unaffected by kill bypass")
	}
}

func TestFlagFilenames(t *testing.T) {
	s := NewFileSource("/ctl")

	tests := []struct {
		flag     Flag
		expected string
	}{
		{FlagKill, "/ctl/killswitch.on"},
		{FlagPause, "/ctl/pause.on"},
		{FlagDryRun, "/ctl/dryrun.on"},
	}

	for _, tt := range tests {
		if got := s.Path(tt.flag); got != tt.expected {
			t.Errorf("Path(%s) = %q, want %q", tt.flag, got, tt.expected)
		}
	}
}

func TestStaticReader(t *testing.T) {
	r := Static{Signals: Signals{Paused: true}}
	if got := r.Read(); !got.Paused || got.Killed {
		t.Errorf("unexpected reading %+v", got)
	}
}
