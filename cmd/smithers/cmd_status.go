package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chr1sbest/smithers/internal/signals"
	"github.com/chr1sbest/smithers/internal/status"
	"github.com/chr1sbest/smithers/internal/tracker"
)

func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dir := fs.String("dir", ".smithers", "State directory")
	asJSON := fs.Bool("json", false, "Print the raw status JSON")
	fs.Parse(args)

	trk := tracker.NewWriter(*dir)
	s, err := trk.ReadStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "No status found in %s. Has a run been started here?\n", *dir)
		return 1
	}

	if *asJSON {
		data, err := json.MarshalIndent(s, "", "    ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("Run:       %s\n", s.RunID)
	if s.Goal != "" {
		fmt.Printf("Goal:      %s\n", s.Goal)
	}
	if s.Decision != "" {
		fmt.Printf("Status:    %s (last gate: %s)\n", s.Status, s.Decision)
	} else {
		fmt.Printf("Status:    %s\n", s.Status)
	}
	if s.CurrentStep != "" {
		fmt.Printf("Step:      %s\n", s.CurrentStep)
	}
	if s.PlanSteps > 0 {
		fmt.Printf("Plan:      %d/%d steps done\n", s.PlanSteps-s.PlanRemaining, s.PlanSteps)
	}
	fmt.Printf("Steps:     %d taken\n", s.StepsTaken)
	fmt.Printf("Elapsed:   %s\n", (time.Duration(s.ElapsedSeconds) * time.Second).String())
	if s.ScreenshotsTaken > 0 || s.RequestsMade > 0 {
		fmt.Printf("Usage:     %d screenshots, %d requests\n", s.ScreenshotsTaken, s.RequestsMade)
	}
	fmt.Printf("Updated:   %s ago\n", time.Since(s.Timestamp).Round(time.Second))
	if s.Status == "running" && time.Since(s.Timestamp) > time.Minute {
		fmt.Println("\nThe status file is stale; the run may have exited uncleanly.")
		fmt.Println("Check the checkpoint with: smithers run -resume")
	}

	printLifetimeMetrics(trk)
	return 0
}

func printLifetimeMetrics(trk *tracker.Writer) {
	m, err := trk.LoadMetrics()
	if err != nil || m == nil {
		return
	}
	fmt.Printf("\nLifetime:  %d runs (%d completed, %d aborted, %d interrupted), %d steps\n",
		m.RunsStarted, m.RunsCompleted, m.RunsAborted, m.RunsInterrupted, m.StepsExecuted)
	if len(m.AbortReasons) > 0 {
		fmt.Print("Aborts:    ")
		first := true
		for reason, n := range m.AbortReasons {
			if !first {
				fmt.Print(", ")
			}
			fmt.Printf("%s x%d", reason, n)
			first = false
		}
		fmt.Println()
	}
}

func watchCmd(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", ".smithers", "State directory")
	interval := fs.Duration("interval", 500*time.Millisecond, "Poll interval")
	fs.Parse(args)

	trk := tracker.NewWriter(*dir)
	disp := status.New()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Flag flips land in the status file a beat after they happen, so a
	// control-directory wake keeps the display snappy without a tight
	// poll. No control directory yet just means plain polling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wake <-chan signals.Event
	source := signals.NewFileSource(filepath.Join(*dir, "control"))
	if w, werr := signals.NewWatcher(source); werr == nil {
		if werr := w.Start(ctx); werr == nil {
			wake = w.Events()
			defer w.Stop()
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		s, err := trk.ReadStatus()
		switch {
		case err != nil:
			disp.Update("waiting for a run to start...")
		case s.Status == "completed":
			disp.Complete(s.PlanSteps)
			return 0
		case s.Status == "aborted" || s.Status == "failed":
			disp.Stopped("run " + s.Status)
			return 0
		case s.Status == "interrupted":
			disp.Interrupted()
			return 0
		case s.Decision == "pause":
			disp.Paused()
		default:
			done := s.PlanSteps - s.PlanRemaining
			label := s.CurrentStep
			if label == "" {
				label = s.Goal
			}
			disp.Step(done, s.PlanSteps, label)
		}

		select {
		case <-sigCh:
			fmt.Println()
			return 0
		case <-ticker.C:
		case <-wake:
		}
	}
}
