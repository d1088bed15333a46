package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func initCmd(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		fmt.Print(`init 🕴️  Scaffold the .smithers state directory

Usage:
  smithers init [-dir <dir>] [-force]

Flags:
  -dir     State directory to create (default .smithers)
  -force   Overwrite existing policies.yaml and plan.yaml

Creates:
  <dir>/policies.yaml   safety policies (budgets, breakers, watchdog)
  <dir>/plan.yaml       example plan to edit
  <dir>/control/        flag files (killswitch.on, pause.on, dryrun.on)
  <dir>/checkpoints/    crash-safe run state
`)
	}
	dir := fs.String("dir", ".smithers", "State directory to create")
	force := fs.Bool("force", false, "Overwrite existing template files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.Usage()
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return 1
	}

	for _, sub := range []string{"control", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(*dir, sub), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", filepath.Join(*dir, sub), err)
			return 1
		}
	}

	files := []struct {
		name    string
		content string
	}{
		{"policies.yaml", defaultPoliciesTemplate},
		{"plan.yaml", defaultPlanTemplate},
	}
	for _, f := range files {
		path := filepath.Join(*dir, f.name)
		if _, err := os.Stat(path); err == nil && !*force {
			fmt.Printf("Keeping existing %s (use -force to overwrite)\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			return 1
		}
		fmt.Printf("Wrote %s\n", path)
	}

	fmt.Println("\nNext:")
	fmt.Printf("  - Edit %s with your plan\n", filepath.Join(*dir, "plan.yaml"))
	fmt.Println("  - smithers run -goal \"what you want done\"")
	return 0
}
