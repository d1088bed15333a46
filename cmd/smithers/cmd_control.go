package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chr1sbest/smithers/internal/signals"
)

func controlSource(args []string, name string) *signals.FileSource {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	dir := fs.String("dir", ".smithers", "State directory")
	fs.Parse(args)
	return signals.NewFileSource(filepath.Join(*dir, "control"))
}

func pauseCmd(args []string) int {
	source := controlSource(args, "pause")
	if err := source.Raise(signals.FlagPause); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("Pause raised. The run will hold at its next step boundary.")
	fmt.Println("Clear it with: smithers unpause")
	return 0
}

func unpauseCmd(args []string) int {
	source := controlSource(args, "unpause")
	if err := source.Clear(signals.FlagPause); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("Pause cleared.")
	return 0
}

func killCmd(args []string) int {
	source := controlSource(args, "kill")
	if err := source.Raise(signals.FlagKill); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("Killswitch raised. The run will abort at its next step boundary.")
	fmt.Printf("It is sticky: rm %s to allow new runs.\n", source.Path(signals.FlagKill))
	return 0
}
