package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		printUsage()
		os.Exit(0)
	}
	if os.Args[1] == "--version" {
		fmt.Println(versionLine())
		os.Exit(0)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "init":
		os.Exit(initCmd(os.Args[2:]))
	case "status":
		os.Exit(statusCmd(os.Args[2:]))
	case "watch":
		os.Exit(watchCmd(os.Args[2:]))
	case "pause":
		os.Exit(pauseCmd(os.Args[2:]))
	case "unpause":
		os.Exit(unpauseCmd(os.Args[2:]))
	case "kill":
		os.Exit(killCmd(os.Args[2:]))
	case "version":
		fmt.Println(versionLine())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`smithers 🕴️

"Anything for you, sir."
— Waylon Smithers

Usage:
  smithers <command> [flags]

Commands:
  run          Start a supervised run toward a goal
  init         Scaffold the .smithers state directory
  status       Show the latest run status and lifetime metrics
  watch        Live progress view of a run in another terminal
  pause        Hold the run at its next step boundary
  unpause      Clear the pause flag so the run proceeds
  kill         Raise the killswitch (sticky until removed)
  version      Show the version
  help         Show this message again

Examples:
  # Fresh project
  smithers init
  smithers run -goal "book a table for two"

  # From another terminal
  smithers pause
  smithers status
  smithers unpause

  # Stop it for good
  smithers kill

Notes:
  - Kill beats budget beats pause, and nothing stops a step mid-flight.
  - Interrupted and killed runs keep their checkpoint: smithers run -resume

Run 'smithers <command> -h' for details.`)
}
