package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chr1sbest/smithers/internal/runstate"
)

// CommandExecutor runs steps as shell commands. Params is passed to
// `sh -c` verbatim; the step's tool name is only a label here.
type CommandExecutor struct {
	// Timeout bounds a single command. Zero means five minutes.
	Timeout time.Duration
}

func (e *CommandExecutor) Execute(ctx context.Context, step runstate.PlanStep) (Observation, error) {
	if step.Params == "" {
		return Observation{}, fmt.Errorf("step %q has no command", step.Tool)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Params)
	output, err := cmd.CombinedOutput()
	obs := Observation{
		Success: err == nil,
		Output:  strings.TrimSpace(string(output)),
	}
	if err != nil {
		return obs, fmt.Errorf("command failed: %w", err)
	}
	return obs, nil
}
