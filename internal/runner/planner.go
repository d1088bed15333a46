package runner

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chr1sbest/smithers/internal/runstate"
)

// PlanFilePlanner proposes plans from a YAML file on disk. The file is
// re-read on every proposal, so an operator can edit it between attempts
// (pause the run, fix the plan, clear the pause).
type PlanFilePlanner struct {
	Path string
}

type planFile struct {
	Goal  string         `yaml:"goal,omitempty"`
	Steps []planFileStep `yaml:"steps"`
}

type planFileStep struct {
	Tool        string `yaml:"tool"`
	Params      string `yaml:"params,omitempty"`
	Description string `yaml:"description,omitempty"`
}

func (p *PlanFilePlanner) ProposePlan(ctx context.Context, summary runstate.Summary) (*runstate.Plan, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", p.Path, err)
	}
	if len(pf.Steps) == 0 {
		return nil, fmt.Errorf("plan file %s has no steps", p.Path)
	}

	plan := &runstate.Plan{
		Steps: make([]runstate.PlanStep, 0, len(pf.Steps)),
	}
	for i, s := range pf.Steps {
		if s.Tool == "" {
			return nil, fmt.Errorf("plan file %s: step %d has no tool", p.Path, i+1)
		}
		plan.Steps = append(plan.Steps, runstate.PlanStep{
			Tool:        s.Tool,
			Params:      s.Params,
			Description: s.Description,
			Status:      runstate.StepPending,
		})
	}
	return plan, nil
}
