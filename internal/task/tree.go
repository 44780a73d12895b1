package task

import (
	"fmt"
	"strings"

	"phylobuild/internal/job"
	"phylobuild/internal/seqio"
)

// treeAdapter runs a tree builder on the parent alignment, passing the model
// chosen by a model-selection parent when there is one.
type treeAdapter struct{}

func (treeAdapter) Outputs(*Task) ([]string, []string) {
	return []string{ResultTree}, nil
}

func (treeAdapter) LoadJobs(env *Env, t *Task) ([]*job.Job, error) {
	inputs, err := alignmentInputs(env, t)
	if err != nil {
		return nil, err
	}
	model, err := env.OptionalParentResult(t, ResultModelName)
	if err != nil {
		return nil, err
	}
	j, err := newToolJob(env, t, toolJob{
		inputs:         inputs,
		defaultOutputs: map[string]string{"tree": t.Tool.StdoutFile()},
		required:       []string{"tree"},
		model:          strings.TrimSpace(string(model)),
	})
	if err != nil {
		return nil, err
	}
	return []*job.Job{j}, nil
}

func (treeAdapter) Finish(env *Env, t *Task) (Results, error) {
	raw, err := readOutput(env, t, "tree")
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	tree, err := seqio.NormalizeNewick(raw)
	if err != nil {
		return nil, err
	}
	return Results{ResultTree: tree}, nil
}
