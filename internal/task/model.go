package task

import (
	"fmt"
	"regexp"
	"strings"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/seqio"
)

// DefaultModelPattern extracts the model from an IQ-TREE style report.
const DefaultModelPattern = `Best-fit model:\s*(\S+)`

// modelAdapter runs a model-selection program and extracts the chosen model
// from its report. If the tool declares a "tree" output the program's point
// estimate tree is published as well.
type modelAdapter struct{}

func (modelAdapter) Outputs(*Task) ([]string, []string) {
	return []string{ResultModelName, ResultModelTable}, []string{ResultTree}
}

func (modelAdapter) LoadJobs(env *Env, t *Task) ([]*job.Job, error) {
	if _, err := modelPattern(t); err != nil {
		return nil, err
	}
	inputs, err := alignmentInputs(env, t)
	if err != nil {
		return nil, err
	}
	j, err := newToolJob(env, t, toolJob{
		inputs:         inputs,
		defaultOutputs: map[string]string{"report": t.Tool.StdoutFile()},
		required:       []string{"report"},
	})
	if err != nil {
		return nil, err
	}
	return []*job.Job{j}, nil
}

func (modelAdapter) Finish(env *Env, t *Task) (Results, error) {
	report, err := readOutput(env, t, "report")
	if err != nil {
		return nil, fmt.Errorf("reading model report: %w", err)
	}
	re, err := modelPattern(t)
	if err != nil {
		return nil, err
	}
	m := re.FindSubmatch(report)
	if m == nil || len(strings.TrimSpace(string(m[1]))) == 0 {
		return nil, &core.InputError{
			Code:    "NoModel",
			Message: fmt.Sprintf("report does not match %q", re.String()),
		}
	}

	out := Results{
		ResultModelName:  []byte(strings.TrimSpace(string(m[1]))),
		ResultModelTable: seqio.NewReportNormalizer().Normalize(report),
	}
	if _, ok := t.outputs["tree"]; ok {
		raw, err := readOutput(env, t, "tree")
		if err == nil {
			tree, err := seqio.NormalizeNewick(raw)
			if err != nil {
				return nil, fmt.Errorf("model tree: %w", err)
			}
			out[ResultTree] = tree
		} else {
			env.log().Debug("model program wrote no tree", "task", t.ID.Short(), "error", err)
		}
	}
	return out, nil
}

func modelPattern(t *Task) (*regexp.Regexp, error) {
	src := t.Tool.Option("model_pattern", DefaultModelPattern)
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, &core.InputError{Code: "BadModelPattern", Message: err.Error()}
	}
	if re.NumSubexp() < 1 {
		return nil, &core.InputError{Code: "BadModelPattern", Message: fmt.Sprintf("pattern %q has no capture group", src)}
	}
	return re, nil
}
