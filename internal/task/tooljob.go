package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
)

// inputFile is a parent result materialized into a job's working directory.
// A nil Data leaves the file out and renders its role as "".
type inputFile struct {
	Role string
	Name string
	Data []byte
}

// toolJob describes the single job a program-backed adapter creates.
type toolJob struct {
	inputs []inputFile

	// defaultOutputs maps roles to files when the tool does not name them.
	defaultOutputs map[string]string

	// required roles become the job's declared outputs.
	required []string

	// model is exposed to argument templates as ${model}.
	model string
}

// newToolJob resets the task's working directory, writes inputs into it and
// renders the tool's argument templates. Template variables:
//
//	input.<role>   absolute path of a materialized input ("" if absent)
//	output.<role>  absolute path where the tool writes a result
//	cores          the tool's core count
//	model          the model chosen upstream ("" if none)
//	prefix         "run", for tools that take an output prefix
//	workdir        the working directory
func newToolJob(env *Env, t *Task, spec toolJob) (*job.Job, error) {
	dir := env.WorkDir(t)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("resetting work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	inputVals := make(map[string]cty.Value, len(spec.inputs))
	var declaredInputs []string
	for _, in := range spec.inputs {
		if in.Data == nil {
			inputVals[in.Role] = cty.StringVal("")
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, in.Name), in.Data, 0o644); err != nil {
			return nil, fmt.Errorf("writing input %s: %w", in.Name, err)
		}
		inputVals[in.Role] = cty.StringVal(filepath.Join(dir, in.Name))
		declaredInputs = append(declaredInputs, in.Name)
	}

	outputs := make(map[string]string, len(spec.defaultOutputs)+len(t.Tool.Outputs))
	for role, name := range spec.defaultOutputs {
		outputs[role] = name
	}
	for role, name := range t.Tool.Outputs {
		outputs[role] = name
	}
	outputVals := make(map[string]cty.Value, len(outputs))
	for role, name := range outputs {
		outputVals[role] = cty.StringVal(filepath.Join(dir, name))
	}

	declared := make([]string, 0, len(spec.required))
	for _, role := range spec.required {
		name, ok := outputs[role]
		if !ok {
			return nil, &core.InputError{
				Code:    "UndeclaredOutput",
				Message: fmt.Sprintf("tool %q does not declare output role %q", t.Tool.Name, role),
			}
		}
		declared = append(declared, name)
	}
	sort.Strings(declared)

	cores := t.Tool.CoresOrDefault()
	vars := map[string]cty.Value{
		"input":   objectOrEmpty(inputVals),
		"output":  objectOrEmpty(outputVals),
		"cores":   cty.NumberIntVal(int64(cores)),
		"model":   cty.StringVal(spec.model),
		"prefix":  cty.StringVal("run"),
		"workdir": cty.StringVal(dir),
	}
	args, err := core.RenderArgs(t.Tool.Args, vars)
	if err != nil {
		return nil, err
	}

	t.outputs = outputs
	return &job.Job{
		ID:      t.ID.Short() + "-0",
		TaskID:  t.ID,
		Program: t.Tool.Program,
		Args:    args,
		WorkDir: dir,
		Inputs:  declaredInputs,
		Outputs: declared,
		Cores:   cores,
		Stdout:  t.Tool.StdoutFile(),
	}, nil
}

// readOutput reads the file for role from the task's working directory.
func readOutput(env *Env, t *Task, role string) ([]byte, error) {
	name, ok := t.outputs[role]
	if !ok {
		return nil, fmt.Errorf("task %s has no output role %q", t.ID.Short(), role)
	}
	return os.ReadFile(filepath.Join(env.WorkDir(t), name))
}

// readInput reads a materialized input back from the working directory.
func readInput(env *Env, t *Task, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(env.WorkDir(t), name))
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}
