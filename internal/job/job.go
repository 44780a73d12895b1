// Package job runs single external-program invocations on an execution
// backend and decides whether each one succeeded.
//
// A job succeeds only when the program exits zero AND every declared output
// exists in its working directory. Jobs never write outside that directory.
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"phylobuild/internal/core"
)

// Status is the lifecycle position of a job.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s is Succeeded or Failed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Handle identifies a submitted job within its backend.
type Handle string

// Job is one external-program invocation belonging to a task.
type Job struct {
	// ID is unique within a run: "<task id prefix>-<index>".
	ID string

	// TaskID is the owning task.
	TaskID core.TaskID

	// Program is the executable.
	Program string

	// Args is the ordered argument list.
	Args core.Args

	// WorkDir is the task-private working directory.
	WorkDir string

	// Inputs are declared input files, relative to WorkDir.
	Inputs []string

	// Outputs are declared output files, relative to WorkDir.
	Outputs []string

	// Cores is the number of cores the job occupies while submitted.
	Cores int

	// Stdout is the file (relative to WorkDir) receiving standard output.
	Stdout string

	Status   Status
	Handle   Handle
	ExitCode int

	// Err is the failure reason once Status is StatusFailed.
	Err error

	// SubmitAttempts counts submissions rejected with a transient error.
	SubmitAttempts int
}

// Command returns program and arguments as one argv slice.
func (j *Job) Command() []string {
	return append([]string{j.Program}, j.Args.Argv()...)
}

// Path resolves a file name relative to the job's working directory.
func (j *Job) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(j.WorkDir, name)
}

// StdoutPath returns the absolute stdout capture path.
func (j *Job) StdoutPath() string {
	name := j.Stdout
	if name == "" {
		name = core.DefaultStdout
	}
	return j.Path(name)
}

// StderrPath returns the absolute stderr capture path.
func (j *Job) StderrPath() string {
	return j.Path("stderr.log")
}

// Prepare creates the working directory and checks declared inputs exist.
func (j *Job) Prepare() error {
	if j.Program == "" {
		return &core.InputError{Code: "NoProgram", Message: fmt.Sprintf("job %s has no program", j.ID)}
	}
	if err := os.MkdirAll(j.WorkDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir for job %s: %w", j.ID, err)
	}
	for _, in := range j.Inputs {
		if _, err := os.Stat(j.Path(in)); err != nil {
			return &core.InputError{
				Code:    "MissingInput",
				Message: fmt.Sprintf("job %s: declared input %s is missing", j.ID, in),
				Cause:   err,
			}
		}
	}
	return nil
}

// Observe applies a backend result. Status only moves forward; a terminal
// job ignores later observations.
func (j *Job) Observe(r Result) {
	if j.Status.Terminal() || r.Status < j.Status {
		return
	}
	j.Status = r.Status
	j.ExitCode = r.ExitCode
	if r.Status == StatusFailed {
		j.Err = r.Err
	}
}

// Fail marks the job failed with err.
func (j *Job) Fail(err error) {
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusFailed
	j.Err = err
}

// CheckOutputs returns an ExecutionError naming every declared output that
// does not exist as a regular file.
func CheckOutputs(j *Job) error {
	var missing []string
	for _, out := range j.Outputs {
		info, err := os.Stat(j.Path(out))
		if err != nil || info.IsDir() {
			missing = append(missing, out)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &core.ExecutionError{
		Program:  j.Program,
		ExitCode: j.ExitCode,
		Message:  fmt.Sprintf("declared outputs missing: %v", missing),
	}
}

// completion turns an exit code into a terminal Result, applying the
// declared-output check to zero exits.
func completion(j *Job, exitCode int) Result {
	if exitCode != 0 {
		return Result{
			Status:   StatusFailed,
			ExitCode: exitCode,
			Err: &core.ExecutionError{
				Program:  j.Program,
				ExitCode: exitCode,
				Message:  fmt.Sprintf("exited with status %d (stderr: %s)", exitCode, j.StderrPath()),
			},
		}
	}
	j.ExitCode = 0
	if err := CheckOutputs(j); err != nil {
		return Result{Status: StatusFailed, ExitCode: 0, Err: err}
	}
	return Result{Status: StatusSucceeded}
}
