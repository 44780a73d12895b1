// Package runstate persists a record of every build run under
// <work>/.phylobuild/runs/<run-id>/.
package runstate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"phylobuild/internal/core"
)

type Mode string

const (
	// ModeFresh is a run with no earlier attempt at the same graph.
	ModeFresh Mode = "fresh"

	// ModeResume repeats a graph whose previous attempt did not succeed;
	// finished tasks are served from the store.
	ModeResume Mode = "resume"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Run is the persistent metadata of one build attempt.
type Run struct {
	RunID         string     `json:"run_id"`
	GraphHash     string     `json:"graph_hash"`
	Workflow      string     `json:"workflow"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	Mode          Mode       `json:"mode"`
	Status        Status     `json:"status"`
	PreviousRunID *string    `json:"previous_run_id"`

	Tasks     int `json:"tasks"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	CacheHits int `json:"cache_hits"`
	Jobs      int `json:"jobs"`

	// TraceHash identifies the transition sequence; equal hashes mean the
	// scheduler took identical decisions.
	TraceHash string `json:"trace_hash,omitempty"`

	// Error is set when the run was aborted.
	Error string `json:"error,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ModeFresh, ModeResume:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusAborted:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Status != StatusRunning && r.EndTime == nil {
		errs = append(errs, errors.New("end_time is required once the run has finished"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	for _, n := range []int{r.Tasks, r.Done, r.Failed, r.CacheHits, r.Jobs} {
		if n < 0 {
			errs = append(errs, errors.New("counts must be >= 0"))
			break
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// TaskFailure is one failed task of a run.
type TaskFailure struct {
	TaskID string          `json:"task_id"`
	Name   string          `json:"name"`
	Kind   core.Kind       `json:"kind"`
	Class  core.ErrorClass `json:"class"`
	Reason string          `json:"reason"`
	Cause  *string         `json:"cause,omitempty"`
}

func (f TaskFailure) Validate() error {
	var errs []error
	if strings.TrimSpace(f.TaskID) == "" {
		errs = append(errs, errors.New("task_id is required"))
	}
	switch f.Class {
	case core.ClassInput, core.ClassExecution, core.ClassConsistency, core.ClassResource,
		core.ClassUpstream, core.ClassCancelled, core.ClassInternal:
	default:
		errs = append(errs, fmt.Errorf("invalid class %q", f.Class))
	}
	if strings.TrimSpace(f.Reason) == "" {
		errs = append(errs, errors.New("reason is required"))
	}
	if f.Class == core.ClassUpstream && f.Cause == nil {
		errs = append(errs, errors.New("cause is required for upstream failures"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
