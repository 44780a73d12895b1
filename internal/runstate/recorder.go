package runstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phylobuild/internal/dag"
	"phylobuild/internal/task"
	"phylobuild/internal/trace"
)

// Recorder writes the record of one run: Begin when the graph is built,
// Finish when the scheduler returns.
type Recorder struct {
	Store *Store

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	run Run
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Begin allocates a run ID, links the previous run and persists the record
// with status running. A graph whose latest attempt did not succeed is
// recorded as a resume.
func (r *Recorder) Begin(graphHash, workflow string) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	run := Run{
		RunID:     uuid.NewString(),
		GraphHash: graphHash,
		Workflow:  workflow,
		StartTime: r.now(),
		Mode:      ModeFresh,
		Status:    StatusRunning,
	}
	prev, ok, err := r.Store.Latest()
	if err != nil {
		return Run{}, fmt.Errorf("reading previous runs: %w", err)
	}
	if ok {
		id := prev.RunID
		run.PreviousRunID = &id
		if prev.GraphHash == graphHash && prev.Status != StatusSucceeded {
			run.Mode = ModeResume
		}
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	r.run = run
	return run, nil
}

// Finish records the outcome of the run started by Begin. runErr is the
// scheduler's error, if any; rt may be nil.
func (r *Recorder) Finish(res *dag.RunResult, tasks []*task.Task, rt *trace.RunTrace, runErr error) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if r.run.RunID == "" {
		return Run{}, errors.New("Finish called before Begin")
	}
	run := r.run
	end := r.now()
	run.EndTime = &end

	switch {
	case runErr != nil:
		run.Status = StatusAborted
		run.Error = runErr.Error()
	case res != nil && res.Succeeded():
		run.Status = StatusSucceeded
	default:
		run.Status = StatusFailed
	}
	if res != nil {
		run.Tasks = res.Stats.Tasks
		run.Done = res.Stats.Done
		run.Failed = res.Stats.Failed
		run.CacheHits = res.Stats.CacheHits
		run.Jobs = res.Stats.Jobs
	}

	var failures []TaskFailure
	for _, t := range tasks {
		if t.State() != task.StateFailed || t.Failure == nil {
			continue
		}
		f := TaskFailure{
			TaskID: string(t.ID),
			Name:   t.Name,
			Kind:   t.Kind,
			Class:  t.Failure.Class,
			Reason: t.Failure.Reason,
		}
		if t.Failure.Cause != "" {
			c := string(t.Failure.Cause)
			f.Cause = &c
		}
		failures = append(failures, f)
	}
	if err := r.Store.SaveFailures(run.RunID, failures); err != nil {
		return Run{}, err
	}

	if rt != nil && len(rt.Events) > 0 {
		canonical, err := rt.CanonicalJSON()
		if err != nil {
			return Run{}, fmt.Errorf("encoding trace: %w", err)
		}
		if err := r.Store.SaveTrace(run.RunID, canonical); err != nil {
			return Run{}, err
		}
		run.TraceHash = trace.ComputeTraceHash(canonical)
	}

	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	r.run = run
	return run, nil
}
