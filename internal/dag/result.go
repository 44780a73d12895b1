package dag

import (
	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/task"
)

// FailureLink is one step of a deliverable's failure chain.
type FailureLink struct {
	TaskID core.TaskID     `json:"task_id"`
	Name   string          `json:"name"`
	Kind   core.Kind       `json:"kind"`
	Class  core.ErrorClass `json:"class"`
	Reason string          `json:"reason"`
}

// Outcome is the final status of one deliverable.
type Outcome struct {
	TaskID core.TaskID `json:"task_id"`
	Name   string      `json:"name"`
	Kind   core.Kind   `json:"kind"`
	State  task.State  `json:"state"`

	// CacheHit is set when the deliverable itself came from the store.
	CacheHit bool `json:"cache_hit,omitempty"`

	// Results maps result names to store keys for a DONE deliverable.
	Results map[string]string `json:"results,omitempty"`

	// Chain runs from the deliverable to the task that failed on its own.
	Chain []FailureLink `json:"chain,omitempty"`
}

// Stats counts task and job outcomes over the run.
type Stats struct {
	Tasks     int `json:"tasks"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	CacheHits int `json:"cache_hits"`
	Jobs      int `json:"jobs"`
	JobsOK    int `json:"jobs_succeeded"`
}

// RunResult is the deterministic summary of a scheduler run.
type RunResult struct {
	GraphHash    string    `json:"graph_hash"`
	Deliverables []Outcome `json:"deliverables"`
	Stats        Stats     `json:"stats"`
}

// Succeeded reports whether every deliverable reached DONE.
func (r *RunResult) Succeeded() bool {
	for _, o := range r.Deliverables {
		if o.State != task.StateDone {
			return false
		}
	}
	return true
}

// Failed returns the deliverables that did not reach DONE.
func (r *RunResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Deliverables {
		if o.State != task.StateDone {
			out = append(out, o)
		}
	}
	return out
}

// Summarize builds a RunResult from the graph's current state.
func Summarize(g *Graph) *RunResult {
	r := &RunResult{GraphHash: g.Hash()}
	for _, t := range g.Tasks() {
		r.Stats.Tasks++
		switch t.State() {
		case task.StateDone:
			r.Stats.Done++
		case task.StateFailed:
			r.Stats.Failed++
		}
		if t.CacheHit {
			r.Stats.CacheHits++
		}
		for _, j := range t.Jobs {
			if j.Handle == "" {
				continue
			}
			r.Stats.Jobs++
			if j.Status == job.StatusSucceeded {
				r.Stats.JobsOK++
			}
		}
	}

	for _, t := range g.Deliverables() {
		o := Outcome{
			TaskID:   t.ID,
			Name:     t.Name,
			Kind:     t.Kind,
			State:    t.State(),
			CacheHit: t.CacheHit,
		}
		if t.State() == task.StateDone {
			o.Results = make(map[string]string, len(t.ResultKeys))
			for k, v := range t.ResultKeys {
				o.Results[k] = v
			}
		}
		for _, f := range failureChain(g, t) {
			link := FailureLink{TaskID: f.ID, Name: f.Name, Kind: f.Kind}
			if f.Failure != nil {
				link.Class = f.Failure.Class
				link.Reason = f.Failure.Reason
			}
			o.Chain = append(o.Chain, link)
		}
		r.Deliverables = append(r.Deliverables, o)
	}
	return r
}
