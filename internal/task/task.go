// Package task implements the typed units of work the scheduler drives.
//
// A Task carries a content-addressed identity, a lifecycle state, the jobs
// it created and the store keys it published. Per-kind behavior lives in an
// Adapter; the Task itself owns the state machine and the cache protocol.
package task

import (
	"fmt"
	"sort"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
)

// Spec is everything a composer supplies to create a task.
type Spec struct {
	Kind      core.Kind
	Name      string
	Partition core.Partition
	Tool      core.ToolSpec
	Params    core.Args
	Parents   []core.TaskID

	// Deliverable marks a task whose outcome is reported to the user.
	Deliverable bool
}

// Failure records why a task failed.
type Failure struct {
	Class  core.ErrorClass `json:"class"`
	Reason string          `json:"reason"`

	// Cause is the ancestor whose failure cascaded here; empty when the
	// task failed on its own.
	Cause core.TaskID `json:"cause,omitempty"`

	Err error `json:"-"`
}

// Task is one scheduled unit of work.
type Task struct {
	ID          core.TaskID
	Kind        core.Kind
	Name        string
	Partition   core.Partition
	Tool        core.ToolSpec
	Params      core.Args
	ParentIDs   []core.TaskID
	Deliverable bool

	Jobs       []*job.Job
	ResultKeys map[string]string
	Failure    *Failure
	CacheHit   bool

	state State

	// outputs maps output roles to files in the working directory.
	outputs map[string]string
}

// New validates s and builds a CREATED task whose ID is computed from its
// kind, scope, tool fingerprint, parameters and parents.
func New(s Spec) (*Task, error) {
	if _, err := AdapterFor(s.Kind); err != nil {
		return nil, err
	}
	if s.Kind.RunsJobs() {
		if err := s.Tool.Validate(); err != nil {
			return nil, err
		}
	}
	if s.Kind == core.KindGrouping && s.Partition.IsZero() {
		return nil, &core.InputError{Code: "NoPartition", Message: "grouping task needs a partition"}
	}
	if s.Kind != core.KindGrouping && len(s.Parents) == 0 {
		return nil, &core.InputError{Code: "NoParents", Message: fmt.Sprintf("%s task %q has no parents", s.Kind, s.Name)}
	}

	parents := append([]core.TaskID(nil), s.Parents...)
	t := &Task{
		Kind:        s.Kind,
		Name:        s.Name,
		Partition:   s.Partition,
		Tool:        s.Tool,
		Params:      append(core.Args(nil), s.Params...),
		ParentIDs:   parents,
		Deliverable: s.Deliverable,
		ResultKeys:  make(map[string]string),
		state:       StateCreated,
	}
	t.ID = core.NewTaskHasher().ComputeHash(t.hashInput())
	if t.Name == "" {
		t.Name = fmt.Sprintf("%s/%s", t.Kind, t.ID.Short())
	}
	return t, nil
}

func (t *Task) hashInput() core.HashInput {
	in := core.HashInput{
		Kind:    t.Kind,
		Params:  t.Params,
		Parents: t.ParentIDs,
	}
	if !t.Partition.IsZero() {
		in.ScopeID = t.Partition.CladeID()
	}
	if t.Kind.RunsJobs() {
		in.Tool = t.Tool.Fingerprint()
	}
	return in
}

// State returns the current lifecycle state.
func (t *Task) State() State { return t.state }

// Param returns the value of a kind-specific parameter.
func (t *Task) Param(flag string) string {
	v, _ := t.Params.Get(flag)
	return v
}

// SortedParents returns ParentIDs sorted, the order used wherever output
// must not depend on declaration order.
func (t *Task) SortedParents() []core.TaskID {
	out := append([]core.TaskID(nil), t.ParentIDs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CoresRequired is the largest core requirement among the task's jobs.
func (t *Task) CoresRequired() int {
	n := 0
	for _, j := range t.Jobs {
		if j.Cores > n {
			n = j.Cores
		}
	}
	return n
}

func (t *Task) transition(env *Env, to State) error {
	from := t.state
	if !isAllowedTransition(from, to) {
		return &TransitionError{TaskID: string(t.ID), From: from, To: to}
	}
	t.state = to
	if env != nil && env.OnTransition != nil {
		env.OnTransition(t, from, to)
	}
	return nil
}
