package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/store"
)

// manifestBinding names the per-task manifest. A task is cached once its
// manifest is bound; individual result names are bound only from a manifest,
// so a crash between writes never binds a name to a payload that a later,
// non-reproducible rerun would contradict.
const manifestBinding = "task.manifest"

type manifest struct {
	TaskID  string            `json:"task_id"`
	Kind    core.Kind         `json:"kind"`
	Results map[string]string `json:"results"`
}

// Load moves the task from CREATED to LOADED and then:
//  1. If the store holds a manifest for the task ID with every required
//     result, it completes from cache (LOADED -> DONE) without jobs.
//  2. Otherwise the adapter builds jobs.
//  3. A kind with zero jobs is finished immediately.
//
// Task-local failures are recorded on the task and Load returns nil. A
// non-nil error is fatal to the run (consistency fault or scheduler bug).
func (t *Task) Load(env *Env) error {
	if err := t.transition(env, StateLoaded); err != nil {
		return err
	}
	a, err := AdapterFor(t.Kind)
	if err != nil {
		return t.failWith(env, err)
	}

	hit, err := t.restoreFromCache(env, a)
	if err != nil {
		return t.failWith(env, err)
	}
	if hit {
		t.CacheHit = true
		env.log().Debug("task cache hit", "task", t.ID.Short(), "name", t.Name)
		return t.transition(env, StateDone)
	}

	jobs, err := a.LoadJobs(env, t)
	if err != nil {
		return t.failWith(env, err)
	}
	t.Jobs = jobs
	if len(jobs) == 0 {
		return t.finish(env, a)
	}
	return nil
}

// MarkSubmitted records that every job has been handed to the backend.
func (t *Task) MarkSubmitted(env *Env) error {
	return t.transition(env, StateSubmitted)
}

// MarkRunning records that the backend has started at least one job.
func (t *Task) MarkRunning(env *Env) error {
	return t.transition(env, StateRunning)
}

// Complete finishes a task whose jobs all succeeded.
func (t *Task) Complete(env *Env) error {
	for _, j := range t.Jobs {
		if j.Status != job.StatusSucceeded {
			return fmt.Errorf("task %s: complete called with job %s in status %s", t.ID.Short(), j.ID, j.Status)
		}
	}
	a, err := AdapterFor(t.Kind)
	if err != nil {
		return t.failWith(env, err)
	}
	return t.finish(env, a)
}

// Fail moves a non-terminal task to FAILED. Failing a terminal task is a no-op.
func (t *Task) Fail(env *Env, f Failure) error {
	if t.state.Terminal() {
		return nil
	}
	t.Failure = &f
	return t.transition(env, StateFailed)
}

// FailedJob returns the first failed job, if any.
func (t *Task) FailedJob() *job.Job {
	for _, j := range t.Jobs {
		if j.Status == job.StatusFailed {
			return j
		}
	}
	return nil
}

// JobsSucceeded reports whether every job has succeeded.
func (t *Task) JobsSucceeded() bool {
	for _, j := range t.Jobs {
		if j.Status != job.StatusSucceeded {
			return false
		}
	}
	return true
}

func (t *Task) failWith(env *Env, err error) error {
	if core.IsConsistency(err) {
		return err
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return err
	}
	env.log().Warn("task failed", "task", t.ID.Short(), "name", t.Name, "class", core.Classify(err), "error", err)
	return t.Fail(env, Failure{Class: core.Classify(err), Reason: err.Error(), Err: err})
}

func (t *Task) finish(env *Env, a Adapter) error {
	results, err := a.Finish(env, t)
	if err != nil {
		return t.failWith(env, err)
	}
	required, optional := a.Outputs(t)
	for _, name := range required {
		if _, ok := results[name]; !ok {
			return t.failWith(env, &core.InputError{
				Code:    "MissingResult",
				Message: fmt.Sprintf("%s task produced no %s", t.Kind, name),
			})
		}
	}
	allowed := make(map[string]bool, len(required)+len(optional))
	for _, n := range append(append([]string(nil), required...), optional...) {
		allowed[n] = true
	}
	for name := range results {
		if !allowed[name] {
			return fmt.Errorf("task %s: adapter produced undeclared result %q", t.ID.Short(), name)
		}
	}
	if err := t.publish(env, results); err != nil {
		return t.failWith(env, err)
	}
	return t.transition(env, StateDone)
}

// publish stores every payload, then the manifest, then the name bindings.
func (t *Task) publish(env *Env, results Results) error {
	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)

	m := manifest{TaskID: string(t.ID), Kind: t.Kind, Results: make(map[string]string, len(names))}
	for _, n := range names {
		key, err := store.PutContent(env.Store, results[n])
		if err != nil {
			return fmt.Errorf("storing %s: %w", n, err)
		}
		m.Results[n] = key
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if _, err := store.Publish(env.Store, manifestBinding, string(t.ID), data); err != nil {
		return fmt.Errorf("publishing manifest: %w", err)
	}
	return t.bindResults(env, m)
}

func (t *Task) bindResults(env *Env, m manifest) error {
	names := make([]string, 0, len(m.Results))
	for n := range m.Results {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := env.Store.Bind(n, string(t.ID), m.Results[n]); err != nil {
			return fmt.Errorf("binding %s: %w", n, err)
		}
		t.ResultKeys[n] = m.Results[n]
	}
	return nil
}

// restoreFromCache reports whether a complete manifest exists for the task
// and, if so, re-binds its results.
func (t *Task) restoreFromCache(env *Env, a Adapter) (bool, error) {
	data, err := store.Resolve(env.Store, manifestBinding, string(t.ID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return false, &core.ConsistencyError{Code: "BadManifest", Message: fmt.Sprintf("task %s manifest is unreadable", t.ID.Short()), Cause: err}
	}
	if m.TaskID != string(t.ID) {
		return false, &core.ConsistencyError{Code: "ManifestMismatch", Message: fmt.Sprintf("manifest for %s names task %s", t.ID.Short(), m.TaskID)}
	}

	required, _ := a.Outputs(t)
	for _, name := range required {
		key, ok := m.Results[name]
		if !ok {
			return false, nil
		}
		has, err := env.Store.Has(key)
		if err != nil {
			return false, err
		}
		if !has {
			return false, nil
		}
	}
	if err := t.bindResults(env, m); err != nil {
		return false, err
	}
	return true, nil
}
