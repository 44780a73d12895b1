package task

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"phylobuild/internal/core"
	"phylobuild/internal/store"
)

// Registry resolves task IDs to tasks. The dependency graph implements it.
type Registry interface {
	Task(id core.TaskID) (*Task, bool)
}

// Env is the per-run context threaded through every task call. It replaces
// process-wide caches: everything a task may touch is reachable from here.
type Env struct {
	// Store is the shared result store.
	Store store.Store

	// WorkRoot holds one private working directory per task.
	WorkRoot string

	// Tasks resolves parent IDs.
	Tasks Registry

	Logger *slog.Logger

	// OnTransition, if set, observes every state change.
	OnTransition func(t *Task, from, to State)
}

func (e *Env) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// WorkDir returns the task's private working directory.
func (e *Env) WorkDir(t *Task) string {
	id := string(t.ID)
	return filepath.Join(e.WorkRoot, "tasks", id[:2], id)
}

// Parents resolves t's parents in declaration order.
func (e *Env) Parents(t *Task) ([]*Task, error) {
	out := make([]*Task, 0, len(t.ParentIDs))
	for _, id := range t.ParentIDs {
		p, ok := e.Tasks.Task(id)
		if !ok {
			return nil, fmt.Errorf("task %s: parent %s is not registered", t.ID.Short(), id.Short())
		}
		out = append(out, p)
	}
	return out, nil
}

// ParentResult returns the named result of the first parent that published
// it. A missing result is an input error: the parent kind does not feed this
// task kind.
func (e *Env) ParentResult(t *Task, name string) (*Task, []byte, error) {
	parents, err := e.Parents(t)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range parents {
		if _, ok := p.ResultKeys[name]; !ok {
			continue
		}
		data, err := store.Resolve(e.Store, name, string(p.ID))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s of parent %s: %w", name, p.ID.Short(), err)
		}
		return p, data, nil
	}
	return nil, nil, &core.InputError{
		Code:    "MissingParentResult",
		Message: fmt.Sprintf("%s task %q has no parent providing %s", t.Kind, t.Name, name),
	}
}

// OptionalParentResult is ParentResult that returns nil data when no parent
// provides name.
func (e *Env) OptionalParentResult(t *Task, name string) ([]byte, error) {
	_, data, err := e.ParentResult(t, name)
	var ie *core.InputError
	if errors.As(err, &ie) && ie.Code == "MissingParentResult" {
		return nil, nil
	}
	return data, err
}
