package dag

import (
	"container/heap"
	"fmt"

	"phylobuild/internal/core"
	"phylobuild/internal/task"
)

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h *intMinHeap) push(v int) { heap.Push(h, v) }
func (h *intMinHeap) pop() int   { return heap.Pop(h).(int) }

// rootCause returns the task whose own failure caused t to fail.
func rootCause(t *task.Task) core.TaskID {
	if t.Failure != nil && t.Failure.Cause != "" {
		return t.Failure.Cause
	}
	return t.ID
}

// failDescendants marks every non-terminal descendant of failed as FAILED
// with class upstream, in registration order.
//
// The set of tasks failed is defined purely by reachability. A descendant
// that already holds submitted jobs is an invariant violation: it cannot
// have loaded before its parents were DONE.
func failDescendants(g *Graph, env *task.Env, failed *task.Task) error {
	cause := rootCause(failed)
	for _, d := range g.Descendants(failed.ID) {
		switch d.State() {
		case task.StateCreated:
			err := d.Fail(env, task.Failure{
				Class:  core.ClassUpstream,
				Reason: fmt.Sprintf("ancestor %s failed", cause.Short()),
				Cause:  cause,
			})
			if err != nil {
				return err
			}
		case task.StateDone, task.StateFailed:
		default:
			return fmt.Errorf("invariant violation: descendant %s of failed task %s is %s", d.ID.Short(), failed.ID.Short(), d.State())
		}
	}
	return nil
}

// failureChain walks from a failed task to its root cause through failed
// parents, returning the path in that order.
func failureChain(g *Graph, t *task.Task) []*task.Task {
	if t.State() != task.StateFailed {
		return nil
	}
	cause := rootCause(t)
	chain := []*task.Task{t}
	cur := t
	for cur.ID != cause {
		var next *task.Task
		for _, p := range g.Parents(cur.ID) {
			if p.State() != task.StateFailed {
				continue
			}
			if p.ID == cause || rootCause(p) == cause {
				next = p
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}
