package dag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"phylobuild/internal/core"
	"phylobuild/internal/task"
)

// Graph is the dependency DAG of a build.
//
// Tasks are indexed by registration order. Because Add requires every parent
// to be registered first, that order is topological and edges always point
// from a lower index to a higher one. It is safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	tasks []*task.Task
	index map[core.TaskID]int
	defs  []string

	outgoing [][]int // children by index, ascending
	incoming [][]int // parents by index, ascending
	depth    []int

	descCount map[int]int
}

func NewGraph() *Graph {
	return &Graph{index: make(map[core.TaskID]int)}
}

// Add registers t and returns the task the graph holds for t's ID.
//
// Re-adding an identical definition is a no-op that returns the task
// already registered (its Deliverable flag is OR-ed in). The same ID with a
// different definition is a ConsistencyError.
func (g *Graph) Add(t *task.Task) (*task.Task, error) {
	if t == nil {
		return nil, invalidf("nil task")
	}
	if t.ID == "" {
		return nil, invalidf("task %q has no id", t.Name)
	}
	def := definitionHash(t)

	g.mu.Lock()
	defer g.mu.Unlock()

	if i, ok := g.index[t.ID]; ok {
		if g.defs[i] != def {
			return nil, &core.ConsistencyError{
				Code:    "DefinitionCollision",
				Message: fmt.Sprintf("task %s registered with two different definitions", t.ID.Short()),
			}
		}
		existing := g.tasks[i]
		if t.Deliverable {
			existing.Deliverable = true
		}
		return existing, nil
	}
	if t.State() != task.StateCreated {
		return nil, invalidf("task %s added in state %s", t.ID.Short(), t.State())
	}

	parents := make([]int, 0, len(t.ParentIDs))
	seen := make(map[int]bool, len(t.ParentIDs))
	for _, pid := range t.ParentIDs {
		pi, ok := g.index[pid]
		if !ok {
			return nil, unknownParentf("task %q lists parent %s before it is registered", t.Name, pid.Short())
		}
		if seen[pi] {
			continue
		}
		seen[pi] = true
		parents = append(parents, pi)
	}
	sort.Ints(parents)

	idx := len(g.tasks)
	depth := 0
	for _, p := range parents {
		g.outgoing[p] = append(g.outgoing[p], idx)
		if g.depth[p]+1 > depth {
			depth = g.depth[p] + 1
		}
	}

	g.tasks = append(g.tasks, t)
	g.index[t.ID] = idx
	g.defs = append(g.defs, def)
	g.incoming = append(g.incoming, parents)
	g.outgoing = append(g.outgoing, nil)
	g.depth = append(g.depth, depth)
	g.descCount = nil
	return t, nil
}

// Task implements task.Registry.
func (g *Graph) Task(id core.TaskID) (*task.Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// Tasks returns every task in registration order.
func (g *Graph) Tasks() []*task.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*task.Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// Index returns the registration index of id, or -1.
func (g *Graph) Index(id core.TaskID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Parents returns the registered parents of id in registration order.
func (g *Graph) Parents(id core.TaskID) []*task.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]*task.Task, 0, len(g.incoming[i]))
	for _, p := range g.incoming[i] {
		out = append(out, g.tasks[p])
	}
	return out
}

// Children returns the direct dependents of id in registration order.
func (g *Graph) Children(id core.TaskID) []*task.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]*task.Task, 0, len(g.outgoing[i]))
	for _, c := range g.outgoing[i] {
		out = append(out, g.tasks[c])
	}
	return out
}

// Descendants returns every task reachable from id, in registration order.
func (g *Graph) Descendants(id core.TaskID) []*task.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	idx := g.descendantIndices(i)
	out := make([]*task.Task, 0, len(idx))
	for _, d := range idx {
		out = append(out, g.tasks[d])
	}
	return out
}

// DescendantCount is len(Descendants(id)), memoized until the next Add.
func (g *Graph) DescendantCount(id core.TaskID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index[id]
	if !ok {
		return 0
	}
	if g.descCount == nil {
		g.descCount = make(map[int]int)
	}
	if n, ok := g.descCount[i]; ok {
		return n
	}
	n := len(g.descendantIndices(i))
	g.descCount[i] = n
	return n
}

// Depth is the length of the longest path from a root to id.
func (g *Graph) Depth(id core.TaskID) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

// Deliverables returns the tasks flagged as deliverable, or every sink when
// none is flagged.
func (g *Graph) Deliverables() []*task.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var flagged, sinks []*task.Task
	for i, t := range g.tasks {
		if t.Deliverable {
			flagged = append(flagged, t)
		}
		if len(g.outgoing[i]) == 0 {
			sinks = append(sinks, t)
		}
	}
	if len(flagged) > 0 {
		return flagged
	}
	return sinks
}

// Hash is a stable identity of the graph content. It does not depend on
// registration order.
func (g *Graph) Hash() string {
	g.mu.RLock()
	ids := make([]string, 0, len(g.tasks))
	for _, t := range g.tasks {
		ids = append(ids, string(t.ID))
	}
	g.mu.RUnlock()
	sort.Strings(ids)

	h := sha256.New()
	writeField := func(data []byte) {
		length := uint64(len(data))
		lengthBytes := []byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		}
		h.Write(lengthBytes)
		h.Write(data)
	}
	n := len(ids)
	writeField([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	for _, id := range ids {
		writeField([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// descendantIndices walks outgoing edges in ascending index order.
// Callers hold g.mu.
func (g *Graph) descendantIndices(start int) []int {
	visited := make([]bool, len(g.tasks))
	visited[start] = true

	hq := &intMinHeap{}
	for _, d := range g.outgoing[start] {
		hq.push(d)
	}
	var out []int
	for hq.Len() > 0 {
		u := hq.pop()
		if visited[u] {
			continue
		}
		visited[u] = true
		out = append(out, u)
		for _, v := range g.outgoing[u] {
			if !visited[v] {
				hq.push(v)
			}
		}
	}
	return out
}
