package task

import (
	"fmt"
	"sort"
	"sync"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
)

// Logical result names. A task publishes each result under (name, task ID).
const (
	ResultSequences       = "sequences.fasta"
	ResultAlignmentFASTA  = "alignment.fasta"
	ResultAlignmentPHYLIP = "alignment.phylip"
	ResultPartitions      = "alignment.partitions"
	ResultModelName       = "model.name"
	ResultModelTable      = "model.table"
	ResultTree            = "tree.newick"
	ResultTrees           = "trees.newick"

	// SequenceBinding names the raw input sequences, bound by sequence ID.
	SequenceBinding = "sequence"
)

// Results maps logical result names to payloads.
type Results map[string][]byte

// Adapter implements one task kind.
//
// LoadJobs runs after every parent is DONE and may read parent results from
// the store. Finish runs after every job succeeded (or immediately for
// job-less kinds) and returns the payloads to publish. Both may return a
// task-local error; the task then fails without affecting unrelated tasks.
type Adapter interface {
	// Outputs lists the result names a finished task must publish, and the
	// ones it may publish.
	Outputs(t *Task) (required, optional []string)

	// LoadJobs builds the task's jobs. Zero jobs is valid.
	LoadJobs(env *Env, t *Task) ([]*job.Job, error)

	// Finish parses and validates job output.
	Finish(env *Env, t *Task) (Results, error)
}

var (
	adaptersMu sync.RWMutex
	adapters   = map[core.Kind]Adapter{}
)

// Register installs the adapter for kind, replacing any existing one.
func Register(kind core.Kind, a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[kind] = a
}

// AdapterFor returns the adapter registered for kind.
func AdapterFor(kind core.Kind) (Adapter, error) {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	a, ok := adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %q", kind)
	}
	return a, nil
}

// RegisteredKinds returns every kind with an adapter, sorted.
func RegisteredKinds() []core.Kind {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	out := make([]core.Kind, 0, len(adapters))
	for k := range adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	Register(core.KindGrouping, groupingAdapter{})
	Register(core.KindAlignment, alignmentAdapter{kind: core.KindAlignment})
	Register(core.KindTrim, alignmentAdapter{kind: core.KindTrim})
	Register(core.KindModelSelection, modelAdapter{})
	Register(core.KindTreeBuild, treeAdapter{})
	Register(core.KindMerge, mergeAdapter{})
}
