package workflow

import (
	"fmt"
	"log/slog"

	"phylobuild/internal/core"
	"phylobuild/internal/dag"
	"phylobuild/internal/seqio"
	"phylobuild/internal/store"
	"phylobuild/internal/task"
)

// DefaultDataType labels merged alignment charsets when a merge block does
// not name one.
const DefaultDataType = "DNA"

// Build ingests the workflow's sequences into s and composes the task graph.
// Identical steps shared by several partitions collapse into one task.
func Build(wf *Workflow, s store.Store, logger *slog.Logger) (*dag.Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var recs []seqio.Record
	for _, path := range wf.Sequences {
		r, err := seqio.ReadFASTAFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		recs = append(recs, r...)
	}
	keys, err := task.IngestSequences(s, recs)
	if err != nil {
		return nil, err
	}
	logger.Debug("sequences ingested", "files", len(wf.Sequences), "sequences", len(keys))

	c := &composer{wf: wf, g: dag.NewGraph(), stages: make(map[string]map[string]*task.Task)}
	for _, p := range wf.Partitions {
		if err := c.partition(p, keys); err != nil {
			return nil, err
		}
	}
	for _, m := range wf.Merges {
		if err := c.merge(m); err != nil {
			return nil, err
		}
	}
	logger.Info("workflow composed",
		"workflow", wf.Path,
		"partitions", len(wf.Partitions),
		"merges", len(wf.Merges),
		"tasks", c.g.Len(),
		"graph", c.g.Hash())
	return c.g, nil
}

type composer struct {
	wf *Workflow
	g  *dag.Graph

	// stages maps partition name to tool name to the task running it.
	stages map[string]map[string]*task.Task
}

// chainState tracks what a chain has produced so far.
type chainState struct {
	owner     string
	part      core.Partition
	alignment *task.Task
	model     *task.Task
	last      *task.Task
}

func (c *composer) add(spec task.Spec) (*task.Task, error) {
	t, err := task.New(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	return c.g.Add(t)
}

func (c *composer) partition(p Partition, keys map[string]string) error {
	group, err := c.add(task.Spec{
		Kind:      core.KindGrouping,
		Name:      p.Name + "/group",
		Partition: p.Partition,
		Params:    task.GroupingParams(p.Partition, keys),
	})
	if err != nil {
		return err
	}

	st := &chainState{owner: p.Name, part: p.Partition, last: group}
	stages := map[string]*task.Task{}
	c.stages[p.Name] = stages
	for _, name := range p.Chain {
		t, err := c.step(st, name, group)
		if err != nil {
			return err
		}
		stages[name] = t
	}
	if p.Deliverable {
		st.last.Deliverable = true
	}
	return nil
}

// step adds one tool of a chain. Parents follow the data: an aligner reads
// the grouping, trimmers and model selection read the latest alignment, and
// tree builders read that alignment plus the selected model.
func (c *composer) step(st *chainState, name string, group *task.Task) (*task.Task, error) {
	tool := c.wf.Tools[name]
	spec := task.Spec{
		Kind:      tool.Kind,
		Name:      st.owner + "/" + name,
		Partition: st.part,
		Tool:      tool,
	}
	switch tool.Kind {
	case core.KindAlignment:
		spec.Parents = []core.TaskID{group.ID}
	case core.KindTrim, core.KindModelSelection:
		spec.Parents = []core.TaskID{st.alignment.ID}
	case core.KindTreeBuild:
		spec.Parents = []core.TaskID{st.alignment.ID}
		if st.model != nil {
			spec.Parents = append(spec.Parents, st.model.ID)
		}
	default:
		return nil, fmt.Errorf("%s: tool %q has kind %s which cannot appear in a chain", st.owner, name, tool.Kind)
	}

	t, err := c.add(spec)
	if err != nil {
		return nil, err
	}
	switch tool.Kind {
	case core.KindAlignment, core.KindTrim:
		st.alignment = t
		st.model = nil
	case core.KindModelSelection:
		st.model = t
	}
	st.last = t
	return t, nil
}

func (c *composer) merge(m Merge) error {
	var parents []core.TaskID
	params := core.Args{
		{Flag: "mode", Value: m.Mode},
	}
	if m.Mode == task.MergeAlignments {
		dt := m.DataType
		if dt == "" {
			dt = DefaultDataType
		}
		params = append(params, core.Arg{Flag: "datatype", Value: dt})
	}

	seen := map[core.TaskID]bool{}
	for _, from := range m.From {
		src, err := c.mergeSource(m, from)
		if err != nil {
			return err
		}
		if seen[src.ID] {
			continue
		}
		seen[src.ID] = true
		parents = append(parents, src.ID)
		params = append(params, core.Arg{Flag: task.CharsetParam(src.ID), Value: from})
	}

	mt, err := c.add(task.Spec{
		Kind:    core.KindMerge,
		Name:    m.Name,
		Params:  params,
		Parents: parents,
	})
	if err != nil {
		return err
	}

	st := &chainState{owner: m.Name, last: mt}
	if m.Mode == task.MergeAlignments {
		st.alignment = mt
	}
	for _, name := range m.Then {
		if _, err := c.step(st, name, nil); err != nil {
			return err
		}
	}
	if m.Deliverable {
		st.last.Deliverable = true
	}
	return nil
}

// mergeSource picks the task of partition from whose output m consumes.
func (c *composer) mergeSource(m Merge, from string) (*task.Task, error) {
	stages := c.stages[from]
	if m.Stage != "" {
		t, ok := stages[m.Stage]
		if !ok {
			return nil, fmt.Errorf("merge %s: partition %q does not run %q", m.Name, from, m.Stage)
		}
		if !feedsMerge(m.Mode, t.Kind) {
			return nil, fmt.Errorf("merge %s: stage %q (%s) cannot feed a %s merge", m.Name, m.Stage, t.Kind, m.Mode)
		}
		return t, nil
	}

	var pick *task.Task
	for _, name := range c.partitionChain(from) {
		if t := stages[name]; t != nil && feedsMerge(m.Mode, t.Kind) {
			pick = t
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("merge %s: partition %q has no stage producing %s input", m.Name, from, m.Mode)
	}
	return pick, nil
}

func (c *composer) partitionChain(name string) []string {
	for _, p := range c.wf.Partitions {
		if p.Name == name {
			return p.Chain
		}
	}
	return nil
}

func feedsMerge(mode string, k core.Kind) bool {
	if mode == task.MergeTrees {
		return k == core.KindTreeBuild
	}
	return k == core.KindAlignment || k == core.KindTrim
}
