package dag

import (
	"errors"
	"testing"

	"phylobuild/internal/core"
	"phylobuild/internal/task"
)

func mustTask(t *testing.T, s task.Spec) *task.Task {
	t.Helper()
	tk, err := task.New(s)
	if err != nil {
		t.Fatalf("task.New(%s): %v", s.Name, err)
	}
	return tk
}

func groupSpec(name string, targets ...string) task.Spec {
	return task.Spec{Kind: core.KindGrouping, Name: name, Partition: core.PartitionOf(targets, nil)}
}

func alignSpec(name string, parent *task.Task) task.Spec {
	return task.Spec{
		Kind:    core.KindAlignment,
		Name:    name,
		Tool:    tool(core.KindAlignment, "cat", 1),
		Parents: []core.TaskID{parent.ID},
	}
}

func tool(kind core.Kind, program string, cores int) core.ToolSpec {
	arg := "${input.sequences}"
	if kind != core.KindAlignment {
		arg = "${input.alignment}"
	}
	return core.ToolSpec{
		Name:    program + "-" + string(kind),
		Kind:    kind,
		Program: program,
		Cores:   cores,
		Args:    []core.ArgTemplate{core.MustTemplateArg("", arg)},
	}
}

func TestGraph_AddRequiresRegisteredParents(t *testing.T) {
	g := NewGraph()
	grp := mustTask(t, groupSpec("g", "A", "B"))
	a := mustTask(t, alignSpec("a", grp))

	_, err := g.Add(a)
	if !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
	if _, err := g.Add(grp); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Add(a); err != nil {
		t.Fatal(err)
	}
	if g.Len() != 2 {
		t.Fatalf("expected 2 tasks, got %d", g.Len())
	}
}

func TestGraph_AddDeduplicatesIdenticalDefinitions(t *testing.T) {
	g := NewGraph()
	first, err := g.Add(mustTask(t, groupSpec("first", "A", "B")))
	if err != nil {
		t.Fatal(err)
	}
	dupSpec := groupSpec("second", "B", "A")
	dupSpec.Deliverable = true
	got, err := g.Add(mustTask(t, dupSpec))
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Fatal("expected the registered task back")
	}
	if !first.Deliverable {
		t.Fatal("deliverable flag not merged")
	}
	if g.Len() != 1 {
		t.Fatalf("expected 1 task, got %d", g.Len())
	}
}

func TestGraph_DefinitionCollisionIsConsistencyError(t *testing.T) {
	g := NewGraph()
	a := mustTask(t, groupSpec("a", "A", "B"))
	if _, err := g.Add(a); err != nil {
		t.Fatal(err)
	}
	b := mustTask(t, groupSpec("b", "A", "C"))
	b.ID = a.ID

	_, err := g.Add(b)
	if !core.IsConsistency(err) {
		t.Fatalf("expected consistency error, got %v", err)
	}
}

func TestGraph_StructureQueries(t *testing.T) {
	g := NewGraph()
	g1, _ := g.Add(mustTask(t, groupSpec("g1", "A", "B")))
	g2, _ := g.Add(mustTask(t, groupSpec("g2", "A", "C")))
	a1, _ := g.Add(mustTask(t, alignSpec("a1", g1)))
	a2, _ := g.Add(mustTask(t, alignSpec("a2", g2)))
	m, err := g.Add(mustTask(t, task.Spec{
		Kind:    core.KindMerge,
		Name:    "m",
		Params:  core.Args{{Flag: "mode", Value: task.MergeAlignments}},
		Parents: []core.TaskID{a2.ID, a1.ID},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if d, _ := g.Depth(m.ID); d != 2 {
		t.Fatalf("merge depth = %d, want 2", d)
	}
	if n := g.DescendantCount(g1.ID); n != 2 {
		t.Fatalf("g1 descendants = %d, want 2", n)
	}
	desc := g.Descendants(g2.ID)
	if len(desc) != 2 || desc[0] != a2 || desc[1] != m {
		t.Fatalf("unexpected descendants of g2: %v", desc)
	}
	parents := g.Parents(m.ID)
	if len(parents) != 2 || parents[0] != a1 || parents[1] != a2 {
		t.Fatal("parents must be in registration order")
	}
	if children := g.Children(g1.ID); len(children) != 1 || children[0] != a1 {
		t.Fatalf("unexpected children of g1: %v", children)
	}

	sinks := g.Deliverables()
	if len(sinks) != 1 || sinks[0] != m {
		t.Fatalf("expected merge as the only sink deliverable, got %v", sinks)
	}
	a1.Deliverable = true
	if got := g.Deliverables(); len(got) != 1 || got[0] != a1 {
		t.Fatalf("flagged deliverables must win over sinks, got %v", got)
	}
}

func TestGraph_HashIndependentOfRegistrationOrder(t *testing.T) {
	build := func(swap bool) string {
		g := NewGraph()
		x := mustTask(t, groupSpec("x", "A", "B"))
		y := mustTask(t, groupSpec("y", "C", "D"))
		if swap {
			x, y = y, x
		}
		if _, err := g.Add(x); err != nil {
			t.Fatal(err)
		}
		if _, err := g.Add(y); err != nil {
			t.Fatal(err)
		}
		return g.Hash()
	}
	if build(false) != build(true) {
		t.Fatal("graph hash depends on registration order")
	}
}
