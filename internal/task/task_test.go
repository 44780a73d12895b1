package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/seqio"
	"phylobuild/internal/store"
)

type registry map[core.TaskID]*Task

func (r registry) Task(id core.TaskID) (*Task, bool) {
	t, ok := r[id]
	return t, ok
}

type harness struct {
	env   *Env
	tasks registry
	keys  map[string]string
	log   []string
}

func newHarness(t *testing.T, seqs map[string]string) *harness {
	t.Helper()
	h := &harness{tasks: registry{}}
	h.env = &Env{
		Store:    store.NewMemoryStore(),
		WorkRoot: t.TempDir(),
		Tasks:    h.tasks,
		OnTransition: func(tk *Task, from, to State) {
			h.log = append(h.log, tk.Name+":"+string(from)+"->"+string(to))
		},
	}
	var recs []seqio.Record
	for id, s := range seqs {
		recs = append(recs, seqio.Record{ID: id, Seq: []byte(s)})
	}
	keys, err := IngestSequences(h.env.Store, recs)
	if err != nil {
		t.Fatalf("IngestSequences: %v", err)
	}
	h.keys = keys
	return h
}

func (h *harness) add(t *testing.T, s Spec) *Task {
	t.Helper()
	tk, err := New(s)
	if err != nil {
		t.Fatalf("New(%s): %v", s.Name, err)
	}
	h.tasks[tk.ID] = tk
	return tk
}

func (h *harness) grouping(t *testing.T, targets, outgroup []string) *Task {
	p := core.PartitionOf(targets, outgroup)
	return h.add(t, Spec{Kind: core.KindGrouping, Name: "group", Partition: p, Params: GroupingParams(p, h.keys)})
}

// runJobs simulates a backend: each job's stdout receives output and the job
// succeeds.
func (h *harness) runJobs(t *testing.T, tk *Task, outputs map[string]string) {
	t.Helper()
	if tk.State() != StateLoaded {
		t.Fatalf("%s: expected LOADED, got %s", tk.Name, tk.State())
	}
	for _, j := range tk.Jobs {
		for name, content := range outputs {
			if err := os.WriteFile(filepath.Join(j.WorkDir, name), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		j.Observe(job.Result{Status: job.StatusRunning})
		j.Observe(job.Result{Status: job.StatusSucceeded})
	}
	if err := tk.MarkSubmitted(h.env); err != nil {
		t.Fatal(err)
	}
	if err := tk.MarkRunning(h.env); err != nil {
		t.Fatal(err)
	}
	if err := tk.Complete(h.env); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func catTool(kind core.Kind) core.ToolSpec {
	return core.ToolSpec{
		Name:    "cat-" + string(kind),
		Kind:    kind,
		Program: "/bin/cat",
		Args:    []core.ArgTemplate{core.MustTemplateArg("", "${input.sequences}")},
	}
}

func TestTransitions(t *testing.T) {
	allowed := [][2]State{
		{StateCreated, StateLoaded},
		{StateLoaded, StateSubmitted},
		{StateLoaded, StateDone},
		{StateSubmitted, StateRunning},
		{StateRunning, StateDone},
		{StateCreated, StateFailed},
		{StateRunning, StateFailed},
	}
	for _, tr := range allowed {
		if !isAllowedTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}
	disallowed := [][2]State{
		{StateCreated, StateDone},
		{StateCreated, StateSubmitted},
		{StateSubmitted, StateDone},
		{StateDone, StateFailed},
		{StateFailed, StateDone},
		{StateRunning, StateLoaded},
	}
	for _, tr := range disallowed {
		if isAllowedTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be disallowed", tr[0], tr[1])
		}
	}
}

// TestNew_IdentityIgnoresNameAndDeliverable verifies equal work gets one ID.
func TestNew_IdentityIgnoresNameAndDeliverable(t *testing.T) {
	p := core.PartitionOf([]string{"A", "B"}, nil)
	a, err := New(Spec{Kind: core.KindGrouping, Name: "left", Partition: p})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Spec{Kind: core.KindGrouping, Name: "right", Partition: p, Deliverable: true})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatal("name or deliverable flag changed the task id")
	}

	c, _ := New(Spec{Kind: core.KindGrouping, Partition: p, Params: core.Args{{Flag: "A", Value: "k1"}}})
	if c.ID == a.ID {
		t.Fatal("sequence content keys did not change the task id")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Spec{Kind: core.KindGrouping}); err == nil {
		t.Error("expected grouping without partition to fail")
	}
	if _, err := New(Spec{Kind: core.KindAlignment, Tool: catTool(core.KindAlignment)}); err == nil {
		t.Error("expected alignment without parents to fail")
	}
	if _, err := New(Spec{Kind: core.KindTreeBuild, Parents: []core.TaskID{"x"}, Tool: core.ToolSpec{Name: "t", Kind: core.KindTreeBuild}}); err == nil {
		t.Error("expected tool without program to fail")
	}
	if _, err := New(Spec{Kind: "bogus"}); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

func TestGrouping_EmitsMembers(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "ACG", "C": "AAAA"})
	g := h.grouping(t, []string{"A", "B"}, []string{"C"})

	if err := g.Load(h.env); err != nil {
		t.Fatal(err)
	}
	if g.State() != StateDone {
		t.Fatalf("expected DONE, got %s (%v)", g.State(), g.Failure)
	}
	data, err := store.Resolve(h.env.Store, ResultSequences, string(g.ID))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != ">A\nACGT\n>B\nACG\n>C\nAAAA\n" {
		t.Fatalf("unexpected group fasta %q", data)
	}
}

// TestGrouping_OverlapFailsTask verifies the partition check fails only the task.
func TestGrouping_OverlapFailsTask(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "ACGT"})
	g := h.grouping(t, []string{"A", "B"}, []string{"B"})

	if err := g.Load(h.env); err != nil {
		t.Fatalf("task-local failure must not be returned: %v", err)
	}
	if g.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", g.State())
	}
	if g.Failure.Class != core.ClassInput {
		t.Fatalf("expected input failure, got %s", g.Failure.Class)
	}
}

func TestGrouping_UnknownSequence(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT"})
	g := h.grouping(t, []string{"A", "Z"}, nil)
	_ = g.Load(h.env)
	if g.State() != StateFailed || !strings.Contains(g.Failure.Reason, "Z") {
		t.Fatalf("expected failure naming Z, got %s %+v", g.State(), g.Failure)
	}
}

func TestAlignment_PublishesBothEncodings(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "AC"})
	g := h.grouping(t, []string{"A", "B"}, nil)
	if err := g.Load(h.env); err != nil {
		t.Fatal(err)
	}

	a := h.add(t, Spec{Kind: core.KindAlignment, Name: "align", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g.ID}})
	if err := a.Load(h.env); err != nil {
		t.Fatal(err)
	}
	if len(a.Jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(a.Jobs))
	}
	j := a.Jobs[0]
	if got := j.Command(); len(got) != 2 || got[0] != "/bin/cat" || !strings.HasSuffix(got[1], "input.fasta") {
		t.Fatalf("unexpected command %v", got)
	}
	if len(j.Outputs) != 1 || j.Outputs[0] != core.DefaultStdout {
		t.Fatalf("expected stdout as declared output, got %v", j.Outputs)
	}

	h.runJobs(t, a, map[string]string{core.DefaultStdout: ">B\nAC--\n>A\nACGT\n"})
	if a.State() != StateDone {
		t.Fatalf("expected DONE, got %s (%+v)", a.State(), a.Failure)
	}
	for _, name := range []string{ResultAlignmentFASTA, ResultAlignmentPHYLIP} {
		if _, err := h.env.Store.Lookup(name, string(a.ID)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	fasta, _ := store.Resolve(h.env.Store, ResultAlignmentFASTA, string(a.ID))
	if string(fasta) != ">A\nACGT\n>B\nAC--\n" {
		t.Fatalf("alignment not canonical: %q", fasta)
	}
}

func TestAlignment_UnequalLengthFails(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "AC"})
	g := h.grouping(t, []string{"A", "B"}, nil)
	_ = g.Load(h.env)
	a := h.add(t, Spec{Kind: core.KindAlignment, Name: "align", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g.ID}})
	_ = a.Load(h.env)

	h.runJobs(t, a, map[string]string{core.DefaultStdout: ">A\nACGT\n>B\nAC\n"})
	if a.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", a.State())
	}
	if a.Failure.Class != core.ClassInput || !strings.Contains(a.Failure.Reason, "UnequalLength") {
		t.Fatalf("unexpected failure %+v", a.Failure)
	}
}

func TestAlignment_RenamedSequencesFail(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "ACGT"})
	g := h.grouping(t, []string{"A", "B"}, nil)
	_ = g.Load(h.env)
	a := h.add(t, Spec{Kind: core.KindAlignment, Name: "align", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g.ID}})
	_ = a.Load(h.env)
	h.runJobs(t, a, map[string]string{core.DefaultStdout: ">A\nACGT\n>X\nACGT\n"})
	if a.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", a.State())
	}
}

// TestLoad_CacheHitSkipsJobs verifies a repeated task completes from the store.
func TestLoad_CacheHitSkipsJobs(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "ACGT"})
	g := h.grouping(t, []string{"A", "B"}, nil)
	_ = g.Load(h.env)
	spec := Spec{Kind: core.KindAlignment, Name: "align", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g.ID}}
	a := h.add(t, spec)
	_ = a.Load(h.env)
	h.runJobs(t, a, map[string]string{core.DefaultStdout: ">A\nACGT\n>B\nACGT\n"})

	again, err := New(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := again.Load(h.env); err != nil {
		t.Fatal(err)
	}
	if again.State() != StateDone || !again.CacheHit || len(again.Jobs) != 0 {
		t.Fatalf("expected cache hit, got state=%s hit=%v jobs=%d", again.State(), again.CacheHit, len(again.Jobs))
	}
	if again.ResultKeys[ResultAlignmentPHYLIP] != a.ResultKeys[ResultAlignmentPHYLIP] {
		t.Fatal("cache hit restored different keys")
	}
}

func alignedParent(t *testing.T, h *harness) *Task {
	t.Helper()
	g := h.grouping(t, []string{"A", "B", "C"}, nil)
	_ = g.Load(h.env)
	a := h.add(t, Spec{Kind: core.KindAlignment, Name: "align", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g.ID}})
	_ = a.Load(h.env)
	h.runJobs(t, a, map[string]string{core.DefaultStdout: ">A\nACGT\n>B\nACGA\n>C\nACGG\n"})
	if a.State() != StateDone {
		t.Fatalf("alignment parent failed: %+v", a.Failure)
	}
	return a
}

func TestModelAndTree_ChainPassesModel(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGG"})
	a := alignedParent(t, h)

	modelTool := core.ToolSpec{
		Name: "iqtree-mf", Kind: core.KindModelSelection, Program: "iqtree2",
		Args: []core.ArgTemplate{
			core.MustTemplateArg("-s", "${input.phylip}"),
			core.LiteralArg("-m", "MF"),
			core.MustTemplateArg("--prefix", "${prefix}"),
		},
		Outputs: map[string]string{"report": "run.iqtree", "tree": "run.treefile"},
	}
	m := h.add(t, Spec{Kind: core.KindModelSelection, Name: "model", Tool: modelTool, Parents: []core.TaskID{a.ID}})
	if err := m.Load(h.env); err != nil {
		t.Fatal(err)
	}
	h.runJobs(t, m, map[string]string{
		"run.iqtree":   "IQ-TREE\nDate and Time: Mon Oct 19 10:30:45 2026\nBest-fit model: GTR+F+G4 chosen according to BIC\n",
		"run.treefile": "(A:0.1,B:0.2,C:0.3);\n",
	})
	if m.State() != StateDone {
		t.Fatalf("model task failed: %+v", m.Failure)
	}
	name, _ := store.Resolve(h.env.Store, ResultModelName, string(m.ID))
	if string(name) != "GTR+F+G4" {
		t.Fatalf("model name = %q", name)
	}
	if _, ok := m.ResultKeys[ResultTree]; !ok {
		t.Fatal("expected model point-estimate tree")
	}

	treeTool := core.ToolSpec{
		Name: "raxml", Kind: core.KindTreeBuild, Program: "raxml-ng",
		Args: []core.ArgTemplate{
			core.MustTemplateArg("--msa", "${input.alignment}"),
			core.MustTemplateArg("--model", "${model}"),
		},
		Outputs: map[string]string{"tree": "out.bestTree"},
	}
	tr := h.add(t, Spec{Kind: core.KindTreeBuild, Name: "tree", Tool: treeTool, Parents: []core.TaskID{a.ID, m.ID}})
	if err := tr.Load(h.env); err != nil {
		t.Fatal(err)
	}
	if v, _ := tr.Jobs[0].Args.Get("--model"); v != "GTR+F+G4" {
		t.Fatalf("expected model arg, got %v", tr.Jobs[0].Args)
	}
	h.runJobs(t, tr, map[string]string{"out.bestTree": "((A,B),C);"})
	tree, _ := store.Resolve(h.env.Store, ResultTree, string(tr.ID))
	if string(tree) != "((A,B),C);\n" {
		t.Fatalf("tree = %q", tree)
	}
}

func TestModel_NoMatchFails(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGG"})
	a := alignedParent(t, h)
	m := h.add(t, Spec{
		Kind: core.KindModelSelection, Name: "model", Parents: []core.TaskID{a.ID},
		Tool: core.ToolSpec{Name: "mt", Kind: core.KindModelSelection, Program: "modeltest-ng"},
	})
	_ = m.Load(h.env)
	h.runJobs(t, m, map[string]string{core.DefaultStdout: "nothing useful\n"})
	if m.State() != StateFailed || m.Failure.Class != core.ClassInput {
		t.Fatalf("expected input failure, got %s %+v", m.State(), m.Failure)
	}
}

func TestMerge_Supermatrix(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "AC", "B": "AG", "C": "TTT"})
	g1 := h.grouping(t, []string{"A", "B"}, nil)
	_ = g1.Load(h.env)
	g2 := h.grouping(t, []string{"A", "C"}, nil)
	_ = g2.Load(h.env)

	a1 := h.add(t, Spec{Kind: core.KindAlignment, Name: "gene1", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g1.ID}})
	_ = a1.Load(h.env)
	h.runJobs(t, a1, map[string]string{core.DefaultStdout: ">A\nAC\n>B\nAG\n"})
	a2 := h.add(t, Spec{Kind: core.KindAlignment, Name: "gene2", Tool: catTool(core.KindAlignment), Parents: []core.TaskID{g2.ID}})
	_ = a2.Load(h.env)
	h.runJobs(t, a2, map[string]string{core.DefaultStdout: ">A\nA--\n>C\nTTT\n"})

	m := h.add(t, Spec{
		Kind: core.KindMerge, Name: "supermatrix",
		Params:  core.Args{{Flag: "mode", Value: MergeAlignments}},
		Parents: []core.TaskID{a2.ID, a1.ID},
	})
	if err := m.Load(h.env); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateDone {
		t.Fatalf("merge failed: %+v", m.Failure)
	}
	parts, _ := store.Resolve(h.env.Store, ResultPartitions, string(m.ID))
	if !strings.Contains(string(parts), "= 1-") || !strings.Contains(string(parts), "-5\n") {
		t.Fatalf("unexpected partitions %q", parts)
	}
	fasta, _ := store.Resolve(h.env.Store, ResultAlignmentFASTA, string(m.ID))
	recs, err := seqio.ParseFASTA(fasta)
	if err != nil || len(recs) != 3 || len(recs[0].Seq) != 5 {
		t.Fatalf("unexpected supermatrix %q (%v)", fasta, err)
	}
}

func TestMerge_BadModeFails(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "AC"})
	g := h.grouping(t, []string{"A"}, nil)
	_ = g.Load(h.env)
	m := h.add(t, Spec{Kind: core.KindMerge, Name: "m", Parents: []core.TaskID{g.ID}})
	_ = m.Load(h.env)
	if m.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", m.State())
	}
}

func TestFail_IsAbsorbing(t *testing.T) {
	h := newHarness(t, nil)
	tk := h.add(t, Spec{Kind: core.KindGrouping, Name: "g", Partition: core.PartitionOf([]string{"A"}, nil)})
	if err := tk.Fail(h.env, Failure{Class: core.ClassUpstream, Reason: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := tk.Fail(h.env, Failure{Class: core.ClassInput, Reason: "y"}); err != nil {
		t.Fatal(err)
	}
	if tk.Failure.Reason != "x" {
		t.Fatal("second failure overwrote the first")
	}
	if err := tk.Load(h.env); err == nil {
		t.Fatal("expected load of a failed task to be rejected")
	}
}

func TestOnTransition_ObservesLifecycle(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "ACGT"})
	g := h.grouping(t, []string{"A"}, nil)
	_ = g.Load(h.env)
	want := []string{"group:CREATED->LOADED", "group:LOADED->DONE"}
	if strings.Join(h.log, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v", h.log)
	}
}
