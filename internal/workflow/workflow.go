// Package workflow reads an HCL build definition and composes it into a
// dependency graph.
//
// A definition names the input sequence files, the tools available, one
// partition block per clade with the chain of tools to run on it, and merge
// blocks that combine partition results:
//
//	sequences = ["genes.fasta"]
//
//	tool "mafft" {
//	  kind    = "alignment"
//	  program = "mafft"
//	  cores   = 4
//	  arg "--thread" { value = "${cores}" }
//	  arg ""         { value = "${input.sequences}" }
//	}
//
//	partition "rosids" {
//	  targets  = ["A", "B", "C"]
//	  outgroup = ["D"]
//	  chain    = ["mafft", "raxml"]
//	}
//
//	merge "supermatrix" {
//	  mode = "alignment"
//	  from = ["rosids", "asterids"]
//	  then = ["iqtree"]
//	}
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"phylobuild/internal/core"
	"phylobuild/internal/task"
)

// hclFile is the decoding target for a workflow file.
type hclFile struct {
	Sequences  []string        `hcl:"sequences"`
	Tools      []*hclTool      `hcl:"tool,block"`
	Partitions []*hclPartition `hcl:"partition,block"`
	Merges     []*hclMerge     `hcl:"merge,block"`
}

type hclTool struct {
	Name    string            `hcl:"name,label"`
	Kind    string            `hcl:"kind"`
	Program string            `hcl:"program,optional"`
	Cores   int               `hcl:"cores,optional"`
	Stdout  string            `hcl:"stdout,optional"`
	Outputs map[string]string `hcl:"outputs,optional"`
	Options map[string]string `hcl:"options,optional"`
	Args    []*hclArg         `hcl:"arg,block"`
}

// hclArg keeps the value as an attribute so a missing value (a bare flag)
// is distinguishable from a value that evaluates to null.
type hclArg struct {
	Flag  string         `hcl:"flag,label"`
	Value *hcl.Attribute `hcl:"value,optional"`
}

type hclPartition struct {
	Name        string   `hcl:"name,label"`
	Targets     []string `hcl:"targets"`
	Outgroup    []string `hcl:"outgroup,optional"`
	Chain       []string `hcl:"chain,optional"`
	Deliverable bool     `hcl:"deliverable,optional"`
}

type hclMerge struct {
	Name        string   `hcl:"name,label"`
	Mode        string   `hcl:"mode"`
	From        []string `hcl:"from"`
	Stage       string   `hcl:"stage,optional"`
	DataType    string   `hcl:"datatype,optional"`
	Then        []string `hcl:"then,optional"`
	Deliverable bool     `hcl:"deliverable,optional"`
}

// Workflow is a validated build definition.
type Workflow struct {
	Path string

	// Sequences are absolute FASTA paths.
	Sequences []string

	Tools      map[string]core.ToolSpec
	Partitions []Partition
	Merges     []Merge
}

// Partition is one clade and the tool chain run on it. The split itself is
// validated by its grouping task, so a bad split fails that branch only.
type Partition struct {
	Name        string
	Partition   core.Partition
	Chain       []string
	Deliverable bool
}

type Merge struct {
	Name string
	Mode string
	From []string

	// Stage is the chain tool whose output is merged; empty selects the
	// last stage producing what the mode needs.
	Stage       string
	DataType    string
	Then        []string
	Deliverable bool
}

// Load reads and validates the workflow at path.
func Load(path string) (*Workflow, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes src. Relative sequence paths resolve against the directory
// of filename.
func Parse(src []byte, filename string) (*Workflow, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", filename, diags)
	}

	var raw hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &raw)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", filename, diags)
	}

	wf := &Workflow{Path: filename, Tools: make(map[string]core.ToolSpec, len(raw.Tools))}
	base := filepath.Dir(filename)
	for _, s := range raw.Sequences {
		if !filepath.IsAbs(s) {
			s = filepath.Join(base, s)
		}
		wf.Sequences = append(wf.Sequences, s)
	}

	var errs []error
	for _, t := range raw.Tools {
		spec, err := toolSpec(t, file.Bytes)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := wf.Tools[t.Name]; dup {
			errs = append(errs, fmt.Errorf("tool %q is defined twice", t.Name))
			continue
		}
		wf.Tools[t.Name] = spec
	}

	partitions := make(map[string]bool, len(raw.Partitions))
	for _, p := range raw.Partitions {
		if partitions[p.Name] {
			errs = append(errs, fmt.Errorf("partition %q is defined twice", p.Name))
			continue
		}
		partitions[p.Name] = true
		if err := wf.checkChain(p.Chain, "partition "+p.Name); err != nil {
			errs = append(errs, err)
		}
		wf.Partitions = append(wf.Partitions, Partition{
			Name:        p.Name,
			Partition:   core.PartitionOf(p.Targets, p.Outgroup),
			Chain:       p.Chain,
			Deliverable: p.Deliverable,
		})
	}

	merges := make(map[string]bool, len(raw.Merges))
	for _, m := range raw.Merges {
		if merges[m.Name] || partitions[m.Name] {
			errs = append(errs, fmt.Errorf("merge %q reuses a block name", m.Name))
			continue
		}
		merges[m.Name] = true
		if err := wf.checkMerge(m, partitions); err != nil {
			errs = append(errs, err)
			continue
		}
		wf.Merges = append(wf.Merges, Merge{
			Name:        m.Name,
			Mode:        m.Mode,
			From:        m.From,
			Stage:       m.Stage,
			DataType:    m.DataType,
			Then:        m.Then,
			Deliverable: m.Deliverable,
		})
	}

	if len(wf.Sequences) == 0 {
		errs = append(errs, errors.New("no sequence files"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, &core.InputError{Code: "BadWorkflow", Message: fmt.Sprintf("%s: %v", filename, err), Cause: err}
	}
	return wf, nil
}

func toolSpec(t *hclTool, src []byte) (core.ToolSpec, error) {
	kind, err := core.ParseKind(t.Kind)
	if err != nil {
		return core.ToolSpec{}, fmt.Errorf("tool %q: %w", t.Name, err)
	}
	if !kind.RunsJobs() {
		return core.ToolSpec{}, fmt.Errorf("tool %q: kind %s runs no program", t.Name, kind)
	}
	spec := core.ToolSpec{
		Name:    t.Name,
		Kind:    kind,
		Program: t.Program,
		Cores:   t.Cores,
		Stdout:  t.Stdout,
		Outputs: t.Outputs,
		Options: t.Options,
	}
	for _, a := range t.Args {
		if a.Value == nil {
			spec.Args = append(spec.Args, core.ArgTemplate{Flag: a.Flag})
			continue
		}
		spec.Args = append(spec.Args, core.ArgTemplate{
			Flag:   a.Flag,
			Source: string(a.Value.Expr.Range().SliceBytes(src)),
			Expr:   a.Value.Expr,
		})
	}
	if err := spec.Validate(); err != nil {
		return core.ToolSpec{}, err
	}
	return spec, nil
}

// checkChain verifies a tool chain is runnable: every tool exists and each
// step has the inputs it needs from the steps before it. A chain may start
// from an existing alignment (after a merge) when hasAlignment is set.
func (wf *Workflow) checkChain(chain []string, owner string) error {
	return wf.checkChainFrom(chain, owner, false)
}

func (wf *Workflow) checkChainFrom(chain []string, owner string, hasAlignment bool) error {
	for _, name := range chain {
		spec, ok := wf.Tools[name]
		if !ok {
			return fmt.Errorf("%s: unknown tool %q", owner, name)
		}
		switch spec.Kind {
		case core.KindAlignment:
			if hasAlignment {
				return fmt.Errorf("%s: alignment tool %q must come first", owner, name)
			}
			hasAlignment = true
		case core.KindTrim, core.KindModelSelection, core.KindTreeBuild:
			if !hasAlignment {
				return fmt.Errorf("%s: %s tool %q needs an alignment before it", owner, spec.Kind, name)
			}
		}
	}
	return nil
}

func (wf *Workflow) checkMerge(m *hclMerge, partitions map[string]bool) error {
	owner := "merge " + m.Name
	if m.Mode != task.MergeAlignments && m.Mode != task.MergeTrees {
		return fmt.Errorf("%s: unknown mode %q", owner, m.Mode)
	}
	if len(m.From) == 0 {
		return fmt.Errorf("%s: from is empty", owner)
	}
	for _, p := range m.From {
		if !partitions[p] {
			return fmt.Errorf("%s: unknown partition %q", owner, p)
		}
	}
	if m.Mode == task.MergeTrees && len(m.Then) > 0 {
		return fmt.Errorf("%s: a tree merge cannot be followed by a chain", owner)
	}
	return wf.checkChainFrom(m.Then, owner, true)
}
