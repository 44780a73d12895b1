package task

import (
	"fmt"
	"regexp"
	"strings"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/seqio"
	"phylobuild/internal/store"
)

// Merge modes, passed as the "mode" parameter.
const (
	MergeAlignments = "alignment"
	MergeTrees      = "trees"
)

// mergeAdapter combines parent results without running a program. Parents
// are visited in ID order, so the output depends only on the task identity.
type mergeAdapter struct{}

func (mergeAdapter) Outputs(t *Task) ([]string, []string) {
	if t.Param("mode") == MergeTrees {
		return []string{ResultTrees}, nil
	}
	return []string{ResultAlignmentFASTA, ResultAlignmentPHYLIP, ResultPartitions}, nil
}

func (mergeAdapter) LoadJobs(_ *Env, t *Task) ([]*job.Job, error) {
	switch t.Param("mode") {
	case MergeAlignments, MergeTrees:
		return nil, nil
	default:
		return nil, &core.InputError{Code: "BadMergeMode", Message: fmt.Sprintf("unknown merge mode %q", t.Param("mode"))}
	}
}

func (mergeAdapter) Finish(env *Env, t *Task) (Results, error) {
	if t.Param("mode") == MergeTrees {
		return mergeTrees(env, t)
	}
	return mergeAlignments(env, t)
}

func mergeAlignments(env *Env, t *Task) (Results, error) {
	var blocks []seqio.Block
	for _, id := range t.SortedParents() {
		p, ok := env.Tasks.Task(id)
		if !ok {
			return nil, fmt.Errorf("merge parent %s is not registered", id.Short())
		}
		data, err := store.Resolve(env.Store, ResultAlignmentFASTA, string(id))
		if err != nil {
			return nil, fmt.Errorf("reading alignment of %s: %w", p.Name, err)
		}
		recs, err := seqio.ParseFASTA(data)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, seqio.Block{Name: charsetName(t, p), Records: recs})
	}
	recs, charsets, err := seqio.Concatenate(blocks)
	if err != nil {
		return nil, err
	}
	out, err := alignmentResults(recs)
	if err != nil {
		return nil, err
	}
	out[ResultPartitions] = seqio.FormatPartitions(t.Param("datatype"), charsets)
	return out, nil
}

func mergeTrees(env *Env, t *Task) (Results, error) {
	var trees [][]byte
	for _, id := range t.SortedParents() {
		data, err := store.Resolve(env.Store, ResultTree, string(id))
		if err != nil {
			return nil, fmt.Errorf("reading tree of %s: %w", id.Short(), err)
		}
		split, err := seqio.SplitNewick(data)
		if err != nil {
			return nil, err
		}
		trees = append(trees, split...)
	}
	return Results{ResultTrees: seqio.JoinNewick(trees)}, nil
}

var nonWord = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// CharsetParam names the merge parameter that fixes the charset name of one
// parent. Pinning names in parameters keeps them part of the task identity.
func CharsetParam(parent core.TaskID) string {
	return "charset." + string(parent)
}

func charsetName(t, p *Task) string {
	raw := t.Param(CharsetParam(p.ID))
	if raw == "" {
		raw = p.Name
	}
	name := strings.Trim(nonWord.ReplaceAllString(raw, "_"), "_")
	if name == "" {
		return "part_" + p.ID.Short()
	}
	return name
}
