package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/seqio"
	"phylobuild/internal/store"
)

// IngestSequences stores each record's residues by content and returns the
// sequence-ID to store-key mapping used by grouping tasks.
func IngestSequences(s store.Store, recs []seqio.Record) (map[string]string, error) {
	keys := make(map[string]string, len(recs))
	for _, r := range recs {
		if _, dup := keys[r.ID]; dup {
			return nil, &core.InputError{Code: "DuplicateID", Message: fmt.Sprintf("sequence %q is defined twice", r.ID)}
		}
		key, err := store.PutContent(s, r.Seq)
		if err != nil {
			return nil, fmt.Errorf("storing sequence %s: %w", r.ID, err)
		}
		keys[r.ID] = key
	}
	return keys, nil
}

// GroupingParams pins the content of every partition member into the
// grouping task's parameters, so edited input sequences change the task ID.
// Members without a key are left out; the task reports them when it runs.
func GroupingParams(p core.Partition, keys map[string]string) core.Args {
	members := p.Members()
	args := make(core.Args, 0, len(members))
	for _, id := range members {
		if key, ok := keys[id]; ok {
			args = append(args, core.Arg{Flag: id, Value: key})
		}
	}
	return args
}

// groupingAdapter emits the partition's sequences as one FASTA. It runs no
// program; the overlap check happens here so it fails this task only.
type groupingAdapter struct{}

func (groupingAdapter) Outputs(*Task) ([]string, []string) {
	return []string{ResultSequences}, nil
}

func (groupingAdapter) LoadJobs(*Env, *Task) ([]*job.Job, error) {
	return nil, nil
}

func (groupingAdapter) Finish(env *Env, t *Task) (Results, error) {
	if err := t.Partition.Validate(); err != nil {
		return nil, err
	}

	var (
		recs    []seqio.Record
		missing []string
	)
	for _, id := range t.Partition.Members() {
		key, ok := t.Params.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		data, err := env.Store.Get(key)
		if errors.Is(err, store.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading sequence %s: %w", id, err)
		}
		recs = append(recs, seqio.Record{ID: id, Seq: data})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &core.InputError{
			Code:    "UnknownSequence",
			Message: "sequences not found: " + strings.Join(missing, ", "),
		}
	}
	return Results{ResultSequences: seqio.FormatFASTA(recs)}, nil
}
