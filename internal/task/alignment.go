package task

import (
	"fmt"

	"phylobuild/internal/core"
	"phylobuild/internal/job"
	"phylobuild/internal/seqio"
)

const (
	inputFASTA      = "input.fasta"
	inputPHYLIP     = "input.phylip"
	inputPartitions = "input.partitions"
)

// alignmentAdapter serves both aligners and trimmers: each reads sequences
// and writes an alignment whose rows keep the input IDs.
type alignmentAdapter struct {
	kind core.Kind
}

func (alignmentAdapter) Outputs(*Task) ([]string, []string) {
	return []string{ResultAlignmentFASTA, ResultAlignmentPHYLIP}, nil
}

func (a alignmentAdapter) LoadJobs(env *Env, t *Task) ([]*job.Job, error) {
	var inputs []inputFile
	if a.kind == core.KindAlignment {
		_, seqs, err := env.ParentResult(t, ResultSequences)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, inputFile{Role: "sequences", Name: inputFASTA, Data: seqs})
	} else {
		aligned, err := alignmentInputs(env, t)
		if err != nil {
			return nil, err
		}
		inputs = aligned
	}

	j, err := newToolJob(env, t, toolJob{
		inputs:         inputs,
		defaultOutputs: map[string]string{"alignment": t.Tool.StdoutFile()},
		required:       []string{"alignment"},
	})
	if err != nil {
		return nil, err
	}
	return []*job.Job{j}, nil
}

func (a alignmentAdapter) Finish(env *Env, t *Task) (Results, error) {
	raw, err := readOutput(env, t, "alignment")
	if err != nil {
		return nil, fmt.Errorf("reading alignment: %w", err)
	}
	recs, err := parseAlignmentOutput(t.Tool.Option("format", "fasta"), raw)
	if err != nil {
		return nil, err
	}
	if err := seqio.ValidateAlignment(recs); err != nil {
		return nil, err
	}

	in, err := readInput(env, t, inputFASTA)
	if err != nil {
		return nil, fmt.Errorf("reading job input: %w", err)
	}
	before, err := seqio.ParseFASTA(in)
	if err != nil {
		return nil, err
	}
	if err := seqio.SameIDSet(before, recs); err != nil {
		return nil, err
	}
	return alignmentResults(recs)
}

// alignmentInputs materializes the alignment of the first parent that has
// one, in both encodings, plus its partition table when present.
func alignmentInputs(env *Env, t *Task) ([]inputFile, error) {
	src, fasta, err := env.ParentResult(t, ResultAlignmentFASTA)
	if err != nil {
		return nil, err
	}
	_, phylip, err := env.ParentResult(t, ResultAlignmentPHYLIP)
	if err != nil {
		return nil, err
	}
	var partitions []byte
	if _, ok := src.ResultKeys[ResultPartitions]; ok {
		_, partitions, err = env.ParentResult(t, ResultPartitions)
		if err != nil {
			return nil, err
		}
	}
	return []inputFile{
		{Role: "alignment", Name: inputFASTA, Data: fasta},
		{Role: "phylip", Name: inputPHYLIP, Data: phylip},
		{Role: "partitions", Name: inputPartitions, Data: partitions},
	}, nil
}

func parseAlignmentOutput(format string, raw []byte) ([]seqio.Record, error) {
	switch format {
	case "fasta":
		return seqio.ParseFASTA(raw)
	case "phylip":
		return seqio.ParsePHYLIP(raw)
	default:
		return nil, &core.InputError{Code: "BadFormat", Message: fmt.Sprintf("unknown alignment format %q", format)}
	}
}

// alignmentResults renders the canonical encodings of an alignment, rows
// sorted by ID.
func alignmentResults(recs []seqio.Record) (Results, error) {
	seqio.SortByID(recs)
	phylip, err := seqio.FormatPHYLIP(recs)
	if err != nil {
		return nil, err
	}
	return Results{
		ResultAlignmentFASTA:  seqio.FormatFASTA(recs),
		ResultAlignmentPHYLIP: phylip,
	}, nil
}
