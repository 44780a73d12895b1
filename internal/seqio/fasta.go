// Package seqio reads, validates and writes the sequence and tree encodings
// that flow through the result store: FASTA, relaxed PHYLIP, Newick and the
// concatenated supermatrix with its partition table.
//
// Every writer produces a canonical byte form so identical data always hashes
// to the same store key.
package seqio

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"phylobuild/internal/core"
)

// Record is one named sequence.
type Record struct {
	ID  string
	Seq []byte
}

// ReadFASTA parses every record from r. Sequence lines are normalized with
// NormalizeSequence. Duplicate IDs and sequence data before the first header
// are input errors.
func ReadFASTA(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var (
		recs []Record
		seen = make(map[string]bool)
		cur  *Record
	)
	lineNo := 0
	for {
		line, err := br.ReadBytes('\n')
		eof := err == io.EOF
		if err != nil && !eof {
			return nil, fmt.Errorf("reading fasta: %w", err)
		}
		lineNo++
		line = bytes.TrimRight(line, "\r\n")
		switch {
		case len(line) > 0 && line[0] == '>':
			fields := strings.Fields(string(line[1:]))
			if len(fields) == 0 {
				return nil, &core.InputError{Code: "BadFasta", Message: fmt.Sprintf("line %d: empty header", lineNo)}
			}
			id := fields[0]
			if seen[id] {
				return nil, &core.InputError{Code: "DuplicateID", Message: fmt.Sprintf("sequence %q appears twice", id)}
			}
			seen[id] = true
			recs = append(recs, Record{ID: id})
			cur = &recs[len(recs)-1]
		case len(bytes.TrimSpace(line)) == 0:
		default:
			if cur == nil {
				return nil, &core.InputError{Code: "BadFasta", Message: fmt.Sprintf("line %d: sequence data before header", lineNo)}
			}
			cur.Seq = append(cur.Seq, NormalizeSequence(line)...)
		}
		if eof {
			break
		}
	}
	return recs, nil
}

// ParseFASTA is ReadFASTA over a byte slice.
func ParseFASTA(data []byte) ([]Record, error) {
	return ReadFASTA(bytes.NewReader(data))
}

// ReadFASTAFile reads a FASTA file; a ".gz" suffix is decompressed.
func ReadFASTAFile(path string) ([]Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var r io.Reader = fh
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			return nil, fmt.Errorf("opening gzip %s: %w", path, err)
		}
		defer gr.Close()
		r = gr
	}
	recs, err := ReadFASTA(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// WriteFASTA writes records with one sequence line per record.
func WriteFASTA(w io.Writer, recs []Record) error {
	for _, r := range recs {
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", r.ID, r.Seq); err != nil {
			return err
		}
	}
	return nil
}

// FormatFASTA is WriteFASTA into a byte slice.
func FormatFASTA(recs []Record) []byte {
	var buf bytes.Buffer
	_ = WriteFASTA(&buf, recs)
	return buf.Bytes()
}

// IDs returns the record IDs in order.
func IDs(recs []Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

// Index maps record IDs to records.
func Index(recs []Record) map[string]Record {
	m := make(map[string]Record, len(recs))
	for _, r := range recs {
		m[r.ID] = r
	}
	return m
}
