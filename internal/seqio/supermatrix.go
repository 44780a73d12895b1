package seqio

import (
	"bytes"
	"fmt"
	"sort"

	"phylobuild/internal/core"
)

// Block is one named alignment to be concatenated.
type Block struct {
	Name    string
	Records []Record
}

// Charset locates one block in the concatenated matrix (1-based, inclusive).
type Charset struct {
	Name  string
	Start int
	End   int
}

// Concatenate joins blocks column-wise into a supermatrix. Taxa are the
// union over all blocks, sorted by ID; a taxon missing from a block is
// filled with gaps for that block's width.
func Concatenate(blocks []Block) ([]Record, []Charset, error) {
	if len(blocks) == 0 {
		return nil, nil, &core.InputError{Code: "EmptyMerge", Message: "nothing to concatenate"}
	}
	taxa := make(map[string]bool)
	for _, b := range blocks {
		if err := ValidateAlignment(b.Records); err != nil {
			return nil, nil, fmt.Errorf("block %s: %w", b.Name, err)
		}
		for _, r := range b.Records {
			taxa[r.ID] = true
		}
	}
	ids := make([]string, 0, len(taxa))
	for id := range taxa {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make(map[string][]byte, len(ids))
	charsets := make([]Charset, 0, len(blocks))
	offset := 0
	for _, b := range blocks {
		width := len(b.Records[0].Seq)
		idx := Index(b.Records)
		for _, id := range ids {
			if r, ok := idx[id]; ok {
				rows[id] = append(rows[id], r.Seq...)
			} else {
				rows[id] = append(rows[id], bytes.Repeat([]byte{'-'}, width)...)
			}
		}
		charsets = append(charsets, Charset{Name: b.Name, Start: offset + 1, End: offset + width})
		offset += width
	}

	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = Record{ID: id, Seq: rows[id]}
	}
	return out, charsets, nil
}

// FormatPartitions renders charsets as a RAxML-style partition file, one
// "<datatype>, <name> = <start>-<end>" line per block.
func FormatPartitions(dataType string, charsets []Charset) []byte {
	if dataType == "" {
		dataType = "DNA"
	}
	var buf bytes.Buffer
	for _, c := range charsets {
		fmt.Fprintf(&buf, "%s, %s = %d-%d\n", dataType, c.Name, c.Start, c.End)
	}
	return buf.Bytes()
}
