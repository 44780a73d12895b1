package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"phylobuild/internal/core"
)

// FormatPHYLIP renders an alignment as relaxed sequential PHYLIP:
//
//	<ntaxa> <nsites>
//	<id> <sequence>
//
// IDs are padded to a common width. The records must form a valid alignment.
func FormatPHYLIP(recs []Record) ([]byte, error) {
	if err := ValidateAlignment(recs); err != nil {
		return nil, err
	}
	width := 0
	for _, r := range recs {
		if strings.ContainsAny(r.ID, " \t") {
			return nil, &core.InputError{Code: "BadID", Message: fmt.Sprintf("id %q contains whitespace", r.ID)}
		}
		if len(r.ID) > width {
			width = len(r.ID)
		}
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(recs), len(recs[0].Seq))
	for _, r := range recs {
		fmt.Fprintf(&buf, "%-*s  %s\n", width, r.ID, r.Seq)
	}
	return buf.Bytes(), nil
}

// ParsePHYLIP reads relaxed PHYLIP in sequential or interleaved layout.
func ParsePHYLIP(data []byte) ([]Record, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var header []string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			header = strings.Fields(line)
			break
		}
	}
	if len(header) < 2 {
		return nil, &core.InputError{Code: "BadPhylip", Message: "missing '<ntaxa> <nsites>' header"}
	}
	ntaxa, err1 := strconv.Atoi(header[0])
	nsites, err2 := strconv.Atoi(header[1])
	if err1 != nil || err2 != nil || ntaxa <= 0 {
		return nil, &core.InputError{Code: "BadPhylip", Message: "malformed header " + strings.Join(header, " ")}
	}

	recs := make([]Record, 0, ntaxa)
	next := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if len(recs) < ntaxa {
			fields := strings.Fields(line)
			recs = append(recs, Record{
				ID:  fields[0],
				Seq: NormalizeSequence([]byte(strings.Join(fields[1:], ""))),
			})
			continue
		}
		// Interleaved continuation blocks cycle through taxa in order.
		recs[next].Seq = append(recs[next].Seq, NormalizeSequence([]byte(line))...)
		next = (next + 1) % ntaxa
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading phylip: %w", err)
	}
	if len(recs) != ntaxa {
		return nil, &core.InputError{Code: "BadPhylip", Message: fmt.Sprintf("header declares %d taxa, found %d", ntaxa, len(recs))}
	}
	for _, r := range recs {
		if len(r.Seq) != nsites {
			return nil, &core.InputError{
				Code:    "BadPhylip",
				Message: fmt.Sprintf("taxon %q has %d sites, header declares %d", r.ID, len(r.Seq), nsites),
			}
		}
	}
	return recs, nil
}
