package seqio

import (
	"bytes"
	"fmt"

	"phylobuild/internal/core"
)

// NormalizeNewick checks that data holds exactly one syntactically valid
// Newick tree and returns it on a single line terminated by ";\n", with
// whitespace outside quoted labels removed.
func NormalizeNewick(data []byte) ([]byte, error) {
	trees, err := SplitNewick(data)
	if err != nil {
		return nil, err
	}
	if len(trees) != 1 {
		return nil, &core.InputError{Code: "BadNewick", Message: fmt.Sprintf("expected one tree, found %d", len(trees))}
	}
	return append(trees[0], '\n'), nil
}

// SplitNewick returns every tree in data, each compacted and ending in ';'.
func SplitNewick(data []byte) ([][]byte, error) {
	var (
		trees  [][]byte
		cur    []byte
		depth  int
		quoted bool
	)
	for _, c := range data {
		if quoted {
			cur = append(cur, c)
			if c == '\'' {
				quoted = false
			}
			continue
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '\'':
			quoted = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, &core.InputError{Code: "BadNewick", Message: "unbalanced ')'"}
			}
		case ';':
			if depth != 0 {
				return nil, &core.InputError{Code: "BadNewick", Message: "';' inside an open clade"}
			}
			cur = append(cur, c)
			if len(cur) == 1 {
				return nil, &core.InputError{Code: "BadNewick", Message: "empty tree"}
			}
			trees = append(trees, cur)
			cur = nil
			continue
		}
		cur = append(cur, c)
	}
	if quoted {
		return nil, &core.InputError{Code: "BadNewick", Message: "unterminated quoted label"}
	}
	if len(bytes.TrimSpace(cur)) > 0 {
		return nil, &core.InputError{Code: "BadNewick", Message: "tree is not terminated by ';'"}
	}
	if len(trees) == 0 {
		return nil, &core.InputError{Code: "BadNewick", Message: "no tree found"}
	}
	return trees, nil
}

// JoinNewick renders trees one per line.
func JoinNewick(trees [][]byte) []byte {
	var buf bytes.Buffer
	for _, t := range trees {
		buf.Write(bytes.TrimRight(t, "\n"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
